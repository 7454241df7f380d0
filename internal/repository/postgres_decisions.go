package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"QuantSync/internal/domain/models"
	domrepo "QuantSync/internal/domain/repository"
	"QuantSync/pkg/postgres"
)

type PGDecisionRepository struct {
	pg *postgres.Client
}

var _ domrepo.DecisionRepository = (*PGDecisionRepository)(nil)

func NewPGDecisionRepository(pg *postgres.Client) *PGDecisionRepository {
	return &PGDecisionRepository{pg: pg}
}

const decisionColumns = `id, symbol, strategy_name, technical_action, technical_confidence, sentiment_score,
        sentiment_confidence, markov_state, markov_confidence, combined_confidence, final_action, conflict,
        confidence_boost, reason, phase, signal_time, executed, execution_time, execution_error`

func (r *PGDecisionRepository) Save(ctx context.Context, d *models.FusedDecision) error {
	_, err := r.pg.DB().ExecContext(ctx, `
        INSERT INTO fused_decisions (`+decisionColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
        ON CONFLICT (id) DO NOTHING`,
		d.ID, d.Symbol, d.StrategyName, string(d.TechnicalAction), d.TechnicalConfidence, d.SentimentScore,
		d.SentimentConfidence, nullString(d.MarkovState), d.MarkovConfidence, d.CombinedConfidence,
		string(d.FinalAction), d.Conflict, d.ConfidenceBoost, d.Reason, d.Phase, d.SignalTime,
		d.Executed, d.ExecutionTime, nullString(d.ExecutionError),
	)
	if err != nil {
		return fmt.Errorf("save decision: %w", err)
	}
	return nil
}

// MarkExecution records the outcome of the trade attempt. It is the only
// mutation a stored decision accepts.
func (r *PGDecisionRepository) MarkExecution(ctx context.Context, id string, executed bool, at time.Time, reason string) error {
	res, err := r.pg.DB().ExecContext(ctx, `
        UPDATE fused_decisions SET executed = $2, execution_time = $3, execution_error = $4
         WHERE id = $1`, id, executed, at, nullString(reason))
	if err != nil {
		return fmt.Errorf("mark execution: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrDecisionNotFound
	}
	return nil
}

func (r *PGDecisionRepository) Get(ctx context.Context, id string) (*models.FusedDecision, error) {
	row := r.pg.DB().QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM fused_decisions WHERE id = $1`, id)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrDecisionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return d, nil
}

func (r *PGDecisionRepository) List(ctx context.Context, f models.DecisionFilter) ([]*models.FusedDecision, error) {
	var where []string
	var args []interface{}
	if f.Symbol != "" {
		args = append(args, f.Symbol)
		where = append(where, fmt.Sprintf("symbol = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		where = append(where, fmt.Sprintf("signal_time >= $%d", len(args)))
	}
	q := `SELECT ` + decisionColumns + ` FROM fused_decisions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY signal_time DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pg.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()
	var out []*models.FusedDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDecision(row rowScanner) (*models.FusedDecision, error) {
	var d models.FusedDecision
	var tech, final string
	var sentScore, sentConf, markovConf sql.NullFloat64
	var markovState, execErr sql.NullString
	var execTime sql.NullTime
	if err := row.Scan(&d.ID, &d.Symbol, &d.StrategyName, &tech, &d.TechnicalConfidence, &sentScore,
		&sentConf, &markovState, &markovConf, &d.CombinedConfidence, &final, &d.Conflict,
		&d.ConfidenceBoost, &d.Reason, &d.Phase, &d.SignalTime, &d.Executed, &execTime, &execErr); err != nil {
		return nil, err
	}
	d.TechnicalAction = models.Action(tech)
	d.FinalAction = models.Action(final)
	d.SentimentScore = floatPtr(sentScore)
	d.SentimentConfidence = floatPtr(sentConf)
	d.MarkovConfidence = floatPtr(markovConf)
	d.MarkovState = markovState.String
	d.ExecutionTime = timePtr(execTime)
	d.ExecutionError = execErr.String
	d.SignalTime = d.SignalTime.UTC()
	return &d, nil
}
