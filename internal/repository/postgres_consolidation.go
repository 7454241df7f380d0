package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"QuantSync/internal/domain/models"
	domrepo "QuantSync/internal/domain/repository"
	"QuantSync/pkg/postgres"
)

// PGConsolidationStore is the shared analytics store every instance pushes
// into. One table holds all record kinds.
type PGConsolidationStore struct {
	pg *postgres.Client
}

var _ domrepo.ConsolidationStore = (*PGConsolidationStore)(nil)

func NewPGConsolidationStore(pg *postgres.Client) *PGConsolidationStore {
	return &PGConsolidationStore{pg: pg}
}

// Each mutable column takes the incoming value only when it is present and
// either nothing is stored yet or the incoming row is at least as new.
// Identity columns never change and a hash mismatch updates nothing, which
// surfaces as no returned row.
const upsertRecordSQL = `
INSERT INTO consolidated_records AS cur (instance_id, original_id, record_kind, symbol, action, score,
        confidence, completeness, status, pnl, payload, data_hash, collected_at, last_updated)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (instance_id, original_id, record_kind) DO UPDATE SET
    action       = CASE WHEN EXCLUDED.action IS NOT NULL AND (cur.action IS NULL OR EXCLUDED.last_updated >= cur.last_updated)
                        THEN EXCLUDED.action ELSE cur.action END,
    score        = CASE WHEN EXCLUDED.score IS NOT NULL AND (cur.score IS NULL OR EXCLUDED.last_updated >= cur.last_updated)
                        THEN EXCLUDED.score ELSE cur.score END,
    confidence   = CASE WHEN EXCLUDED.confidence IS NOT NULL AND (cur.confidence IS NULL OR EXCLUDED.last_updated >= cur.last_updated)
                        THEN EXCLUDED.confidence ELSE cur.confidence END,
    completeness = CASE WHEN EXCLUDED.completeness IS NOT NULL AND (cur.completeness IS NULL OR EXCLUDED.last_updated >= cur.last_updated)
                        THEN EXCLUDED.completeness ELSE cur.completeness END,
    status       = CASE WHEN EXCLUDED.status IS NOT NULL AND (cur.status IS NULL OR EXCLUDED.last_updated >= cur.last_updated)
                        THEN EXCLUDED.status ELSE cur.status END,
    pnl          = CASE WHEN EXCLUDED.pnl IS NOT NULL AND (cur.pnl IS NULL OR EXCLUDED.last_updated >= cur.last_updated)
                        THEN EXCLUDED.pnl ELSE cur.pnl END,
    payload      = CASE WHEN EXCLUDED.payload IS NOT NULL AND (cur.payload IS NULL OR EXCLUDED.last_updated >= cur.last_updated)
                        THEN EXCLUDED.payload ELSE cur.payload END,
    collected_at = GREATEST(cur.collected_at, EXCLUDED.collected_at),
    last_updated = GREATEST(cur.last_updated, EXCLUDED.last_updated)
WHERE cur.data_hash = EXCLUDED.data_hash
RETURNING 1`

func (s *PGConsolidationStore) Upsert(ctx context.Context, rec models.ConsolidatedRecord) error {
	if err := domrepo.ValidateRecord(rec); err != nil {
		return err
	}
	var payload interface{}
	if len(rec.Payload) > 0 {
		payload = string(rec.Payload)
	}
	var one int
	err := s.pg.DB().QueryRowContext(ctx, upsertRecordSQL,
		rec.InstanceID, rec.OriginalID, string(rec.Kind), rec.Symbol, rec.Action, rec.Score,
		rec.Confidence, rec.Completeness, rec.Status, rec.PnL, payload, rec.DataHash,
		rec.CollectedAt, rec.LastUpdated,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.InvalidRecordError{Reason: "data hash mismatch for " + rec.OriginalID}
	}
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", rec.Kind, rec.OriginalID, err)
	}
	return nil
}

func (s *PGConsolidationStore) Aggregate(ctx context.Context, symbol string, since time.Time) (models.AggregateStats, error) {
	rows, err := s.pg.DB().QueryContext(ctx, `
        SELECT instance_id, original_id, record_kind, action, score, confidence, status, pnl, last_updated
          FROM consolidated_records
         WHERE symbol = $1 AND last_updated >= $2`, symbol, since)
	if err != nil {
		return models.AggregateStats{}, fmt.Errorf("aggregate %s: %w", symbol, err)
	}
	defer rows.Close()

	acc := domrepo.NewAggregateAccumulator(symbol)
	for rows.Next() {
		rec := models.ConsolidatedRecord{Symbol: symbol}
		var kind string
		var action, status sql.NullString
		var score, conf, pnl sql.NullFloat64
		if err := rows.Scan(&rec.InstanceID, &rec.OriginalID, &kind, &action, &score, &conf, &status, &pnl,
			&rec.LastUpdated); err != nil {
			return models.AggregateStats{}, fmt.Errorf("scan record: %w", err)
		}
		rec.Kind = models.RecordKind(kind)
		rec.Action = stringPtr(action)
		rec.Status = stringPtr(status)
		rec.Score = floatPtr(score)
		rec.Confidence = floatPtr(conf)
		rec.PnL = floatPtr(pnl)
		acc.Add(rec)
	}
	if err := rows.Err(); err != nil {
		return models.AggregateStats{}, fmt.Errorf("aggregate rows: %w", err)
	}
	return acc.Result(), nil
}

func (s *PGConsolidationStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pg.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM consolidated_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
