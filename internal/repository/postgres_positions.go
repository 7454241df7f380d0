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

// PGPositionRepository keeps the ledger in Postgres. The partial unique index
// ux_positions_open and the guarded UPDATE in Close are the compare-and-set.
type PGPositionRepository struct {
	pg *postgres.Client
}

var _ domrepo.PositionRepository = (*PGPositionRepository)(nil)

func NewPGPositionRepository(pg *postgres.Client) *PGPositionRepository {
	return &PGPositionRepository{pg: pg}
}

const positionColumns = `id, symbol, strategy_name, side, status, entry_price, exit_price, quantity,
        current_price, pnl, phase_at_entry, created_at, updated_at, closed_at`

func (r *PGPositionRepository) InsertOpen(ctx context.Context, pos *models.Position, entry *models.Trade) error {
	err := r.pg.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO positions (`+positionColumns+`)
            VALUES ($1,$2,$3,$4,$5,$6,NULL,$7,$8,NULL,$9,$10,$11,NULL)`,
			pos.ID, pos.Symbol, pos.StrategyName, string(pos.Side), string(models.PositionOpen),
			pos.EntryPrice, pos.Quantity, pos.CurrentPrice, pos.PhaseAtEntry, pos.CreatedAt, pos.UpdatedAt,
		)
		if err != nil {
			return err
		}
		return insertTrade(ctx, tx, entry)
	})
	if err == nil {
		return nil
	}
	if postgres.IsUniqueViolation(err, "ux_positions_open") {
		dup := &models.DuplicateOpenPositionError{Symbol: pos.Symbol, StrategyName: pos.StrategyName}
		if cur, ferr := r.FindOpen(ctx, pos.Symbol, pos.StrategyName); ferr == nil {
			dup.ExistingID = cur.ID
		}
		return dup
	}
	return fmt.Errorf("insert open position: %w", err)
}

func (r *PGPositionRepository) Close(ctx context.Context, pos *models.Position, exit *models.Trade) error {
	return r.pg.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
            UPDATE positions
               SET status = 'CLOSED', exit_price = $2, pnl = $3, current_price = $2,
                   updated_at = $4, closed_at = $4
             WHERE id = $1 AND status = 'OPEN' AND quantity = $5`,
			pos.ID, exit.Price, pos.PnL, exit.ExecutedAt, exit.Quantity,
		)
		if err != nil {
			return fmt.Errorf("close position: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("close position: %w", err)
		}
		if n == 0 {
			return explainCloseMiss(ctx, tx, pos.ID, exit.Quantity)
		}
		if err := insertTrade(ctx, tx, exit); err != nil {
			return fmt.Errorf("insert exit trade: %w", err)
		}
		return nil
	})
}

// explainCloseMiss turns a guarded UPDATE that matched nothing into the
// matching domain error.
func explainCloseMiss(ctx context.Context, tx *sql.Tx, id string, qty float64) error {
	var status string
	var stored float64
	err := tx.QueryRowContext(ctx, `SELECT status, quantity FROM positions WHERE id = $1`, id).Scan(&status, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrPositionNotFound
	}
	if err != nil {
		return fmt.Errorf("close position lookup: %w", err)
	}
	if models.PositionStatus(status) != models.PositionOpen {
		return &models.PositionNotOpenError{PositionID: id, Status: models.PositionStatus(status)}
	}
	return &models.QuantityMismatchError{PositionID: id, Expected: stored, Got: qty}
}

func insertTrade(ctx context.Context, tx *sql.Tx, t *models.Trade) error {
	_, err := tx.ExecContext(ctx, `
        INSERT INTO trades (id, position_id, is_entry, symbol, side, quantity, price, realized_pnl, order_id, executed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		t.ID, t.PositionID, t.IsEntry, t.Symbol, string(t.Side), t.Quantity, t.Price,
		t.RealizedPnL, nullString(t.OrderID), t.ExecutedAt,
	)
	return err
}

func (r *PGPositionRepository) UpdateMark(ctx context.Context, symbol string, price float64, at time.Time) (int, error) {
	res, err := r.pg.DB().ExecContext(ctx, `
        UPDATE positions SET current_price = $2, updated_at = $3
         WHERE symbol = $1 AND status = 'OPEN'`, symbol, price, at)
	if err != nil {
		return 0, fmt.Errorf("update mark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update mark: %w", err)
	}
	return int(n), nil
}

func (r *PGPositionRepository) Get(ctx context.Context, id string) (*models.Position, error) {
	row := r.pg.DB().QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

func (r *PGPositionRepository) FindOpen(ctx context.Context, symbol, strategy string) (*models.Position, error) {
	row := r.pg.DB().QueryRowContext(ctx, `
        SELECT `+positionColumns+` FROM positions
         WHERE symbol = $1 AND strategy_name = $2 AND status = 'OPEN'`, symbol, strategy)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find open position: %w", err)
	}
	return p, nil
}

func (r *PGPositionRepository) List(ctx context.Context, f models.PositionFilter) ([]*models.Position, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Symbol != "" {
		add("symbol = $%d", f.Symbol)
	}
	if f.StrategyName != "" {
		add("strategy_name = $%d", f.StrategyName)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	q := `SELECT ` + positionColumns + ` FROM positions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pg.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()
	var out []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PGPositionRepository) Trades(ctx context.Context, positionID string) ([]*models.Trade, error) {
	rows, err := r.pg.DB().QueryContext(ctx, `
        SELECT id, position_id, is_entry, symbol, side, quantity, price, realized_pnl, order_id, executed_at
          FROM trades WHERE position_id = $1 ORDER BY executed_at ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()
	var out []*models.Trade
	for rows.Next() {
		var t models.Trade
		var side string
		var pnl sql.NullFloat64
		var orderID sql.NullString
		if err := rows.Scan(&t.ID, &t.PositionID, &t.IsEntry, &t.Symbol, &side, &t.Quantity, &t.Price,
			&pnl, &orderID, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = models.TradeSide(side)
		t.RealizedPnL = floatPtr(pnl)
		t.OrderID = orderID.String
		t.ExecutedAt = t.ExecutedAt.UTC()
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *PGPositionRepository) CountEntryTrades(ctx context.Context) (int, error) {
	var n int
	if err := r.pg.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM trades WHERE is_entry`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entry trades: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*models.Position, error) {
	var p models.Position
	var side, status string
	var exit, pnl sql.NullFloat64
	var closed sql.NullTime
	if err := row.Scan(&p.ID, &p.Symbol, &p.StrategyName, &side, &status, &p.EntryPrice, &exit,
		&p.Quantity, &p.CurrentPrice, &pnl, &p.PhaseAtEntry, &p.CreatedAt, &p.UpdatedAt, &closed); err != nil {
		return nil, err
	}
	p.Side = models.PositionSide(side)
	p.Status = models.PositionStatus(status)
	p.ExitPrice = floatPtr(exit)
	p.PnL = floatPtr(pnl)
	p.ClosedAt = timePtr(closed)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
