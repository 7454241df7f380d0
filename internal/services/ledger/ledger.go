package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"QuantSync/internal/domain/models"
	"QuantSync/internal/domain/repository"
	"QuantSync/internal/services/phase"
	"QuantSync/pkg/logger"
	"QuantSync/pkg/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger owns position state transitions. OPEN -> CLOSED is the only one.
type Ledger struct {
	repo    repository.PositionRepository
	tracker *phase.Tracker
	metrics repository.Metrics
	log     *logger.Logger
	locks   *util.KeyedMutex
	now     func() time.Time
}

func New(repo repository.PositionRepository, tracker *phase.Tracker, metrics repository.Metrics, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.Nop()
	}
	return &Ledger{
		repo:    repo,
		tracker: tracker,
		metrics: metrics,
		log:     log,
		locks:   util.NewKeyedMutex(),
		now:     time.Now,
	}
}

func lockKey(symbol, strategy string) string { return symbol + "\x00" + strategy }

// OpenPosition opens a position from a confirmed entry fill. The phase at
// entry is snapshotted before the entry is counted.
func (l *Ledger) OpenPosition(ctx context.Context, symbol, strategy string, entry models.Trade) (*models.Position, error) {
	if entry.Symbol == "" {
		entry.Symbol = symbol
	}
	if err := validateTrade(entry, true); err != nil {
		return nil, err
	}
	if entry.Symbol != symbol {
		return nil, &models.InvalidTradeError{Reason: fmt.Sprintf("trade symbol %s does not match %s", entry.Symbol, symbol)}
	}
	if strategy == "" {
		return nil, &models.InvalidTradeError{Reason: "empty strategy"}
	}

	unlock := l.locks.Lock(lockKey(symbol, strategy))
	defer unlock()

	now := l.now().UTC()
	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = now
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	side := models.SideLong
	if entry.Side == models.TradeSell {
		side = models.SideShort
	}
	pos := &models.Position{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		StrategyName: strategy,
		Side:         side,
		Status:       models.PositionOpen,
		EntryPrice:   entry.Price,
		Quantity:     entry.Quantity,
		CurrentPrice: entry.Price,
		PhaseAtEntry: l.tracker.Current().Phase,
		CreatedAt:    entry.ExecutedAt,
		UpdatedAt:    now,
	}
	entry.PositionID = pos.ID
	entry.IsEntry = true
	entry.RealizedPnL = nil

	if err := l.repo.InsertOpen(ctx, pos, &entry); err != nil {
		var dup *models.DuplicateOpenPositionError
		if errors.As(err, &dup) {
			l.log.Warn("duplicate open rejected",
				logger.Symbol(symbol), logger.String("strategy", strategy), logger.String("existing_id", dup.ExistingID))
			l.recordError("duplicate_open")
			return nil, err
		}
		l.recordError("position_insert")
		return nil, fmt.Errorf("open position %s/%s: %w", symbol, strategy, err)
	}

	trades := l.tracker.Add(1)
	if l.metrics != nil {
		l.metrics.RecordPosition(symbol, "open")
		l.metrics.RecordPhase(l.tracker.Current().Phase, trades)
	}
	l.log.Info("position opened",
		logger.String("position_id", pos.ID),
		logger.Symbol(symbol),
		logger.String("strategy", strategy),
		logger.String("side", string(side)),
		logger.Float64("entry_price", pos.EntryPrice),
		logger.Float64("quantity", pos.Quantity),
		logger.Int("phase", pos.PhaseAtEntry),
	)
	return pos, nil
}

// ClosePosition closes an OPEN position with a full-size exit fill and
// stamps the realized pnl.
func (l *Ledger) ClosePosition(ctx context.Context, positionID string, exit models.Trade) (*models.Position, error) {
	if err := validateTrade(exit, false); err != nil {
		return nil, err
	}
	cur, err := l.repo.Get(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("close position %s: %w", positionID, err)
	}

	unlock := l.locks.Lock(lockKey(cur.Symbol, cur.StrategyName))
	defer unlock()

	// Re-read under the lock; another closer may have won.
	if cur, err = l.repo.Get(ctx, positionID); err != nil {
		return nil, fmt.Errorf("close position %s: %w", positionID, err)
	}
	if cur.Status != models.PositionOpen {
		return nil, &models.PositionNotOpenError{PositionID: positionID, Status: cur.Status}
	}
	if exit.Symbol == "" {
		exit.Symbol = cur.Symbol
	}
	if exit.Symbol != cur.Symbol {
		return nil, &models.InvalidTradeError{Reason: fmt.Sprintf("trade symbol %s does not match position %s", exit.Symbol, cur.Symbol)}
	}
	wantSide := models.TradeSell
	if cur.Side == models.SideShort {
		wantSide = models.TradeBuy
	}
	if exit.Side != wantSide {
		return nil, &models.InvalidTradeError{Reason: fmt.Sprintf("exit side %s cannot close a %s position", exit.Side, cur.Side)}
	}
	if !decimal.NewFromFloat(exit.Quantity).Equal(decimal.NewFromFloat(cur.Quantity)) {
		return nil, &models.QuantityMismatchError{PositionID: positionID, Expected: cur.Quantity, Got: exit.Quantity}
	}

	now := l.now().UTC()
	if exit.ExecutedAt.IsZero() {
		exit.ExecutedAt = now
	}
	if exit.ID == "" {
		exit.ID = uuid.NewString()
	}
	pnl := RealizedPnL(cur.Side, cur.EntryPrice, exit.Price, cur.Quantity)

	closed := *cur
	closed.Status = models.PositionClosed
	closed.CurrentPrice = exit.Price
	exitPrice := exit.Price
	closed.ExitPrice = &exitPrice
	closed.PnL = &pnl
	closedAt := exit.ExecutedAt
	closed.ClosedAt = &closedAt
	closed.UpdatedAt = now

	exit.PositionID = positionID
	exit.IsEntry = false
	exit.Quantity = cur.Quantity
	exit.RealizedPnL = &pnl

	if err := l.repo.Close(ctx, &closed, &exit); err != nil {
		if models.IsInvariantViolation(err) {
			l.recordError("close_rejected")
			return nil, err
		}
		l.recordError("position_close")
		return nil, fmt.Errorf("close position %s: %w", positionID, err)
	}

	if l.metrics != nil {
		l.metrics.RecordPosition(closed.Symbol, "close")
	}
	l.log.Info("position closed",
		logger.String("position_id", positionID),
		logger.Symbol(closed.Symbol),
		logger.Float64("exit_price", exit.Price),
		logger.Float64("pnl", pnl),
	)
	return &closed, nil
}

// MarkToMarket refreshes the current price of every OPEN position on symbol.
func (l *Ledger) MarkToMarket(ctx context.Context, symbol string, price float64) (int, error) {
	if price <= 0 {
		return 0, &models.InvalidTradeError{Reason: "non-positive mark price"}
	}
	return l.repo.UpdateMark(ctx, symbol, price, l.now().UTC())
}

func (l *Ledger) Get(ctx context.Context, id string) (*models.Position, error) {
	return l.repo.Get(ctx, id)
}

// OpenFor returns the OPEN position of (symbol, strategy), or nil.
func (l *Ledger) OpenFor(ctx context.Context, symbol, strategy string) (*models.Position, error) {
	p, err := l.repo.FindOpen(ctx, symbol, strategy)
	if errors.Is(err, models.ErrPositionNotFound) {
		return nil, nil
	}
	return p, err
}

func (l *Ledger) List(ctx context.Context, f models.PositionFilter) ([]*models.Position, error) {
	return l.repo.List(ctx, f)
}

func (l *Ledger) recordError(kind string) {
	if l.metrics != nil {
		l.metrics.RecordError(kind)
	}
}

// RealizedPnL is (exit - entry) * qty * direction, computed in decimal so
// round prices give round results.
func RealizedPnL(side models.PositionSide, entry, exit, qty float64) float64 {
	d := decimal.NewFromFloat(exit).
		Sub(decimal.NewFromFloat(entry)).
		Mul(decimal.NewFromFloat(qty)).
		Mul(decimal.NewFromFloat(side.Direction()))
	return d.InexactFloat64()
}

func validateTrade(t models.Trade, entry bool) error {
	if t.IsEntry != entry {
		if entry {
			return &models.InvalidTradeError{Reason: "exit trade used to open a position"}
		}
		return &models.InvalidTradeError{Reason: "entry trade used to close a position"}
	}
	if !t.Side.Valid() {
		return &models.InvalidTradeError{Reason: fmt.Sprintf("unknown side %q", t.Side)}
	}
	if t.Quantity <= 0 {
		return &models.InvalidTradeError{Reason: "quantity must be positive"}
	}
	if t.Price <= 0 {
		return &models.InvalidTradeError{Reason: "price must be positive"}
	}
	return nil
}
