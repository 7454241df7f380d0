package repository

import (
	"context"
	"time"

	"QuantSync/internal/domain/models"
)

// PositionRepository persists the ledger. Insert and close are
// compare-and-set operations: the store, not the caller, decides whether the
// OPEN slot is free or the position is still OPEN.
type PositionRepository interface {
	// InsertOpen stores pos with its entry trade. It fails with
	// *models.DuplicateOpenPositionError when an OPEN position already exists
	// for (pos.Symbol, pos.StrategyName).
	InsertOpen(ctx context.Context, pos *models.Position, entry *models.Trade) error
	// Close flips pos from OPEN to CLOSED together with its exit trade. It
	// fails with *models.PositionNotOpenError if the row is no longer OPEN and
	// with *models.QuantityMismatchError if the stored quantity differs.
	Close(ctx context.Context, pos *models.Position, exit *models.Trade) error
	UpdateMark(ctx context.Context, symbol string, price float64, at time.Time) (int, error)
	Get(ctx context.Context, id string) (*models.Position, error)
	FindOpen(ctx context.Context, symbol, strategy string) (*models.Position, error)
	List(ctx context.Context, f models.PositionFilter) ([]*models.Position, error)
	Trades(ctx context.Context, positionID string) ([]*models.Trade, error)
	CountEntryTrades(ctx context.Context) (int, error)
}

type DecisionRepository interface {
	Save(ctx context.Context, d *models.FusedDecision) error
	MarkExecution(ctx context.Context, id string, executed bool, at time.Time, reason string) error
	Get(ctx context.Context, id string) (*models.FusedDecision, error)
	List(ctx context.Context, f models.DecisionFilter) ([]*models.FusedDecision, error)
}

// MarkovCell is one persisted transition counter.
type MarkovCell struct {
	From      models.RegimeState
	To        models.RegimeState
	Count     int
	ReturnSum float64
}

// MarkovSnapshot is everything persisted for one symbol.
type MarkovSnapshot struct {
	Cells []MarkovCell
	// LastBar is the newest bar consumed by ingestion; zero if unknown.
	LastBar time.Time
}

// MarkovStore persists transition counts. Increments must commute so that
// concurrent writers never lose updates. A non-zero bar advances the
// ingestion checkpoint in the same write.
type MarkovStore interface {
	Increment(ctx context.Context, symbol string, from, to models.RegimeState, realizedReturn float64, bar time.Time) error
	Load(ctx context.Context, symbol string) (MarkovSnapshot, error)
}

// ConsolidationStore is the shared analytics store.
type ConsolidationStore interface {
	// Upsert applies one record idempotently. Errors wrapping
	// *models.InvalidRecordError are permanent; anything else may be retried.
	Upsert(ctx context.Context, rec models.ConsolidatedRecord) error
	Aggregate(ctx context.Context, symbol string, since time.Time) (models.AggregateStats, error)
	Count(ctx context.Context) (int, error)
}

type InstanceRegistry interface {
	Register(ctx context.Context, inst models.Instance) error
	Heartbeat(ctx context.Context, id string, at time.Time) error
	MarkSynced(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context) ([]models.Instance, error)
}

// DecisionPublisher fans out decisions and ledger events to other consumers.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, d *models.FusedDecision) error
	PublishPosition(ctx context.Context, p *models.Position) error
	Close() error
}

type Metrics interface {
	RecordDecision(symbol string, action models.Action, conflict bool, confidence float64)
	RecordPosition(symbol, event string)
	RecordSync(synced, failed int)
	RecordPhase(phase, trades int)
	RecordMarkovSamples(symbol string, n int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
