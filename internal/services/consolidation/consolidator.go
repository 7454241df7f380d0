package consolidation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"QuantSync/internal/domain/models"
	"QuantSync/internal/domain/repository"
	"QuantSync/pkg/logger"

	"github.com/jpillora/backoff"
)

type RetryConfig struct {
	MaxAttempts int
	Min         time.Duration
	Max         time.Duration
	Factor      float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, Min: 100 * time.Millisecond, Max: 2 * time.Second, Factor: 2}
}

// Consolidator pushes records to the shared store and reads aggregates back.
type Consolidator struct {
	store   repository.ConsolidationStore
	retry   RetryConfig
	window  time.Duration
	metrics repository.Metrics
	log     *logger.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewConsolidator(store repository.ConsolidationStore, retry RetryConfig, window time.Duration, metrics repository.Metrics, log *logger.Logger) *Consolidator {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Consolidator{
		store:   store,
		retry:   retry,
		window:  window,
		metrics: metrics,
		log:     log,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SyncBatch upserts every record independently. A failing record never
// aborts its siblings. Transport errors are retried with exponential backoff
// up to the attempt cap; invalid records fail at once. If ctx is cancelled
// the remaining records are reported as retryable failures and ctx.Err() is
// returned alongside the partial result.
func (c *Consolidator) SyncBatch(ctx context.Context, recs []models.ConsolidatedRecord) (models.SyncResult, error) {
	var res models.SyncResult
	start := c.now()

	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			for _, r := range recs[i:] {
				res.Failed++
				res.Failures = append(res.Failures, models.RecordFailure{
					Kind: r.Kind, OriginalID: r.OriginalID, Reason: "sync cancelled", Retryable: true,
				})
			}
			c.finish(res, start)
			return res, err
		}

		attempts, err := c.upsertWithRetry(ctx, rec)
		if err == nil {
			res.Synced++
			continue
		}
		var invalid *models.InvalidRecordError
		f := models.RecordFailure{
			Kind:       rec.Kind,
			OriginalID: rec.OriginalID,
			Reason:     err.Error(),
			Retryable:  !errors.As(err, &invalid),
			Attempts:   attempts,
		}
		res.Failed++
		res.Failures = append(res.Failures, f)
		c.log.Warn("consolidation record failed",
			logger.String("kind", string(rec.Kind)),
			logger.String("original_id", rec.OriginalID),
			logger.Int("attempts", attempts),
			logger.Bool("retryable", f.Retryable),
			logger.Error(err),
		)
	}
	c.finish(res, start)
	return res, nil
}

func (c *Consolidator) finish(res models.SyncResult, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordSync(res.Synced, res.Failed)
	c.metrics.RecordLatency("consolidation_sync", c.now().Sub(start).Seconds())
}

func (c *Consolidator) upsertWithRetry(ctx context.Context, rec models.ConsolidatedRecord) (int, error) {
	b := &backoff.Backoff{Min: c.retry.Min, Max: c.retry.Max, Factor: c.retry.Factor, Jitter: true}
	var err error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		err = c.store.Upsert(ctx, rec)
		if err == nil {
			return attempt, nil
		}
		var invalid *models.InvalidRecordError
		if errors.As(err, &invalid) {
			return attempt, err
		}
		if attempt == c.retry.MaxAttempts {
			break
		}
		if serr := c.sleep(ctx, b.Duration()); serr != nil {
			return attempt, fmt.Errorf("retry interrupted: %w", err)
		}
	}
	return c.retry.MaxAttempts, fmt.Errorf("gave up after %d attempts: %w", c.retry.MaxAttempts, err)
}

// PullAggregates reads cross-instance statistics for symbol over the
// configured window.
func (c *Consolidator) PullAggregates(ctx context.Context, symbol string) (models.AggregateStats, error) {
	stats, err := c.store.Aggregate(ctx, symbol, c.now().Add(-c.window))
	if err != nil {
		return models.AggregateStats{}, fmt.Errorf("aggregate %s: %w", symbol, err)
	}
	stats.Symbol = symbol
	stats.Window = c.window
	return stats, nil
}
