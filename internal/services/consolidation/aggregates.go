package consolidation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"QuantSync/internal/domain/models"
	domsvc "QuantSync/internal/domain/service"
	"QuantSync/pkg/cache"
)

// AggregateCache holds the most recently pulled aggregates. The fusion path
// only ever reads from it, so cross-site evidence never blocks a decision.
type AggregateCache struct {
	cache cache.Service
	ttl   time.Duration
	now   func() time.Time
}

var _ domsvc.SignalProducer = (*AggregateCache)(nil)

func NewAggregateCache(c cache.Service, ttl time.Duration) *AggregateCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AggregateCache{cache: c, ttl: ttl, now: time.Now}
}

func aggregateKey(symbol string) string {
	return cache.GenerateKeyWithParams("aggregates", symbol)
}

func (a *AggregateCache) Put(ctx context.Context, stats models.AggregateStats) error {
	return a.cache.Set(ctx, aggregateKey(stats.Symbol), stats, a.ttl)
}

// Get returns cached aggregates; ok is false on a miss.
func (a *AggregateCache) Get(ctx context.Context, symbol string) (models.AggregateStats, bool, error) {
	var stats models.AggregateStats
	err := a.cache.Get(ctx, aggregateKey(symbol), &stats)
	if errors.Is(err, cache.ErrCacheMiss) {
		return stats, false, nil
	}
	if err != nil {
		return stats, false, err
	}
	return stats, true, nil
}

func (a *AggregateCache) Name() models.ProducerName { return models.ProducerCrossSite }

// Score turns cached aggregates into a cross-site signal. The score is the
// net buy/sell ratio across instances; confidence is the mean reported
// confidence discounted when few instances contribute.
func (a *AggregateCache) Score(ctx context.Context, symbol string) (models.Signal, error) {
	stats, ok, err := a.Get(ctx, symbol)
	if err != nil {
		return models.Signal{}, fmt.Errorf("cross-site %s: %w", symbol, err)
	}
	if !ok || stats.Records == 0 || stats.Instances == 0 {
		return models.Signal{}, fmt.Errorf("cross-site %s: %w", symbol, models.ErrUnavailable)
	}
	score := stats.BuyRatio - stats.SellRatio
	action := models.ActionHold
	switch {
	case score > 0:
		action = models.ActionBuy
	case score < 0:
		action = models.ActionSell
	}
	n := float64(stats.Instances)
	conf := stats.MeanConfidence * n / (n + 1)
	return models.Signal{
		Symbol:     symbol,
		Producer:   models.ProducerCrossSite,
		Action:     action,
		Score:      clamp(score, -1, 1),
		Confidence: clamp(conf, 0, 1),
		ObservedAt: stats.ComputedAt,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
