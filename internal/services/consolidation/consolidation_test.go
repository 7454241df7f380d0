package consolidation

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"QuantSync/internal/domain/models"
	"QuantSync/internal/repository/memory"
	"QuantSync/pkg/cache"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newConsolidator(store *memory.ConsolidationStore) *Consolidator {
	c := NewConsolidator(store, DefaultRetryConfig(), 24*time.Hour, nil, nil)
	c.sleep = noSleep
	return c
}

func record(rec models.ConsolidatedRecord, err error) models.ConsolidatedRecord {
	if err != nil {
		panic(err)
	}
	return rec
}

func sampleBatch(m *Mapper, at time.Time) []models.ConsolidatedRecord {
	pnl := 100.0
	closedAt := at
	return []models.ConsolidatedRecord{
		record(m.FromSignal(models.Signal{ID: "sig-1", Symbol: "BTC", Producer: models.ProducerTechnical, Action: models.ActionBuy, Score: 0.6, Confidence: 0.7, ObservedAt: at})),
		record(m.FromSignal(models.Signal{ID: "sent-1", Symbol: "BTC", Producer: models.ProducerSentiment, Action: models.ActionSell, Score: -0.4, Confidence: 0.6, ObservedAt: at})),
		record(m.FromDecision(&models.FusedDecision{ID: "dec-1", Symbol: "BTC", FinalAction: models.ActionBuy, CombinedConfidence: 0.65, SignalTime: at})),
		record(m.FromPosition(&models.Position{ID: "pos-1", Symbol: "BTC", Status: models.PositionClosed, PnL: &pnl, UpdatedAt: at, ClosedAt: &closedAt})),
	}
}

func TestSyncBatchIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewConsolidationStore()
	c := newConsolidator(store)
	batch := sampleBatch(NewMapper("inst-a"), time.Now())

	res, err := c.SyncBatch(ctx, batch)
	if err != nil || res.Synced != 4 || res.Failed != 0 {
		t.Fatalf("first sync: %+v err=%v", res, err)
	}
	once, _ := store.Count(ctx)
	res, _ = c.SyncBatch(ctx, batch)
	if res.Synced != 4 {
		t.Fatalf("replay should succeed: %+v", res)
	}
	twice, _ := store.Count(ctx)
	if once != twice || once != 4 {
		t.Fatalf("replay changed row count: %d -> %d", once, twice)
	}

	// Same original ids from another instance are distinct rows.
	_, _ = c.SyncBatch(ctx, sampleBatch(NewMapper("inst-b"), time.Now()))
	if n, _ := store.Count(ctx); n != 8 {
		t.Fatalf("expected 8 rows across two instances, got %d", n)
	}
}

func TestSyncBatchPerRecordFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewConsolidationStore()
	c := newConsolidator(store)
	batch := sampleBatch(NewMapper("inst-a"), time.Now())
	bad := batch[1]
	bad.Symbol = ""
	batch[1] = bad

	res, err := c.SyncBatch(ctx, batch)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Synced != 3 || res.Failed != 1 {
		t.Fatalf("expected 3 synced, 1 failed: %+v", res)
	}
	f := res.Failures[0]
	if f.OriginalID != "sent-1" || f.Retryable || f.Attempts != 1 {
		t.Fatalf("invalid record must fail once without retry: %+v", f)
	}
}

func TestSyncBatchRetriesTransientErrors(t *testing.T) {
	ctx := context.Background()
	store := memory.NewConsolidationStore()
	var calls int32
	store.Fail = func(rec models.ConsolidatedRecord) error {
		if rec.OriginalID == "dec-1" && atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("connection reset")
		}
		if rec.OriginalID == "pos-1" {
			return errors.New("connection refused")
		}
		return nil
	}
	c := newConsolidator(store)
	res, _ := c.SyncBatch(ctx, sampleBatch(NewMapper("inst-a"), time.Now()))
	if res.Synced != 3 || res.Failed != 1 {
		t.Fatalf("expected dec-1 to recover on 3rd attempt and pos-1 to fail: %+v", res)
	}
	if f := res.Failures[0]; f.OriginalID != "pos-1" || !f.Retryable || f.Attempts != 3 {
		t.Fatalf("unexpected failure %+v", f)
	}
}

func TestSyncBatchCancelled(t *testing.T) {
	store := memory.NewConsolidationStore()
	c := newConsolidator(store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := c.SyncBatch(ctx, sampleBatch(NewMapper("inst-a"), time.Now()))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if res.Failed != 4 || !res.Failures[0].Retryable {
		t.Fatalf("all records should be deferred: %+v", res)
	}
}

func TestFieldLevelLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := memory.NewConsolidationStore()
	c := newConsolidator(store)
	m := NewMapper("inst-a")
	t0 := time.Now().Add(-time.Minute)

	newer := record(m.FromDecision(&models.FusedDecision{ID: "d", Symbol: "BTC", FinalAction: models.ActionSell, CombinedConfidence: 0.9, SignalTime: t0.Add(time.Second)}))
	older := record(m.FromDecision(&models.FusedDecision{ID: "d", Symbol: "BTC", FinalAction: models.ActionBuy, CombinedConfidence: 0.1, SignalTime: t0}))
	score := 0.4
	older.Score = &score

	_, _ = c.SyncBatch(ctx, []models.ConsolidatedRecord{newer})
	_, _ = c.SyncBatch(ctx, []models.ConsolidatedRecord{older})

	got, ok := store.Get(newer.Key())
	if !ok {
		t.Fatalf("record missing")
	}
	if *got.Action != "SELL" || *got.Confidence != 0.9 {
		t.Fatalf("older write overwrote newer fields: %+v", got)
	}
	if got.Score == nil || *got.Score != 0.4 {
		t.Fatalf("older write should fill a field the newer one lacked")
	}
	if !got.LastUpdated.Equal(newer.LastUpdated) {
		t.Fatalf("last_updated must keep the newest value")
	}
}

func TestDataHashMismatchRejected(t *testing.T) {
	ctx := context.Background()
	store := memory.NewConsolidationStore()
	c := newConsolidator(store)
	rec := record(NewMapper("inst-a").FromSignal(models.Signal{ID: "x", Symbol: "BTC", Producer: models.ProducerTechnical, Action: models.ActionBuy, ObservedAt: time.Now()}))
	_, _ = c.SyncBatch(ctx, []models.ConsolidatedRecord{rec})
	rec.DataHash = DataHash("x", "ETH", rec.Kind)
	res, _ := c.SyncBatch(ctx, []models.ConsolidatedRecord{rec})
	if res.Failed != 1 || res.Failures[0].Retryable {
		t.Fatalf("hash mismatch must be a permanent failure: %+v", res)
	}
}

func TestChangeLogKeepsNewest(t *testing.T) {
	cl := NewChangeLog(2)
	m := NewMapper("inst-a")
	t0 := time.Now()
	a1 := record(m.FromSignal(models.Signal{ID: "a", Symbol: "BTC", Producer: models.ProducerTechnical, ObservedAt: t0.Add(time.Second)}))
	a0 := record(m.FromSignal(models.Signal{ID: "a", Symbol: "BTC", Producer: models.ProducerTechnical, ObservedAt: t0}))
	cl.Record(a1)
	if cl.Record(a0) {
		t.Fatalf("older version must not replace newer")
	}
	cl.Record(record(m.FromSignal(models.Signal{ID: "b", Symbol: "BTC", Producer: models.ProducerTechnical, ObservedAt: t0})))
	if cl.Record(record(m.FromSignal(models.Signal{ID: "c", Symbol: "BTC", Producer: models.ProducerTechnical, ObservedAt: t0}))) || cl.Dropped() != 1 {
		t.Fatalf("full log should drop new keys")
	}

	snap := cl.Drain()
	if len(snap) != 2 || cl.Len() != 0 {
		t.Fatalf("drain should empty the log, got %d/%d", len(snap), cl.Len())
	}
	cl.Record(a1)
	cl.Requeue([]models.ConsolidatedRecord{a0})
	if got := cl.Drain(); len(got) != 1 || !got[0].LastUpdated.Equal(a1.LastUpdated) {
		t.Fatalf("requeue must not override a newer record")
	}
}

func TestSyncerCycleDefersAndCachesAggregates(t *testing.T) {
	ctx := context.Background()
	store := memory.NewConsolidationStore()
	down := true
	store.Fail = func(rec models.ConsolidatedRecord) error {
		if down && rec.OriginalID == "pos-1" {
			return errors.New("timeout")
		}
		return nil
	}
	cons := newConsolidator(store)
	changes := NewChangeLog(0)
	aggs := NewAggregateCache(cache.NewLayeredCache(nil), time.Minute)
	instances := memory.NewInstanceStore()
	s := NewSyncer(models.Instance{ID: "inst-a", Name: "a"}, instances, changes, cons, aggs, []string{"BTC"}, time.Hour, nil)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	for _, r := range sampleBatch(NewMapper("inst-a"), time.Now()) {
		changes.Record(r)
	}
	res := s.RunOnce(ctx)
	if res.Synced != 3 || res.Failed != 1 || changes.Len() != 1 {
		t.Fatalf("expected pos-1 deferred: %+v queued=%d", res, changes.Len())
	}

	down = false
	res = s.RunOnce(ctx)
	if res.Synced != 1 || changes.Len() != 0 {
		t.Fatalf("deferred record should sync next cycle: %+v", res)
	}

	stats, ok, err := aggs.Get(ctx, "BTC")
	if err != nil || !ok {
		t.Fatalf("aggregates not cached: ok=%v err=%v", ok, err)
	}
	if stats.Instances != 1 || stats.ClosedTrades != 1 || stats.MeanPnL != 100 || stats.BuyRatio != 1 {
		t.Fatalf("unexpected aggregates %+v", stats)
	}
	sig, err := aggs.Score(ctx, "BTC")
	if err != nil || sig.Action != models.ActionBuy || sig.Confidence <= 0 || sig.Confidence >= 1 {
		t.Fatalf("unexpected cross-site signal %+v err=%v", sig, err)
	}
	if _, err := aggs.Score(ctx, "ETH"); !errors.Is(err, models.ErrUnavailable) {
		t.Fatalf("expected unavailable for uncached symbol, got %v", err)
	}

	list, _ := instances.List(ctx)
	if len(list) != 1 || list[0].LastSync == nil {
		t.Fatalf("instance should be marked synced: %+v", list)
	}
}

func TestMapperRejectsUnencodablePayload(t *testing.T) {
	m := NewMapper("inst-a")
	_, err := m.FromSignal(models.Signal{ID: "nan", Symbol: "BTC", Producer: models.ProducerTechnical, Score: math.NaN(), ObservedAt: time.Now()})
	if err == nil {
		t.Fatalf("expected encode error for NaN score")
	}
	rec, err := m.FromSignal(models.Signal{ID: "ok", Symbol: "BTC", Producer: models.ProducerTechnical, Score: 0.2, ObservedAt: time.Now()})
	if err != nil || len(rec.Payload) == 0 {
		t.Fatalf("expected payload, got %q err=%v", rec.Payload, err)
	}
}
