package markov

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"QuantSync/internal/domain/models"
	"QuantSync/internal/repository/memory"
)

func series(start time.Time, closes ...float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{Bucket: start.Add(time.Duration(i) * time.Minute), Symbol: "BTCUSDT", Close: c}
	}
	return out
}

func flat(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()
	t0 := time.Unix(0, 0)
	cases := []struct {
		closes []float64
		want   models.RegimeState
	}{
		{[]float64{100, 103}, models.StateTrendingUpStrong},
		{[]float64{100, 101}, models.StateTrendingUp},
		{[]float64{100, 97}, models.StateTrendingDownStrong},
		{[]float64{100, 99}, models.StateTrendingDown},
		{[]float64{100, 100.1, 100}, models.StateSidewaysLowVol},
		{[]float64{100, 104, 96, 100}, models.StateSidewaysHighVol},
	}
	for _, tc := range cases {
		if got := Classify(series(t0, tc.closes...), th); got != tc.want {
			t.Fatalf("closes %v: expected %s, got %s", tc.closes, tc.want, got)
		}
	}
}

func TestConfidenceMonotonicAndBelowOne(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.RecommendedMinTrades = 10
	r := NewRegistry(cfg, nil, nil)

	prev := -1.0
	for n := 1; n <= 5000; n++ {
		// 3:1 proportion held constant at every multiple of 4.
		to := models.StateTrendingUp
		if n%4 == 0 {
			to = models.StateSidewaysLowVol
		}
		if err := r.Observe(ctx, "BTC", models.StateTrendingUp, to, 0.001); err != nil {
			t.Fatalf("observe: %v", err)
		}
		if n%4 != 0 {
			continue
		}
		m, _ := r.acquire(ctx, "BTC")
		p := r.predictLocked(m, "BTC", models.StateTrendingUp)
		m.mu.Unlock()
		if p.Confidence < prev {
			t.Fatalf("confidence decreased at n=%d: %v < %v", n, p.Confidence, prev)
		}
		if p.Confidence >= 1 {
			t.Fatalf("confidence reached 1 at n=%d", n)
		}
		prev = p.Confidence
	}
}

func TestLowReliabilityCap(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(DefaultConfig(), nil, nil)
	for i := 0; i < 500; i++ {
		_ = r.Observe(ctx, "ETH", models.StateSidewaysLowVol, models.StateSidewaysLowVol, 0)
	}
	candles := series(time.Unix(0, 0), flat(10, 100)...)
	p, err := r.Predict(ctx, "ETH", candles)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !p.LowReliability || p.Converged {
		t.Fatalf("expected low reliability below 1000 samples, got %+v", p)
	}
	if p.Confidence > DefaultConfig().LowReliabilityCap {
		t.Fatalf("confidence %v above cap", p.Confidence)
	}
	if p.MostLikelyNextState != models.StateSidewaysLowVol {
		t.Fatalf("unexpected next state %s", p.MostLikelyNextState)
	}
}

func TestPredictReportsBothSampleBases(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.RecommendedMinTrades = 20
	r := NewRegistry(cfg, nil, nil)
	for i := 0; i < 30; i++ {
		_ = r.Observe(ctx, "S", models.StateTrendingUp, models.StateTrendingUp, 0.001)
	}
	for i := 0; i < 3; i++ {
		_ = r.Observe(ctx, "S", models.StateSidewaysLowVol, models.StateTrendingUp, 0.001)
	}

	m, _ := r.acquire(ctx, "S")
	p := r.predictLocked(m, "S", models.StateSidewaysLowVol)
	m.mu.Unlock()
	if p.SampleSize != 3 || p.TotalSamples != 33 {
		t.Fatalf("expected row 3 of 33, got %d of %d", p.SampleSize, p.TotalSamples)
	}
	if !p.Converged || p.LowReliability {
		t.Fatalf("reliability follows TotalSamples, got %+v", p)
	}
	// a thin row still yields a modest confidence
	if p.Confidence >= r.confidence(1, 30) {
		t.Fatalf("row confidence %v should reflect its own sample size", p.Confidence)
	}
}

func TestPredictUnavailableOnShortHistory(t *testing.T) {
	r := NewRegistry(DefaultConfig(), nil, nil)
	_, err := r.Predict(context.Background(), "X", series(time.Unix(0, 0), 1, 2, 3))
	if !errors.Is(err, models.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestExpectedReturn(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(DefaultConfig(), nil, nil)
	from := models.StateSidewaysLowVol
	_ = r.Observe(ctx, "S", from, models.StateTrendingUp, 0.02)
	_ = r.Observe(ctx, "S", from, models.StateTrendingUp, 0.04)
	_ = r.Observe(ctx, "S", from, models.StateTrendingDown, -0.03)
	_ = r.Observe(ctx, "S", from, models.StateSidewaysLowVol, 0.0)

	m, _ := r.acquire(ctx, "S")
	p := r.predictLocked(m, "S", from)
	m.mu.Unlock()
	// 0.5*0.03 + 0.25*(-0.03) + 0.25*0
	if math.Abs(p.ExpectedReturn-0.0075) > 1e-12 {
		t.Fatalf("expected 0.0075, got %v", p.ExpectedReturn)
	}
	if p.MostLikelyNextState != models.StateTrendingUp || p.SampleSize != 4 {
		t.Fatalf("unexpected prediction %+v", p)
	}
}

func TestEvaluateChainsDeterministic(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(DefaultConfig(), nil, nil)
	_ = r.Observe(ctx, "S", models.StateTrendingUp, models.StateTrendingUp, 0)
	_ = r.Observe(ctx, "S", models.StateTrendingUp, models.StateSidewaysLowVol, 0)
	_ = r.Observe(ctx, "S", models.StateSidewaysLowVol, models.StateTrendingDown, 0)

	a, err := r.EvaluateChains(ctx, "S", models.StateTrendingUp, 2000, 3, 99)
	if err != nil {
		t.Fatalf("chains: %v", err)
	}
	b, _ := r.EvaluateChains(ctx, "S", models.StateTrendingUp, 2000, 3, 99)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed must give same result")
	}
	sum := 0.0
	for i, sp := range a {
		sum += sp.Probability
		if i > 0 && sp.Probability > a[i-1].Probability {
			t.Fatalf("result not ranked: %v", a)
		}
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("probabilities must sum to 1, got %v", sum)
	}
}

func TestIngestCountsEachBarOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMarkovStore()
	cfg := DefaultConfig()
	cfg.Window = 3
	r := NewRegistry(cfg, store, nil)

	closes := []float64{100, 101, 102, 103, 102, 101, 100, 100, 100}
	candles := series(time.Unix(0, 0), closes...)
	n, err := r.Ingest(ctx, "S", candles[:6])
	if err != nil || n != 3 {
		t.Fatalf("first ingest: n=%d err=%v", n, err)
	}
	n, _ = r.Ingest(ctx, "S", candles)
	if n != 3 {
		t.Fatalf("overlapping ingest should add only new bars, got %d", n)
	}

	// A fresh registry over the same store resumes from the checkpoint.
	r2 := NewRegistry(cfg, store, nil)
	n, _ = r2.Ingest(ctx, "S", candles)
	if n != 0 {
		t.Fatalf("restarted registry re-counted %d bars", n)
	}
	conv, _ := r2.Convergence(ctx, "S")
	if conv.SampleSize != 6 {
		t.Fatalf("expected 6 persisted transitions, got %d", conv.SampleSize)
	}
}

func TestConvergenceStatus(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.RecommendedMinTrades = 50
	r := NewRegistry(cfg, nil, nil)
	for i := 0; i < 49; i++ {
		_ = r.Observe(ctx, "S", models.StateTrendingUp, models.StateTrendingDown, 0)
	}
	c, _ := r.Convergence(ctx, "S")
	if c.ConvergenceStatus != models.Converging {
		t.Fatalf("expected CONVERGING at 49")
	}
	_ = r.Observe(ctx, "S", models.StateTrendingDown, models.StateTrendingUp, 0)
	c, _ = r.Convergence(ctx, "S")
	if c.ConvergenceStatus != models.Converged || c.SampleSize != 50 {
		t.Fatalf("expected CONVERGED at 50, got %+v", c)
	}
	if c.OverallReliability <= 0 || c.OverallReliability >= 1 {
		t.Fatalf("reliability out of range: %v", c.OverallReliability)
	}
}

func TestConcurrentObserveNoLostUpdates(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(DefaultConfig(), memory.NewMarkovStore(), nil)
	var wg sync.WaitGroup
	for _, sym := range []string{"A", "B"} {
		for i := 0; i < 200; i++ {
			wg.Add(1)
			go func(s string) {
				defer wg.Done()
				_ = r.Observe(ctx, s, models.StateTrendingUp, models.StateTrendingUp, 0.001)
			}(sym)
		}
	}
	wg.Wait()
	for _, sym := range []string{"A", "B"} {
		c, _ := r.Convergence(ctx, sym)
		if c.SampleSize != 200 {
			t.Fatalf("%s: expected 200 transitions, got %d", sym, c.SampleSize)
		}
	}
}
