package phase

import (
	"sync"
	"testing"

	"QuantSync/internal/domain/models"
)

func TestCurrentPhaseBreakpoints(t *testing.T) {
	c := NewController(nil)
	cases := []struct {
		count, phase, needed int
	}{
		{0, 0, 100},
		{99, 0, 1},
		{100, 1, 400},
		{499, 1, 1},
		{500, 2, 500},
		{999, 2, 1},
		{1000, 3, 1000},
		{1999, 3, 1},
		{2000, 4, 0},
		{50000, 4, 0},
		{-5, 0, 100},
	}
	for _, tc := range cases {
		got := c.CurrentPhase(tc.count)
		if got.Phase != tc.phase || got.TradesNeeded != tc.needed {
			t.Fatalf("count=%d: expected phase %d needed %d, got phase %d needed %d",
				tc.count, tc.phase, tc.needed, got.Phase, got.TradesNeeded)
		}
	}
}

func TestCurrentPhaseProgress(t *testing.T) {
	c := NewController(nil)
	if p := c.CurrentPhase(300).Progress; p != 50 {
		t.Fatalf("expected 50%% progress at 300, got %v", p)
	}
	if p := c.CurrentPhase(100).Progress; p != 0 {
		t.Fatalf("expected 0%% at phase start, got %v", p)
	}
	if p := c.CurrentPhase(2500).Progress; p != 100 {
		t.Fatalf("expected 100%% at final phase, got %v", p)
	}
}

func TestFeatureTable(t *testing.T) {
	c := NewController(map[int]float64{2: 0.35, 9: 0.9})
	if c.CurrentPhase(0).Features.Enabled(models.ProducerSentiment) {
		t.Fatalf("sentiment must be disabled in phase 0")
	}
	f := c.CurrentPhase(600).Features
	if !f.Enabled(models.ProducerMarkov) || f.Enabled(models.ProducerOrderBook) {
		t.Fatalf("unexpected phase 2 producers: %v", f.Producers)
	}
	if f.MinConfidence != 0.35 {
		t.Fatalf("override not applied: %v", f.MinConfidence)
	}
	if DefaultFeatures[2].MinConfidence != 0.30 {
		t.Fatalf("override leaked into defaults")
	}
	if !c.CurrentPhase(2000).Features.Enabled(models.ProducerCrossSite) {
		t.Fatalf("cross-site must be enabled in phase 4")
	}
}

func TestTrackerMonotonic(t *testing.T) {
	tr := NewTracker(NewController(nil))
	tr.Observe(120)
	tr.Observe(10)
	tr.Add(-3)
	if tr.Count() != 120 {
		t.Fatalf("counter must never decrease, got %d", tr.Count())
	}

	var wg sync.WaitGroup
	last := tr.Current().Phase
	for i := 0; i < 400; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Add(1)
		}()
	}
	wg.Wait()
	if tr.Count() != 520 {
		t.Fatalf("expected 520, got %d", tr.Count())
	}
	if p := tr.Current().Phase; p < last || p != 2 {
		t.Fatalf("expected phase 2, got %d", p)
	}
}
