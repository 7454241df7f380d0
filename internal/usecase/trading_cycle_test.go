package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"QuantSync/internal/domain/models"
	domrepo "QuantSync/internal/domain/repository"
	domsvc "QuantSync/internal/domain/service"
	"QuantSync/internal/repository/memory"
	"QuantSync/internal/service/broker"
	"QuantSync/internal/service/ratelimit"
	"QuantSync/internal/services/consolidation"
	"QuantSync/internal/services/fusion"
	"QuantSync/internal/services/ledger"
	"QuantSync/internal/services/markov"
	"QuantSync/internal/services/phase"
	pkgkafka "QuantSync/pkg/kafka"
)

type fakeMarket struct{ candles []models.Candle }

func (f *fakeMarket) GetCandles(ctx context.Context, symbol string, from, to time.Time, tf domrepo.Timeframe) ([]models.Candle, error) {
	return f.candles, nil
}

func (f *fakeMarket) GetLatestNCandles(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	return f.candles, nil
}

func flatCandles(symbol string, n int, price float64) []models.Candle {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{Bucket: t0.Add(time.Duration(i) * time.Minute), Symbol: symbol,
			Open: price, High: price, Low: price, Close: price, Volume: 1}
	}
	return out
}

// scripted returns a fixed answer that tests may swap between runs.
type scripted struct {
	mu   sync.Mutex
	name models.ProducerName
	sig  models.Signal
	err  error
}

func (s *scripted) Name() models.ProducerName { return s.name }

func (s *scripted) Score(_ context.Context, symbol string) (models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return models.Signal{}, s.err
	}
	sig := s.sig
	sig.Symbol = symbol
	sig.Producer = s.name
	return sig, nil
}

func (s *scripted) set(action models.Action, score, conf float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sig = models.Signal{Action: action, Score: score, Confidence: conf, ObservedAt: time.Now().UTC()}
	s.err = nil
}

type failingExecutor struct{ calls int }

func (f *failingExecutor) PlaceOrder(context.Context, string, models.TradeSide, float64, float64) (models.OrderResult, error) {
	f.calls++
	return models.OrderResult{}, errors.New("exchange timeout")
}

type harness struct {
	cycle     *TradingCycle
	technical *scripted
	positions *memory.PositionStore
	decisions *memory.DecisionStore
	changes   *consolidation.ChangeLog
	ledger    *ledger.Ledger
}

func newHarness(exec domsvc.OrderExecutor, limiter *ratelimit.Limiter) *harness {
	h := &harness{
		technical: &scripted{name: models.ProducerTechnical},
		positions: memory.NewPositionStore(),
		decisions: memory.NewDecisionStore(),
		changes:   consolidation.NewChangeLog(100),
	}
	tracker := phase.NewTracker(phase.NewController(nil))
	h.ledger = ledger.New(h.positions, tracker, nil, nil)
	registry := markov.NewRegistry(markov.DefaultConfig(), memory.NewMarkovStore(), nil)
	h.cycle = NewTradingCycle(
		CycleOptions{Strategy: "fusion", OrderQty: 0.5, HistoryBars: 30, MaxParallel: 2},
		&fakeMarket{candles: flatCandles("BTCUSDT", 30, 100)},
		Producers{Technical: h.technical},
		registry,
		fusion.NewEngine(fusion.DefaultConfig()),
		tracker,
		h.ledger,
		h.decisions,
		exec,
		limiter,
		nil,
		h.changes,
		consolidation.NewMapper("inst-a"),
		nil,
		nil,
	)
	return h
}

func TestCycleOpensAndClosesPosition(t *testing.T) {
	ctx := context.Background()
	h := newHarness(broker.NewPaper(), nil)

	h.technical.set(models.ActionBuy, 0.6, 0.7)
	d, err := h.cycle.Run(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if d.FinalAction != models.ActionBuy || !d.Executed {
		t.Fatalf("expected executed BUY, got %+v", d)
	}
	open, err := h.ledger.OpenFor(ctx, "BTCUSDT", "fusion")
	if err != nil || open == nil {
		t.Fatalf("expected open position, got %v %v", open, err)
	}
	if open.Side != models.SideLong || open.Quantity != 0.5 || open.EntryPrice != 100 {
		t.Fatalf("unexpected position %+v", open)
	}

	// same direction again: no second entry
	d, err = h.cycle.Run(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if d.Executed || d.ExecutionError == "" {
		t.Fatalf("expected re-entry to be skipped, got %+v", d)
	}

	h.technical.set(models.ActionSell, -0.6, 0.7)
	d, err = h.cycle.Run(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !d.Executed {
		t.Fatalf("expected close to execute, got %+v", d)
	}
	closed, _ := h.positions.Get(ctx, open.ID)
	if closed.Status != models.PositionClosed || closed.PnL == nil || *closed.PnL != 0 {
		t.Fatalf("expected CLOSED with zero pnl, got %+v", closed)
	}
	n, _ := h.positions.CountEntryTrades(ctx)
	if n != 1 {
		t.Fatalf("expected 1 entry trade, got %d", n)
	}

	stored, err := h.decisions.List(ctx, models.DecisionFilter{Symbol: "BTCUSDT"})
	if err != nil || len(stored) != 3 {
		t.Fatalf("expected 3 stored decisions, got %d (%v)", len(stored), err)
	}
	// 3 decisions, the position once since the close supersedes the open, and
	// one technical signal per scripted answer
	if got := h.changes.Len(); got != 6 {
		t.Fatalf("expected 6 queued records, got %d", got)
	}
	signals := 0
	for _, rec := range h.changes.Drain() {
		if rec.Kind == models.KindSignal && rec.Symbol == "BTCUSDT" {
			signals++
		}
	}
	if signals != 2 {
		t.Fatalf("expected 2 technical signal records, got %d", signals)
	}
}

func TestCycleExecutionFailureLeavesLedgerUntouched(t *testing.T) {
	ctx := context.Background()
	exec := &failingExecutor{}
	h := newHarness(exec, nil)
	h.technical.set(models.ActionBuy, 0.6, 0.7)

	d, err := h.cycle.Run(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if exec.calls != 1 {
		t.Fatalf("expected one order attempt, got %d", exec.calls)
	}
	stored, err := h.decisions.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("get decision: %v", err)
	}
	if stored.Executed || stored.ExecutionError != "exchange timeout" || stored.ExecutionTime == nil {
		t.Fatalf("expected failed execution to be recorded, got %+v", stored)
	}
	if open, _ := h.ledger.OpenFor(ctx, "BTCUSDT", "fusion"); open != nil {
		t.Fatalf("ledger must be untouched, found %+v", open)
	}
}

func TestCycleHoldPlacesNoOrder(t *testing.T) {
	ctx := context.Background()
	exec := &failingExecutor{}
	h := newHarness(exec, nil)
	// below the phase 0 floor of 0.10
	h.technical.set(models.ActionBuy, 0.6, 0.05)

	d, err := h.cycle.Run(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if d.FinalAction != models.ActionHold || exec.calls != 0 {
		t.Fatalf("expected HOLD without orders, got %s and %d calls", d.FinalAction, exec.calls)
	}
}

func TestCycleRateLimited(t *testing.T) {
	ctx := context.Background()
	exec := &failingExecutor{}
	h := newHarness(exec, ratelimit.New(0, 1))
	h.technical.set(models.ActionBuy, 0.6, 0.7)

	if _, err := h.cycle.Run(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("run: %v", err)
	}
	d, err := h.cycle.Run(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if exec.calls != 1 || d.ExecutionError != "order rate limited" {
		t.Fatalf("expected second order to be throttled, got %d calls and %q", exec.calls, d.ExecutionError)
	}
}

func TestCycleWithoutTechnicalSignal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(broker.NewPaper(), nil)
	h.technical.err = models.ErrUnavailable

	if _, err := h.cycle.Run(ctx, "BTCUSDT"); !errors.Is(err, models.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	stored, _ := h.decisions.List(ctx, models.DecisionFilter{})
	if len(stored) != 0 {
		t.Fatalf("no decision may be stored, got %d", len(stored))
	}

	decided, err := h.cycle.RunAll(ctx, []string{"btcusdt", "ethusdt"})
	if err != nil || len(decided) != 0 {
		t.Fatalf("expected empty round, got %d (%v)", len(decided), err)
	}
}

func TestRunAllFansOut(t *testing.T) {
	ctx := context.Background()
	h := newHarness(broker.NewPaper(), nil)
	h.technical.set(models.ActionBuy, 0.6, 0.7)

	decided, err := h.cycle.RunAll(ctx, []string{"btcusdt", "ethusdt", "solusdt"})
	if err != nil {
		t.Fatalf("run all: %v", err)
	}
	if len(decided) != 3 {
		t.Fatalf("expected 3 decisions, got %d", len(decided))
	}
	open, _ := h.ledger.List(ctx, models.PositionFilter{Status: models.PositionOpen})
	if len(open) != 3 {
		t.Fatalf("expected 3 open positions, got %d", len(open))
	}
}

func barJSON(symbol string, t time.Time, c float64) []byte {
	b, _ := json.Marshal(barMessage{Symbol: symbol, T: t.UnixMilli(), O: c, H: c, L: c, C: c, V: 1})
	return b
}

func TestBarsHandlerIngestsOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMarkovStore()
	registry := markov.NewRegistry(markov.DefaultConfig(), store, nil)
	positions := memory.NewPositionStore()
	led := ledger.New(positions, phase.NewTracker(phase.NewController(nil)), nil, nil)
	h := NewKafkaBarsHandler("bars", registry, led, nil, 50)

	pos, err := led.OpenPosition(ctx, "BTCUSDT", "fusion", models.Trade{IsEntry: true, Side: models.TradeBuy, Price: 100, Quantity: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 15; i++ {
		if err := h.Handle(ctx, barJSON("btcusdt", t0.Add(time.Duration(i)*time.Minute), 100+float64(i))); err != nil {
			t.Fatalf("bar %d: %v", i, err)
		}
	}
	// redelivery is ignored
	if err := h.Handle(ctx, barJSON("BTCUSDT", t0.Add(14*time.Minute), 114)); err != nil {
		t.Fatalf("redelivered bar: %v", err)
	}

	conv, err := registry.Convergence(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("convergence: %v", err)
	}
	if conv.SampleSize != 5 {
		t.Fatalf("expected 5 transitions, got %d", conv.SampleSize)
	}
	marked, _ := positions.Get(ctx, pos.ID)
	if marked.CurrentPrice != 114 {
		t.Fatalf("expected mark 114, got %v", marked.CurrentPrice)
	}

	var hookErr *pkgkafka.HookError
	if err := h.Handle(ctx, []byte(`{"symbol":"","t":1,"c":1}`)); !errors.As(err, &hookErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCycleSkipsFormingBucket(t *testing.T) {
	ctx := context.Background()
	h := newHarness(broker.NewPaper(), nil)
	h.technical.set(models.ActionHold, 0, 0.5)
	market := h.cycle.market.(*fakeMarket)
	last := market.candles[len(market.candles)-1].Bucket

	// the last minute is still open
	h.cycle.now = func() time.Time { return last.Add(30 * time.Second) }
	if _, err := h.cycle.Run(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("run: %v", err)
	}
	forming, err := h.cycle.markov.Convergence(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("convergence: %v", err)
	}

	// once closed at its final price the bar counts exactly once
	market.candles[len(market.candles)-1].Close = 103
	h.cycle.now = func() time.Time { return last.Add(2 * time.Minute) }
	for i := 0; i < 2; i++ {
		if _, err := h.cycle.Run(ctx, "BTCUSDT"); err != nil {
			t.Fatalf("run: %v", err)
		}
	}
	closed, err := h.cycle.markov.Convergence(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("convergence: %v", err)
	}
	if forming.SampleSize == 0 || closed.SampleSize != forming.SampleSize+1 {
		t.Fatalf("expected closed bar counted once, got %d then %d", forming.SampleSize, closed.SampleSize)
	}
}
