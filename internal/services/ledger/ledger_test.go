package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"QuantSync/internal/domain/models"
	"QuantSync/internal/repository/memory"
	"QuantSync/internal/services/phase"
)

func newLedger() (*Ledger, *memory.PositionStore, *phase.Tracker) {
	repo := memory.NewPositionStore()
	tr := phase.NewTracker(phase.NewController(nil))
	return New(repo, tr, nil, nil), repo, tr
}

func entry(side models.TradeSide, price, qty float64) models.Trade {
	return models.Trade{IsEntry: true, Side: side, Price: price, Quantity: qty}
}

func exit(side models.TradeSide, price, qty float64) models.Trade {
	return models.Trade{Side: side, Price: price, Quantity: qty}
}

func TestOpenCloseLongPnL(t *testing.T) {
	ctx := context.Background()
	l, repo, _ := newLedger()

	pos, err := l.OpenPosition(ctx, "BTC", "strategyA", entry(models.TradeBuy, 60000, 0.1))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if pos.Status != models.PositionOpen || pos.PnL != nil || pos.Side != models.SideLong {
		t.Fatalf("unexpected open position %+v", pos)
	}

	closed, err := l.ClosePosition(ctx, pos.ID, exit(models.TradeSell, 61000, 0.1))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != models.PositionClosed || closed.PnL == nil || *closed.PnL != 100 {
		t.Fatalf("expected pnl 100 and CLOSED, got %+v", closed)
	}
	stored, _ := repo.Get(ctx, pos.ID)
	if stored.Status != models.PositionClosed || *stored.PnL != 100 {
		t.Fatalf("store not updated: %+v", stored)
	}
	trades, _ := repo.Trades(ctx, pos.ID)
	if len(trades) != 2 || !trades[0].IsEntry || trades[1].RealizedPnL == nil || *trades[1].RealizedPnL != 100 {
		t.Fatalf("unexpected trades %+v", trades)
	}
}

func TestShortPnL(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLedger()
	pos, _ := l.OpenPosition(ctx, "ETH", "s", entry(models.TradeSell, 3000, 2))
	closed, err := l.ClosePosition(ctx, pos.ID, exit(models.TradeBuy, 2900, 2))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if *closed.PnL != 200 {
		t.Fatalf("expected short pnl 200, got %v", *closed.PnL)
	}
}

func TestDuplicateOpenRejected(t *testing.T) {
	ctx := context.Background()
	l, repo, tr := newLedger()
	first, _ := l.OpenPosition(ctx, "BTC", "strategyA", entry(models.TradeBuy, 60000, 0.1))

	_, err := l.OpenPosition(ctx, "BTC", "strategyA", entry(models.TradeBuy, 62000, 0.5))
	var dup *models.DuplicateOpenPositionError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateOpenPositionError, got %v", err)
	}
	got, _ := repo.Get(ctx, first.ID)
	if got.EntryPrice != 60000 || got.Quantity != 0.1 || got.Status != models.PositionOpen {
		t.Fatalf("original position changed: %+v", got)
	}
	if tr.Count() != 1 {
		t.Fatalf("rejected open must not count, got %d", tr.Count())
	}
	if _, err := l.OpenPosition(ctx, "BTC", "strategyB", entry(models.TradeBuy, 60000, 0.1)); err != nil {
		t.Fatalf("other strategy should open: %v", err)
	}
}

func TestCloseRejections(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLedger()
	pos, _ := l.OpenPosition(ctx, "BTC", "s", entry(models.TradeBuy, 100, 1))

	var qty *models.QuantityMismatchError
	if _, err := l.ClosePosition(ctx, pos.ID, exit(models.TradeSell, 110, 0.5)); !errors.As(err, &qty) {
		t.Fatalf("expected QuantityMismatchError, got %v", err)
	}
	var bad *models.InvalidTradeError
	if _, err := l.ClosePosition(ctx, pos.ID, exit(models.TradeBuy, 110, 1)); !errors.As(err, &bad) {
		t.Fatalf("expected InvalidTradeError for same-side exit, got %v", err)
	}
	if _, err := l.ClosePosition(ctx, pos.ID, exit(models.TradeSell, 110, 1)); err != nil {
		t.Fatalf("close: %v", err)
	}
	var notOpen *models.PositionNotOpenError
	if _, err := l.ClosePosition(ctx, pos.ID, exit(models.TradeSell, 120, 1)); !errors.As(err, &notOpen) {
		t.Fatalf("expected PositionNotOpenError, got %v", err)
	}
	if _, err := l.ClosePosition(ctx, "missing", exit(models.TradeSell, 1, 1)); !errors.Is(err, models.ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}
	// Closed position frees the slot; a new one can open.
	if _, err := l.OpenPosition(ctx, "BTC", "s", entry(models.TradeBuy, 130, 1)); err != nil {
		t.Fatalf("reopen slot: %v", err)
	}
}

func TestPhaseSnapshotAtEntry(t *testing.T) {
	ctx := context.Background()
	l, _, tr := newLedger()
	tr.Observe(99)
	pos, _ := l.OpenPosition(ctx, "BTC", "s", entry(models.TradeBuy, 100, 1))
	if pos.PhaseAtEntry != 0 {
		t.Fatalf("expected phase 0 at entry, got %d", pos.PhaseAtEntry)
	}
	if tr.Current().Phase != 1 {
		t.Fatalf("100th entry should advance to phase 1")
	}
	closed, _ := l.ClosePosition(ctx, pos.ID, exit(models.TradeSell, 101, 1))
	if closed.PhaseAtEntry != 0 {
		t.Fatalf("phase at entry must not be recalculated")
	}
}

func TestConcurrentOpensSingleWinner(t *testing.T) {
	ctx := context.Background()
	l, repo, _ := newLedger()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, dups := 0, 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.OpenPosition(ctx, "BTC", "s", entry(models.TradeBuy, 100, 1))
			mu.Lock()
			defer mu.Unlock()
			var dup *models.DuplicateOpenPositionError
			switch {
			case err == nil:
				wins++
			case errors.As(err, &dup):
				dups++
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || dups != 49 {
		t.Fatalf("expected 1 winner and 49 duplicates, got %d/%d", wins, dups)
	}
	open, _ := repo.List(ctx, models.PositionFilter{Status: models.PositionOpen})
	if len(open) != 1 {
		t.Fatalf("expected exactly one OPEN position, got %d", len(open))
	}
}

func TestConcurrentClosesSingleWinner(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLedger()
	pos, _ := l.OpenPosition(ctx, "BTC", "s", entry(models.TradeBuy, 100, 1))
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.ClosePosition(ctx, pos.ID, exit(models.TradeSell, 105, 1)); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected a single close, got %d", wins)
	}
}

func TestMarkToMarket(t *testing.T) {
	ctx := context.Background()
	l, repo, _ := newLedger()
	pos, _ := l.OpenPosition(ctx, "BTC", "s", entry(models.TradeBuy, 100, 1))
	n, err := l.MarkToMarket(ctx, "BTC", 123)
	if err != nil || n != 1 {
		t.Fatalf("mark: n=%d err=%v", n, err)
	}
	got, _ := repo.Get(ctx, pos.ID)
	if got.CurrentPrice != 123 || got.PnL != nil {
		t.Fatalf("unexpected %+v", got)
	}
}

func TestInvalidTrades(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLedger()
	var bad *models.InvalidTradeError
	cases := []models.Trade{
		{IsEntry: true, Side: models.TradeBuy, Price: 0, Quantity: 1},
		{IsEntry: true, Side: models.TradeBuy, Price: 1, Quantity: -1},
		{IsEntry: true, Side: "hold", Price: 1, Quantity: 1},
		{IsEntry: false, Side: models.TradeBuy, Price: 1, Quantity: 1},
	}
	for _, tr := range cases {
		if _, err := l.OpenPosition(ctx, "BTC", "s", tr); !errors.As(err, &bad) {
			t.Fatalf("trade %+v: expected InvalidTradeError, got %v", tr, err)
		}
	}
}
