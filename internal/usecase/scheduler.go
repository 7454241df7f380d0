package usecase

import (
	"context"
	"sync"
	"time"

	"QuantSync/pkg/logger"
)

// Scheduler runs the trading cycle for every configured symbol on a fixed
// interval. A tick that fires while the previous round is still running is
// skipped.
type Scheduler struct {
	cycle    *TradingCycle
	symbols  []string
	interval time.Duration
	log      *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(cycle *TradingCycle, symbols []string, interval time.Duration, log *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{cycle: cycle, symbols: symbols, interval: interval, log: log}
}

// Start launches the loop and returns at once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx)
	s.log.Info("trading scheduler started",
		logger.Strings("symbols", s.symbols),
		logger.Duration("interval_ms", s.interval))
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.round(ctx)
		}
	}
}

func (s *Scheduler) round(ctx context.Context) {
	start := time.Now()
	decisions, err := s.cycle.RunAll(ctx, s.symbols)
	if err != nil && ctx.Err() == nil {
		s.log.Error("trading round failed", logger.Error(err))
		return
	}
	s.log.Debug("trading round done",
		logger.Int("decisions", len(decisions)),
		logger.Duration("took_ms", time.Since(start)))
}

// Stop cancels an in-flight round and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
