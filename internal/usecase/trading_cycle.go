package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"QuantSync/internal/domain/models"
	domrepo "QuantSync/internal/domain/repository"
	domsvc "QuantSync/internal/domain/service"
	"QuantSync/internal/service/ratelimit"
	"QuantSync/internal/services/consolidation"
	"QuantSync/internal/services/fusion"
	"QuantSync/internal/services/ledger"
	"QuantSync/internal/services/markov"
	"QuantSync/internal/services/phase"
	"QuantSync/pkg/logger"
	"QuantSync/pkg/util"

	"golang.org/x/sync/errgroup"
)

// CycleOptions are the per-process trading settings.
type CycleOptions struct {
	Strategy    string
	OrderQty    float64
	HistoryBars int
	Timeframe   domrepo.Timeframe
	MaxParallel int
}

// Producers groups the optional signal sources. Nil entries are never asked.
type Producers struct {
	Technical     domsvc.SignalProducer
	Sentiment     domsvc.SignalProducer
	OrderBook     domsvc.SignalProducer
	MathIntuition domsvc.SignalProducer
	CrossSite     domsvc.SignalProducer
}

// TradingCycle runs gather -> predict -> fuse -> execute for one symbol at a
// time. Different symbols run in parallel; one symbol never overlaps itself.
type TradingCycle struct {
	opts      CycleOptions
	market    domrepo.MarketData
	producers Producers
	markov    *markov.Registry
	engine    *fusion.Engine
	tracker   *phase.Tracker
	ledger    *ledger.Ledger
	decisions domrepo.DecisionRepository
	executor  domsvc.OrderExecutor
	limiter   *ratelimit.Limiter
	publisher domrepo.DecisionPublisher
	changes   *consolidation.ChangeLog
	mapper    *consolidation.Mapper
	metrics   domrepo.Metrics
	log       *logger.Logger
	locks     *util.KeyedMutex
	now       func() time.Time
}

func NewTradingCycle(
	opts CycleOptions,
	market domrepo.MarketData,
	producers Producers,
	registry *markov.Registry,
	engine *fusion.Engine,
	tracker *phase.Tracker,
	led *ledger.Ledger,
	decisions domrepo.DecisionRepository,
	executor domsvc.OrderExecutor,
	limiter *ratelimit.Limiter,
	publisher domrepo.DecisionPublisher,
	changes *consolidation.ChangeLog,
	mapper *consolidation.Mapper,
	metrics domrepo.Metrics,
	log *logger.Logger,
) *TradingCycle {
	if opts.HistoryBars <= 0 {
		opts.HistoryBars = 120
	}
	if !opts.Timeframe.Valid() {
		opts.Timeframe = domrepo.TF1m
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	if log == nil {
		log = logger.Nop()
	}
	return &TradingCycle{
		opts:      opts,
		market:    market,
		producers: producers,
		markov:    registry,
		engine:    engine,
		tracker:   tracker,
		ledger:    led,
		decisions: decisions,
		executor:  executor,
		limiter:   limiter,
		publisher: publisher,
		changes:   changes,
		mapper:    mapper,
		metrics:   metrics,
		log:       log,
		locks:     util.NewKeyedMutex(),
		now:       time.Now,
	}
}

// RunAll runs one cycle per symbol with at most MaxParallel in flight. A
// failing symbol is logged and does not stop the others.
func (c *TradingCycle) RunAll(ctx context.Context, symbols []string) ([]*models.FusedDecision, error) {
	out := make([]*models.FusedDecision, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.MaxParallel)
	for i, sym := range symbols {
		i, sym := i, util.NormalizeSymbol(sym)
		g.Go(func() error {
			d, err := c.Run(gctx, sym)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, models.ErrUnavailable) {
					c.log.Debug("cycle skipped", logger.Symbol(sym), logger.Error(err))
				} else {
					c.log.Error("cycle failed", logger.Symbol(sym), logger.Error(err))
					c.recordError("cycle")
				}
				return nil
			}
			out[i] = d
			return nil
		})
	}
	err := g.Wait()
	decided := out[:0]
	for _, d := range out {
		if d != nil {
			decided = append(decided, d)
		}
	}
	return decided, err
}

// Run performs one full cycle for symbol and returns the persisted decision.
// An execution failure is recorded on the decision, not returned.
func (c *TradingCycle) Run(ctx context.Context, symbol string) (*models.FusedDecision, error) {
	unlock := c.locks.Lock(symbol)
	defer unlock()

	start := c.now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordLatency("trading_cycle", c.now().Sub(start).Seconds())
		}
	}()

	candles, err := c.market.GetLatestNCandles(ctx, symbol, c.opts.HistoryBars, c.opts.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("price history %s: %w", symbol, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("price history %s: %w", symbol, models.ErrUnavailable)
	}
	last := candles[len(candles)-1].Close
	ph := c.tracker.Current()

	var pred *models.MarkovPrediction
	if c.markov != nil {
		pred = c.regime(ctx, symbol, candles)
	}

	in, err := c.gather(ctx, symbol, ph.Features)
	if err != nil {
		return nil, err
	}

	d, err := c.engine.Fuse(c.opts.Strategy, in, pred, ph)
	if err != nil {
		return nil, fmt.Errorf("fuse %s: %w", symbol, err)
	}
	if err := c.decisions.Save(ctx, d); err != nil {
		c.recordError("decision_save")
		return nil, fmt.Errorf("save decision %s: %w", symbol, err)
	}
	if c.metrics != nil {
		c.metrics.RecordDecision(symbol, d.FinalAction, d.Conflict, d.CombinedConfidence)
	}
	c.log.Info("decision",
		logger.String("decision_id", d.ID),
		logger.Symbol(symbol),
		logger.String("final_action", string(d.FinalAction)),
		logger.String("technical_action", string(d.TechnicalAction)),
		logger.Float64("combined_confidence", d.CombinedConfidence),
		logger.Bool("conflict", d.Conflict),
		logger.Int("phase", d.Phase),
	)
	// cross-site input is built from other instances' rows, so it stays local
	for _, sig := range []*models.Signal{in.Technical, in.Sentiment, in.OrderBook, in.MathIntuition} {
		if sig != nil && c.changes != nil {
			c.recordChange(c.mapper.FromSignal(*sig))
		}
	}

	c.execute(ctx, d, last)

	c.publishDecision(ctx, d)
	if c.changes != nil {
		c.recordChange(c.mapper.FromDecision(d))
	}

	if _, err := c.ledger.MarkToMarket(ctx, symbol, last); err != nil {
		c.log.Warn("mark to market failed", logger.Symbol(symbol), logger.Error(err))
	}
	return d, nil
}

// regime feeds closed bars into the Markov model and predicts the next state.
// Failures only disable the regime input for this cycle.
func (c *TradingCycle) regime(ctx context.Context, symbol string, candles []models.Candle) *models.MarkovPrediction {
	added, err := c.markov.Ingest(ctx, symbol, c.closedBars(candles))
	if err != nil {
		c.log.Warn("markov ingest failed", logger.Symbol(symbol), logger.Error(err))
		c.recordError("markov_ingest")
	}
	if added > 0 && c.metrics != nil {
		if conv, err := c.markov.Convergence(ctx, symbol); err == nil {
			c.metrics.RecordMarkovSamples(symbol, conv.SampleSize)
		}
	}
	pred, err := c.markov.Predict(ctx, symbol, candles)
	if err != nil {
		if !errors.Is(err, models.ErrUnavailable) {
			c.log.Warn("markov predict failed", logger.Symbol(symbol), logger.Error(err))
			c.recordError("markov_predict")
		}
		return nil
	}
	return pred
}

// closedBars drops a trailing bucket that is still forming, so its partial
// close never becomes a counted transition.
func (c *TradingCycle) closedBars(candles []models.Candle) []models.Candle {
	n := len(candles)
	if n > 0 && candles[n-1].Bucket.Add(c.opts.Timeframe.Duration()).After(c.now()) {
		return candles[:n-1]
	}
	return candles
}

// gather asks every producer the current phase enables, concurrently. Only
// the technical producer is mandatory; other failures disable the input.
func (c *TradingCycle) gather(ctx context.Context, symbol string, f models.PhaseFeatures) (fusion.Inputs, error) {
	var in fusion.Inputs
	slots := []struct {
		name models.ProducerName
		p    domsvc.SignalProducer
		dst  **models.Signal
	}{
		{models.ProducerTechnical, c.producers.Technical, &in.Technical},
		{models.ProducerSentiment, c.producers.Sentiment, &in.Sentiment},
		{models.ProducerOrderBook, c.producers.OrderBook, &in.OrderBook},
		{models.ProducerMathIntuition, c.producers.MathIntuition, &in.MathIntuition},
		{models.ProducerCrossSite, c.producers.CrossSite, &in.CrossSite},
	}

	var g errgroup.Group
	for _, s := range slots {
		s := s
		if s.p == nil {
			continue
		}
		if s.name != models.ProducerTechnical && !f.Enabled(s.name) {
			continue
		}
		g.Go(func() error {
			sig, err := s.p.Score(ctx, symbol)
			if err == nil {
				err = sig.Validate()
			}
			if err != nil {
				if s.name == models.ProducerTechnical {
					return fmt.Errorf("technical %s: %w", symbol, err)
				}
				if !errors.Is(err, models.ErrUnavailable) {
					c.log.Warn("producer failed", logger.String("producer", string(s.name)), logger.Symbol(symbol), logger.Error(err))
					c.recordError("producer_" + string(s.name))
				}
				return nil
			}
			*s.dst = &sig
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fusion.Inputs{}, err
	}
	if in.Technical == nil {
		return fusion.Inputs{}, fmt.Errorf("technical %s: no producer: %w", symbol, models.ErrUnavailable)
	}
	return in, nil
}

// execute turns an actionable decision into an order and the matching ledger
// transition. A decision against an open position closes it; a decision in
// the direction of an open position is not re-entered.
func (c *TradingCycle) execute(ctx context.Context, d *models.FusedDecision, refPrice float64) {
	side, ok := models.SideFor(d.FinalAction)
	if !ok || c.executor == nil {
		return
	}

	open, err := c.ledger.OpenFor(ctx, d.Symbol, d.StrategyName)
	if err != nil {
		c.markFailed(ctx, d, fmt.Sprintf("ledger lookup: %v", err))
		return
	}
	qty := c.opts.OrderQty
	if open != nil {
		held := models.TradeBuy
		if open.Side == models.SideShort {
			held = models.TradeSell
		}
		if held == side {
			c.markFailed(ctx, d, "position already open")
			return
		}
		qty = open.Quantity
	}

	if c.limiter != nil && !c.limiter.Allow(d.Symbol) {
		c.markFailed(ctx, d, "order rate limited")
		return
	}

	res, err := c.executor.PlaceOrder(ctx, d.Symbol, side, qty, refPrice)
	if err != nil {
		c.recordError("order")
		c.markFailed(ctx, d, err.Error())
		return
	}
	fill := models.Trade{
		Symbol:     d.Symbol,
		Side:       side,
		Quantity:   res.Quantity,
		Price:      res.Price,
		OrderID:    res.OrderID,
		ExecutedAt: res.Timestamp,
	}

	var pos *models.Position
	if open != nil {
		pos, err = c.ledger.ClosePosition(ctx, open.ID, fill)
	} else {
		fill.IsEntry = true
		pos, err = c.ledger.OpenPosition(ctx, d.Symbol, d.StrategyName, fill)
	}
	if err != nil {
		c.log.Error("filled order not recorded",
			logger.String("decision_id", d.ID),
			logger.String("order_id", res.OrderID),
			logger.Error(err))
		c.markFailed(ctx, d, fmt.Sprintf("ledger: %v", err))
		return
	}

	at := c.now().UTC()
	if err := c.decisions.MarkExecution(ctx, d.ID, true, at, ""); err != nil {
		c.log.Warn("mark execution failed", logger.String("decision_id", d.ID), logger.Error(err))
	}
	d.Executed, d.ExecutionTime = true, &at

	if c.publisher != nil {
		if err := c.publisher.PublishPosition(ctx, pos); err != nil {
			c.log.Warn("publish position failed", logger.String("position_id", pos.ID), logger.Error(err))
		}
	}
	if c.changes != nil {
		c.recordChange(c.mapper.FromPosition(pos))
	}
}

// markFailed records why an actionable decision was not executed. The
// ledger is never touched on this path.
func (c *TradingCycle) markFailed(ctx context.Context, d *models.FusedDecision, reason string) {
	at := c.now().UTC()
	if err := c.decisions.MarkExecution(ctx, d.ID, false, at, reason); err != nil {
		c.log.Warn("mark execution failed", logger.String("decision_id", d.ID), logger.Error(err))
	}
	d.Executed, d.ExecutionTime, d.ExecutionError = false, &at, reason
	c.log.Warn("decision not executed",
		logger.String("decision_id", d.ID),
		logger.Symbol(d.Symbol),
		logger.String("reason", reason))
}

func (c *TradingCycle) publishDecision(ctx context.Context, d *models.FusedDecision) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishDecision(ctx, d); err != nil {
		c.log.Warn("publish decision failed", logger.String("decision_id", d.ID), logger.Error(err))
		c.recordError("publish_decision")
	}
}

func (c *TradingCycle) recordChange(rec models.ConsolidatedRecord, err error) {
	if err != nil {
		c.log.Warn("consolidation record skipped", logger.Error(err))
		c.recordError("consolidation_map")
		return
	}
	c.changes.Record(rec)
}

func (c *TradingCycle) recordError(kind string) {
	if c.metrics != nil {
		c.metrics.RecordError(kind)
	}
}
