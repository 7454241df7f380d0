package markov

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"QuantSync/internal/domain/models"
	"QuantSync/internal/domain/repository"
	"QuantSync/pkg/logger"
)

// Config bundles classification and reliability settings.
type Config struct {
	Thresholds
	// ConfidenceHalfLife is the row sample size at which confidence reaches
	// half of the dominant transition probability.
	ConfidenceHalfLife   float64
	LowReliabilityCap    float64
	RecommendedMinTrades int
}

func DefaultConfig() Config {
	return Config{
		Thresholds:           DefaultThresholds(),
		ConfidenceHalfLife:   20,
		LowReliabilityCap:    0.5,
		RecommendedMinTrades: 1000,
	}
}

// maxConfidence keeps room for irreducible uncertainty.
const maxConfidence = 0.99

// model is the per-symbol state. Everything in it is guarded by mu.
type model struct {
	mu      sync.Mutex
	matrix  Matrix
	lastBar time.Time
	loaded  bool
}

// Registry owns one model per symbol. There is no cross-symbol lock: the
// registry mutex only guards the map itself.
type Registry struct {
	cfg    Config
	store  repository.MarkovStore
	log    *logger.Logger
	mu     sync.RWMutex
	models map[string]*model
}

// NewRegistry builds a registry. store may be nil, in which case counts live
// only in memory.
func NewRegistry(cfg Config, store repository.MarkovStore, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{cfg: cfg, store: store, log: log, models: make(map[string]*model)}
}

func (r *Registry) get(symbol string) *model {
	r.mu.RLock()
	m, ok := r.models[symbol]
	r.mu.RUnlock()
	if ok {
		return m
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok = r.models[symbol]; !ok {
		m = &model{}
		r.models[symbol] = m
	}
	return m
}

// acquire returns the locked model for symbol, hydrated from the store on
// first use. The caller must unlock m.mu.
func (r *Registry) acquire(ctx context.Context, symbol string) (*model, error) {
	m := r.get(symbol)
	m.mu.Lock()
	if m.loaded || r.store == nil {
		m.loaded = true
		return m, nil
	}
	snap, err := r.store.Load(ctx, symbol)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("load markov counts %s: %w", symbol, err)
	}
	for _, c := range snap.Cells {
		m.matrix.load(c.From, c.To, c.Count, c.ReturnSum)
	}
	if snap.LastBar.After(m.lastBar) {
		m.lastBar = snap.LastBar
	}
	m.loaded = true
	r.log.Debug("markov model hydrated", logger.Symbol(symbol), logger.Int("cells", len(snap.Cells)))
	return m, nil
}

// Observe records one transition. The store is written first so memory never
// runs ahead of persisted counts.
func (r *Registry) Observe(ctx context.Context, symbol string, from, to models.RegimeState, realizedReturn float64) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("observe %s: invalid transition %q -> %q", symbol, from, to)
	}
	m, err := r.acquire(ctx, symbol)
	if err != nil {
		return err
	}
	defer m.mu.Unlock()
	return r.observeLocked(ctx, m, symbol, from, to, realizedReturn, time.Time{})
}

func (r *Registry) observeLocked(ctx context.Context, m *model, symbol string, from, to models.RegimeState, ret float64, bar time.Time) error {
	if r.store != nil {
		if err := r.store.Increment(ctx, symbol, from, to, ret, bar); err != nil {
			return fmt.Errorf("persist transition %s: %w", symbol, err)
		}
	}
	m.matrix.Observe(from, to, ret)
	if bar.After(m.lastBar) {
		m.lastBar = bar
	}
	return nil
}

// Ingest classifies every completed window in candles and observes the
// transitions for bars newer than the last bar already consumed. Re-delivered
// history is therefore counted once. It returns the number of transitions added.
func (r *Registry) Ingest(ctx context.Context, symbol string, candles []models.Candle) (int, error) {
	w := r.cfg.Window
	if len(candles) < w+1 {
		return 0, nil
	}
	m, err := r.acquire(ctx, symbol)
	if err != nil {
		return 0, err
	}
	defer m.mu.Unlock()

	added := 0
	prev := Classify(candles[0:w], r.cfg.Thresholds)
	for i := w; i < len(candles); i++ {
		cur := Classify(candles[i-w+1:i+1], r.cfg.Thresholds)
		bar := candles[i]
		if bar.Bucket.After(m.lastBar) {
			ret := 0.0
			if p := candles[i-1].Close; p > 0 {
				ret = bar.Close/p - 1
			}
			if err := r.observeLocked(ctx, m, symbol, prev, cur, ret, bar.Bucket); err != nil {
				return added, err
			}
			added++
		}
		prev = cur
	}
	return added, nil
}

// Predict classifies the latest window and reads the next-state distribution.
func (r *Registry) Predict(ctx context.Context, symbol string, candles []models.Candle) (*models.MarkovPrediction, error) {
	w := r.cfg.Window
	if len(candles) < w {
		return nil, fmt.Errorf("predict %s: %d bars, need %d: %w", symbol, len(candles), w, models.ErrUnavailable)
	}
	current := Classify(candles[len(candles)-w:], r.cfg.Thresholds)

	m, err := r.acquire(ctx, symbol)
	if err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return r.predictLocked(m, symbol, current), nil
}

func (r *Registry) predictLocked(m *model, symbol string, current models.RegimeState) *models.MarkovPrediction {
	row := m.matrix.Row(current)
	n := m.matrix.RowTotal(current)
	total := m.matrix.Total()

	p := &models.MarkovPrediction{
		Symbol:              symbol,
		CurrentState:        current,
		MostLikelyNextState: current,
		Distribution:        Ranked(row),
		SampleSize:          n,
		TotalSamples:        total,
		Converged:           total >= r.cfg.RecommendedMinTrades,
	}
	if n > 0 {
		best := p.Distribution[0]
		p.MostLikelyNextState = best.State
		for j, prob := range row {
			p.ExpectedReturn += prob * m.matrix.MeanReturn(current, models.RegimeStates[j])
		}
		p.Confidence = r.confidence(best.Probability, n)
	}
	if !p.Converged {
		p.LowReliability = true
		p.Confidence = math.Min(p.Confidence, r.cfg.LowReliabilityCap)
	}
	return p
}

// confidence grows with the row sample size and saturates below 1.
func (r *Registry) confidence(pMax float64, n int) float64 {
	k := r.cfg.ConfidenceHalfLife
	if k <= 0 {
		k = 1
	}
	c := pMax * float64(n) / (float64(n) + k)
	return math.Min(c, maxConfidence)
}

// EvaluateChains samples n independent paths of length steps from current
// and returns the ranked distribution of end states. The same seed always
// yields the same result for the same counts.
func (r *Registry) EvaluateChains(ctx context.Context, symbol string, current models.RegimeState, n, steps int, seed int64) ([]models.StateProbability, error) {
	if !current.Valid() {
		return nil, fmt.Errorf("evaluate chains %s: invalid state %q", symbol, current)
	}
	if n <= 0 {
		return nil, fmt.Errorf("evaluate chains %s: n must be positive", symbol)
	}
	if steps <= 0 {
		steps = 1
	}

	m, err := r.acquire(ctx, symbol)
	if err != nil {
		return nil, err
	}
	rows := make([][]float64, numStates)
	for i, s := range models.RegimeStates {
		rows[i] = m.matrix.Row(s)
	}
	m.mu.Unlock()

	rng := rand.New(rand.NewSource(seed))
	hits := make([]float64, numStates)
	for c := 0; c < n; c++ {
		if c%1024 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s := current.Index()
		for k := 0; k < steps; k++ {
			s = sample(rows[s], rng, s)
		}
		hits[s]++
	}
	for i := range hits {
		hits[i] /= float64(n)
	}
	return Ranked(hits), nil
}

// sample draws a next state from row; an empty row stays in place.
func sample(row []float64, rng *rand.Rand, stay int) int {
	u := rng.Float64()
	acc := 0.0
	for j, p := range row {
		if p == 0 {
			continue
		}
		acc += p
		if u < acc {
			return j
		}
	}
	for j := len(row) - 1; j >= 0; j-- {
		if row[j] > 0 {
			return j
		}
	}
	return stay
}

// Convergence derives law-of-large-numbers metrics from current counts.
func (r *Registry) Convergence(ctx context.Context, symbol string) (*models.ConvergenceMetrics, error) {
	m, err := r.acquire(ctx, symbol)
	if err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	k := r.cfg.ConfidenceHalfLife
	if k <= 0 {
		k = 1
	}
	out := &models.ConvergenceMetrics{
		Symbol:               symbol,
		RecommendedMinTrades: r.cfg.RecommendedMinTrades,
		ConvergenceStatus:    models.Converging,
	}
	weighted := 0.0
	for _, s := range models.RegimeStates {
		n := m.matrix.RowTotal(s)
		rel := float64(n) / (float64(n) + k)
		out.PerState = append(out.PerState, models.StateConvergence{State: s, SampleSize: n, Reliability: rel})
		out.SampleSize += n
		weighted += float64(n) * rel
	}
	if out.SampleSize > 0 {
		out.OverallReliability = weighted / float64(out.SampleSize)
	}
	if out.SampleSize >= r.cfg.RecommendedMinTrades {
		out.ConvergenceStatus = models.Converged
	}
	return out, nil
}

// Symbols lists the symbols with a model in memory.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.models))
	for s := range r.models {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
