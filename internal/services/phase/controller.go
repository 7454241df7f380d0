package phase

import (
	"sync/atomic"

	"QuantSync/internal/domain/models"
)

// Breakpoints are the entry-trade counts at which phases 1..4 begin.
var Breakpoints = [4]int{100, 500, 1000, 2000}

var names = [5]string{
	"data-collection",
	"sentiment",
	"regime",
	"order-book",
	"full-intelligence",
}

// DefaultFeatures is the static producer/confidence table per phase.
var DefaultFeatures = [5]models.PhaseFeatures{
	{Producers: []models.ProducerName{models.ProducerTechnical}, MinConfidence: 0.10},
	{Producers: []models.ProducerName{models.ProducerTechnical, models.ProducerSentiment}, MinConfidence: 0.20},
	{Producers: []models.ProducerName{models.ProducerTechnical, models.ProducerSentiment, models.ProducerMarkov}, MinConfidence: 0.30},
	{Producers: []models.ProducerName{models.ProducerTechnical, models.ProducerSentiment, models.ProducerMarkov, models.ProducerOrderBook}, MinConfidence: 0.40},
	{Producers: []models.ProducerName{models.ProducerTechnical, models.ProducerSentiment, models.ProducerMarkov, models.ProducerOrderBook, models.ProducerMathIntuition, models.ProducerCrossSite}, MinConfidence: 0.50},
}

// Controller maps cumulative entry trades to an operating phase.
type Controller struct {
	features [5]models.PhaseFeatures
}

// NewController builds a controller. minConfidence optionally overrides the
// execution floor of individual phases.
func NewController(minConfidence map[int]float64) *Controller {
	c := &Controller{features: DefaultFeatures}
	for p, v := range minConfidence {
		if p < 0 || p >= len(c.features) {
			continue
		}
		f := c.features[p]
		f.MinConfidence = v
		c.features[p] = f
	}
	return c
}

// CurrentPhase returns the phase for count. Negative counts are read as 0.
func (c *Controller) CurrentPhase(count int) models.PhaseInfo {
	if count < 0 {
		count = 0
	}
	p := 0
	for p < len(Breakpoints) && count >= Breakpoints[p] {
		p++
	}

	info := models.PhaseInfo{
		Phase:      p,
		Name:       names[p],
		TradeCount: count,
		Features:   c.features[p],
	}
	if p == len(Breakpoints) {
		info.Progress = 100
		return info
	}

	start := 0
	if p > 0 {
		start = Breakpoints[p-1]
	}
	end := Breakpoints[p]
	info.TradesNeeded = end - count
	info.Progress = clamp(float64(count-start)/float64(end-start)*100, 0, 100)
	return info
}

// Features returns the feature set of phase p.
func (c *Controller) Features(p int) models.PhaseFeatures {
	if p < 0 {
		p = 0
	}
	if p >= len(c.features) {
		p = len(c.features) - 1
	}
	return c.features[p]
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

// Tracker holds the deployment's cumulative entry-trade count. It only grows,
// which keeps the phase monotonic.
type Tracker struct {
	count atomic.Int64
	ctrl  *Controller
}

func NewTracker(ctrl *Controller) *Tracker {
	return &Tracker{ctrl: ctrl}
}

// Add records n more entry trades. Negative n is ignored.
func (t *Tracker) Add(n int) int {
	if n <= 0 {
		return t.Count()
	}
	return int(t.count.Add(int64(n)))
}

// Observe raises the counter to total if total is larger, used when seeding
// from persisted state.
func (t *Tracker) Observe(total int) {
	for {
		cur := t.count.Load()
		if int64(total) <= cur {
			return
		}
		if t.count.CompareAndSwap(cur, int64(total)) {
			return
		}
	}
}

func (t *Tracker) Count() int { return int(t.count.Load()) }

// Current returns the phase for the tracked count.
func (t *Tracker) Current() models.PhaseInfo {
	return t.ctrl.CurrentPhase(t.Count())
}
