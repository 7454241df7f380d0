package fusion

import (
	"fmt"
	"math"
	"strings"
	"time"

	"QuantSync/internal/domain/models"

	"github.com/google/uuid"
)

// Config holds every tunable of the fusion step.
type Config struct {
	Weights               map[models.ProducerName]float64
	AgreeThreshold        float64
	ConflictThreshold     float64
	ConflictMinConfidence float64
	ConflictPenalty       float64
	MarkovNeutralReturn   float64
}

func DefaultConfig() Config {
	return Config{
		Weights: map[models.ProducerName]float64{
			models.ProducerSentiment:     0.30,
			models.ProducerMarkov:        0.25,
			models.ProducerOrderBook:     0.20,
			models.ProducerMathIntuition: 0.20,
			models.ProducerCrossSite:     0.10,
		},
		AgreeThreshold:        0.10,
		ConflictThreshold:     0.30,
		ConflictMinConfidence: 0.30,
		ConflictPenalty:       0.05,
		MarkovNeutralReturn:   0.0005,
	}
}

// Inputs are the producer outputs for one cycle. A nil entry means the
// producer had nothing to say and is treated as disabled.
type Inputs struct {
	Technical     *models.Signal
	Sentiment     *models.Signal
	OrderBook     *models.Signal
	MathIntuition *models.Signal
	CrossSite     *models.Signal
}

// Engine combines producer outputs into a FusedDecision. It holds no state
// between calls and is safe for concurrent use.
type Engine struct {
	cfg Config
	now func() time.Time
}

func NewEngine(cfg Config) *Engine {
	if cfg.Weights == nil {
		cfg.Weights = DefaultConfig().Weights
	}
	return &Engine{cfg: cfg, now: time.Now}
}

type contribution struct {
	name   models.ProducerName
	action models.Action
	conf   float64
}

// Fuse produces a decision for strategy. A missing technical signal yields
// models.ErrUnavailable: there is nothing to confirm or veto.
func (e *Engine) Fuse(strategy string, in Inputs, markov *models.MarkovPrediction, phase models.PhaseInfo) (*models.FusedDecision, error) {
	if in.Technical == nil {
		return nil, fmt.Errorf("fuse: technical signal: %w", models.ErrUnavailable)
	}
	tech := *in.Technical
	techConf := clamp01(tech.Confidence)

	d := &models.FusedDecision{
		ID:                  uuid.NewString(),
		Symbol:              tech.Symbol,
		StrategyName:        strategy,
		TechnicalAction:     tech.Action,
		TechnicalConfidence: techConf,
		Phase:               phase.Phase,
		SignalTime:          tech.ObservedAt,
	}
	if d.SignalTime.IsZero() {
		d.SignalTime = e.now().UTC()
	}

	features := phase.Features
	sentiment := enabled(features, models.ProducerSentiment, in.Sentiment)
	if sentiment != nil {
		s, c := sentiment.Score, clamp01(sentiment.Confidence)
		d.SentimentScore, d.SentimentConfidence = &s, &c
	}
	useMarkov := features.Enabled(models.ProducerMarkov) && markov != nil && markov.CurrentState != ""
	if useMarkov {
		c := clamp01(markov.Confidence)
		d.MarkovState = string(markov.CurrentState)
		d.MarkovConfidence = &c
	}

	var reasons []string
	reasons = append(reasons, fmt.Sprintf("phase %d %s", phase.Phase, phase.Name))

	combined := techConf
	if tech.Action == models.ActionHold {
		reasons = append(reasons, "technical HOLD")
		return e.finish(d, combined, models.ActionHold, reasons), nil
	}

	contribs := make([]contribution, 0, 5)
	if sentiment != nil {
		contribs = append(contribs, e.fromSignal(models.ProducerSentiment, sentiment))
	}
	if useMarkov {
		contribs = append(contribs, contribution{
			name:   models.ProducerMarkov,
			action: e.markovAction(markov),
			conf:   clamp01(markov.Confidence),
		})
	}
	for _, p := range []struct {
		name models.ProducerName
		sig  *models.Signal
	}{
		{models.ProducerOrderBook, in.OrderBook},
		{models.ProducerMathIntuition, in.MathIntuition},
		{models.ProducerCrossSite, in.CrossSite},
	} {
		if s := enabled(features, p.name, p.sig); s != nil {
			contribs = append(contribs, e.fromSignal(p.name, s))
		}
	}

	for _, c := range contribs {
		if c.action == models.ActionHold {
			continue
		}
		agree := c.action == tech.Action
		next := AdjustConfidence(combined, c.conf, e.cfg.Weights[c.name], agree)
		verb := "agrees"
		if !agree {
			verb = "disagrees"
		}
		reasons = append(reasons, fmt.Sprintf("%s %s %+.3f", c.name, verb, next-combined))
		combined = next
	}

	// Conflicts are applied last so later agreement cannot lift the ceiling.
	if sentiment != nil {
		opposed := (tech.Action == models.ActionBuy && sentiment.Score <= -e.cfg.ConflictThreshold) ||
			(tech.Action == models.ActionSell && sentiment.Score >= e.cfg.ConflictThreshold)
		sc := clamp01(sentiment.Confidence)
		if opposed && sc >= e.cfg.ConflictMinConfidence {
			combined = math.Min(combined, ConflictCeiling(techConf, sc, e.cfg.ConflictPenalty))
			d.Conflict = true
			reasons = append(reasons, fmt.Sprintf("conflict: sentiment %.2f", sentiment.Score))
		}
	}
	if useMarkov {
		mc := clamp01(markov.Confidence)
		if e.markovAction(markov).Opposes(tech.Action) && mc >= e.cfg.ConflictMinConfidence {
			combined = math.Min(combined, ConflictCeiling(techConf, mc, e.cfg.ConflictPenalty))
			d.Conflict = true
			reasons = append(reasons, fmt.Sprintf("conflict: markov %s", markov.MostLikelyNextState))
		}
	}

	final := tech.Action
	if combined < features.MinConfidence {
		final = models.ActionHold
		reasons = append(reasons, fmt.Sprintf("%.3f below min %.2f", combined, features.MinConfidence))
	}
	return e.finish(d, combined, final, reasons), nil
}

func (e *Engine) finish(d *models.FusedDecision, combined float64, final models.Action, reasons []string) *models.FusedDecision {
	d.CombinedConfidence = clamp01(combined)
	d.FinalAction = final
	d.ConfidenceBoost = d.CombinedConfidence - d.TechnicalConfidence
	d.Reason = strings.Join(reasons, "; ")
	return d
}

func enabled(f models.PhaseFeatures, name models.ProducerName, s *models.Signal) *models.Signal {
	if s == nil || !f.Enabled(name) {
		return nil
	}
	return s
}

func (e *Engine) fromSignal(name models.ProducerName, s *models.Signal) contribution {
	return contribution{name: name, action: e.impliedAction(s.Score), conf: clamp01(s.Confidence)}
}

// impliedAction reads a producer's direction from its score; weak scores are
// neutral and leave confidence untouched.
func (e *Engine) impliedAction(score float64) models.Action {
	switch {
	case score >= e.cfg.AgreeThreshold:
		return models.ActionBuy
	case score <= -e.cfg.AgreeThreshold:
		return models.ActionSell
	}
	return models.ActionHold
}

func (e *Engine) markovAction(p *models.MarkovPrediction) models.Action {
	switch {
	case p.ExpectedReturn >= e.cfg.MarkovNeutralReturn && p.ExpectedReturn > 0:
		return models.ActionBuy
	case p.ExpectedReturn <= -e.cfg.MarkovNeutralReturn && p.ExpectedReturn < 0:
		return models.ActionSell
	}
	return models.ActionHold
}
