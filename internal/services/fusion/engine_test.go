package fusion

import (
	"errors"
	"math/rand"
	"testing"

	"QuantSync/internal/domain/models"
	"QuantSync/internal/services/phase"
)

func sig(p models.ProducerName, a models.Action, score, conf float64) *models.Signal {
	return &models.Signal{Symbol: "BTCUSDT", Producer: p, Action: a, Score: score, Confidence: conf}
}

func phaseAt(n int) models.PhaseInfo { return phase.NewController(nil).CurrentPhase(n) }

func TestFusePhaseZeroPassThrough(t *testing.T) {
	e := NewEngine(DefaultConfig())
	d, err := e.Fuse("s", Inputs{
		Technical: sig(models.ProducerTechnical, models.ActionBuy, 0.6, 0.7),
		Sentiment: sig(models.ProducerSentiment, models.ActionSell, -0.9, 0.9),
	}, &models.MarkovPrediction{CurrentState: models.StateTrendingDown, ExpectedReturn: -0.01, Confidence: 0.9}, phaseAt(0))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if d.Conflict || d.CombinedConfidence != 0.7 || d.FinalAction != models.ActionBuy || d.ConfidenceBoost != 0 {
		t.Fatalf("phase 0 must pass technical through, got %+v", d)
	}
	if d.SentimentScore != nil || d.MarkovConfidence != nil {
		t.Fatalf("disabled producers must be absent from the decision")
	}
}

func TestFuseSentimentConflict(t *testing.T) {
	e := NewEngine(DefaultConfig())
	d, err := e.Fuse("s", Inputs{
		Technical: sig(models.ProducerTechnical, models.ActionBuy, 0.6, 0.8),
		Sentiment: sig(models.ProducerSentiment, models.ActionSell, -0.5, 0.5),
	}, nil, phaseAt(150))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !d.Conflict {
		t.Fatalf("expected conflict")
	}
	if avg := (0.8 + 0.5) / 2; d.CombinedConfidence > avg {
		t.Fatalf("combined %v must not exceed average %v", d.CombinedConfidence, avg)
	}
	if d.ConfidenceBoost >= 0 {
		t.Fatalf("conflict must not raise confidence, boost=%v", d.ConfidenceBoost)
	}
}

func TestFuseAgreementRaisesConfidence(t *testing.T) {
	e := NewEngine(DefaultConfig())
	d, _ := e.Fuse("s", Inputs{
		Technical: sig(models.ProducerTechnical, models.ActionSell, -0.5, 0.4),
		Sentiment: sig(models.ProducerSentiment, models.ActionSell, -0.6, 0.8),
	}, nil, phaseAt(150))
	if d.Conflict || d.CombinedConfidence <= 0.4 || d.FinalAction != models.ActionSell {
		t.Fatalf("expected boosted SELL, got %+v", d)
	}
	want := 0.4 + 0.3*0.8*0.6
	if diff := d.CombinedConfidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected %v, got %v", want, d.CombinedConfidence)
	}
}

func TestFuseMarkovConflictAndGating(t *testing.T) {
	e := NewEngine(DefaultConfig())
	d, _ := e.Fuse("s", Inputs{
		Technical: sig(models.ProducerTechnical, models.ActionBuy, 0.3, 0.32),
	}, &models.MarkovPrediction{
		CurrentState: models.StateTrendingDown, MostLikelyNextState: models.StateTrendingDownStrong,
		ExpectedReturn: -0.01, Confidence: 0.5,
	}, phaseAt(600))
	if !d.Conflict {
		t.Fatalf("expected markov conflict")
	}
	if d.FinalAction != models.ActionHold {
		t.Fatalf("expected HOLD under phase 2 floor, got %s (conf %v)", d.FinalAction, d.CombinedConfidence)
	}
	if d.MarkovState != string(models.StateTrendingDown) {
		t.Fatalf("markov state not recorded: %q", d.MarkovState)
	}
}

func TestFuseTechnicalHold(t *testing.T) {
	e := NewEngine(DefaultConfig())
	d, _ := e.Fuse("s", Inputs{
		Technical: sig(models.ProducerTechnical, models.ActionHold, 0, 0.9),
		Sentiment: sig(models.ProducerSentiment, models.ActionSell, -1, 1),
	}, nil, phaseAt(2000))
	if d.Conflict || d.FinalAction != models.ActionHold {
		t.Fatalf("HOLD cannot conflict, got %+v", d)
	}
}

func TestFuseMissingTechnical(t *testing.T) {
	_, err := NewEngine(DefaultConfig()).Fuse("s", Inputs{}, nil, phaseAt(0))
	if !errors.Is(err, models.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestFuseBoundsRandomized(t *testing.T) {
	e := NewEngine(DefaultConfig())
	rng := rand.New(rand.NewSource(7))
	actions := []models.Action{models.ActionBuy, models.ActionSell, models.ActionHold}
	rs := func() float64 { return rng.Float64()*2 - 1 }
	for i := 0; i < 5000; i++ {
		in := Inputs{Technical: sig(models.ProducerTechnical, actions[rng.Intn(3)], rs(), rng.Float64())}
		if rng.Intn(2) == 0 {
			in.Sentiment = sig(models.ProducerSentiment, models.ActionHold, rs(), rng.Float64())
		}
		if rng.Intn(2) == 0 {
			in.OrderBook = sig(models.ProducerOrderBook, models.ActionHold, rs(), rng.Float64())
		}
		if rng.Intn(2) == 0 {
			in.MathIntuition = sig(models.ProducerMathIntuition, models.ActionHold, rs(), rng.Float64())
		}
		if rng.Intn(2) == 0 {
			in.CrossSite = sig(models.ProducerCrossSite, models.ActionHold, rs(), rng.Float64())
		}
		var mp *models.MarkovPrediction
		if rng.Intn(2) == 0 {
			mp = &models.MarkovPrediction{CurrentState: models.StateSidewaysLowVol, ExpectedReturn: rs() / 50, Confidence: rng.Float64() * 0.99}
		}
		d, err := e.Fuse("s", in, mp, phaseAt(rng.Intn(3000)))
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if d.CombinedConfidence < 0 || d.CombinedConfidence > 1 {
			t.Fatalf("combined confidence %v out of bounds", d.CombinedConfidence)
		}
		if d.Conflict && d.ConfidenceBoost > 0 {
			t.Fatalf("conflict raised confidence: %+v", d)
		}
		if d.Conflict && in.Sentiment != nil && in.Sentiment.Confidence >= 0.5 && in.Sentiment.Score <= -0.5 &&
			in.Technical.Action == models.ActionBuy {
			if avg := (in.Technical.Confidence + in.Sentiment.Confidence) / 2; d.CombinedConfidence > avg {
				t.Fatalf("combined %v above average %v", d.CombinedConfidence, avg)
			}
		}
	}
}

func TestAdjustConfidenceBounds(t *testing.T) {
	for _, base := range []float64{0, 0.2, 1} {
		for _, pc := range []float64{0, 0.5, 1} {
			for _, w := range []float64{0, 0.5, 1, 3} {
				up := AdjustConfidence(base, pc, w, true)
				down := AdjustConfidence(base, pc, w, false)
				if up < base || up > 1 || down > base || down < 0 {
					t.Fatalf("base=%v pc=%v w=%v: up=%v down=%v", base, pc, w, up, down)
				}
			}
		}
	}
}
