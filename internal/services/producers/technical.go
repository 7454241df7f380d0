package producers

import (
	"context"
	"fmt"
	"math"

	"QuantSync/internal/domain/models"
	domrepo "QuantSync/internal/domain/repository"
	"QuantSync/internal/services/features"

	"github.com/google/uuid"
	"github.com/markcheno/go-talib"
)

// TechnicalParams holds indicator periods and component weights.
type TechnicalParams struct {
	Bars       int
	Timeframe  domrepo.Timeframe
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	BBPeriod   int
	BBDev      float64

	RSIWeight  float64
	MACDWeight float64
	BBWeight   float64
}

func DefaultTechnicalParams() TechnicalParams {
	return TechnicalParams{
		Bars:       100,
		Timeframe:  domrepo.TF1m,
		RSIPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		BBPeriod:   20,
		BBDev:      2.0,
		RSIWeight:  0.40,
		MACDWeight: 0.35,
		BBWeight:   0.25,
	}
}

// TechnicalScorer derives the technical signal from recent candles. It is the
// only producer a decision cannot be made without.
type TechnicalScorer struct {
	data      domrepo.MarketData
	params    TechnicalParams
	threshold float64
}

func NewTechnicalScorer(data domrepo.MarketData, params TechnicalParams, agreeThreshold float64) *TechnicalScorer {
	return &TechnicalScorer{data: data, params: params, threshold: agreeThreshold}
}

func (t *TechnicalScorer) Name() models.ProducerName { return models.ProducerTechnical }

func (t *TechnicalScorer) Score(ctx context.Context, symbol string) (models.Signal, error) {
	candles, err := t.data.GetLatestNCandles(ctx, symbol, t.params.Bars, t.params.Timeframe)
	if err != nil {
		return models.Signal{}, fmt.Errorf("technical candles %s: %w", symbol, err)
	}
	sig, err := t.ScoreCandles(symbol, candles)
	if err != nil {
		return models.Signal{}, err
	}
	return sig, nil
}

// MinBars is the shortest history all indicators can be computed on.
func (t *TechnicalScorer) MinBars() int {
	n := t.params.MACDSlow + t.params.MACDSignal
	if t.params.BBPeriod > n {
		n = t.params.BBPeriod
	}
	if t.params.RSIPeriod+1 > n {
		n = t.params.RSIPeriod + 1
	}
	return n
}

// ScoreCandles scores an ascending candle series.
func (t *TechnicalScorer) ScoreCandles(symbol string, candles []models.Candle) (models.Signal, error) {
	if len(candles) < t.MinBars() {
		return models.Signal{}, fmt.Errorf("technical %s: %d candles, need %d: %w",
			symbol, len(candles), t.MinBars(), models.ErrUnavailable)
	}
	closes := features.Closes(candles)

	components := []float64{
		t.rsiComponent(closes),
		t.macdComponent(closes),
		t.bbComponent(closes),
	}
	weights := []float64{t.params.RSIWeight, t.params.MACDWeight, t.params.BBWeight}

	var score, wsum float64
	for i, c := range components {
		score += c * weights[i]
		wsum += weights[i]
	}
	if wsum > 0 {
		score /= wsum
	}
	score = clamp(score, -1, 1)

	return models.Signal{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Producer:   models.ProducerTechnical,
		Action:     ActionForScore(score, t.threshold),
		Score:      score,
		Confidence: agreementConfidence(score, components),
		ObservedAt: candles[len(candles)-1].Bucket.UTC(),
	}, nil
}

// rsiComponent: oversold (<30) is bullish, overbought (>70) bearish.
func (t *TechnicalScorer) rsiComponent(closes []float64) float64 {
	// talib reports 0 when there are neither gains nor losses
	if flat(closes[len(closes)-t.params.RSIPeriod-1:]) {
		return 0
	}
	rsi := talib.Rsi(closes, t.params.RSIPeriod)
	last := rsi[len(rsi)-1]
	switch {
	case last < 30:
		return 0.6 + 0.4*(30-last)/30
	case last > 70:
		return -0.6 - 0.4*(last-70)/30
	default:
		return (50 - last) / 20 * 0.6
	}
}

// macdComponent normalizes the last histogram bar by the largest one in range.
func (t *TechnicalScorer) macdComponent(closes []float64) float64 {
	_, _, hist := talib.Macd(closes, t.params.MACDFast, t.params.MACDSlow, t.params.MACDSignal)
	var maxHist float64
	for _, h := range hist {
		if math.Abs(h) > maxHist {
			maxHist = math.Abs(h)
		}
	}
	if maxHist == 0 {
		return 0
	}
	return clamp(hist[len(hist)-1]/maxHist, -1, 1)
}

// bbComponent: closes under the lower band are bullish, over the upper band bearish.
func (t *TechnicalScorer) bbComponent(closes []float64) float64 {
	upper, _, lower := talib.BBands(closes, t.params.BBPeriod, t.params.BBDev, t.params.BBDev, 0)
	u, l := upper[len(upper)-1], lower[len(lower)-1]
	if u <= l {
		return 0
	}
	percentB := (closes[len(closes)-1] - l) / (u - l)
	return clamp(1-2*percentB, -1, 1)
}

// agreementConfidence blends the score magnitude with the share of indicators
// pointing the same way as the composite.
func agreementConfidence(score float64, components []float64) float64 {
	if score == 0 || len(components) == 0 {
		return 0
	}
	agree := 0
	for _, c := range components {
		if c*score > 0 {
			agree++
		}
	}
	share := float64(agree) / float64(len(components))
	return clamp(0.5*math.Abs(score)+0.5*share, 0, 1)
}

func flat(closes []float64) bool {
	for _, c := range closes[1:] {
		if c != closes[0] {
			return false
		}
	}
	return true
}
