package markov

import (
	"QuantSync/internal/domain/models"
	"QuantSync/internal/services/features"
)

// Thresholds bucket a window of bars into a regime.
type Thresholds struct {
	Window         int
	Trend          float64 // window return that counts as a trend
	StrongTrend    float64 // window return that counts as a strong trend
	HighVolatility float64 // per-bar stddev of log returns that counts as volatile
}

func DefaultThresholds() Thresholds {
	return Thresholds{Window: 10, Trend: 0.005, StrongTrend: 0.02, HighVolatility: 0.01}
}

// Classify maps a window of ascending candles to a regime. Direction wins
// over volatility: only trendless windows are split by volatility.
func Classify(window []models.Candle, th Thresholds) models.RegimeState {
	r := features.WindowReturn(window)
	switch {
	case r >= th.StrongTrend:
		return models.StateTrendingUpStrong
	case r >= th.Trend:
		return models.StateTrendingUp
	case r <= -th.StrongTrend:
		return models.StateTrendingDownStrong
	case r <= -th.Trend:
		return models.StateTrendingDown
	}
	if features.StdDev(features.ComputeLogReturns(window)) >= th.HighVolatility {
		return models.StateSidewaysHighVol
	}
	return models.StateSidewaysLowVol
}
