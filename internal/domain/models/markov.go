package models

// RegimeState is one element of the fixed regime alphabet.
type RegimeState string

const (
	StateTrendingUpStrong   RegimeState = "TRENDING_UP_STRONG"
	StateTrendingUp         RegimeState = "TRENDING_UP"
	StateSidewaysLowVol     RegimeState = "SIDEWAYS_LOW_VOL"
	StateSidewaysHighVol    RegimeState = "SIDEWAYS_HIGH_VOL"
	StateTrendingDown       RegimeState = "TRENDING_DOWN"
	StateTrendingDownStrong RegimeState = "TRENDING_DOWN_STRONG"
)

// RegimeStates lists the alphabet in canonical order; the order breaks ties.
var RegimeStates = []RegimeState{
	StateTrendingUpStrong,
	StateTrendingUp,
	StateSidewaysLowVol,
	StateSidewaysHighVol,
	StateTrendingDown,
	StateTrendingDownStrong,
}

// Index returns the canonical position of s, or -1.
func (s RegimeState) Index() int {
	for i, st := range RegimeStates {
		if st == s {
			return i
		}
	}
	return -1
}

func (s RegimeState) Valid() bool { return s.Index() >= 0 }

type StateProbability struct {
	State       RegimeState `json:"state"`
	Probability float64     `json:"probability"`
}

// MarkovPrediction is the predictor's view of the next regime.
type MarkovPrediction struct {
	Symbol              string             `json:"symbol"`
	CurrentState        RegimeState        `json:"current_state"`
	MostLikelyNextState RegimeState        `json:"most_likely_next_state"`
	Distribution        []StateProbability `json:"distribution"`
	ExpectedReturn      float64            `json:"expected_return"`
	Confidence          float64            `json:"confidence"`
	// SampleSize counts transitions observed out of CurrentState and scales
	// Confidence.
	SampleSize int `json:"sample_size"`
	// TotalSamples counts transitions across all states. LowReliability and
	// Converged are gated on it, not on SampleSize.
	TotalSamples int `json:"total_samples"`
	// LowReliability is set while TotalSamples is below the convergence
	// threshold; Confidence is capped in that case.
	LowReliability bool `json:"low_reliability"`
	Converged      bool `json:"converged"`
}

type ConvergenceStatus string

const (
	Converging ConvergenceStatus = "CONVERGING"
	Converged  ConvergenceStatus = "CONVERGED"
)

type StateConvergence struct {
	State       RegimeState `json:"state"`
	SampleSize  int         `json:"sample_size"`
	Reliability float64     `json:"reliability"`
}

// ConvergenceMetrics is derived on demand from transition counts.
type ConvergenceMetrics struct {
	Symbol               string             `json:"symbol"`
	SampleSize           int                `json:"sample_size"`
	OverallReliability   float64            `json:"overall_reliability"`
	ConvergenceStatus    ConvergenceStatus  `json:"convergence_status"`
	RecommendedMinTrades int                `json:"recommended_min_trades"`
	PerState             []StateConvergence `json:"per_state"`
}
