package fusion

import "math"

// Confidence arithmetic. Every function here returns a value in [0,1] for
// inputs in [0,1].

// AdjustConfidence moves base toward 1 when a producer agrees and toward 0
// when it disagrees. The step is weight*producerConf of the remaining
// headroom (agreement) or of base itself (disagreement), so the result can
// never leave [0,1] and a producer can move confidence by at most its own
// weighted confidence.
func AdjustConfidence(base, producerConf, weight float64, agree bool) float64 {
	base = clamp01(base)
	step := clamp01(weight) * clamp01(producerConf)
	if agree {
		return clamp01(base + step*(1-base))
	}
	return clamp01(base - step*base)
}

// ConflictCeiling is the highest combined confidence allowed when two
// confident sources disagree: the plain average of their confidences reduced
// by penalty, and never more than the technical confidence itself.
func ConflictCeiling(techConf, opposingConf, penalty float64) float64 {
	techConf = clamp01(techConf)
	avg := (techConf + clamp01(opposingConf)) / 2
	return math.Min(clamp01(avg*(1-clamp01(penalty))), techConf)
}

func clamp01(v float64) float64 {
	if v != v || v < 0 { // NaN counts as no confidence
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
