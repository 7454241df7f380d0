package models

// PhaseFeatures is the static feature set of a phase.
type PhaseFeatures struct {
	Producers     []ProducerName `json:"producers"`
	MinConfidence float64        `json:"min_confidence"`
}

// Enabled reports whether p is consulted in this phase.
func (f PhaseFeatures) Enabled(p ProducerName) bool {
	for _, e := range f.Producers {
		if e == p {
			return true
		}
	}
	return false
}

// PhaseInfo is the Phase Controller's answer for a trade count.
type PhaseInfo struct {
	Phase        int           `json:"phase"`
	Name         string        `json:"name"`
	TradeCount   int           `json:"trade_count"`
	TradesNeeded int           `json:"trades_needed"`
	Progress     float64       `json:"progress"`
	Features     PhaseFeatures `json:"features"`
}
