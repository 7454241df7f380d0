package models

import "time"

// FusedDecision is the outcome of one fusion cycle for a symbol. Only the
// execution fields change after creation.
type FusedDecision struct {
	ID                  string     `json:"id"`
	Symbol              string     `json:"symbol"`
	StrategyName        string     `json:"strategy_name"`
	TechnicalAction     Action     `json:"technical_action"`
	TechnicalConfidence float64    `json:"technical_confidence"`
	SentimentScore      *float64   `json:"sentiment_score,omitempty"`
	SentimentConfidence *float64   `json:"sentiment_confidence,omitempty"`
	MarkovState         string     `json:"markov_state,omitempty"`
	MarkovConfidence    *float64   `json:"markov_confidence,omitempty"`
	CombinedConfidence  float64    `json:"combined_confidence"`
	FinalAction         Action     `json:"final_action"`
	Conflict            bool       `json:"conflict"`
	ConfidenceBoost     float64    `json:"confidence_boost"`
	Reason              string     `json:"reason"`
	Phase               int        `json:"phase"`
	SignalTime          time.Time  `json:"signal_time"`
	Executed            bool       `json:"executed"`
	ExecutionTime       *time.Time `json:"execution_time,omitempty"`
	ExecutionError      string     `json:"execution_error,omitempty"`
}

// DecisionFilter narrows decision listings.
type DecisionFilter struct {
	Symbol string
	Since  time.Time
	Limit  int
}
