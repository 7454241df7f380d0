package models

import (
	"fmt"
	"time"
)

// Action is the trading intent carried by a signal or decision.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Opposes reports whether a and b point in opposite directions. HOLD opposes nothing.
func (a Action) Opposes(b Action) bool {
	return (a == ActionBuy && b == ActionSell) || (a == ActionSell && b == ActionBuy)
}

func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell || a == ActionHold
}

// ProducerName identifies a signal source.
type ProducerName string

const (
	ProducerTechnical     ProducerName = "technical"
	ProducerSentiment     ProducerName = "sentiment"
	ProducerMarkov        ProducerName = "markov"
	ProducerOrderBook     ProducerName = "order_book"
	ProducerMathIntuition ProducerName = "math_intuition"
	ProducerCrossSite     ProducerName = "cross_site"
)

// Signal is one producer's opinion about a symbol. Score is in [-1,1] where
// positive means bullish; Confidence is in [0,1]. Signals are never mutated.
type Signal struct {
	ID         string       `json:"id"`
	Symbol     string       `json:"symbol"`
	Producer   ProducerName `json:"producer"`
	Action     Action       `json:"action"`
	Score      float64      `json:"score"`
	Confidence float64      `json:"confidence"`
	ObservedAt time.Time    `json:"observed_at"`
}

// Validate checks the value ranges of a signal.
func (s Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal: empty symbol")
	}
	if !s.Action.Valid() {
		return fmt.Errorf("signal %s: invalid action %q", s.Producer, s.Action)
	}
	if s.Score < -1 || s.Score > 1 {
		return fmt.Errorf("signal %s: score %v out of [-1,1]", s.Producer, s.Score)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal %s: confidence %v out of [0,1]", s.Producer, s.Confidence)
	}
	return nil
}

// Candle represents an OHLCV bar used for indicator and regime computation.
type Candle struct {
	Bucket time.Time `json:"t"`
	Symbol string    `json:"symbol"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}
