package models

import (
	"encoding/json"
	"time"
)

type InstanceStatus string

const (
	InstanceActive  InstanceStatus = "active"
	InstanceStopped InstanceStatus = "stopped"
)

// Instance is one deployment taking part in consolidation.
type Instance struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Status        InstanceStatus `json:"status"`
	LastSync      *time.Time     `json:"last_sync,omitempty"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
}

type RecordKind string

const (
	KindSignal    RecordKind = "signal"
	KindSentiment RecordKind = "sentiment"
	KindDecision  RecordKind = "decision"
	KindPosition  RecordKind = "position"
)

func (k RecordKind) Valid() bool {
	switch k {
	case KindSignal, KindSentiment, KindDecision, KindPosition:
		return true
	}
	return false
}

// ConsolidatedRecord is a local record as seen by the shared analytics store.
// (InstanceID, OriginalID, Kind) is its identity. Nil pointer fields mean
// "not provided" and never overwrite a stored value.
type ConsolidatedRecord struct {
	InstanceID   string          `json:"instance_id"`
	OriginalID   string          `json:"original_id"`
	Kind         RecordKind      `json:"kind"`
	Symbol       string          `json:"symbol"`
	Action       *string         `json:"action,omitempty"`
	Score        *float64        `json:"score,omitempty"`
	Confidence   *float64        `json:"confidence,omitempty"`
	Completeness *float64        `json:"completeness,omitempty"`
	Status       *string         `json:"status,omitempty"`
	PnL          *float64        `json:"pnl,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	DataHash     string          `json:"data_hash"`
	CollectedAt  time.Time       `json:"collected_at"`
	LastUpdated  time.Time       `json:"last_updated"`
}

// RecordKey is the composite identity of a consolidated record.
type RecordKey struct {
	InstanceID string
	OriginalID string
	Kind       RecordKind
}

func (r ConsolidatedRecord) Key() RecordKey {
	return RecordKey{InstanceID: r.InstanceID, OriginalID: r.OriginalID, Kind: r.Kind}
}

type RecordFailure struct {
	Kind       RecordKind `json:"kind"`
	OriginalID string     `json:"original_id"`
	Reason     string     `json:"reason"`
	Retryable  bool       `json:"retryable"`
	Attempts   int        `json:"attempts"`
}

type SyncResult struct {
	Synced   int             `json:"synced"`
	Failed   int             `json:"failed"`
	Failures []RecordFailure `json:"failures,omitempty"`
}

// AggregateStats are cross-instance statistics for one symbol.
type AggregateStats struct {
	Symbol         string        `json:"symbol"`
	Window         time.Duration `json:"window"`
	Instances      int           `json:"instances"`
	Records        int           `json:"records"`
	BuyRatio       float64       `json:"buy_ratio"`
	SellRatio      float64       `json:"sell_ratio"`
	HoldRatio      float64       `json:"hold_ratio"`
	MeanConfidence float64       `json:"mean_confidence"`
	MeanSentiment  float64       `json:"mean_sentiment"`
	OpenPositions  int           `json:"open_positions"`
	ClosedTrades   int           `json:"closed_trades"`
	MeanPnL        float64       `json:"mean_pnl"`
	WinRate        float64       `json:"win_rate"`
	ComputedAt     time.Time     `json:"computed_at"`
}
