package consolidation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"QuantSync/internal/domain/models"
)

// DataHash identifies the logical record behind a consolidated row. It
// depends only on identity, so every version of the same record shares it.
func DataHash(originalID, symbol string, kind models.RecordKind) string {
	sum := sha256.Sum256([]byte(originalID + "|" + symbol + "|" + string(kind)))
	return hex.EncodeToString(sum[:])
}

// Mapper turns local domain objects into consolidated records for one instance.
type Mapper struct {
	instanceID string
	now        func() time.Time
}

func NewMapper(instanceID string) *Mapper {
	return &Mapper{instanceID: instanceID, now: time.Now}
}

func (m *Mapper) base(originalID, symbol string, kind models.RecordKind, updated time.Time, payload interface{}) (models.ConsolidatedRecord, error) {
	now := m.now().UTC()
	if updated.IsZero() {
		updated = now
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.ConsolidatedRecord{}, fmt.Errorf("encode %s %s: %w", kind, originalID, err)
	}
	return models.ConsolidatedRecord{
		InstanceID:  m.instanceID,
		OriginalID:  originalID,
		Kind:        kind,
		Symbol:      symbol,
		Payload:     raw,
		DataHash:    DataHash(originalID, symbol, kind),
		CollectedAt: now,
		LastUpdated: updated.UTC(),
	}, nil
}

// FromSignal maps a producer signal. Sentiment signals get their own kind.
func (m *Mapper) FromSignal(s models.Signal) (models.ConsolidatedRecord, error) {
	kind := models.KindSignal
	if s.Producer == models.ProducerSentiment {
		kind = models.KindSentiment
	}
	id := s.ID
	if id == "" {
		id = fmt.Sprintf("%s:%s:%d", s.Producer, s.Symbol, s.ObservedAt.UnixNano())
	}
	r, err := m.base(id, s.Symbol, kind, s.ObservedAt, s)
	if err != nil {
		return r, err
	}
	action := string(s.Action)
	score, conf, complete := s.Score, s.Confidence, 1.0
	r.Action, r.Score, r.Confidence, r.Completeness = &action, &score, &conf, &complete
	return r, nil
}

// FromDecision maps a fused decision. Completeness is the share of the
// technical, sentiment and regime inputs that were present.
func (m *Mapper) FromDecision(d *models.FusedDecision) (models.ConsolidatedRecord, error) {
	updated := d.SignalTime
	if d.ExecutionTime != nil {
		updated = *d.ExecutionTime
	}
	r, err := m.base(d.ID, d.Symbol, models.KindDecision, updated, d)
	if err != nil {
		return r, err
	}
	action := string(d.FinalAction)
	conf := d.CombinedConfidence
	present := 1.0
	if d.SentimentScore != nil {
		present++
	}
	if d.MarkovConfidence != nil {
		present++
	}
	complete := present / 3
	status := "pending"
	if d.ExecutionTime != nil {
		status = "failed"
		if d.Executed {
			status = "executed"
		}
	}
	r.Action, r.Confidence, r.Completeness, r.Status = &action, &conf, &complete, &status
	if d.SentimentScore != nil {
		s := *d.SentimentScore
		r.Score = &s
	}
	return r, nil
}

// FromPosition maps a ledger position. Realized pnl is carried once closed.
func (m *Mapper) FromPosition(p *models.Position) (models.ConsolidatedRecord, error) {
	r, err := m.base(p.ID, p.Symbol, models.KindPosition, p.UpdatedAt, p)
	if err != nil {
		return r, err
	}
	status := string(p.Status)
	complete := 0.5
	if p.Status == models.PositionClosed {
		complete = 1
	}
	r.Status, r.Completeness = &status, &complete
	if p.PnL != nil {
		pnl := *p.PnL
		r.PnL = &pnl
	}
	return r, nil
}
