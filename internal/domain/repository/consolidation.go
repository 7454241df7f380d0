package repository

import (
	"time"

	"QuantSync/internal/domain/models"
)

// ValidateRecord rejects records that no store could ever accept. The
// returned error is always *models.InvalidRecordError.
func ValidateRecord(r models.ConsolidatedRecord) error {
	switch {
	case r.InstanceID == "":
		return &models.InvalidRecordError{Reason: "empty instance id"}
	case r.OriginalID == "":
		return &models.InvalidRecordError{Reason: "empty original id"}
	case !r.Kind.Valid():
		return &models.InvalidRecordError{Reason: "unknown kind " + string(r.Kind)}
	case r.Symbol == "":
		return &models.InvalidRecordError{Reason: "empty symbol for " + r.OriginalID}
	case r.DataHash == "":
		return &models.InvalidRecordError{Reason: "empty data hash for " + r.OriginalID}
	case r.LastUpdated.IsZero():
		return &models.InvalidRecordError{Reason: "missing last_updated for " + r.OriginalID}
	case r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1):
		return &models.InvalidRecordError{Reason: "confidence out of range for " + r.OriginalID}
	}
	return nil
}

// AggregateAccumulator folds consolidated records into AggregateStats. Stores
// that cannot aggregate natively stream rows through it.
type AggregateAccumulator struct {
	stats     models.AggregateStats
	instances map[string]struct{}
	actions   int
	buys      int
	sells     int
	confSum   float64
	confN     int
	sentSum   float64
	sentN     int
	pnlSum    float64
	wins      int
}

func NewAggregateAccumulator(symbol string) *AggregateAccumulator {
	return &AggregateAccumulator{
		stats:     models.AggregateStats{Symbol: symbol},
		instances: make(map[string]struct{}),
	}
}

func (a *AggregateAccumulator) Add(r models.ConsolidatedRecord) {
	a.instances[r.InstanceID] = struct{}{}
	a.stats.Records++

	switch r.Kind {
	case models.KindSignal, models.KindDecision:
		if r.Action != nil {
			a.actions++
			switch models.Action(*r.Action) {
			case models.ActionBuy:
				a.buys++
			case models.ActionSell:
				a.sells++
			}
		}
		if r.Confidence != nil {
			a.confSum += *r.Confidence
			a.confN++
		}
	case models.KindSentiment:
		if r.Score != nil {
			a.sentSum += *r.Score
			a.sentN++
		}
	case models.KindPosition:
		if r.Status == nil {
			return
		}
		switch models.PositionStatus(*r.Status) {
		case models.PositionOpen:
			a.stats.OpenPositions++
		case models.PositionClosed:
			if r.PnL != nil {
				a.stats.ClosedTrades++
				a.pnlSum += *r.PnL
				if *r.PnL > 0 {
					a.wins++
				}
			}
		}
	}
}

func (a *AggregateAccumulator) Result() models.AggregateStats {
	s := a.stats
	s.Instances = len(a.instances)
	if a.actions > 0 {
		s.BuyRatio = float64(a.buys) / float64(a.actions)
		s.SellRatio = float64(a.sells) / float64(a.actions)
		s.HoldRatio = 1 - s.BuyRatio - s.SellRatio
	}
	if a.confN > 0 {
		s.MeanConfidence = a.confSum / float64(a.confN)
	}
	if a.sentN > 0 {
		s.MeanSentiment = a.sentSum / float64(a.sentN)
	}
	if s.ClosedTrades > 0 {
		s.MeanPnL = a.pnlSum / float64(s.ClosedTrades)
		s.WinRate = float64(a.wins) / float64(s.ClosedTrades)
	}
	s.ComputedAt = time.Now().UTC()
	return s
}
