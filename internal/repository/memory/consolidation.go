package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"QuantSync/internal/domain/models"
	"QuantSync/internal/domain/repository"
)

// ConsolidationStore mirrors the SQL upsert: identity is fixed, each mutable
// field follows last-write-wins, and a data hash mismatch is rejected.
type ConsolidationStore struct {
	mu      sync.Mutex
	records map[models.RecordKey]*models.ConsolidatedRecord
	// Fail, when set, is consulted before every upsert. Tests use it to
	// inject transport errors.
	Fail func(rec models.ConsolidatedRecord) error
}

var _ repository.ConsolidationStore = (*ConsolidationStore)(nil)

func NewConsolidationStore() *ConsolidationStore {
	return &ConsolidationStore{records: make(map[models.RecordKey]*models.ConsolidatedRecord)}
}

func (s *ConsolidationStore) Upsert(ctx context.Context, rec models.ConsolidatedRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := repository.ValidateRecord(rec); err != nil {
		return err
	}
	if s.Fail != nil {
		if err := s.Fail(rec); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[rec.Key()]
	if !ok {
		cp := rec
		s.records[rec.Key()] = &cp
		return nil
	}
	if cur.DataHash != rec.DataHash {
		return &models.InvalidRecordError{Reason: "data hash mismatch for " + rec.OriginalID}
	}
	newer := !rec.LastUpdated.Before(cur.LastUpdated)
	mergeString(&cur.Action, rec.Action, newer)
	mergeFloat(&cur.Score, rec.Score, newer)
	mergeFloat(&cur.Confidence, rec.Confidence, newer)
	mergeFloat(&cur.Completeness, rec.Completeness, newer)
	mergeString(&cur.Status, rec.Status, newer)
	mergeFloat(&cur.PnL, rec.PnL, newer)
	if len(rec.Payload) > 0 && (len(cur.Payload) == 0 || newer) {
		cur.Payload = append([]byte(nil), rec.Payload...)
	}
	if rec.CollectedAt.After(cur.CollectedAt) {
		cur.CollectedAt = rec.CollectedAt
	}
	if rec.LastUpdated.After(cur.LastUpdated) {
		cur.LastUpdated = rec.LastUpdated
	}
	return nil
}

func mergeFloat(dst **float64, in *float64, newer bool) {
	if in != nil && (*dst == nil || newer) {
		v := *in
		*dst = &v
	}
}

func mergeString(dst **string, in *string, newer bool) {
	if in != nil && (*dst == nil || newer) {
		v := *in
		*dst = &v
	}
}

func (s *ConsolidationStore) Get(key models.RecordKey) (models.ConsolidatedRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	if !ok {
		return models.ConsolidatedRecord{}, false
	}
	return *r, true
}

func (s *ConsolidationStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), nil
}

func (s *ConsolidationStore) Aggregate(_ context.Context, symbol string, since time.Time) (models.AggregateStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := repository.NewAggregateAccumulator(symbol)
	keys := make([]models.RecordKey, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].OriginalID < keys[j].OriginalID })
	for _, k := range keys {
		r := s.records[k]
		if r.Symbol != symbol || r.LastUpdated.Before(since) {
			continue
		}
		acc.Add(*r)
	}
	return acc.Result(), nil
}
