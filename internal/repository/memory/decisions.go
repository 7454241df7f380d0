package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"QuantSync/internal/domain/models"
	"QuantSync/internal/domain/repository"
)

type DecisionStore struct {
	mu        sync.Mutex
	decisions map[string]*models.FusedDecision
}

var _ repository.DecisionRepository = (*DecisionStore)(nil)

func NewDecisionStore() *DecisionStore {
	return &DecisionStore{decisions: make(map[string]*models.FusedDecision)}
}

func (s *DecisionStore) Save(_ context.Context, d *models.FusedDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.decisions[d.ID] = &cp
	return nil
}

func (s *DecisionStore) MarkExecution(_ context.Context, id string, executed bool, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[id]
	if !ok {
		return models.ErrDecisionNotFound
	}
	d.Executed = executed
	t := at
	d.ExecutionTime = &t
	d.ExecutionError = reason
	return nil
}

func (s *DecisionStore) Get(_ context.Context, id string) (*models.FusedDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[id]
	if !ok {
		return nil, models.ErrDecisionNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *DecisionStore) List(_ context.Context, f models.DecisionFilter) ([]*models.FusedDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.FusedDecision
	for _, d := range s.decisions {
		if f.Symbol != "" && d.Symbol != f.Symbol {
			continue
		}
		if !f.Since.IsZero() && d.SignalTime.Before(f.Since) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignalTime.After(out[j].SignalTime) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
