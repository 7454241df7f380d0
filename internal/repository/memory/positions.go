// Package memory holds in-process implementations of the domain
// repositories. They honour the same compare-and-set rules as the SQL
// implementations and back the "memory" storage backend and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"QuantSync/internal/domain/models"
	"QuantSync/internal/domain/repository"
)

type openKey struct {
	symbol, strategy string
}

type PositionStore struct {
	mu        sync.Mutex
	positions map[string]*models.Position
	open      map[openKey]string
	trades    map[string][]*models.Trade
	entries   int
}

var _ repository.PositionRepository = (*PositionStore)(nil)

func NewPositionStore() *PositionStore {
	return &PositionStore{
		positions: make(map[string]*models.Position),
		open:      make(map[openKey]string),
		trades:    make(map[string][]*models.Trade),
	}
}

func (s *PositionStore) InsertOpen(_ context.Context, pos *models.Position, entry *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := openKey{pos.Symbol, pos.StrategyName}
	if id, ok := s.open[k]; ok {
		return &models.DuplicateOpenPositionError{Symbol: pos.Symbol, StrategyName: pos.StrategyName, ExistingID: id}
	}
	cp := *pos
	s.positions[pos.ID] = &cp
	s.open[k] = pos.ID
	t := *entry
	s.trades[pos.ID] = append(s.trades[pos.ID], &t)
	s.entries++
	return nil
}

func (s *PositionStore) Close(_ context.Context, pos *models.Position, exit *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.positions[pos.ID]
	if !ok {
		return models.ErrPositionNotFound
	}
	if cur.Status != models.PositionOpen {
		return &models.PositionNotOpenError{PositionID: pos.ID, Status: cur.Status}
	}
	if cur.Quantity != exit.Quantity {
		return &models.QuantityMismatchError{PositionID: pos.ID, Expected: cur.Quantity, Got: exit.Quantity}
	}
	cp := *pos
	s.positions[pos.ID] = &cp
	delete(s.open, openKey{cur.Symbol, cur.StrategyName})
	t := *exit
	s.trades[pos.ID] = append(s.trades[pos.ID], &t)
	return nil
}

func (s *PositionStore) UpdateMark(_ context.Context, symbol string, price float64, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, id := range s.open {
		if k.symbol != symbol {
			continue
		}
		p := s.positions[id]
		p.CurrentPrice = price
		p.UpdatedAt = at
		n++
	}
	return n, nil
}

func (s *PositionStore) Get(_ context.Context, id string) (*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, models.ErrPositionNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *PositionStore) FindOpen(_ context.Context, symbol, strategy string) (*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.open[openKey{symbol, strategy}]
	if !ok {
		return nil, models.ErrPositionNotFound
	}
	cp := *s.positions[id]
	return &cp, nil
}

func (s *PositionStore) List(_ context.Context, f models.PositionFilter) ([]*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Position
	for _, p := range s.positions {
		if f.Symbol != "" && p.Symbol != f.Symbol {
			continue
		}
		if f.StrategyName != "" && p.StrategyName != f.StrategyName {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *PositionStore) Trades(_ context.Context, positionID string) ([]*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Trade, 0, len(s.trades[positionID]))
	for _, t := range s.trades[positionID] {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *PositionStore) CountEntryTrades(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries, nil
}
