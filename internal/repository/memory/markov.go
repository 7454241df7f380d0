package memory

import (
	"context"
	"sync"
	"time"

	"QuantSync/internal/domain/models"
	"QuantSync/internal/domain/repository"
)

type cellKey struct {
	from, to models.RegimeState
}

type markovSymbol struct {
	cells   map[cellKey]*repository.MarkovCell
	lastBar time.Time
}

type MarkovStore struct {
	mu      sync.Mutex
	symbols map[string]*markovSymbol
}

var _ repository.MarkovStore = (*MarkovStore)(nil)

func NewMarkovStore() *MarkovStore {
	return &MarkovStore{symbols: make(map[string]*markovSymbol)}
}

func (s *MarkovStore) Increment(_ context.Context, symbol string, from, to models.RegimeState, ret float64, bar time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sym, ok := s.symbols[symbol]
	if !ok {
		sym = &markovSymbol{cells: make(map[cellKey]*repository.MarkovCell)}
		s.symbols[symbol] = sym
	}
	k := cellKey{from, to}
	c, ok := sym.cells[k]
	if !ok {
		c = &repository.MarkovCell{From: from, To: to}
		sym.cells[k] = c
	}
	c.Count++
	c.ReturnSum += ret
	if bar.After(sym.lastBar) {
		sym.lastBar = bar
	}
	return nil
}

func (s *MarkovStore) Load(_ context.Context, symbol string) (repository.MarkovSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sym, ok := s.symbols[symbol]
	if !ok {
		return repository.MarkovSnapshot{}, nil
	}
	out := repository.MarkovSnapshot{LastBar: sym.lastBar}
	for _, c := range sym.cells {
		out.Cells = append(out.Cells, *c)
	}
	return out, nil
}
