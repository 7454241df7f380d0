package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"QuantSync/internal/domain/models"
	"QuantSync/internal/domain/repository"
)

type InstanceStore struct {
	mu        sync.Mutex
	instances map[string]*models.Instance
}

var _ repository.InstanceRegistry = (*InstanceStore)(nil)

func NewInstanceStore() *InstanceStore {
	return &InstanceStore{instances: make(map[string]*models.Instance)}
}

func (s *InstanceStore) Register(_ context.Context, inst models.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.instances[inst.ID]; ok {
		cur.Name = inst.Name
		cur.Status = inst.Status
		cur.LastHeartbeat = inst.LastHeartbeat
		return nil
	}
	cp := inst
	s.instances[inst.ID] = &cp
	return nil
}

func (s *InstanceStore) Heartbeat(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("instance %s not registered", id)
	}
	inst.LastHeartbeat = at
	inst.Status = models.InstanceActive
	return nil
}

func (s *InstanceStore) MarkSynced(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("instance %s not registered", id)
	}
	t := at
	inst.LastSync = &t
	return nil
}

func (s *InstanceStore) List(context.Context) ([]models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Instance, 0, len(s.instances))
	for _, i := range s.instances {
		out = append(out, *i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}
