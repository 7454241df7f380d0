package consolidation

import (
	"sort"
	"sync"

	"QuantSync/internal/domain/models"
)

// ChangeLog collects locally changed records between sync cycles. It keeps
// only the newest version of each record and has its own lock, so the
// trading path never waits on a sync in progress.
type ChangeLog struct {
	mu      sync.Mutex
	pending map[models.RecordKey]models.ConsolidatedRecord
	max     int
	dropped int
}

func NewChangeLog(max int) *ChangeLog {
	if max <= 0 {
		max = 10000
	}
	return &ChangeLog{pending: make(map[models.RecordKey]models.ConsolidatedRecord), max: max}
}

// Record queues rec unless a newer version is already queued. When the log
// is full, records for new keys are dropped and counted.
func (c *ChangeLog) Record(rec models.ConsolidatedRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putLocked(rec)
}

func (c *ChangeLog) putLocked(rec models.ConsolidatedRecord) bool {
	k := rec.Key()
	if cur, ok := c.pending[k]; ok {
		if rec.LastUpdated.Before(cur.LastUpdated) {
			return false
		}
		c.pending[k] = rec
		return true
	}
	if len(c.pending) >= c.max {
		c.dropped++
		return false
	}
	c.pending[k] = rec
	return true
}

// Drain removes and returns a snapshot of every queued record, oldest first.
func (c *ChangeLog) Drain() []models.ConsolidatedRecord {
	c.mu.Lock()
	snap := c.pending
	c.pending = make(map[models.RecordKey]models.ConsolidatedRecord, len(snap))
	c.mu.Unlock()

	out := make([]models.ConsolidatedRecord, 0, len(snap))
	for _, r := range snap {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].LastUpdated.Before(out[j].LastUpdated)
		}
		return out[i].OriginalID < out[j].OriginalID
	})
	return out
}

// Requeue puts deferred records back for the next cycle; versions recorded
// since the drain take precedence.
func (c *ChangeLog) Requeue(recs []models.ConsolidatedRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range recs {
		c.putLocked(r)
	}
}

func (c *ChangeLog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Dropped reports how many records were refused because the log was full.
func (c *ChangeLog) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
