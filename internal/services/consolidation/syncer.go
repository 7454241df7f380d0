package consolidation

import (
	"context"
	"sync"
	"time"

	"QuantSync/internal/domain/models"
	"QuantSync/internal/domain/repository"
	"QuantSync/pkg/logger"
)

// Syncer runs the periodic push/pull cycle in the background. It shares no
// locks with the trading path: it only drains the ChangeLog snapshot and
// writes the AggregateCache.
type Syncer struct {
	instance  models.Instance
	instances repository.InstanceRegistry
	changes   *ChangeLog
	cons      *Consolidator
	aggs      *AggregateCache
	symbols   []string
	interval  time.Duration
	log       *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	now    func() time.Time
}

func NewSyncer(
	instance models.Instance,
	instances repository.InstanceRegistry,
	changes *ChangeLog,
	cons *Consolidator,
	aggs *AggregateCache,
	symbols []string,
	interval time.Duration,
	log *logger.Logger,
) *Syncer {
	if interval <= 0 {
		interval = 3 * time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Syncer{
		instance:  instance,
		instances: instances,
		changes:   changes,
		cons:      cons,
		aggs:      aggs,
		symbols:   symbols,
		interval:  interval,
		log:       log,
		now:       time.Now,
	}
}

// Start registers the instance and launches the loop. It returns at once.
func (s *Syncer) Start(ctx context.Context) error {
	inst := s.instance
	inst.Status = models.InstanceActive
	inst.LastHeartbeat = s.now().UTC()
	if err := s.instances.Register(ctx, inst); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx)

	s.log.Info("consolidation syncer started",
		logger.String("instance_id", s.instance.ID),
		logger.Duration("interval_ms", s.interval),
		logger.Int("symbols", len(s.symbols)))
	return nil
}

func (s *Syncer) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop cancels an in-flight cycle and waits for the loop to exit. Records
// that were not synced stay queued.
func (s *Syncer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	ctx, c := context.WithTimeout(context.Background(), 5*time.Second)
	defer c()
	inst := s.instance
	inst.Status = models.InstanceStopped
	inst.LastHeartbeat = s.now().UTC()
	if err := s.instances.Register(ctx, inst); err != nil {
		s.log.Warn("mark instance stopped failed", logger.Error(err))
	}
}

// RunOnce performs one heartbeat, push and pull cycle.
func (s *Syncer) RunOnce(ctx context.Context) models.SyncResult {
	now := s.now().UTC()
	if err := s.instances.Heartbeat(ctx, s.instance.ID, now); err != nil {
		s.log.Warn("instance heartbeat failed", logger.Error(err))
	}

	batch := s.changes.Drain()
	res, err := s.cons.SyncBatch(ctx, batch)
	s.requeue(batch, res)
	if err != nil {
		s.log.Warn("consolidation cycle interrupted",
			logger.Int("synced", res.Synced), logger.Int("deferred", res.Failed), logger.Error(err))
		return res
	}
	if res.Failed == 0 || res.Synced > 0 {
		if err := s.instances.MarkSynced(ctx, s.instance.ID, now); err != nil {
			s.log.Warn("mark synced failed", logger.Error(err))
		}
	}

	for _, sym := range s.symbols {
		if ctx.Err() != nil {
			break
		}
		stats, err := s.cons.PullAggregates(ctx, sym)
		if err != nil {
			s.log.Warn("pull aggregates failed", logger.Symbol(sym), logger.Error(err))
			continue
		}
		if err := s.aggs.Put(ctx, stats); err != nil {
			s.log.Warn("cache aggregates failed", logger.Symbol(sym), logger.Error(err))
		}
	}

	s.log.Info("consolidation cycle done",
		logger.Int("batch", len(batch)),
		logger.Int("synced", res.Synced),
		logger.Int("failed", res.Failed),
		logger.Int("queued", s.changes.Len()),
	)
	return res
}

// requeue defers retryable failures to the next cycle. Permanent failures
// are dropped; they were logged by the consolidator.
func (s *Syncer) requeue(batch []models.ConsolidatedRecord, res models.SyncResult) {
	if len(res.Failures) == 0 {
		return
	}
	type failed struct {
		kind models.RecordKind
		id   string
	}
	retry := make(map[failed]struct{}, len(res.Failures))
	for _, f := range res.Failures {
		if f.Retryable {
			retry[failed{f.Kind, f.OriginalID}] = struct{}{}
		}
	}
	var deferred []models.ConsolidatedRecord
	for _, r := range batch {
		if _, ok := retry[failed{r.Kind, r.OriginalID}]; ok {
			deferred = append(deferred, r)
		}
	}
	s.changes.Requeue(deferred)
}
