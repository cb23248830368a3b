// Package service accepts analysis requests, runs them on a worker pool and
// serves their records. It implements the dependencies of the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/t0270293/uk-source-attribution-fcm/internal/adapters/mq/queue"
	"github.com/t0270293/uk-source-attribution-fcm/internal/adapters/mq/worker"
	"github.com/t0270293/uk-source-attribution-fcm/internal/adapters/repository"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/analysis"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/dedupe"
	"github.com/t0270293/uk-source-attribution-fcm/pkg/logger"
	"github.com/t0270293/uk-source-attribution-fcm/pkg/metrics"
)

// Service owns the queue, the workers and the record store.
type Service struct {
	mu sync.RWMutex

	store    *repository.MemoryStore
	deduper  dedupe.Deduper
	queue    queue.Queue
	pool     *worker.Pool
	pipeline *Pipeline
	cancel   context.CancelFunc

	workerCount int
	queueSize   int
	dedupeSize  int
	storeSize   int
	jobTimeout  time.Duration
	defaults    analysis.Params

	started bool
	logger  logger.Logger
}

// New constructs a Service with default configuration. Call Start before
// submitting.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount: runtime.NumCPU(),
		queueSize:   64,
		dedupeSize:  10_000,
		storeSize:   1_000,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components. Starting twice is a
// no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.store = repository.NewMemoryStore(runCtx, repository.WithMaxRecords(s.storeSize))
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pipeline = NewPipeline(s.logger.Named("pipeline"))
	s.pool = worker.NewPool(s.workerCount, s.queue, s.pipeline, s.store,
		worker.WithJobTimeout(s.jobTimeout))
	s.pool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "analysis service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
		logger.Int("store_size", s.storeSize),
	)
	return nil
}

// Stop drains queued analyses and shuts the workers down.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping analysis service")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
	}
	s.cancel()
	_ = s.store.Close()

	s.started = false
	s.logger.Info(ctx, "analysis service stopped")
}

// Submit validates req and queues it. A request id seen before returns the
// run id it was first given and duplicate=true. Requests without an id are
// never deduplicated.
func (s *Service) Submit(ctx context.Context, req analysis.Request) (runID string, duplicate bool, err error) { //nolint:gocritic // hugeParam: requests are immutable values
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return "", false, ErrNotStarted
	}

	req.Params = mergeParams(req.Params, s.defaults)
	if err := req.Validate(); err != nil {
		return "", false, err
	}

	runID = uuid.NewString()
	if req.ID != "" {
		if prev, seen := s.deduper.Claim(ctx, req.ID, runID); seen {
			metrics.RecordAnalysisDuplicate()
			s.logger.Debug(ctx, "duplicate request", logger.String("request_id", req.ID), logger.String("run_id", prev))
			return prev, true, nil
		}
	}

	now := time.Now().UTC()
	if err := s.store.Put(ctx, repository.Record{
		RunID:       runID,
		RequestID:   req.ID,
		Status:      repository.StatusPending,
		SubmittedAt: now,
	}); err != nil {
		s.unclaim(ctx, req.ID)
		return "", false, err
	}

	if err := s.queue.Enqueue(ctx, queue.Job{RunID: runID, Request: req, EnqueuedAt: now}); err != nil {
		s.unclaim(ctx, req.ID)
		_ = s.store.Delete(ctx, runID)
		if errors.Is(err, queue.ErrFull) || errors.Is(err, queue.ErrClosed) {
			return "", false, fmt.Errorf("%w: %w", ErrBackpressure, err)
		}
		return "", false, err
	}
	metrics.RecordAnalysis(string(repository.StatusPending))
	return runID, false, nil
}

func (s *Service) unclaim(ctx context.Context, requestID string) {
	if requestID != "" {
		s.deduper.Unrecord(ctx, requestID)
	}
}

// Report returns the record of a run.
func (s *Service) Report(ctx context.Context, runID string) (repository.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.store == nil {
		return repository.Record{}, ErrNotStarted
	}
	return s.store.Get(ctx, runID)
}

// Analyze runs req synchronously on the caller's goroutine.
func (s *Service) Analyze(ctx context.Context, req analysis.Request) (*analysis.Report, error) { //nolint:gocritic // hugeParam: requests are immutable values
	s.mu.RLock()
	p := s.pipeline
	l := s.logger
	s.mu.RUnlock()
	if p == nil {
		if l == nil {
			l = logger.Get().Named("service")
		}
		p = NewPipeline(l.Named("pipeline"))
	}
	req.Params = mergeParams(req.Params, s.defaults)
	return p.Analyze(ctx, "", req)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"storeSize":   s.storeSize,
	}

	if s.started {
		queueLen := s.queue.Len(ctx)
		records := s.store.Count(ctx)

		stats["queueLength"] = queueLen
		stats["records"] = records
		stats["requestIDs"] = s.deduper.Size()

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateStoreRecords(records)
	}

	return stats
}

// mergeParams fills zero fields of p from defaults.
func mergeParams(p, defaults analysis.Params) analysis.Params {
	if p.KMin == 0 {
		p.KMin = defaults.KMin
	}
	if p.KMax == 0 {
		p.KMax = defaults.KMax
	}
	if p.Clusters == 0 {
		p.Clusters = defaults.Clusters
	}
	if p.Fuzziness == 0 {
		p.Fuzziness = defaults.Fuzziness
	}
	if p.MaxIter == 0 {
		p.MaxIter = defaults.MaxIter
	}
	if p.Tolerance == 0 {
		p.Tolerance = defaults.Tolerance
	}
	if p.Metric == "" {
		p.Metric = defaults.Metric
	}
	if p.Init == "" {
		p.Init = defaults.Init
	}
	if p.Seed == 0 {
		p.Seed = defaults.Seed
	}
	if !p.Strict {
		p.Strict = defaults.Strict
	}
	if p.ScanParallelism == 0 {
		p.ScanParallelism = defaults.ScanParallelism
	}
	return p
}
