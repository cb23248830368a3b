// Package worker runs queued analyses and records their outcome.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/t0270293/uk-source-attribution-fcm/internal/adapters/mq/queue"
	"github.com/t0270293/uk-source-attribution-fcm/internal/adapters/repository"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/analysis"
	"github.com/t0270293/uk-source-attribution-fcm/pkg/logger"
	"github.com/t0270293/uk-source-attribution-fcm/pkg/metrics"
)

const (
	workerShutdownTimeout = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Analyzer runs one analysis.
type Analyzer interface {
	Analyze(ctx context.Context, runID string, req analysis.Request) (*analysis.Report, error)
}

// Recorder persists the lifecycle of a run.
type Recorder interface {
	Put(ctx context.Context, rec repository.Record) error
	Get(ctx context.Context, runID string) (repository.Record, error)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes jobs until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after the job in flight.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue      Queue
	analyzer   Analyzer
	recorder   Recorder
	name       string
	jobTimeout time.Duration

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, analyzer Analyzer, recorder Recorder, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		analyzer: analyzer,
		recorder: recorder,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.With(logger.String("worker", w.name))
	}

	return w
}

// Run starts the worker loop. On shutdown or cancellation it stops
// dequeuing and finishes every job already handed to it.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	dequeueCtx, stopDequeue := context.WithCancel(ctx)
	defer stopDequeue()

	jobs := w.queue.Dequeue(dequeueCtx)
	for {
		select {
		case <-ctx.Done():
			w.drain(ctx, stopDequeue, jobs)
			return
		case <-w.shutdown:
			w.drain(ctx, stopDequeue, jobs)
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			w.handle(ctx, job)
		}
	}
}

func (w *InMemoryWorker) drain(ctx context.Context, stop context.CancelFunc, jobs <-chan queue.Job) {
	stop()
	for job := range jobs {
		w.handle(ctx, job)
	}
}

func (w *InMemoryWorker) handle(ctx context.Context, job queue.Job) { //nolint:gocritic // hugeParam: Job arrives by value from the channel
	if err := w.process(ctx, job); err != nil {
		w.logger.Error(ctx, "analysis failed",
			logger.String("run_id", job.RunID),
			logger.Error(err),
		)
	}
}

// Shutdown signals the worker to stop and waits for it.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process runs one job and stores its final record. The returned error is
// the analysis error, already recorded.
func (w *InMemoryWorker) process(ctx context.Context, job queue.Job) error { //nolint:gocritic // hugeParam: Job arrives by value from the channel
	start := time.Now()
	metrics.AddWorkerActive(1)
	defer func() {
		metrics.AddWorkerActive(-1)
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	rec, err := w.recorder.Get(ctx, job.RunID)
	if err != nil {
		rec = repository.Record{RunID: job.RunID, RequestID: job.Request.ID, SubmittedAt: job.EnqueuedAt}
	}

	runCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	rep, runErr := w.analyzer.Analyze(runCtx, job.RunID, job.Request)
	finished := time.Now()
	rec.FinishedAt = &finished
	if runErr != nil {
		rec.Status = repository.StatusFailed
		rec.Error = runErr.Error()
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "analysis_error")
		metrics.RecordAnalysis(string(repository.StatusFailed))
	} else {
		rec.Status = repository.StatusDone
		rec.Report = rep
		metrics.RecordAnalysis(string(repository.StatusDone))
	}

	if err := w.recorder.Put(ctx, rec); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "store_error")
		return fmt.Errorf("store run %s: %w", job.RunID, err)
	}
	return runErr
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	shutdownOnce sync.Once
	logger       logger.Logger
}

// NewPool creates a pool of workerCount workers. Values below 1 mean one
// per CPU.
func NewPool(workerCount int, q Queue, analyzer Analyzer, recorder Recorder, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(q, analyzer, recorder, wopts...)
	}

	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Stop signals every worker and waits briefly for each.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.shutdownOnce.Do(func() { close(w.shutdown) })
	}
	for _, w := range p.workers {
		select {
		case <-w.done:
		case <-time.After(workerShutdownTimeout):
		}
	}
}

// Shutdown closes the queue, lets workers drain it and waits for them.
func (p *Pool) Shutdown(ctx context.Context) error {
	var err error
	p.shutdownOnce.Do(func() {
		if closer, ok := p.queue.(interface{ Close() error }); ok {
			if cerr := closer.Close(); cerr != nil {
				p.logger.Error(ctx, "error closing queue", logger.Error(cerr))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
		defer cancel()

		for i, w := range p.workers {
			select {
			case <-w.done:
			case <-shutdownCtx.Done():
				p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
				err = fmt.Errorf("pool shutdown: %w", shutdownCtx.Err())
			}
		}
		metrics.UpdateWorkerCount(0)
	})
	return err
}
