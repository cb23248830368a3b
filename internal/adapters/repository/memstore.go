package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/t0270293/uk-source-attribution-fcm/pkg/metrics"
)

// MemoryStore keeps records in memory in insertion order. When full it
// evicts the oldest finished record, or the oldest record if none finished.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]Record
	order []string // oldest first

	maxRecords            int
	metricsUpdateInterval time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore constructs a store and starts its metrics updater, which
// runs until ctx ends or Close.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		byID:                  make(map[string]Record),
		maxRecords:            1000,
		metricsUpdateInterval: 5 * time.Second,
		stopChan:              make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.startMetricsUpdater(ctx)
	return s
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error { //nolint:gocritic // hugeParam: records are stored by value
	if rec.RunID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRunID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[rec.RunID]; !exists {
		if s.maxRecords > 0 && len(s.order) >= s.maxRecords {
			s.evict()
		}
		s.order = append(s.order, rec.RunID)
	}
	s.byID[rec.RunID] = rec
	return nil
}

// evict drops one record. Must be called with s.mu held.
func (s *MemoryStore) evict() {
	victim := 0
	for i, id := range s.order {
		if s.byID[id].Status != StatusPending {
			victim = i
			break
		}
	}
	delete(s.byID, s.order[victim])
	s.order = append(s.order[:victim], s.order[victim+1:]...)
}

func (s *MemoryStore) Get(_ context.Context, runID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[runID]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[runID]; !ok {
		return nil
	}
	delete(s.byID, runID)
	for i, id := range s.order {
		if id == runID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) IDs(_ context.Context) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.order))
	for i, id := range s.order {
		out[len(s.order)-1-i] = id
	}
	return out
}

func (s *MemoryStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Close stops the metrics updater.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				metrics.UpdateStoreRecords(s.Count(ctx))
			}
		}
	}()
}
