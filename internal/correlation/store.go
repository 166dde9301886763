// Package correlation maps request ids to their completed results and lets
// callers wait for a result without polling.
package correlation

import (
	"context"
	"sync"
	"time"

	"github.com/Pbasnal/comic-visibility/internal/metrics"
	"go.uber.org/zap"
)

// Value is a result that can be correlated with the request that produced it
type Value interface {
	CorrelationID() int64
}

type entry struct {
	value   Value
	ready   chan struct{} // closed once value is set
	created time.Time
}

// Store is a concurrency-safe map from correlation id to result. Entries are
// removed explicitly or evicted by Sweep once older than the configured TTL.
type Store struct {
	mu      sync.Mutex
	entries map[int64]*entry

	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewStore creates a store. A ttl of zero disables eviction.
func NewStore(ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		entries: make(map[int64]*entry),
		ttl:     ttl,
		now:     time.Now,
		metrics: m,
		logger:  logger,
	}
}

// Add stores value under its correlation id, replacing any earlier value,
// and wakes every caller waiting on that id
func (s *Store) Add(value Value) {
	id := value.CorrelationID()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		e = &entry{ready: make(chan struct{})}
		s.entries[id] = e
	}
	e.created = s.now()

	if e.value == nil {
		e.value = value
		close(e.ready)
	} else {
		e.value = value
	}

	s.metrics.SetCorrelationEntries(len(s.entries))
}

// Get returns the value stored under id
func (s *Store) Get(id int64) (Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.value == nil {
		return nil, false
	}
	return e.value, true
}

// Find returns the value stored under id if it has type T
func Find[T Value](s *Store, id int64) (T, bool) {
	var zero T
	v, ok := s.Get(id)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Take returns the value stored under id if it has type T and removes it in
// the same critical section, so a value is handed out at most once
func Take[T Value](s *Store, id int64) (T, bool) {
	var zero T

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.value == nil {
		return zero, false
	}
	typed, ok := e.value.(T)
	if !ok {
		return zero, false
	}
	delete(s.entries, id)
	s.metrics.SetCorrelationEntries(len(s.entries))
	return typed, true
}

// Reserve claims id for a request about to be enqueued. It returns false when
// id already has a waiter, a pending reservation or an unread value.
func (s *Store) Reserve(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; ok {
		return false
	}
	s.entries[id] = &entry{ready: make(chan struct{}), created: s.now()}
	s.metrics.SetCorrelationEntries(len(s.entries))
	return true
}

// Remove deletes the entry for id and reports whether a value was stored
func (s *Store) Remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false
	}
	delete(s.entries, id)
	s.metrics.SetCorrelationEntries(len(s.entries))
	return e.value != nil
}

// Wait blocks until a value is stored under id or ctx is done
func (s *Store) Wait(ctx context.Context, id int64) (Value, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{ready: make(chan struct{}), created: s.now()}
		s.entries[id] = e
	}
	s.mu.Unlock()

	select {
	case <-e.ready:
		s.mu.Lock()
		defer s.mu.Unlock()
		return e.value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of entries, including ids that only have waiters
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep evicts entries older than the TTL and returns how many were removed
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}

	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	evicted := 0
	for id, e := range s.entries {
		if e.created.Before(cutoff) {
			delete(s.entries, id)
			evicted++
		}
	}
	size := len(s.entries)
	s.mu.Unlock()

	s.metrics.SetCorrelationEntries(size)
	if evicted > 0 {
		s.metrics.AddCorrelationEvicted(evicted)
		s.logger.Info("evicted orphaned correlation entries",
			zap.Int("evicted", evicted),
			zap.Int("remaining", size),
		)
	}
	return evicted
}

// Run sweeps the store every interval until ctx is cancelled
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
