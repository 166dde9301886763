// Package queue provides an unbounded multi-producer, single-consumer queue
// that is drained in bounded batches by a background consumer loop.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BatchFunc processes one drained batch. batchSize is the configured maximum
// batch size, not len(batch).
type BatchFunc[T any] func(ctx context.Context, batchSize int, batch []T) error

// Queue is a thread-safe FIFO queue. Enqueue never blocks; DrainBatch never
// waits for items to arrive.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{} // buffered, size 1

	name    string
	backoff IdleBackoff
	logger  *zap.Logger
}

// New creates an empty queue. name only appears in log fields.
func New[T any](name string, backoff IdleBackoff, logger *zap.Logger) *Queue[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue[T]{
		items:   make([]T, 0, 64),
		signal:  make(chan struct{}, 1),
		name:    name,
		backoff: backoff,
		logger:  logger,
	}
}

// Name returns the queue name
func (q *Queue[T]) Name() string {
	return q.name
}

// Enqueue appends item to the back of the queue
func (q *Queue[T]) Enqueue(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	// coalesces with any pending signal
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// DrainBatch removes and returns up to maxSize items currently queued.
// It returns nil when the queue is empty.
func (q *Queue[T]) DrainBatch(maxSize int) []T {
	if maxSize <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(maxSize, len(q.items))
	if n == 0 {
		return nil
	}

	batch := make([]T, n)
	copy(batch, q.items[:n])

	// release references held by the backing array
	clear(q.items[:n])
	if n == len(q.items) {
		q.items = q.items[:0]
	} else {
		q.items = q.items[n:]
	}

	return batch
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// RunConsumerLoop drains the queue in batches of at most batchSize and hands
// each non-empty batch to fn until ctx is cancelled. Errors and panics raised
// by fn are logged and the loop continues.
func (q *Queue[T]) RunConsumerLoop(ctx context.Context, batchSize int, fn BatchFunc[T]) {
	if batchSize <= 0 {
		batchSize = 1
	}

	backoff := q.backoff
	backoff.Reset()

	q.logger.Info("consumer loop started",
		zap.String("queue", q.name),
		zap.Int("batch_size", batchSize),
	)
	defer q.logger.Info("consumer loop stopped", zap.String("queue", q.name))

	for {
		if ctx.Err() != nil {
			return
		}

		batch := q.DrainBatch(batchSize)
		if len(batch) > 0 {
			backoff.Observe(len(batch))
			if err := q.invoke(ctx, batchSize, batch, fn); err != nil {
				q.logger.Error("batch processing failed",
					zap.String("queue", q.name),
					zap.Int("batch_len", len(batch)),
					zap.Error(err),
				)
			}
			continue
		}

		delay := backoff.Observe(0)
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-q.signal:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *Queue[T]) invoke(ctx context.Context, batchSize int, batch []T, fn BatchFunc[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in batch callback: %v", r)
		}
	}()
	return fn(ctx, batchSize, batch)
}
