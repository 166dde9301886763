// Package broker owns one queue per request kind and the background consumer
// loop that drains it.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Pbasnal/comic-visibility/internal/metrics"
	"github.com/Pbasnal/comic-visibility/internal/queue"
	"go.uber.org/zap"
)

var (
	// ErrUnregisteredType is returned when no queue is registered for a kind
	ErrUnregisteredType = errors.New("no queue registered for request kind")

	// ErrKindMismatch is returned when a kind is used with an item type other
	// than the one it was registered with
	ErrKindMismatch = errors.New("request kind registered with a different item type")

	// ErrAlreadyConsuming is returned when a consumer loop is already running
	// for a kind
	ErrAlreadyConsuming = errors.New("consumer loop already running for request kind")
)

// DefaultShutdownGrace is how long StopAll waits for consumer loops to finish
const DefaultShutdownGrace = 30 * time.Second

// Kind identifies a request payload type
type Kind int

const (
	// KindVisibilityComputation carries *model.VisibilityComputationRequest
	KindVisibilityComputation Kind = iota + 1
	// KindVisibilityLookup carries *model.VisibilityLookupRequest
	KindVisibilityLookup
)

func (k Kind) String() string {
	switch k {
	case KindVisibilityComputation:
		return "visibility_computation"
	case KindVisibilityLookup:
		return "visibility_lookup"
	default:
		return fmt.Sprintf("kind_%d", int(k))
	}
}

// Options configures a Broker
type Options struct {
	Backoff       queue.IdleBackoff
	ShutdownGrace time.Duration
}

// Broker is the registry of queues and consumer loops. It is created once at
// startup and passed to every producer and consumer.
type Broker struct {
	mu        sync.RWMutex
	queues    map[Kind]any
	listeners map[Kind]*Listener

	opts    Options
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates an empty broker
func New(opts Options, m *metrics.Metrics, logger *zap.Logger) *Broker {
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		queues:    make(map[Kind]any),
		listeners: make(map[Kind]*Listener),
		opts:      opts,
		metrics:   m,
		logger:    logger,
	}
}

// RegisterQueue creates the queue for kind. Registering the same kind again
// with the same item type is a no-op.
func RegisterQueue[T any](b *Broker, kind Kind) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.queues[kind]; ok {
		if _, ok := existing.(*queue.Queue[T]); !ok {
			return fmt.Errorf("register %s: %w", kind, ErrKindMismatch)
		}
		return nil
	}

	b.queues[kind] = queue.New[T](kind.String(), b.opts.Backoff, b.logger)
	b.logger.Info("queue registered", zap.String("queue", kind.String()))
	return nil
}

// Enqueue adds item to the queue registered for kind
func Enqueue[T any](b *Broker, kind Kind, item T) error {
	q, err := lookup[T](b, kind)
	if err != nil {
		return err
	}
	q.Enqueue(item)
	b.metrics.RecordEnqueue(kind.String(), q.Len())
	return nil
}

// QueueLen returns the number of items waiting for kind
func QueueLen[T any](b *Broker, kind Kind) (int, error) {
	q, err := lookup[T](b, kind)
	if err != nil {
		return 0, err
	}
	return q.Len(), nil
}

func lookup[T any](b *Broker, kind Kind) (*queue.Queue[T], error) {
	b.mu.RLock()
	existing, ok := b.queues[kind]
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, ErrUnregisteredType)
	}
	q, ok := existing.(*queue.Queue[T])
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, ErrKindMismatch)
	}
	return q, nil
}

// StartConsumerLoop runs the consumer loop for kind in a background goroutine.
// The loop stops when ctx is cancelled, the listener is stopped or StopAll is
// called.
func StartConsumerLoop[T any](ctx context.Context, b *Broker, kind Kind, batchSize int, fn queue.BatchFunc[T]) (*Listener, error) {
	q, err := lookup[T](b, kind)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if l, ok := b.listeners[kind]; ok && !l.finished() {
		return nil, fmt.Errorf("%s: %w", kind, ErrAlreadyConsuming)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l := &Listener{
		kind:   kind,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	b.listeners[kind] = l

	name := kind.String()
	observed := func(ctx context.Context, size int, batch []T) error {
		start := time.Now()
		err := fn(ctx, size, batch)
		b.metrics.RecordBatch(name, len(batch), q.Len(), time.Since(start), err)
		return err
	}

	b.metrics.ListenerStarted()
	go func() {
		defer close(l.done)
		defer b.metrics.ListenerStopped()
		q.RunConsumerLoop(loopCtx, batchSize, observed)
	}()

	return l, nil
}

// Running returns the number of consumer loops that have not exited
func (b *Broker) Running() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, l := range b.listeners {
		if !l.finished() {
			n++
		}
	}
	return n
}

// StopAll cancels every consumer loop and waits for them to exit, bounded by
// the shutdown grace period and ctx. Loops still running afterwards are
// abandoned and logged. It returns the number of abandoned loops.
func (b *Broker) StopAll(ctx context.Context) int {
	b.mu.Lock()
	listeners := make([]*Listener, 0, len(b.listeners))
	for kind, l := range b.listeners {
		listeners = append(listeners, l)
		delete(b.listeners, kind)
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l.cancel()
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.ShutdownGrace)
	defer cancel()

	abandoned := 0
	for _, l := range listeners {
		select {
		case <-l.done:
		case <-ctx.Done():
			abandoned++
			b.logger.Warn("consumer loop did not stop within grace period",
				zap.String("queue", l.kind.String()),
				zap.Duration("grace", b.opts.ShutdownGrace),
			)
		}
	}

	b.logger.Info("broker stopped",
		zap.Int("listeners", len(listeners)),
		zap.Int("abandoned", abandoned),
	)
	return abandoned
}

// Listener is the handle of a running consumer loop
type Listener struct {
	kind   Kind
	cancel context.CancelFunc
	done   chan struct{}
}

// Kind returns the request kind the loop consumes
func (l *Listener) Kind() Kind {
	return l.kind
}

// Stop cancels the loop without waiting for it
func (l *Listener) Stop() {
	l.cancel()
}

// Done is closed once the loop has exited
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

func (l *Listener) finished() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
