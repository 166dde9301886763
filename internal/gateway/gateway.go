// Package gateway submits requests to the broker and waits for their
// correlated results.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Pbasnal/comic-visibility/internal/broker"
	"github.com/Pbasnal/comic-visibility/internal/correlation"
	"github.com/Pbasnal/comic-visibility/internal/metrics"
	"go.uber.org/zap"
)

var (
	// ErrTimeout is returned when no result arrives before the deadline. The
	// request may still complete later.
	ErrTimeout = errors.New("timed out waiting for result")

	// ErrUnexpectedResult is returned when the correlated result has the wrong type
	ErrUnexpectedResult = errors.New("unexpected result type")

	// ErrDuplicateID is returned when a caller-chosen id is still in flight
	ErrDuplicateID = errors.New("request id already in use")
)

// DefaultTimeout is used when the gateway is created without a timeout
const DefaultTimeout = 10 * time.Second

// Request is a payload that carries a correlation id
type Request interface {
	RequestID() int64
	AssignID(id int64)
}

// Gateway assigns ids, enqueues requests and waits on the correlation store
type Gateway struct {
	broker  *broker.Broker
	results *correlation.Store
	timeout time.Duration
	nextID  atomic.Int64
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a gateway
func New(b *broker.Broker, results *correlation.Store, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		broker:  b,
		results: results,
		timeout: timeout,
		metrics: m,
		logger:  logger,
	}
}

// Timeout returns the submit deadline
func (g *Gateway) Timeout() time.Duration {
	return g.timeout
}

// NextID returns a correlation id greater than every id issued or
// caller-chosen so far
func (g *Gateway) NextID() int64 {
	return g.nextID.Add(1)
}

// advancePast moves the id counter to at least id so generated ids never
// reuse a caller-chosen one
func (g *Gateway) advancePast(id int64) {
	for {
		cur := g.nextID.Load()
		if cur >= id || g.nextID.CompareAndSwap(cur, id) {
			return
		}
	}
}

// Enqueue assigns an id to req if it has none, enqueues it and returns the id.
// A caller-chosen id that is still in flight is rejected with ErrDuplicateID.
func Enqueue[Req Request](g *Gateway, kind broker.Kind, req Req) (int64, error) {
	if req.RequestID() == 0 {
		req.AssignID(g.NextID())
	} else {
		g.advancePast(req.RequestID())
	}
	id := req.RequestID()

	if !g.results.Reserve(id) {
		g.metrics.RecordGatewayRequest(kind.String(), "rejected", 0)
		return 0, fmt.Errorf("request %d: %w", id, ErrDuplicateID)
	}

	if err := broker.Enqueue(g.broker, kind, req); err != nil {
		g.results.Remove(id)
		g.metrics.RecordGatewayRequest(kind.String(), "rejected", 0)
		return 0, fmt.Errorf("failed to enqueue request %d: %w", id, err)
	}
	return id, nil
}

// TryGet returns the result for id if it is available and removes it
func TryGet[Res correlation.Value](g *Gateway, id int64) (Res, bool) {
	return correlation.Take[Res](g.results, id)
}

// Submit enqueues req and waits for its result until the gateway timeout or
// ctx expires. It returns ErrTimeout when the gateway deadline passes first.
func Submit[Res correlation.Value, Req Request](ctx context.Context, g *Gateway, kind broker.Kind, req Req) (Res, error) {
	var zero Res
	start := time.Now()

	id, err := Enqueue(g, kind, req)
	if err != nil {
		return zero, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	value, err := g.results.Wait(waitCtx, id)
	if err != nil {
		if ctx.Err() != nil {
			g.metrics.RecordGatewayRequest(kind.String(), "cancelled", time.Since(start))
			return zero, ctx.Err()
		}
		g.metrics.RecordGatewayRequest(kind.String(), "timeout", time.Since(start))
		g.logger.Warn("request timed out",
			zap.String("kind", kind.String()),
			zap.Int64("request_id", id),
			zap.Duration("timeout", g.timeout),
		)
		return zero, fmt.Errorf("request %d: %w", id, ErrTimeout)
	}

	g.results.Remove(id)

	res, ok := value.(Res)
	if !ok {
		g.metrics.RecordGatewayRequest(kind.String(), "error", time.Since(start))
		return zero, fmt.Errorf("request %d got %T: %w", id, value, ErrUnexpectedResult)
	}

	g.metrics.RecordGatewayRequest(kind.String(), "success", time.Since(start))
	return res, nil
}
