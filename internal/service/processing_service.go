package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Pbasnal/comic-visibility/internal/broker"
	"github.com/Pbasnal/comic-visibility/internal/correlation"
	"github.com/Pbasnal/comic-visibility/internal/model"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of requests a consumer loop drains per batch
const DefaultBatchSize = 10

// ProcessingOptions configures the background consumer loops
type ProcessingOptions struct {
	ComputationBatchSize int
	LookupBatchSize      int
	SweepInterval        time.Duration
}

// ProcessingService owns the queues and consumer loops that serve
// visibility computations and lookups
type ProcessingService struct {
	broker     *broker.Broker
	results    *correlation.Store
	visibility *VisibilityService
	opts       ProcessingOptions
	logger     *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	sweeper chan struct{}
}

// NewProcessingService creates a processing service
func NewProcessingService(
	b *broker.Broker,
	results *correlation.Store,
	visibility *VisibilityService,
	opts ProcessingOptions,
	logger *zap.Logger,
) *ProcessingService {
	if opts.ComputationBatchSize <= 0 {
		opts.ComputationBatchSize = DefaultBatchSize
	}
	if opts.LookupBatchSize <= 0 {
		opts.LookupBatchSize = DefaultBatchSize
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	return &ProcessingService{
		broker:     b,
		results:    results,
		visibility: visibility,
		opts:       opts,
		logger:     logger,
	}
}

// Start registers both queues and starts their consumer loops and the
// correlation sweeper
func (p *ProcessingService) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return fmt.Errorf("processing service: %w", broker.ErrAlreadyConsuming)
	}

	if err := broker.RegisterQueue[*model.VisibilityComputationRequest](p.broker, broker.KindVisibilityComputation); err != nil {
		return err
	}
	if err := broker.RegisterQueue[*model.VisibilityLookupRequest](p.broker, broker.KindVisibilityLookup); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)

	if _, err := broker.StartConsumerLoop(runCtx, p.broker, broker.KindVisibilityComputation,
		p.opts.ComputationBatchSize, p.visibility.ProcessBatch); err != nil {
		cancel()
		return err
	}
	if _, err := broker.StartConsumerLoop(runCtx, p.broker, broker.KindVisibilityLookup,
		p.opts.LookupBatchSize, p.visibility.ProcessLookups); err != nil {
		cancel()
		p.broker.StopAll(context.Background())
		return err
	}

	sweeper := make(chan struct{})
	go func() {
		defer close(sweeper)
		p.results.Run(runCtx, p.opts.SweepInterval)
	}()

	p.cancel = cancel
	p.sweeper = sweeper

	p.logger.Info("Processing service started",
		zap.Int("computation_batch_size", p.opts.ComputationBatchSize),
		zap.Int("lookup_batch_size", p.opts.LookupBatchSize),
		zap.Duration("sweep_interval", p.opts.SweepInterval))
	return nil
}

// Stop stops the consumer loops and the sweeper. It returns the number of
// loops that did not exit within the broker grace period.
func (p *ProcessingService) Stop(ctx context.Context) int {
	p.mu.Lock()
	cancel, sweeper := p.cancel, p.sweeper
	p.cancel, p.sweeper = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return 0
	}

	cancel()
	abandoned := p.broker.StopAll(ctx)
	<-sweeper

	p.logger.Info("Processing service stopped", zap.Int("abandoned_loops", abandoned))
	return abandoned
}
