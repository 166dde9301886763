package main

import (
	"context"
	"testing"
	"time"

	"github.com/Pbasnal/comic-visibility/internal/broker"
	"github.com/Pbasnal/comic-visibility/internal/config"
	"github.com/Pbasnal/comic-visibility/internal/correlation"
	"github.com/Pbasnal/comic-visibility/internal/model"
	"github.com/Pbasnal/comic-visibility/internal/service"
	"github.com/Pbasnal/comic-visibility/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitLogger(t *testing.T) {
	logger := initLogger(config.LoggingConfig{Level: "debug", Format: "console"})
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger = initLogger(config.LoggingConfig{Level: "bogus", Format: "json"})
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestOpenRepository_Memory(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{
		Driver:      config.DriverMemory,
		FixturePath: "../../configs/fixtures/comics.yaml",
	}}

	repo, err := openRepository(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer repo.Close()

	ids, err := repo.GetComicIDs(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 4}, ids)
}

func TestOpenRepository_MissingFixture(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Driver: config.DriverMemory, FixturePath: "does-not-exist.yaml"}}

	_, err := openRepository(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestOpenCache_InMemoryWhenRedisDisabled(t *testing.T) {
	cfg := &config.Config{Cache: config.CacheConfig{MaxSize: 10}}

	cache, memoryCache, err := openCache(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, memoryCache)
	assert.Same(t, store.VisibilityCache(memoryCache), cache)
}

// slowRepository holds every comic id lookup long enough to be in flight
// during shutdown
type slowRepository struct {
	store.ComicRepository
	started chan struct{}
	delay   time.Duration
}

func (r *slowRepository) GetComicIDs(ctx context.Context, startID int64, limit int) ([]int64, error) {
	close(r.started)
	time.Sleep(r.delay)
	return r.ComicRepository.GetComicIDs(ctx, startID, limit)
}

// blockingServer takes the whole shutdown timeout to stop
type blockingServer struct{}

func (blockingServer) Shutdown(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestShutdown_ConsumerLoopsKeepTheirGrace(t *testing.T) {
	logger := zap.NewNop()
	fixture, err := store.LoadFixture("../../configs/fixtures/comics.yaml")
	require.NoError(t, err)

	repo := &slowRepository{
		ComicRepository: store.NewMemoryComicStore(fixture, logger),
		started:         make(chan struct{}),
		delay:           100 * time.Millisecond,
	}
	b := broker.New(broker.Options{ShutdownGrace: 2 * time.Second}, nil, logger)
	results := correlation.NewStore(0, nil, logger)
	visibility := service.NewVisibilityService(repo, nil, results, 1, nil, logger)
	processing := service.NewProcessingService(b, results, visibility, service.ProcessingOptions{}, logger)
	require.NoError(t, processing.Start(context.Background()))

	require.NoError(t, broker.Enqueue(b, broker.KindVisibilityComputation,
		&model.VisibilityComputationRequest{ID: 1, StartID: 1, Limit: 1}))
	<-repo.started

	abandoned := shutdown(10*time.Millisecond, processing, logger, blockingServer{})

	assert.Equal(t, 0, abandoned)
	_, ok := results.Get(1)
	assert.True(t, ok, "the in-flight batch finished before the loops stopped")
}
