// Package main provides the entry point for the comic visibility server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Pbasnal/comic-visibility/internal/broker"
	"github.com/Pbasnal/comic-visibility/internal/config"
	"github.com/Pbasnal/comic-visibility/internal/correlation"
	apierrors "github.com/Pbasnal/comic-visibility/internal/errors"
	"github.com/Pbasnal/comic-visibility/internal/gateway"
	"github.com/Pbasnal/comic-visibility/internal/handler"
	"github.com/Pbasnal/comic-visibility/internal/health"
	"github.com/Pbasnal/comic-visibility/internal/metrics"
	"github.com/Pbasnal/comic-visibility/internal/queue"
	"github.com/Pbasnal/comic-visibility/internal/server"
	"github.com/Pbasnal/comic-visibility/internal/service"
	"github.com/Pbasnal/comic-visibility/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("Starting comic visibility server",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store_driver", cfg.Store.Driver),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.Int("batch_size", cfg.Broker.BatchSize))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server exited with error", zap.Error(err))
	}

	logger.Info("Comic visibility server shutdown complete")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	cache, memoryCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cache.Close()

	b := broker.New(broker.Options{
		Backoff:       queue.NewIdleBackoff(cfg.Broker.IdleThreshold, cfg.Broker.IdleBackoff),
		ShutdownGrace: cfg.Broker.ShutdownGrace,
	}, m, logger)
	results := correlation.NewStore(cfg.Correlation.TTL, m, logger)

	visibility := service.NewVisibilityService(repo, cache, results, cfg.Broker.Concurrency, m, logger)
	processing := service.NewProcessingService(b, results, visibility, service.ProcessingOptions{
		ComputationBatchSize: cfg.Broker.BatchSize,
		LookupBatchSize:      cfg.Broker.LookupBatchSize,
		SweepInterval:        cfg.Correlation.SweepInterval,
	}, logger)

	// consumer loops outlive the signal context so requests still waiting in
	// HTTP handlers get their results while the server shuts down. Items
	// still queued when Stop runs are dropped.
	if err := processing.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}

	gw := gateway.New(b, results, cfg.Gateway.Timeout, m, logger)
	errorHandler := apierrors.NewHandler(logger)
	healthCheck := health.NewHealthCheck(repo, cache, b, 0, m, logger)
	handlers := handler.NewHandlers(gw, errorHandler, logger)
	httpServer := server.NewServer(cfg, handlers, healthCheck, errorHandler, m, logger)

	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, logger)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(httpServer.Start)
	if metricsServer != nil {
		g.Go(metricsServer.Start)
	}
	g.Go(func() error {
		healthCheck.Run(gctx)
		return nil
	})
	if memoryCache != nil {
		g.Go(func() error {
			memoryCache.Run(gctx, cfg.Cache.CleanupInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Initiating graceful shutdown")
		m.SetHealthStatus(false)

		servers := []stoppable{httpServer}
		if metricsServer != nil {
			servers = append(servers, metricsServer)
		}
		shutdown(cfg.Server.ShutdownTimeout, processing, logger, servers...)
		return nil
	})

	return g.Wait()
}

type stoppable interface {
	Shutdown(ctx context.Context) error
}

// shutdown stops the servers within timeout and then the consumer loops. The
// loops get a context of their own, so the broker shutdown grace is not cut
// short by the time the servers took. It returns the abandoned loop count.
func shutdown(timeout time.Duration, processing *service.ProcessingService, logger *zap.Logger, servers ...stoppable) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Failed to shutdown server", zap.Error(err))
		}
	}

	abandoned := processing.Stop(context.Background())
	if abandoned > 0 {
		logger.Warn("Consumer loops abandoned at shutdown", zap.Int("abandoned", abandoned))
	}
	return abandoned
}

func openRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.ComicRepository, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		fixture, err := store.LoadFixture(cfg.Store.FixturePath)
		if err != nil {
			return nil, err
		}
		logger.Info("Using in-memory comic store", zap.String("fixture", cfg.Store.FixturePath))
		return store.NewMemoryComicStore(fixture, logger), nil

	default:
		pg, err := store.NewPostgresComicStore(ctx, store.PostgresConfig{
			Host:           cfg.Database.Host,
			Port:           cfg.Database.Port,
			Database:       cfg.Database.Database,
			User:           cfg.Database.User,
			Password:       cfg.Database.Password,
			MaxConnections: cfg.Database.MaxConnections,
			MinConnections: cfg.Database.MinConnections,
		}, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Store.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, err
			}
		}
		return pg, nil
	}
}

// openCache returns the visibility cache and, when Redis is disabled, the
// in-memory cache whose cleanup loop the caller must run.
func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.VisibilityCache, *store.InMemoryVisibilityCache, error) {
	if !cfg.Redis.Enabled {
		memoryCache := store.NewInMemoryVisibilityCache(cfg.Cache.MaxSize, cfg.Cache.TTL, logger)
		return memoryCache, memoryCache, nil
	}

	redisCache, err := store.NewRedisVisibilityCache(ctx, store.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		TTL:      cfg.Redis.TTL,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return redisCache, nil, nil
}

// initLogger builds the zap logger from the logging configuration.
func initLogger(cfg config.LoggingConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths = []string{"stdout"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
