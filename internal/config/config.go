// Package config provides configuration management for the visibility server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all configuration for the visibility server.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Broker      BrokerConfig      `mapstructure:"broker"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Store       StoreConfig       `mapstructure:"store"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Cache       CacheConfig       `mapstructure:"cache"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// BrokerConfig holds queue and consumer loop configuration.
type BrokerConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	LookupBatchSize int           `mapstructure:"lookup_batch_size"`
	IdleThreshold   int           `mapstructure:"idle_threshold"`
	IdleBackoff     time.Duration `mapstructure:"idle_backoff"`
	ShutdownGrace   time.Duration `mapstructure:"shutdown_grace"`
	Concurrency     int           `mapstructure:"concurrency"`
}

// GatewayConfig holds submit-and-wait configuration.
type GatewayConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// CorrelationConfig holds result store configuration.
type CorrelationConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// StoreConfig selects the comic repository.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	FixturePath string `mapstructure:"fixture_path"`
	Migrate     bool   `mapstructure:"migrate"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MinConnections int    `mapstructure:"min_connections"`
}

// RedisConfig holds Redis cache configuration.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PoolSize int           `mapstructure:"pool_size"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// CacheConfig holds the in-memory visibility cache used when Redis is disabled.
type CacheConfig struct {
	MaxSize         int           `mapstructure:"max_size"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/comic-visibility/")
	}

	v.SetEnvPrefix("COMIC_VISIBILITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// a missing config file is fine, defaults and env still apply
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("broker.batch_size", 10)
	v.SetDefault("broker.lookup_batch_size", 10)
	v.SetDefault("broker.idle_threshold", 5)
	v.SetDefault("broker.idle_backoff", "10ms")
	v.SetDefault("broker.shutdown_grace", "30s")
	v.SetDefault("broker.concurrency", 4)

	v.SetDefault("gateway.timeout", "10s")

	v.SetDefault("correlation.ttl", "5m")
	v.SetDefault("correlation.sweep_interval", "30s")

	v.SetDefault("store.driver", DriverPostgres)
	v.SetDefault("store.fixture_path", "configs/fixtures/comics.yaml")
	v.SetDefault("store.migrate", false)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "comics")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 20)
	v.SetDefault("database.min_connections", 2)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.ttl", "1h")

	v.SetDefault("cache.max_size", 10000)
	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("cache.cleanup_interval", "1m")

	v.SetDefault("rate_limiter.enabled", true)
	v.SetDefault("rate_limiter.requests_per_second", 100.0)
	v.SetDefault("rate_limiter.burst_size", 50)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Broker.BatchSize <= 0 || c.Broker.LookupBatchSize <= 0 {
		return fmt.Errorf("broker batch sizes must be positive")
	}
	if c.Broker.IdleThreshold <= 0 || c.Broker.IdleBackoff <= 0 {
		return fmt.Errorf("broker idle threshold and backoff must be positive")
	}
	if c.Broker.Concurrency <= 0 {
		return fmt.Errorf("broker concurrency must be positive")
	}

	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("gateway timeout must be positive")
	}

	if c.Correlation.TTL > 0 && c.Correlation.TTL < c.Gateway.Timeout {
		return fmt.Errorf("correlation ttl %s must not be shorter than gateway timeout %s",
			c.Correlation.TTL, c.Gateway.Timeout)
	}

	switch c.Store.Driver {
	case DriverPostgres:
		if c.Database.Host == "" || c.Database.Database == "" {
			return fmt.Errorf("database host and name are required for the postgres driver")
		}
	case DriverMemory:
		if c.Store.FixturePath == "" {
			return fmt.Errorf("store fixture path is required for the memory driver")
		}
	default:
		return fmt.Errorf("unknown store driver: %q", c.Store.Driver)
	}

	if c.Redis.Enabled && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		return fmt.Errorf("invalid redis port: %d", c.Redis.Port)
	}

	if c.RateLimiter.Enabled {
		if c.RateLimiter.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate limiter requests per second must be positive")
		}
		if c.RateLimiter.BurstSize <= 0 {
			return fmt.Errorf("rate limiter burst size must be positive")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
		if c.Metrics.Port == c.Server.Port {
			return fmt.Errorf("metrics port must differ from server port")
		}
	}

	return nil
}
