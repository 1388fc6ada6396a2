package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aysihuniks/nhook/internal/logging"
)

// DatabaseConfig holds connection settings for the backing store.
type DatabaseConfig struct {
	DSN            string `yaml:"dsn"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Name           string `yaml:"name"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	SSLMode        string `yaml:"sslmode"`
	IdentityColumn string `yaml:"identity-column"`
}

// AutoCleanupConfig controls idle eviction during the cache sweep.
type AutoCleanupConfig struct {
	Enabled        bool `yaml:"enabled"`
	MaxIdleSeconds int  `yaml:"max-idle-seconds"`
}

// ToggleConfig is a section with a single enabled flag.
type ToggleConfig struct {
	Enabled bool `yaml:"enabled"`
}

// CacheConfig holds cache sizing and expiry settings.
type CacheConfig struct {
	Enabled                bool              `yaml:"enabled"`
	MaxSize                int               `yaml:"max-size"`
	TTLSeconds             int               `yaml:"ttl-seconds"`
	CleanupIntervalSeconds int               `yaml:"cleanup-interval-seconds"`
	AutoCleanup            AutoCleanupConfig `yaml:"auto-cleanup"`
	Stats                  ToggleConfig      `yaml:"stats"`
	Debug                  ToggleConfig      `yaml:"debug"`
}

// PoolConfig holds connection pool limits.
type PoolConfig struct {
	Size                int   `yaml:"size"`
	MinIdle             int   `yaml:"min-idle"`
	ConnectionTimeoutMs int64 `yaml:"connection-timeout-ms"`
	IdleTimeoutMs       int64 `yaml:"idle-timeout-ms"`
	MaxLifetimeMs       int64 `yaml:"max-lifetime-ms"`
}

// QueryConfig holds executor settings.
type QueryConfig struct {
	TimeoutSeconds int `yaml:"timeout-seconds"`
	Workers        int `yaml:"workers"`
	QueueSize      int `yaml:"queue-size"`
}

// PlaceholderConfig holds placeholder rendering settings.
type PlaceholderConfig struct {
	WaitTimeoutMs int64 `yaml:"wait-timeout-ms"`
}

// BreakerConfig configures the availability circuit breaker.
type BreakerConfig struct {
	Enabled        bool    `yaml:"enabled"`
	ErrorPct       float64 `yaml:"error-pct"`
	MinRequests    int     `yaml:"min-requests"`
	WindowSeconds  int     `yaml:"window-seconds"`
	OpenSeconds    int     `yaml:"open-seconds"`
	HalfOpenTrials int     `yaml:"half-open-trials"`
}

// RedisConfig holds Redis settings for cross-node invalidation.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	HTTPAddr string `yaml:"http-addr"`
}

// LoggingConfig holds operational and query log settings.
type LoggingConfig struct {
	Format       string `yaml:"format"`
	Level        string `yaml:"level"`
	Queries      bool   `yaml:"queries"`
	QueryLogPath string `yaml:"query-log-path"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service-name"`
	SampleRate  float64 `yaml:"sample-rate"`
}

// ObservabilityConfig groups logging, metrics and tracing.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// Config is the central configuration struct.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Pool          PoolConfig          `yaml:"pool"`
	Query         QueryConfig         `yaml:"query"`
	Placeholder   PlaceholderConfig   `yaml:"placeholder"`
	Breaker       BreakerConfig       `yaml:"breaker"`
	Redis         RedisConfig         `yaml:"redis"`
	Daemon        DaemonConfig        `yaml:"daemon"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Name:           "minecraft",
			User:           "postgres",
			SSLMode:        "disable",
			IdentityColumn: "player",
		},
		Cache: CacheConfig{
			Enabled:                true,
			MaxSize:                1000,
			TTLSeconds:             60,
			CleanupIntervalSeconds: 60,
			AutoCleanup: AutoCleanupConfig{
				Enabled:        true,
				MaxIdleSeconds: 600,
			},
		},
		Pool: PoolConfig{
			Size:                10,
			MinIdle:             2,
			ConnectionTimeoutMs: 30000,
			IdleTimeoutMs:       600000,
			MaxLifetimeMs:       1800000,
		},
		Query: QueryConfig{
			TimeoutSeconds: 30,
			Workers:        16,
			QueueSize:      1024,
		},
		Placeholder: PlaceholderConfig{
			WaitTimeoutMs: 5000,
		},
		Breaker: BreakerConfig{
			Enabled:        true,
			ErrorPct:       50,
			MinRequests:    5,
			WindowSeconds:  30,
			OpenSeconds:    10,
			HalfOpenTrials: 1,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "nhook:cache:invalidate",
		},
		Daemon: DaemonConfig{
			HTTPAddr: ":8085",
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Format: "text",
				Level:  "info",
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "nhook",
			},
			Tracing: TracingConfig{
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "nhook",
				SampleRate:  1.0,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("NHOOK_PG_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("NHOOK_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("NHOOK_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("NHOOK_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("NHOOK_LOG_LEVEL"); v != "" {
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("NHOOK_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)

// Validate repairs invalid values in place, logging a warning for each fix.
// It returns false if anything had to be changed.
func (c *Config) Validate() bool {
	valid := true
	fix := func(msg string, apply func()) {
		logging.Op().Warn(msg)
		apply()
		valid = false
	}

	if c.Database.DSN == "" {
		if c.Database.Host == "" {
			fix("database host is empty, using default: localhost", func() { c.Database.Host = "localhost" })
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			fix("invalid database port, using default: 5432", func() { c.Database.Port = 5432 })
		}
		if c.Database.Name == "" {
			fix("database name is empty, using default: minecraft", func() { c.Database.Name = "minecraft" })
		}
	}
	if !identifierPattern.MatchString(c.Database.IdentityColumn) {
		fix("invalid identity column, using default: player", func() { c.Database.IdentityColumn = "player" })
	}
	if c.Cache.MaxSize <= 0 {
		fix("invalid cache max size, using default: 1000", func() { c.Cache.MaxSize = 1000 })
	}
	if c.Cache.TTLSeconds <= 0 {
		fix("invalid cache TTL, using default: 60 seconds", func() { c.Cache.TTLSeconds = 60 })
	}
	if c.Cache.CleanupIntervalSeconds <= 0 {
		fix("invalid cache cleanup interval, using default: 60 seconds", func() { c.Cache.CleanupIntervalSeconds = 60 })
	}
	if c.Cache.AutoCleanup.MaxIdleSeconds <= 0 {
		fix("invalid cache max idle time, using default: 600 seconds", func() { c.Cache.AutoCleanup.MaxIdleSeconds = 600 })
	}
	if c.Pool.Size <= 0 {
		fix("invalid connection pool size, using default: 10", func() { c.Pool.Size = 10 })
	}
	if c.Pool.MinIdle < 0 || c.Pool.MinIdle > c.Pool.Size {
		fix("invalid pool min idle, clamping to pool size", func() {
			c.Pool.MinIdle = max(0, min(c.Pool.MinIdle, c.Pool.Size))
		})
	}
	if c.Pool.ConnectionTimeoutMs <= 0 {
		fix("invalid connection timeout, using default: 30000 ms", func() { c.Pool.ConnectionTimeoutMs = 30000 })
	}
	if c.Query.TimeoutSeconds <= 0 {
		fix("invalid query timeout, using default: 30 seconds", func() { c.Query.TimeoutSeconds = 30 })
	}
	if c.Query.Workers <= 0 {
		fix("invalid query workers, using default: 16", func() { c.Query.Workers = 16 })
	}
	if c.Query.QueueSize <= 0 {
		fix("invalid query queue size, using default: 1024", func() { c.Query.QueueSize = 1024 })
	}
	if c.Placeholder.WaitTimeoutMs <= 0 {
		fix("invalid placeholder wait timeout, using default: 5000 ms", func() { c.Placeholder.WaitTimeoutMs = 5000 })
	}

	if !valid {
		logging.Op().Info("configuration validation completed with fixes applied")
	}
	return valid
}

// PostgresDSN returns the explicit DSN, or one built from the discrete fields.
func (c *Config) PostgresDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	u := &url.URL{
		Scheme: "postgres",
		Host:   c.Database.Host + ":" + strconv.Itoa(c.Database.Port),
		Path:   "/" + c.Database.Name,
	}
	if c.Database.Password != "" {
		u.User = url.UserPassword(c.Database.User, c.Database.Password)
	} else if c.Database.User != "" {
		u.User = url.User(c.Database.User)
	}
	if c.Database.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(c.Database.SSLMode)
	}
	return u.String()
}

// CacheTTL returns cache.ttl-seconds as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// CleanupInterval returns cache.cleanup-interval-seconds as a duration.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Cache.CleanupIntervalSeconds) * time.Second
}

// MaxIdle returns cache.auto-cleanup.max-idle-seconds as a duration.
func (c *Config) MaxIdle() time.Duration {
	return time.Duration(c.Cache.AutoCleanup.MaxIdleSeconds) * time.Second
}

// QueryTimeout returns query.timeout-seconds as a duration.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Query.TimeoutSeconds) * time.Second
}

// PlaceholderWait returns placeholder.wait-timeout-ms as a duration.
func (c *Config) PlaceholderWait() time.Duration {
	return time.Duration(c.Placeholder.WaitTimeoutMs) * time.Millisecond
}

// Summary returns a one-line description of the effective settings.
func (c *Config) Summary() string {
	cache := "OFF"
	if c.Cache.Enabled {
		cache = "ON"
	}
	return fmt.Sprintf(
		"Database: %s:%d/%s | Cache: %s (Size: %d, TTL: %ds) | Pool: %d connections | Workers: %d | Log Level: %s",
		c.Database.Host, c.Database.Port, c.Database.Name,
		cache, c.Cache.MaxSize, c.Cache.TTLSeconds,
		c.Pool.Size, c.Query.Workers, c.Observability.Logging.Level,
	)
}
