package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/aysihuniks/nhook/internal/cache"
	"github.com/aysihuniks/nhook/internal/circuitbreaker"
	"github.com/aysihuniks/nhook/internal/client"
	"github.com/aysihuniks/nhook/internal/config"
	"github.com/aysihuniks/nhook/internal/db"
	"github.com/aysihuniks/nhook/internal/invalidation"
	"github.com/aysihuniks/nhook/internal/logging"
	"github.com/aysihuniks/nhook/internal/placeholder"
	"github.com/aysihuniks/nhook/internal/query"
	"github.com/aysihuniks/nhook/internal/workerpool"
)

// loadConfig applies file, environment and flag settings in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(cfg)

	if cmd.Flags().Changed("pg-dsn") {
		cfg.Database.DSN = pgDSN
	}
	if err := cfg.ApplyOverrides(overrides); err != nil {
		return nil, err
	}
	cfg.Validate()
	return cfg, nil
}

// runtime holds the started components. Stop them with close.
type runtime struct {
	pool        *db.PostgresPool
	store       *cache.Store
	workers     *workerpool.Pool
	breaker     *circuitbreaker.Breaker
	exec        *query.Executor
	redis       *redis.Client
	broadcaster *invalidation.Broadcaster
	resolver    *placeholder.Resolver
	client      *client.Client
}

// invalidator is the broadcaster when Redis is enabled, else the executor.
func (rt *runtime) invalidator() invalidation.Target {
	if rt.broadcaster != nil {
		return rt.broadcaster
	}
	return rt.exec
}

func startRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	pool, err := db.NewPostgresPool(ctx, db.PostgresConfig{
		DSN:             cfg.PostgresDSN(),
		MaxConns:        int32(cfg.Pool.Size),
		MinConns:        int32(cfg.Pool.MinIdle),
		ConnectTimeout:  time.Duration(cfg.Pool.ConnectionTimeoutMs) * time.Millisecond,
		AcquireTimeout:  time.Duration(cfg.Pool.ConnectionTimeoutMs) * time.Millisecond,
		MaxConnIdleTime: time.Duration(cfg.Pool.IdleTimeoutMs) * time.Millisecond,
		MaxConnLifetime: time.Duration(cfg.Pool.MaxLifetimeMs) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	rt := &runtime{pool: pool}

	rt.store = cache.NewStore(cache.Config{
		MaxSize:       cfg.Cache.MaxSize,
		DefaultTTL:    cfg.CacheTTL(),
		SweepInterval: cfg.CleanupInterval(),
		IdleEviction:  cfg.Cache.AutoCleanup.Enabled,
		MaxIdle:       cfg.MaxIdle(),
		LogStats:      cfg.Cache.Stats.Enabled,
		Debug:         cfg.Cache.Debug.Enabled,
	})
	rt.store.Start()

	rt.workers = workerpool.New(workerpool.Config{
		Workers:   cfg.Query.Workers,
		QueueSize: cfg.Query.QueueSize,
	})
	rt.workers.Start()

	var opts []query.Option
	if cfg.Breaker.Enabled {
		rt.breaker = circuitbreaker.New(circuitbreaker.Config{
			ErrorPct:       cfg.Breaker.ErrorPct,
			MinRequests:    cfg.Breaker.MinRequests,
			WindowDuration: time.Duration(cfg.Breaker.WindowSeconds) * time.Second,
			OpenDuration:   time.Duration(cfg.Breaker.OpenSeconds) * time.Second,
			HalfOpenTrials: cfg.Breaker.HalfOpenTrials,
		})
		opts = append(opts, query.WithBreaker(rt.breaker))
	}

	rt.exec = query.New(query.Config{
		IdentityColumn: cfg.Database.IdentityColumn,
		CacheEnabled:   cfg.Cache.Enabled,
		CacheTTL:       cfg.CacheTTL(),
		QueryTimeout:   cfg.QueryTimeout(),
	}, pool, rt.store, rt.workers, opts...)

	if cfg.Redis.Enabled {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b := invalidation.New(rt.exec, rt.redis, cfg.Redis.Channel)
		if err := b.Start(ctx); err != nil {
			logging.Op().Warn("cross-node invalidation disabled", "addr", cfg.Redis.Addr, "error", err)
			rt.redis.Close()
			rt.redis = nil
		} else {
			rt.broadcaster = b
			logging.Op().Info("cross-node invalidation enabled", "channel", cfg.Redis.Channel, "node", b.NodeID())
		}
	}

	rt.resolver = placeholder.NewResolver(rt.exec, rt.invalidator(), cfg.PlaceholderWait())
	rt.client = client.New(rt.exec, rt.invalidator(), client.Config{
		IdentityColumn: cfg.Database.IdentityColumn,
		WaitTimeout:    cfg.PlaceholderWait(),
	})
	return rt, nil
}

// applyReloadable pushes settings that can change without a restart.
func (rt *runtime) applyReloadable(cfg *config.Config) {
	logging.SetLevelFromString(cfg.Observability.Logging.Level)
	rt.store.SetLogStats(cfg.Cache.Stats.Enabled)
	rt.store.SetDebug(cfg.Cache.Debug.Enabled)
	rt.exec.SetCacheEnabled(cfg.Cache.Enabled)
	if !cfg.Cache.Enabled {
		rt.exec.ClearAll()
	}
}

// close stops intake first, then drains workers, then releases the pool.
func (rt *runtime) close() {
	if rt.broadcaster != nil {
		rt.broadcaster.Close()
	}
	if rt.redis != nil {
		rt.redis.Close()
	}
	rt.workers.Stop()
	rt.store.Stop()
	rt.pool.Close()
}
