package backend

import (
	"context"
	"fmt"

	"pocket-ledger/pkg/chain"
	"pocket-ledger/pkg/config"
	"pocket-ledger/pkg/kv"
	"pocket-ledger/pkg/kv/memory"
	"pocket-ledger/pkg/kv/postgres"
	"pocket-ledger/pkg/kv/redis"
	"pocket-ledger/pkg/kv/sqlite"
	"pocket-ledger/pkg/logging"
	"pocket-ledger/pkg/metrics"
	"pocket-ledger/pkg/resilience"

	"go.uber.org/zap"
)

// Result is the store stack built from a configuration.
type Result struct {
	// Store is what the ledger and the box registry use: the durable store
	// behind a resilience wrapper, optionally fronted by a memory cache.
	Store kv.Store
	// Durable is the unwrapped durable store.
	Durable kv.Store
	// Cleanup closes every layer.
	Cleanup func() error
}

// Factory builds store stacks.
type Factory struct {
	logger  *logging.Logger
	metrics metrics.MetricsCollector
}

// NewFactory creates a factory. Nil arguments fall back to the global
// logger and no metrics.
func NewFactory(logger *logging.Logger, collector metrics.MetricsCollector) *Factory {
	if logger == nil {
		logger = logging.Global().Named("backend")
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Factory{logger: logger, metrics: collector}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Create opens the configured durable store, checks that it answers and
// wraps it.
func (f *Factory) Create(ctx context.Context, cfg *config.Config) (*Result, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend: config is nil")
	}

	durable, err := f.open(cfg)
	if err != nil {
		return nil, err
	}

	if p, ok := durable.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			_ = durable.Close()
			return nil, fmt.Errorf("backend %s: ping: %w", cfg.Backend, err)
		}
	}

	rc := resilience.DefaultResilientConfig().WithTimeout(cfg.StoreTimeout)

	var store kv.Store
	if cfg.Cache && cfg.Backend != config.BackendMemory {
		c, err := chain.NewWithConfig(chain.Config{
			Metrics:    f.metrics,
			Resilience: &rc,
			MaxAge:     cfg.CacheMaxAge,
		}, memory.New(memory.Config{Name: "cache"}), durable)
		if err != nil {
			_ = durable.Close()
			return nil, err
		}
		store = c
	} else {
		store = resilience.NewWithMetrics(durable, rc, f.metrics)
	}

	f.logger.Info("store ready",
		zap.String("backend", cfg.Backend),
		logging.Store(store.Name()),
		zap.Bool("cache", cfg.Cache),
		zap.Duration("cache_max_age", cfg.CacheMaxAge),
		zap.Duration("timeout", cfg.StoreTimeout),
	)

	return &Result{
		Store:   store,
		Durable: durable,
		Cleanup: store.Close,
	}, nil
}

func (f *Factory) open(cfg *config.Config) (kv.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		f.logger.Warn("memory backend keeps nothing across restarts")
		return memory.New(memory.Config{}), nil

	case config.BackendSQLite:
		sc := sqlite.DefaultConfig()
		sc.Path = cfg.SQLite.Path
		if cfg.SQLite.BusyTimeout > 0 {
			sc.BusyTimeout = cfg.SQLite.BusyTimeout
		}
		store, err := sqlite.New(sc)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite store: %w", err)
		}
		f.logger.Info("initialized sqlite store", zap.String("path", sc.Path))
		return store, nil

	case config.BackendRedis:
		rc := redis.DefaultConfig()
		rc.Addr = cfg.Redis.Addr
		rc.ClusterAddrs = cfg.Redis.ClusterAddrs
		rc.Username = cfg.Redis.Username
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		rc.KeyPrefix = cfg.Redis.KeyPrefix
		store, err := redis.New(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis store: %w", err)
		}
		f.logger.Info("initialized redis store",
			zap.String("addr", rc.Addr),
			zap.Int("cluster_nodes", len(rc.ClusterAddrs)),
			zap.String("key_prefix", store.KeyPrefix()),
		)
		return store, nil

	case config.BackendPostgres:
		pc := postgres.DefaultConfig()
		pc.Host = cfg.Postgres.Host
		pc.Port = cfg.Postgres.Port
		pc.User = cfg.Postgres.User
		pc.Password = cfg.Postgres.Password
		pc.Database = cfg.Postgres.Database
		pc.SSLMode = cfg.Postgres.SSLMode
		pc.Table = cfg.Postgres.Table
		store, err := postgres.New(pc)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		f.logger.Info("initialized postgres store",
			zap.String("host", pc.Host),
			zap.String("database", pc.Database),
			zap.String("table", pc.Table),
		)
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}
