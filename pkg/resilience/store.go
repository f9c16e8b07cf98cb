package resilience

import (
	"context"
	"errors"
	"time"

	"pocket-ledger/pkg/kv"
	"pocket-ledger/pkg/logging"
	"pocket-ledger/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Store wraps a kv.Store with a circuit breaker and a per-operation timeout.
// Missing keys, invalid keys and caller cancellations do not count as failures.
type Store struct {
	store   kv.Store
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// New wraps store with the given configuration and no metrics.
func New(store kv.Store, config ResilientConfig) *Store {
	return NewWithMetrics(store, config, metrics.NoOpCollector{})
}

// NewWithMetrics wraps store and reports to the given collector.
func NewWithMetrics(store kv.Store, config ResilientConfig, collector metrics.MetricsCollector) *Store {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	logger := logging.Global().Named("resilience").Named(store.Name())

	rs := &Store{
		store:   store,
		timeout: config.Timeout,
		metrics: collector,
		logger:  logger,
	}

	logger.Debug("resilient store initialized",
		logging.Store(store.Name()),
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreakerConfig.MaxRequests),
		zap.Duration("circuit_interval", config.CircuitBreakerConfig.Interval),
		zap.Duration("circuit_timeout", config.CircuitBreakerConfig.Timeout),
	)

	settings := gobreaker.Settings{
		Name:        store.Name(),
		MaxRequests: config.CircuitBreakerConfig.MaxRequests,
		Interval:    config.CircuitBreakerConfig.Interval,
		Timeout:     config.CircuitBreakerConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if config.CircuitBreakerConfig.ReadyToTrip != nil {
				return config.CircuitBreakerConfig.ReadyToTrip(Counts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				})
			}
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				kv.IsNotFound(err) ||
				errors.Is(err, kv.ErrInvalidKey) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				logging.Store(name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)

			var state metrics.CircuitState
			switch to {
			case gobreaker.StateClosed:
				state = metrics.CircuitClosed
			case gobreaker.StateHalfOpen:
				state = metrics.CircuitHalfOpen
			case gobreaker.StateOpen:
				state = metrics.CircuitOpen
			}
			rs.metrics.RecordCircuitState(name, state)
		},
	}

	rs.cb = gobreaker.NewCircuitBreaker(settings)

	return rs
}

// execute runs op through the breaker under the configured timeout and maps
// breaker and deadline failures onto the kv error taxonomy.
func (rs *Store) execute(ctx context.Context, operation string, op func(ctx context.Context) (interface{}, error)) (interface{}, time.Duration, error) {
	start := time.Now()

	if rs.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rs.timeout)
		defer cancel()
	}

	result, err := rs.cb.Execute(func() (interface{}, error) {
		return op(ctx)
	})
	duration := time.Since(start)

	if err == nil || kv.IsNotFound(err) {
		return result, duration, err
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		rs.logger.Warn("circuit breaker open - request rejected", logging.Operation(operation))
		err = kv.ErrCircuitOpen
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		rs.logger.Warn("operation timeout",
			logging.Operation(operation),
			zap.Duration("timeout", rs.timeout),
			logging.Elapsed(duration),
		)
		err = kv.ErrTimeout
	default:
		rs.logger.Error("store operation failed",
			logging.Operation(operation),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	}

	rs.metrics.RecordError(rs.store.Name(), operation, kv.ClassifyError(err))
	return nil, duration, err
}

// Name returns the name of the underlying store.
func (rs *Store) Name() string {
	return rs.store.Name()
}

// Get retrieves a value with timeout and circuit breaker protection.
func (rs *Store) Get(ctx context.Context, key string) (string, error) {
	result, duration, err := rs.execute(ctx, "get", func(ctx context.Context) (interface{}, error) {
		return rs.store.Get(ctx, key)
	})
	rs.metrics.RecordGet(rs.store.Name(), err == nil, duration)
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// GetMulti reads several keys with timeout and circuit breaker protection.
func (rs *Store) GetMulti(ctx context.Context, keys []string) (map[string]string, error) {
	result, duration, err := rs.execute(ctx, "get_multi", func(ctx context.Context) (interface{}, error) {
		return rs.store.GetMulti(ctx, keys)
	})
	rs.metrics.RecordGet(rs.store.Name(), err == nil, duration)
	if err != nil {
		return nil, err
	}
	return result.(map[string]string), nil
}

// Set stores a value with timeout and circuit breaker protection.
func (rs *Store) Set(ctx context.Context, key string, value string) error {
	_, duration, err := rs.execute(ctx, "set", func(ctx context.Context) (interface{}, error) {
		return nil, rs.store.Set(ctx, key, value)
	})
	rs.metrics.RecordSet(rs.store.Name(), err == nil, duration)
	return err
}

// SetMulti stores several entries with timeout and circuit breaker protection.
func (rs *Store) SetMulti(ctx context.Context, entries map[string]string) error {
	_, duration, err := rs.execute(ctx, "set_multi", func(ctx context.Context) (interface{}, error) {
		return nil, rs.store.SetMulti(ctx, entries)
	})
	rs.metrics.RecordSet(rs.store.Name(), err == nil, duration)
	return err
}

// Delete removes a key with timeout and circuit breaker protection.
func (rs *Store) Delete(ctx context.Context, key string) error {
	_, duration, err := rs.execute(ctx, "delete", func(ctx context.Context) (interface{}, error) {
		return nil, rs.store.Delete(ctx, key)
	})
	rs.metrics.RecordDelete(rs.store.Name(), err == nil, duration)
	return err
}

// State returns the current circuit breaker state.
func (rs *Store) State() metrics.CircuitState {
	switch rs.cb.State() {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// Unwrap returns the wrapped store.
func (rs *Store) Unwrap() kv.Store {
	return rs.store
}

// Close closes the underlying store.
func (rs *Store) Close() error {
	return rs.store.Close()
}
