package prometheus

import (
	"strconv"
	"time"

	"pocket-ledger/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements MetricsCollector for Prometheus.
type PrometheusCollector struct {
	namespace string

	// Store operations
	storeOps     *prometheus.CounterVec
	storeErrors  *prometheus.CounterVec
	storeLatency *prometheus.HistogramVec

	// Circuit breaker
	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	// Chain-level
	chainHits    *prometheus.CounterVec
	chainMisses  prometheus.Counter
	chainLatency *prometheus.HistogramVec

	// Ledger
	ledgerOps     *prometheus.CounterVec
	ledgerLatency *prometheus.HistogramVec
	balance       prometheus.Gauge
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	buckets := prometheus.ExponentialBuckets(0.0001, 2, 15) // 0.1ms to ~3s

	return &PrometheusCollector{
		namespace: namespace,
		storeOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Total number of key-value store operations per store, operation and result",
			},
			[]string{"store", "operation", "result"},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Total number of store errors per store, operation and error type",
			},
			[]string{"store", "operation", "error_type"},
		),
		storeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Store operation latency",
				Buckets:   buckets,
			},
			[]string{"store", "operation"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens per store",
			},
			[]string{"store"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state per store (0=closed, 1=open, 2=half-open)",
			},
			[]string{"store"},
		),
		chainHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chain_hits_total",
				Help:      "Total number of chain reads served, by layer index",
			},
			[]string{"layer_index"},
		),
		chainMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chain_misses_total",
				Help:      "Total number of chain reads that found nothing",
			},
		),
		chainLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chain_get_duration_seconds",
				Help:      "Chain read total latency",
				Buckets:   buckets,
			},
			[]string{"hit"},
		),
		ledgerOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_operations_total",
				Help:      "Total number of ledger operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		ledgerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ledger_operation_duration_seconds",
				Help:      "Ledger operation latency",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		balance: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ledger_balance_cents",
				Help:      "Last committed ledger balance in cents",
			},
		),
	}
}

// Register registers all metrics with the given Prometheus registry.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.storeOps,
		pc.storeErrors,
		pc.storeLatency,
		pc.circuitOpens,
		pc.circuitState,
		pc.chainHits,
		pc.chainMisses,
		pc.chainLatency,
		pc.ledgerOps,
		pc.ledgerLatency,
		pc.balance,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

func result(ok bool, okLabel, failLabel string) string {
	if ok {
		return okLabel
	}
	return failLabel
}

// RecordGet records a store read.
func (pc *PrometheusCollector) RecordGet(store string, hit bool, duration time.Duration) {
	pc.storeOps.WithLabelValues(store, "get", result(hit, "hit", "miss")).Inc()
	pc.storeLatency.WithLabelValues(store, "get").Observe(duration.Seconds())
}

// RecordSet records a store write.
func (pc *PrometheusCollector) RecordSet(store string, success bool, duration time.Duration) {
	pc.storeOps.WithLabelValues(store, "set", result(success, "success", "error")).Inc()
	pc.storeLatency.WithLabelValues(store, "set").Observe(duration.Seconds())
}

// RecordDelete records a store delete.
func (pc *PrometheusCollector) RecordDelete(store string, success bool, duration time.Duration) {
	pc.storeOps.WithLabelValues(store, "delete", result(success, "success", "error")).Inc()
	pc.storeLatency.WithLabelValues(store, "delete").Observe(duration.Seconds())
}

// RecordError records an error by type.
func (pc *PrometheusCollector) RecordError(store, operation, errorType string) {
	pc.storeErrors.WithLabelValues(store, operation, errorType).Inc()
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(store string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(store).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(store).Inc()
	}
}

// RecordChainGet records a chain-level read.
func (pc *PrometheusCollector) RecordChainGet(hit bool, layerIndex int, totalDuration time.Duration) {
	if hit {
		pc.chainHits.WithLabelValues(strconv.Itoa(layerIndex)).Inc()
	} else {
		pc.chainMisses.Inc()
	}
	pc.chainLatency.WithLabelValues(strconv.FormatBool(hit)).Observe(totalDuration.Seconds())
}

// RecordLedgerOp records a ledger operation outcome.
func (pc *PrometheusCollector) RecordLedgerOp(operation string, outcome metrics.Outcome, duration time.Duration) {
	pc.ledgerOps.WithLabelValues(operation, string(outcome)).Inc()
	pc.ledgerLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBalance records the latest committed balance.
func (pc *PrometheusCollector) RecordBalance(cents int64) {
	pc.balance.Set(float64(cents))
}
