package metrics

import (
	"time"
)

// MetricsCollector defines the interface for collecting store and ledger metrics.
type MetricsCollector interface {
	// Store operations
	RecordGet(store string, hit bool, duration time.Duration)
	RecordSet(store string, success bool, duration time.Duration)
	RecordDelete(store string, success bool, duration time.Duration)
	RecordError(store, operation, errorType string)

	// Circuit breaker
	RecordCircuitState(store string, state CircuitState)

	// Chain-level
	RecordChainGet(hit bool, layerIndex int, totalDuration time.Duration)

	// Ledger operations
	RecordLedgerOp(operation string, outcome Outcome, duration time.Duration)
	RecordBalance(cents int64)
}

// Outcome labels the result of a ledger operation.
type Outcome string

const (
	// OutcomeSuccess means the operation committed.
	OutcomeSuccess Outcome = "success"
	// OutcomeRejected means validation refused the operation; nothing was stored.
	OutcomeRejected Outcome = "rejected"
	// OutcomeFailed means the store failed.
	OutcomeFailed Outcome = "failed"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the store has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is a no-op implementation of MetricsCollector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

// RecordGet does nothing.
func (NoOpCollector) RecordGet(store string, hit bool, duration time.Duration) {}

// RecordSet does nothing.
func (NoOpCollector) RecordSet(store string, success bool, duration time.Duration) {}

// RecordDelete does nothing.
func (NoOpCollector) RecordDelete(store string, success bool, duration time.Duration) {}

// RecordError does nothing.
func (NoOpCollector) RecordError(store, operation, errorType string) {}

// RecordCircuitState does nothing.
func (NoOpCollector) RecordCircuitState(store string, state CircuitState) {}

// RecordChainGet does nothing.
func (NoOpCollector) RecordChainGet(hit bool, layerIndex int, totalDuration time.Duration) {}

// RecordLedgerOp does nothing.
func (NoOpCollector) RecordLedgerOp(operation string, outcome Outcome, duration time.Duration) {}

// RecordBalance does nothing.
func (NoOpCollector) RecordBalance(cents int64) {}
