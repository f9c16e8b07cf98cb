package memory

import (
	"sync"
	"time"

	"pocket-ledger/pkg/metrics"
)

// MemoryCollector implements MetricsCollector for in-memory testing.
type MemoryCollector struct {
	mu sync.RWMutex

	// Per-store metrics
	storeMetrics map[string]*StoreMetrics

	// Chain-level metrics
	chainHits        int64
	chainMisses      int64
	chainHitsByLayer map[int]int64

	// Ledger metrics, keyed by operation then outcome
	ledgerOps map[string]map[metrics.Outcome]int64
	balance   int64
}

// StoreMetrics holds metrics for a single store.
type StoreMetrics struct {
	// Operation counts
	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
	Errors  int64

	// Error types (by error_type label)
	ErrorsByType map[string]int64

	// Circuit breaker
	CircuitState metrics.CircuitState
	CircuitOpens int64

	// Latencies
	GetLatencies []time.Duration
	SetLatencies []time.Duration
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{
		storeMetrics:     make(map[string]*StoreMetrics),
		chainHitsByLayer: make(map[int]int64),
		ledgerOps:        make(map[string]map[metrics.Outcome]int64),
	}
}

// store returns the StoreMetrics for name. Callers hold mc.mu.
func (mc *MemoryCollector) store(name string) *StoreMetrics {
	sm, ok := mc.storeMetrics[name]
	if !ok {
		sm = &StoreMetrics{ErrorsByType: make(map[string]int64)}
		mc.storeMetrics[name] = sm
	}
	return sm
}

// RecordGet records a store read.
func (mc *MemoryCollector) RecordGet(store string, hit bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	sm := mc.store(store)
	if hit {
		sm.Hits++
	} else {
		sm.Misses++
	}
	sm.GetLatencies = append(sm.GetLatencies, duration)
}

// RecordSet records a store write.
func (mc *MemoryCollector) RecordSet(store string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	sm := mc.store(store)
	sm.Sets++
	if !success {
		sm.Errors++
	}
	sm.SetLatencies = append(sm.SetLatencies, duration)
}

// RecordDelete records a store delete.
func (mc *MemoryCollector) RecordDelete(store string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	sm := mc.store(store)
	sm.Deletes++
	if !success {
		sm.Errors++
	}
}

// RecordError records an error by type.
func (mc *MemoryCollector) RecordError(store, operation, errorType string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.store(store).ErrorsByType[errorType]++
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(store string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	sm := mc.store(store)
	if sm.CircuitState != metrics.CircuitOpen && state == metrics.CircuitOpen {
		sm.CircuitOpens++
	}
	sm.CircuitState = state
}

// RecordChainGet records a chain-level read.
func (mc *MemoryCollector) RecordChainGet(hit bool, layerIndex int, totalDuration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if hit {
		mc.chainHits++
		mc.chainHitsByLayer[layerIndex]++
	} else {
		mc.chainMisses++
	}
}

// RecordLedgerOp records a ledger operation outcome.
func (mc *MemoryCollector) RecordLedgerOp(operation string, outcome metrics.Outcome, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	byOutcome, ok := mc.ledgerOps[operation]
	if !ok {
		byOutcome = make(map[metrics.Outcome]int64)
		mc.ledgerOps[operation] = byOutcome
	}
	byOutcome[outcome]++
}

// RecordBalance records the latest committed balance.
func (mc *MemoryCollector) RecordBalance(cents int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.balance = cents
}

// Snapshot is a copy of the collected metrics.
type Snapshot struct {
	StoreMetrics     map[string]StoreMetrics
	ChainHits        int64
	ChainMisses      int64
	ChainHitsByLayer map[int]int64
	LedgerOps        map[string]map[metrics.Outcome]int64
	BalanceCents     int64
}

// Snapshot returns a copy of the current metrics state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snapshot := Snapshot{
		StoreMetrics:     make(map[string]StoreMetrics, len(mc.storeMetrics)),
		ChainHits:        mc.chainHits,
		ChainMisses:      mc.chainMisses,
		ChainHitsByLayer: make(map[int]int64, len(mc.chainHitsByLayer)),
		LedgerOps:        make(map[string]map[metrics.Outcome]int64, len(mc.ledgerOps)),
		BalanceCents:     mc.balance,
	}

	for name, sm := range mc.storeMetrics {
		c := *sm
		c.ErrorsByType = make(map[string]int64, len(sm.ErrorsByType))
		for k, v := range sm.ErrorsByType {
			c.ErrorsByType[k] = v
		}
		c.GetLatencies = append([]time.Duration(nil), sm.GetLatencies...)
		c.SetLatencies = append([]time.Duration(nil), sm.SetLatencies...)
		snapshot.StoreMetrics[name] = c
	}
	for idx, hits := range mc.chainHitsByLayer {
		snapshot.ChainHitsByLayer[idx] = hits
	}
	for op, byOutcome := range mc.ledgerOps {
		c := make(map[metrics.Outcome]int64, len(byOutcome))
		for k, v := range byOutcome {
			c[k] = v
		}
		snapshot.LedgerOps[op] = c
	}

	return snapshot
}

// LedgerOps returns how many times operation ended with outcome.
func (mc *MemoryCollector) LedgerOps(operation string, outcome metrics.Outcome) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return mc.ledgerOps[operation][outcome]
}

// Balance returns the last recorded balance in cents.
func (mc *MemoryCollector) Balance() int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return mc.balance
}

// GetStoreMetrics returns a copy of the metrics for a store, or nil.
func (mc *MemoryCollector) GetStoreMetrics(store string) *StoreMetrics {
	snapshot := mc.Snapshot()
	if sm, ok := snapshot.StoreMetrics[store]; ok {
		return &sm
	}
	return nil
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.storeMetrics = make(map[string]*StoreMetrics)
	mc.chainHits = 0
	mc.chainMisses = 0
	mc.chainHitsByLayer = make(map[int]int64)
	mc.ledgerOps = make(map[string]map[metrics.Outcome]int64)
	mc.balance = 0
}
