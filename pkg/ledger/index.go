package ledger

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	defaultIndexCapacity     = 10000
	defaultFalsePositiveRate = 0.01
)

// idIndex is a bloom filter over transaction ids. It follows the
// append-only history incrementally and rebuilds when the history it saw
// no longer matches, e.g. after an external rewrite.
type idIndex struct {
	mu       sync.Mutex
	filter   *bloom.BloomFilter
	capacity uint
	fpRate   float64

	// folded is how many history entries are in the filter; lastID is the
	// id of the last of them.
	folded int
	lastID string

	lookups        uint64
	rejected       uint64
	falsePositives uint64
}

// IndexStats describes how the transaction id index is performing.
type IndexStats struct {
	Indexed        int     `json:"indexed"`
	Capacity       uint    `json:"capacity"`
	Lookups        uint64  `json:"lookups"`
	Rejected       uint64  `json:"rejected"`
	FalsePositives uint64  `json:"false_positives"`
	FillRatio      float64 `json:"fill_ratio"`
}

func newIDIndex(capacity uint, fpRate float64) *idIndex {
	if capacity == 0 {
		capacity = defaultIndexCapacity
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = defaultFalsePositiveRate
	}
	return &idIndex{
		filter:   bloom.NewWithEstimates(capacity, fpRate),
		capacity: capacity,
		fpRate:   fpRate,
	}
}

// sync folds any entries of history the filter has not seen yet.
func (x *idIndex) sync(history []Transaction) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.folded > len(history) || (x.folded > 0 && history[x.folded-1].ID != x.lastID) {
		x.rebuild(uint(len(history)))
	}
	if uint(len(history)) > x.capacity {
		x.rebuild(uint(len(history)) * 2)
	}

	for _, tx := range history[x.folded:] {
		x.filter.AddString(tx.ID)
	}
	x.folded = len(history)
	if x.folded > 0 {
		x.lastID = history[x.folded-1].ID
	}
}

// rebuild drops every indexed id. Callers hold mu.
func (x *idIndex) rebuild(capacity uint) {
	if capacity < x.capacity {
		capacity = x.capacity
	}
	x.capacity = capacity
	x.filter = bloom.NewWithEstimates(capacity, x.fpRate)
	x.folded = 0
	x.lastID = ""
}

// mayContain reports whether id may be in the history. False is definite.
func (x *idIndex) mayContain(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.lookups++
	if !x.filter.TestString(id) {
		x.rejected++
		return false
	}
	return true
}

func (x *idIndex) recordFalsePositive() {
	x.mu.Lock()
	x.falsePositives++
	x.mu.Unlock()
}

func (x *idIndex) stats() IndexStats {
	x.mu.Lock()
	defer x.mu.Unlock()

	return IndexStats{
		Indexed:        x.folded,
		Capacity:       x.capacity,
		Lookups:        x.lookups,
		Rejected:       x.rejected,
		FalsePositives: x.falsePositives,
		FillRatio:      float64(x.filter.ApproximatedSize()) / float64(x.capacity),
	}
}
