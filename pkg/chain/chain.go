package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"pocket-ledger/pkg/kv"
	"pocket-ledger/pkg/logging"
	"pocket-ledger/pkg/metrics"
	"pocket-ledger/pkg/resilience"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Chain layers stores from fastest (L1) to slowest (LN). The last layer is
// the durable one and is authoritative: reads fall through to it, writes
// reach it first, and a failure there leaves the faster layers without the
// affected keys. Reads whose context carries kv.WithConsistentRead always
// answer from the durable layer.
type Chain struct {
	layers  []kv.Store
	sf      singleflight.Group
	metrics metrics.MetricsCollector
	logger  *logging.Logger
	maxAge  time.Duration
	now     func() time.Time

	// writeMu serialises writes so faster layers apply them in durable order.
	writeMu sync.Mutex

	// mu guards gens and dirty, and is held while warming faster layers.
	mu sync.Mutex
	// gens counts writes per key; a warm-up only lands if no write happened
	// since its read started.
	gens map[string]uint64
	// dirty marks keys whose faster-layer copies could not be invalidated.
	// Reads of dirty keys go straight to the durable layer.
	dirty map[string]bool
	// filled records when this chain last made the faster layers agree with
	// the durable one for a key. Only used when maxAge is set.
	filled map[string]time.Time
}

// Config configures a chain.
type Config struct {
	// Metrics receives chain and store metrics. Nil means no metrics.
	Metrics metrics.MetricsCollector

	// Resilience, when set, wraps every layer in a resilience.Store.
	// The fastest layer gets a 100ms timeout.
	Resilience *resilience.ResilientConfig

	// MaxAge bounds how long a faster-layer copy is served after this chain
	// last wrote or warmed it. Writes made directly to the durable layer by
	// other processes become visible within MaxAge. Zero serves copies until
	// they are overwritten.
	MaxAge time.Duration
}

// New creates a chain of stores without resilience wrapping.
// Returns an error if no layers are provided.
func New(layers ...kv.Store) (*Chain, error) {
	return NewWithConfig(Config{}, layers...)
}

// NewWithConfig creates a chain with the given configuration.
func NewWithConfig(config Config, layers ...kv.Store) (*Chain, error) {
	if len(layers) == 0 {
		return nil, errors.New("chain: at least one layer required")
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}

	wrapped := make([]kv.Store, len(layers))
	for i, layer := range layers {
		if layer == nil {
			return nil, fmt.Errorf("chain: layer %d is nil", i)
		}
		if config.Resilience == nil {
			wrapped[i] = layer
			continue
		}
		rc := *config.Resilience
		if i == 0 && len(layers) > 1 {
			rc = rc.WithTimeout(100 * time.Millisecond)
		}
		wrapped[i] = resilience.NewWithMetrics(layer, rc, config.Metrics)
	}

	if config.MaxAge < 0 {
		return nil, fmt.Errorf("chain: negative max age %v", config.MaxAge)
	}

	return &Chain{
		layers:  wrapped,
		metrics: config.Metrics,
		logger:  logging.Global().Named("chain"),
		maxAge:  config.MaxAge,
		now:     time.Now,
		gens:    make(map[string]uint64),
		dirty:   make(map[string]bool),
		filled:  make(map[string]time.Time),
	}, nil
}

func (c *Chain) durable() int {
	return len(c.layers) - 1
}

// snapshot returns the current generations of keys and whether the faster
// layers must be skipped because a key is dirty or its copy is too old.
func (c *Chain) snapshot(keys []string) ([]uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	gens := make([]uint64, len(keys))
	bypass := false
	for i, k := range keys {
		gens[i] = c.gens[k]
		bypass = bypass || c.dirty[k]
		if c.maxAge > 0 {
			at, ok := c.filled[k]
			bypass = bypass || !ok || now.Sub(at) > c.maxAge
		}
	}
	return gens, bypass
}

// markFilled records that the faster layers agree with the durable one for
// keys, or forgets it. Callers hold c.mu.
func (c *Chain) markFilled(keys []string, ok bool) {
	if c.maxAge == 0 {
		return
	}
	now := c.now()
	for _, k := range keys {
		if ok {
			c.filled[k] = now
		} else {
			delete(c.filled, k)
		}
	}
}

// markDirty records whether keys may be stale in a faster layer.
// Callers hold c.mu.
func (c *Chain) markDirty(keys []string, dirty bool) {
	for _, k := range keys {
		if dirty {
			c.dirty[k] = true
		} else {
			delete(c.dirty, k)
		}
	}
}

// flightKey separates durable-only reads from cached ones, so a consistent
// read never joins a traversal that may be answered by a faster layer.
func flightKey(op string, keys []string, gens []uint64, durableOnly bool) string {
	var b strings.Builder
	b.WriteString(op)
	if durableOnly {
		b.WriteString("!")
	}
	for i, k := range keys {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte('@')
		b.WriteString(strconv.FormatUint(gens[i], 10))
	}
	return b.String()
}

// Get retrieves a value from the first layer that has it.
// Concurrent reads of the same key and generation share one traversal.
func (c *Chain) Get(ctx context.Context, key string) (string, error) {
	if err := kv.ValidateKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	keys := []string{key}
	gens, bypass := c.snapshot(keys)
	bypass = bypass || kv.ConsistentRead(ctx)

	result, err, _ := c.sf.Do(flightKey("get", keys, gens, bypass), func() (interface{}, error) {
		values, err := c.read(ctx, keys, gens, bypass, func(ctx context.Context, layer kv.Store) (map[string]string, error) {
			v, err := layer.Get(ctx, key)
			if err != nil {
				if kv.IsNotFound(err) {
					return map[string]string{}, nil
				}
				return nil, err
			}
			return map[string]string{key: v}, nil
		})
		if err != nil {
			return nil, err
		}
		v, ok := values[key]
		if !ok {
			return nil, kv.ErrKeyNotFound
		}
		return v, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// GetMulti reads keys from the first layer that has all of them, falling
// back to the durable layer, whose answer is returned as is.
func (c *Chain) GetMulti(ctx context.Context, keys []string) (map[string]string, error) {
	if err := kv.ValidateKeys(keys); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return map[string]string{}, nil
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	gens, bypass := c.snapshot(sorted)
	bypass = bypass || kv.ConsistentRead(ctx)

	result, err, _ := c.sf.Do(flightKey("mget", sorted, gens, bypass), func() (interface{}, error) {
		return c.read(ctx, sorted, gens, bypass, func(ctx context.Context, layer kv.Store) (map[string]string, error) {
			return layer.GetMulti(ctx, sorted)
		})
	})
	if err != nil {
		return nil, err
	}

	// Callers own the map; the flight result may be shared.
	shared := result.(map[string]string)
	values := make(map[string]string, len(shared))
	for k, v := range shared {
		values[k] = v
	}
	return values, nil
}

// read walks the layers. Faster layers count as a hit only when they hold
// every key; their errors are skipped. The durable layer's answer, error
// included, is final. With durableOnly the walk starts at the durable layer.
func (c *Chain) read(ctx context.Context, keys []string, gens []uint64, durableOnly bool,
	fetch func(ctx context.Context, layer kv.Store) (map[string]string, error)) (map[string]string, error) {

	start := time.Now()
	first := 0
	if durableOnly {
		first = c.durable()
	}

	for i := first; i < len(c.layers); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		layer := c.layers[i]
		values, err := fetch(ctx, layer)

		if i < c.durable() {
			if err != nil {
				c.logger.Debug("skipping layer after read error",
					logging.Store(layer.Name()),
					zap.Error(err),
				)
				continue
			}
			if len(values) < len(keys) {
				continue
			}
			c.metrics.RecordChainGet(true, i, time.Since(start))
			if i > 0 {
				c.warm(ctx, keys, gens, values, i)
			}
			return values, nil
		}

		if err != nil {
			c.metrics.RecordChainGet(false, -1, time.Since(start))
			return nil, err
		}
		c.metrics.RecordChainGet(len(values) > 0, i, time.Since(start))
		if i > 0 {
			c.warm(ctx, keys, gens, values, i)
		}
		return values, nil
	}

	return nil, kv.ErrKeyNotFound
}

// warm copies values into the layers above hitIndex, unless a write to any
// of the keys happened since the read began.
func (c *Chain) warm(ctx context.Context, keys []string, gens []uint64, values map[string]string, hitIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, k := range keys {
		if c.gens[k] != gens[i] {
			return
		}
	}

	clean := true
	for i := hitIndex - 1; i >= 0; i-- {
		layer := c.layers[i]
		var err error
		if len(values) > 0 {
			err = layer.SetMulti(ctx, values)
		}
		for _, k := range keys {
			if _, ok := values[k]; ok || err != nil {
				continue
			}
			// Absent from the durable layer, so must be absent here too.
			if derr := layer.Delete(ctx, k); derr != nil {
				clean = false
			}
		}
		if err != nil {
			c.logger.Debug("warm-up failed", logging.Store(layer.Name()), zap.Error(err))
			if !c.invalidateLayer(ctx, layer, keys) {
				clean = false
			}
		}
	}

	c.markDirty(keys, !clean)
	if hitIndex == c.durable() {
		c.markFilled(keys, clean)
	}
}

// invalidateLayer removes keys from one faster layer. It reports whether
// every key is known to be gone.
func (c *Chain) invalidateLayer(ctx context.Context, layer kv.Store, keys []string) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()

	ok := true
	for _, k := range keys {
		if err := layer.Delete(ctx, k); err != nil {
			c.logger.Warn("failed to invalidate key",
				logging.Store(layer.Name()),
				logging.Key(k),
				zap.Error(err),
			)
			ok = false
		}
	}
	return ok
}

// Set writes one key through the chain.
func (c *Chain) Set(ctx context.Context, key string, value string) error {
	return c.SetMulti(ctx, map[string]string{key: value})
}

// SetMulti writes entries to the durable layer first, then to each faster
// layer. If the durable write fails the faster layers drop the keys and the
// error is returned. A faster-layer failure after a durable success only
// drops the keys from that layer.
func (c *Chain) SetMulti(ctx context.Context, entries map[string]string) error {
	if err := kv.ValidateEntries(entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	keys := kv.SortedKeys(entries)
	last := c.durable()
	err := c.layers[last].SetMulti(ctx, entries)

	// Faster layers change under mu with the generation bump, so a warm-up
	// that read the durable layer before this write cannot land after it.
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range keys {
		c.gens[k]++
	}

	if err != nil {
		// The outcome of a timed-out write is unknown; drop cached copies.
		clean := true
		for i := last - 1; i >= 0; i-- {
			if !c.invalidateLayer(ctx, c.layers[i], keys) {
				clean = false
			}
		}
		c.markDirty(keys, !clean)
		c.markFilled(keys, false)
		return err
	}

	clean := true
	for i := last - 1; i >= 0; i-- {
		layer := c.layers[i]
		if err := layer.SetMulti(ctx, entries); err != nil {
			c.logger.Warn("write to faster layer failed",
				logging.Store(layer.Name()),
				zap.Error(err),
			)
			if !c.invalidateLayer(ctx, layer, keys) {
				clean = false
			}
		}
	}
	c.markDirty(keys, !clean)
	c.markFilled(keys, clean)

	return nil
}

// Delete removes the key from the durable layer, then from the faster ones.
func (c *Chain) Delete(ctx context.Context, key string) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	keys := []string{key}
	err := c.layers[c.durable()].Delete(ctx, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[key]++
	clean := true
	for i := c.durable() - 1; i >= 0; i-- {
		if !c.invalidateLayer(ctx, c.layers[i], keys) {
			clean = false
		}
	}
	c.markDirty(keys, !clean)
	c.markFilled(keys, false)

	return err
}

// Name describes the chain, e.g. "chain(memory→sqlite)".
func (c *Chain) Name() string {
	names := make([]string, len(c.layers))
	for i, layer := range c.layers {
		names[i] = layer.Name()
	}
	return "chain(" + strings.Join(names, "→") + ")"
}

// Close closes all layers in the chain.
// Returns the first error encountered, but attempts to close all layers.
func (c *Chain) Close() error {
	var firstErr error
	for _, layer := range c.layers {
		if err := layer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Layers returns a copy of the layers slice for inspection.
func (c *Chain) Layers() []kv.Store {
	layers := make([]kv.Store, len(c.layers))
	copy(layers, c.layers)
	return layers
}

// Len returns the number of layers in the chain.
func (c *Chain) Len() int {
	return len(c.layers)
}

// String returns a string representation of the chain.
func (c *Chain) String() string {
	return fmt.Sprintf("%s: %d layers", c.Name(), len(c.layers))
}
