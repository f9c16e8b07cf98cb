package boxes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"pocket-ledger/pkg/kv"
	"pocket-ledger/pkg/logging"
	"pocket-ledger/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// KeyBoxes is the store key of the box list, before namespacing.
const KeyBoxes = "boxes"

// MaxNameLength is the longest box name, in characters.
const MaxNameLength = 60

// Registry owns the list of boxes stored under one key.
type Registry struct {
	store kv.Store
	key   string

	// mu serialises Create's read-modify-write.
	mu sync.Mutex

	metrics metrics.MetricsCollector
	logger  *logging.Logger
	newID   func() (string, error)
}

// Config configures a Registry.
type Config struct {
	// Namespace prefixes the store key ("alice" -> "alice:boxes").
	Namespace string

	Metrics metrics.MetricsCollector
	Logger  *logging.Logger
	NewID   func() (string, error)
}

// New creates a Registry over store with default configuration.
func New(store kv.Store) (*Registry, error) {
	return NewWithConfig(store, Config{})
}

// NewWithConfig creates a Registry over store.
func NewWithConfig(store kv.Store, config Config) (*Registry, error) {
	if store == nil {
		return nil, errors.New("boxes: store is required")
	}

	key := kv.NewKeyPattern(config.Namespace, ":").Build(KeyBoxes)
	if err := kv.ValidateKey(key); err != nil {
		return nil, fmt.Errorf("boxes: namespace %q: %w", config.Namespace, err)
	}

	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}
	if config.Logger == nil {
		config.Logger = logging.Global().Named("boxes")
	}
	if config.NewID == nil {
		config.NewID = func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		}
	}

	return &Registry{
		store:   store,
		key:     key,
		metrics: config.Metrics,
		logger:  config.Logger,
		newID:   config.NewID,
	}, nil
}

// List returns the boxes in stored order; empty, not nil, when none exist.
func (r *Registry) List(ctx context.Context) ([]Box, error) {
	boxes, _, err := r.load(ctx)
	return boxes, err
}

// Get returns the box with the given id.
func (r *Registry) Get(ctx context.Context, id string) (Box, error) {
	boxes, _, err := r.load(ctx)
	if err != nil {
		return Box{}, err
	}
	for _, b := range boxes {
		if b.ID == id {
			return b, nil
		}
	}
	return Box{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Create appends a new box. The name is trimmed and must be unique,
// ignoring case.
func (r *Registry) Create(ctx context.Context, name string) (Box, error) {
	start := time.Now()
	name = strings.TrimSpace(name)

	if name == "" {
		return r.reject(start, fmt.Errorf("%w: required", ErrInvalidName))
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return r.reject(start, fmt.Errorf("%w: longer than %d characters", ErrInvalidName, MaxNameLength))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Boxes added by other screens must survive the rewrite below.
	boxes, raw, err := r.load(kv.WithConsistentRead(ctx))
	if err != nil {
		return r.fail(start, err)
	}
	for _, b := range boxes {
		if strings.EqualFold(strings.TrimSpace(b.Name), name) {
			return r.reject(start, fmt.Errorf("%w: %q", ErrDuplicateName, name))
		}
	}

	id, err := r.newID()
	if err != nil {
		return r.fail(start, fmt.Errorf("generate box id: %w", err))
	}
	box := Box{ID: id, Name: name}

	encodedBox, err := json.Marshal(box)
	if err != nil {
		return r.fail(start, err)
	}
	// Existing entries are written back verbatim, including fields this
	// package does not know about.
	encoded, err := json.Marshal(append(raw, encodedBox))
	if err != nil {
		return r.fail(start, err)
	}

	if err := r.store.Set(ctx, r.key, string(encoded)); err != nil {
		return r.fail(start, kv.WriteError(err))
	}

	r.metrics.RecordLedgerOp("create_box", metrics.OutcomeSuccess, time.Since(start))
	r.logger.Info("box created", logging.BoxID(id), zap.String("name", name))
	return box, nil
}

// load returns the decoded boxes along with their raw JSON entries.
func (r *Registry) load(ctx context.Context) ([]Box, []json.RawMessage, error) {
	value, err := r.store.Get(ctx, r.key)
	if kv.IsNotFound(err) {
		return []Box{}, nil, nil
	}
	if err != nil {
		return nil, nil, kv.ReadError(err)
	}
	if strings.TrimSpace(value) == "" {
		return []Box{}, nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(value), &raw); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	boxes := make([]Box, len(raw))
	for i, entry := range raw {
		if err := json.Unmarshal(entry, &boxes[i]); err != nil {
			return nil, nil, fmt.Errorf("%w: entry %d: %v", ErrCorruptState, i, err)
		}
	}
	return boxes, raw, nil
}

func (r *Registry) reject(start time.Time, err error) (Box, error) {
	r.logger.Info("box creation rejected", zap.Error(err))
	r.metrics.RecordLedgerOp("create_box", metrics.OutcomeRejected, time.Since(start))
	return Box{}, err
}

func (r *Registry) fail(start time.Time, err error) (Box, error) {
	r.logger.Error("box creation failed", zap.Error(err))
	r.metrics.RecordLedgerOp("create_box", metrics.OutcomeFailed, time.Since(start))
	return Box{}, err
}
