package memory

import (
	"context"
	"sync"

	"pocket-ledger/pkg/kv"
)

// Store is an in-memory kv.Store.
// Used as the fast layer of a chain and as the test backend.
type Store struct {
	// data holds the values
	data map[string]string

	// mu protects data; multi-key operations hold it for their whole duration
	mu sync.RWMutex

	name   string
	closed bool
}

// Config holds configuration for the memory store.
type Config struct {
	// Name is the store identifier used in logs and metrics
	Name string
}

// New creates an empty memory store.
func New(config Config) *Store {
	if config.Name == "" {
		config.Name = "memory"
	}
	return &Store{
		data: make(map[string]string),
		name: config.Name,
	}
}

// Get retrieves a value.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := kv.ValidateKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", kv.ErrLayerUnavailable
	}

	value, ok := s.data[key]
	if !ok {
		return "", kv.ErrKeyNotFound
	}
	return value, nil
}

// GetMulti returns a consistent snapshot of the requested keys.
func (s *Store) GetMulti(ctx context.Context, keys []string) (map[string]string, error) {
	if err := kv.ValidateKeys(keys); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, kv.ErrLayerUnavailable
	}

	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if value, ok := s.data[key]; ok {
			result[key] = value
		}
	}
	return result, nil
}

// Set stores a value.
func (s *Store) Set(ctx context.Context, key string, value string) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kv.ErrLayerUnavailable
	}

	s.data[key] = value
	return nil
}

// SetMulti stores all entries under one lock acquisition.
func (s *Store) SetMulti(ctx context.Context, entries map[string]string) error {
	if err := kv.ValidateEntries(entries); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kv.ErrLayerUnavailable
	}

	for k, v := range entries {
		s.data[k] = v
	}
	return nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kv.ErrLayerUnavailable
	}

	delete(s.data, key)
	return nil
}

// Clear removes every key.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]string)
	return nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Name returns the store identifier.
func (s *Store) Name() string {
	return s.name
}

// Close marks the store unusable. Later calls return kv.ErrLayerUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.data = nil
	return nil
}
