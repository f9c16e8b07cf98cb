// Package kv defines the string key-value store contract that the ledger and
// the box registry persist through, together with its error taxonomy and key
// helpers. Backends live in the sub-packages.
package kv

import (
	"context"
	"sort"
)

// Store is a string-keyed store of UTF-8 text values.
//
// Implementations must be safe for concurrent use. Multi-key operations are
// atomic: SetMulti persists every entry or none of them, and GetMulti returns
// values that were all current at one instant.
type Store interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)

	// GetMulti returns the values for the given keys. Keys that are not
	// present are absent from the result; absence is not an error.
	GetMulti(ctx context.Context, keys []string) (map[string]string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value string) error

	// SetMulti stores all entries atomically.
	SetMulti(ctx context.Context, entries map[string]string) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Name identifies the store in logs and metrics.
	Name() string

	// Close releases resources held by the store.
	Close() error
}

// Keys returns the keys of entries in no particular order.
func Keys(entries map[string]string) []string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	return keys
}

// SortedKeys returns the keys of entries in ascending order.
func SortedKeys(entries map[string]string) []string {
	keys := Keys(entries)
	sort.Strings(keys)
	return keys
}

// ValidateEntries checks every key of a multi-key write.
func ValidateEntries(entries map[string]string) error {
	for k := range entries {
		if err := ValidateKey(k); err != nil {
			return err
		}
	}
	return nil
}

// ValidateKeys checks every key of a multi-key read.
func ValidateKeys(keys []string) error {
	for _, k := range keys {
		if err := ValidateKey(k); err != nil {
			return err
		}
	}
	return nil
}
