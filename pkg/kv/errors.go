package kv

import (
	"errors"
	"fmt"
	"strings"
)

// Common store errors.
// Backends return these (possibly wrapped) so callers can use errors.Is.
var (
	// ErrKeyNotFound is returned when a requested key does not exist
	ErrKeyNotFound = errors.New("kv: key not found")

	// ErrInvalidKey is returned when a key is empty, too long or contains invalid characters
	ErrInvalidKey = errors.New("kv: invalid key")

	// ErrReadFailed marks a read that could not be completed. It never means "absent".
	ErrReadFailed = errors.New("kv: read failed")

	// ErrWriteFailed marks a write that was not persisted
	ErrWriteFailed = errors.New("kv: write failed")

	// ErrLayerUnavailable is returned when a store is temporarily unavailable
	ErrLayerUnavailable = errors.New("kv: store unavailable")

	// ErrTimeout is returned when a store operation times out
	ErrTimeout = errors.New("kv: operation timeout")

	// ErrCircuitOpen is returned when the circuit breaker is in open state
	ErrCircuitOpen = errors.New("kv: circuit breaker open")
)

// IsNotFound checks if the given error indicates that a key was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsTimeout checks if the given error indicates a timeout occurred.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsUnavailable checks if the given error indicates a store is unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrLayerUnavailable)
}

// IsCircuitOpen checks if the given error indicates the circuit breaker is open.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// ClassifyError returns a string classification of the error type for metrics.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_breaker_open"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, ErrLayerUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case containsAny(msg, "connection", "connect", "dial"):
			return "connection"
		case containsAny(msg, "marshal", "unmarshal", "encode", "decode"):
			return "serialization"
		case containsAny(msg, "redis", "sqlite", "postgres", "pq:"):
			return "backend"
		default:
			return "other"
		}
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// WrapError wraps an error with the store name and operation.
func WrapError(err error, store string, operation string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("kv store %s %s: %w", store, operation, err)
}

// ReadError marks err as a failed read unless it already reports a missing
// key. The original error stays reachable through errors.Is.
func ReadError(err error) error {
	if err == nil || IsNotFound(err) || errors.Is(err, ErrReadFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrReadFailed, err)
}

// WriteError marks err as a failed write.
func WriteError(err error) error {
	if err == nil || errors.Is(err, ErrWriteFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrWriteFailed, err)
}
