package mock

import (
	"context"
	"sync/atomic"

	"pocket-ledger/pkg/kv"
)

// Store is a mock kv.Store for testing.
// Hooks override behaviour per method; calls are counted atomically.
// A nil hook falls through to Backing when set, otherwise the call succeeds
// with an empty result (Get reports kv.ErrKeyNotFound).
type Store struct {
	GetFunc      func(ctx context.Context, key string) (string, error)
	GetMultiFunc func(ctx context.Context, keys []string) (map[string]string, error)
	SetFunc      func(ctx context.Context, key string, value string) error
	SetMultiFunc func(ctx context.Context, entries map[string]string) error
	DeleteFunc   func(ctx context.Context, key string) error
	NameFunc     func() string
	CloseFunc    func() error

	// Backing receives calls that have no hook.
	Backing kv.Store

	getCalls      int64
	getMultiCalls int64
	setCalls      int64
	setMultiCalls int64
	deleteCalls   int64
	closeCalls    int64
}

// New creates a mock store with the given name and no backing store.
func New(name string) *Store {
	return &Store{
		NameFunc: func() string { return name },
	}
}

// Wrap creates a mock store that forwards to backing unless a hook is set.
func Wrap(backing kv.Store) *Store {
	return &Store{Backing: backing}
}

// Get implements kv.Store.
func (m *Store) Get(ctx context.Context, key string) (string, error) {
	atomic.AddInt64(&m.getCalls, 1)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	if m.Backing != nil {
		return m.Backing.Get(ctx, key)
	}
	return "", kv.ErrKeyNotFound
}

// GetMulti implements kv.Store.
func (m *Store) GetMulti(ctx context.Context, keys []string) (map[string]string, error) {
	atomic.AddInt64(&m.getMultiCalls, 1)
	if m.GetMultiFunc != nil {
		return m.GetMultiFunc(ctx, keys)
	}
	if m.Backing != nil {
		return m.Backing.GetMulti(ctx, keys)
	}
	return map[string]string{}, nil
}

// Set implements kv.Store.
func (m *Store) Set(ctx context.Context, key string, value string) error {
	atomic.AddInt64(&m.setCalls, 1)
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value)
	}
	if m.Backing != nil {
		return m.Backing.Set(ctx, key, value)
	}
	return nil
}

// SetMulti implements kv.Store.
func (m *Store) SetMulti(ctx context.Context, entries map[string]string) error {
	atomic.AddInt64(&m.setMultiCalls, 1)
	if m.SetMultiFunc != nil {
		return m.SetMultiFunc(ctx, entries)
	}
	if m.Backing != nil {
		return m.Backing.SetMulti(ctx, entries)
	}
	return nil
}

// Delete implements kv.Store.
func (m *Store) Delete(ctx context.Context, key string) error {
	atomic.AddInt64(&m.deleteCalls, 1)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}
	if m.Backing != nil {
		return m.Backing.Delete(ctx, key)
	}
	return nil
}

// Name implements kv.Store.
func (m *Store) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	if m.Backing != nil {
		return m.Backing.Name()
	}
	return "mock"
}

// Close implements kv.Store.
func (m *Store) Close() error {
	atomic.AddInt64(&m.closeCalls, 1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	if m.Backing != nil {
		return m.Backing.Close()
	}
	return nil
}

// GetCalls returns the number of Get calls.
func (m *Store) GetCalls() int { return int(atomic.LoadInt64(&m.getCalls)) }

// GetMultiCalls returns the number of GetMulti calls.
func (m *Store) GetMultiCalls() int { return int(atomic.LoadInt64(&m.getMultiCalls)) }

// SetCalls returns the number of Set calls.
func (m *Store) SetCalls() int { return int(atomic.LoadInt64(&m.setCalls)) }

// SetMultiCalls returns the number of SetMulti calls.
func (m *Store) SetMultiCalls() int { return int(atomic.LoadInt64(&m.setMultiCalls)) }

// DeleteCalls returns the number of Delete calls.
func (m *Store) DeleteCalls() int { return int(atomic.LoadInt64(&m.deleteCalls)) }

// CloseCalls returns the number of Close calls.
func (m *Store) CloseCalls() int { return int(atomic.LoadInt64(&m.closeCalls)) }

// Calls returns the total number of store operations, Close excluded.
func (m *Store) Calls() int {
	return m.GetCalls() + m.GetMultiCalls() + m.SetCalls() + m.SetMultiCalls() + m.DeleteCalls()
}
