// Package kvtest holds behaviour tests shared by every kv.Store backend.
package kvtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"pocket-ledger/pkg/kv"
)

// Run exercises the kv.Store contract against a fresh store. newStore must
// return an empty store; keys are used verbatim.
func Run(t *testing.T, newStore func(t *testing.T) kv.Store) {
	t.Helper()

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "balance")
		if !errors.Is(err, kv.ErrKeyNotFound) {
			t.Errorf("Expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("SetGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.Set(ctx, "balance", "50.00"); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := s.Get(ctx, "balance")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got != "50.00" {
			t.Errorf("Expected 50.00, got %q", got)
		}

		if err := s.Set(ctx, "balance", "65.00"); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, _ = s.Get(ctx, "balance")
		if got != "65.00" {
			t.Errorf("Expected overwrite to 65.00, got %q", got)
		}
	})

	t.Run("UnicodeValue", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		value := `[{"id":"1","name":"Férias ✈"}]`
		if err := s.Set(ctx, "boxes", value); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := s.Get(ctx, "boxes")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got != value {
			t.Errorf("Expected %q, got %q", value, got)
		}
	})

	t.Run("EmptyValue", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.Set(ctx, "transactions", ""); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := s.Get(ctx, "transactions")
		if err != nil {
			t.Fatalf("Expected empty value to be present, got %v", err)
		}
		if got != "" {
			t.Errorf("Expected empty value, got %q", got)
		}
	})

	t.Run("MultiRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		entries := map[string]string{
			"balance":      "10.00",
			"transactions": "[]",
		}
		if err := s.SetMulti(ctx, entries); err != nil {
			t.Fatalf("SetMulti failed: %v", err)
		}

		got, err := s.GetMulti(ctx, []string{"balance", "transactions", "boxes"})
		if err != nil {
			t.Fatalf("GetMulti failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("Expected 2 entries, got %d: %v", len(got), got)
		}
		if got["balance"] != "10.00" || got["transactions"] != "[]" {
			t.Errorf("Unexpected snapshot: %v", got)
		}
		if _, ok := got["boxes"]; ok {
			t.Error("Expected missing key to be absent from the result")
		}
	})

	t.Run("MultiEmpty", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.SetMulti(ctx, map[string]string{}); err != nil {
			t.Errorf("SetMulti with no entries failed: %v", err)
		}
		got, err := s.GetMulti(ctx, nil)
		if err != nil {
			t.Errorf("GetMulti with no keys failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Expected empty result, got %v", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_ = s.Set(ctx, "boxes", "[]")
		if err := s.Delete(ctx, "boxes"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := s.Get(ctx, "boxes"); !kv.IsNotFound(err) {
			t.Errorf("Expected ErrKeyNotFound after delete, got %v", err)
		}
		if err := s.Delete(ctx, "boxes"); err != nil {
			t.Errorf("Deleting a missing key should succeed, got %v", err)
		}
	})

	t.Run("InvalidKey", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.Set(ctx, "", "x"); !errors.Is(err, kv.ErrInvalidKey) {
			t.Errorf("Expected ErrInvalidKey from Set, got %v", err)
		}
		if _, err := s.Get(ctx, " balance"); !errors.Is(err, kv.ErrInvalidKey) {
			t.Errorf("Expected ErrInvalidKey from Get, got %v", err)
		}
		err := s.SetMulti(ctx, map[string]string{"balance": "1.00", "bad\nkey": "x"})
		if !errors.Is(err, kv.ErrInvalidKey) {
			t.Errorf("Expected ErrInvalidKey from SetMulti, got %v", err)
		}
		if _, err := s.Get(ctx, "balance"); !kv.IsNotFound(err) {
			t.Errorf("Expected rejected SetMulti to write nothing, got %v", err)
		}
	})

	t.Run("ConcurrentMulti", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		// Writers always store matching pairs; readers must never see a torn pair.
		var wg sync.WaitGroup
		errs := make(chan error, 64)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					v := fmt.Sprintf("%d-%d", i, j)
					if err := s.SetMulti(ctx, map[string]string{"a": v, "b": v}); err != nil {
						errs <- err
						return
					}
				}
			}(i)
		}
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					got, err := s.GetMulti(ctx, []string{"a", "b"})
					if err != nil {
						errs <- err
						return
					}
					if got["a"] != got["b"] {
						errs <- fmt.Errorf("torn read: a=%q b=%q", got["a"], got["b"])
						return
					}
				}
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Error(err)
		}
	})
}
