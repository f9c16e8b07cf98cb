package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pocket-ledger/pkg/kv"
	"pocket-ledger/pkg/kv/memory"
	"pocket-ledger/pkg/kv/mock"
	metricsmem "pocket-ledger/pkg/metrics/memory"
	"pocket-ledger/pkg/resilience"
)

var errBoom = errors.New("boom")

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		layers      []kv.Store
		expectError bool
		expectedLen int
	}{
		{
			name:        "empty layers",
			layers:      []kv.Store{},
			expectError: true,
		},
		{
			name:        "nil layer",
			layers:      []kv.Store{memory.New(memory.Config{}), nil},
			expectError: true,
		},
		{
			name:        "single layer",
			layers:      []kv.Store{mock.New("L1")},
			expectedLen: 1,
		},
		{
			name: "multiple layers",
			layers: []kv.Store{
				mock.New("L1"),
				mock.New("L2"),
				mock.New("L3"),
			},
			expectedLen: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, err := New(tt.layers...)

			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if chain.Len() != tt.expectedLen {
				t.Errorf("Expected %d layers, got %d", tt.expectedLen, chain.Len())
			}
		})
	}
}

func TestChain_Name(t *testing.T) {
	chain, err := New(memory.New(memory.Config{Name: "cache"}), memory.New(memory.Config{Name: "sqlite"}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if chain.Name() != "chain(cache→sqlite)" {
		t.Errorf("Expected chain(cache→sqlite), got %q", chain.Name())
	}
	if chain.String() != "chain(cache→sqlite): 2 layers" {
		t.Errorf("Unexpected String(): %q", chain.String())
	}
}

func TestChain_GetFallsBackAndWarms(t *testing.T) {
	l1 := memory.New(memory.Config{Name: "L1"})
	l2 := memory.New(memory.Config{Name: "L2"})
	ctx := context.Background()

	if err := l2.Set(ctx, "balance", "15.00"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	chain, err := New(l1, l2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	got, err := chain.Get(ctx, "balance")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "15.00" {
		t.Errorf("Expected 15.00, got %q", got)
	}

	warmed, err := l1.Get(ctx, "balance")
	if err != nil || warmed != "15.00" {
		t.Errorf("Expected L1 to be warmed with 15.00, got %q, %v", warmed, err)
	}
}

func TestChain_GetMissing(t *testing.T) {
	chain, err := New(memory.New(memory.Config{Name: "L1"}), memory.New(memory.Config{Name: "L2"}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = chain.Get(context.Background(), "balance")
	if !kv.IsNotFound(err) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

func TestChain_GetInvalidKey(t *testing.T) {
	chain, err := New(memory.New(memory.Config{}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := chain.Get(context.Background(), ""); !errors.Is(err, kv.ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey, got %v", err)
	}
}

func TestChain_GetMultiPartialHitFallsThrough(t *testing.T) {
	l1 := memory.New(memory.Config{Name: "L1"})
	l2 := memory.New(memory.Config{Name: "L2"})
	ctx := context.Background()

	// L1 holds a copy the durable layer no longer has.
	if err := l1.Set(ctx, "balance", "99.00"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if err := l2.Set(ctx, "transactions", "[]"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	chain, err := New(l1, l2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	values, err := chain.GetMulti(ctx, []string{"balance", "transactions"})
	if err != nil {
		t.Fatalf("GetMulti failed: %v", err)
	}
	if len(values) != 1 || values["transactions"] != "[]" {
		t.Errorf("Expected only transactions from the durable layer, got %v", values)
	}

	if _, err := l1.Get(ctx, "balance"); !kv.IsNotFound(err) {
		t.Errorf("Expected stale balance to be dropped from L1, got %v", err)
	}
	if v, err := l1.Get(ctx, "transactions"); err != nil || v != "[]" {
		t.Errorf("Expected transactions warmed into L1, got %q, %v", v, err)
	}
}

func TestChain_GetMultiReturnsOwnedMap(t *testing.T) {
	l2 := memory.New(memory.Config{Name: "L2"})
	ctx := context.Background()
	if err := l2.Set(ctx, "balance", "1.00"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	chain, err := New(l2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	first, err := chain.GetMulti(ctx, []string{"balance"})
	if err != nil {
		t.Fatalf("GetMulti failed: %v", err)
	}
	first["balance"] = "mutated"

	second, err := chain.GetMulti(ctx, []string{"balance"})
	if err != nil {
		t.Fatalf("GetMulti failed: %v", err)
	}
	if second["balance"] != "1.00" {
		t.Errorf("Expected 1.00, got %q", second["balance"])
	}
}

func TestChain_FasterLayerReadErrorIsSkipped(t *testing.T) {
	l1 := mock.New("L1")
	l1.GetMultiFunc = func(ctx context.Context, keys []string) (map[string]string, error) {
		return nil, kv.ErrLayerUnavailable
	}
	l2 := memory.New(memory.Config{Name: "L2"})
	ctx := context.Background()
	if err := l2.Set(ctx, "balance", "3.00"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	chain, err := New(l1, l2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	values, err := chain.GetMulti(ctx, []string{"balance"})
	if err != nil {
		t.Fatalf("GetMulti failed: %v", err)
	}
	if values["balance"] != "3.00" {
		t.Errorf("Expected 3.00, got %v", values)
	}
}

func TestChain_DurableReadErrorIsReturned(t *testing.T) {
	l1 := memory.New(memory.Config{Name: "L1"})
	l2 := mock.New("L2")
	l2.GetMultiFunc = func(ctx context.Context, keys []string) (map[string]string, error) {
		return nil, errBoom
	}

	chain, err := New(l1, l2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = chain.GetMulti(context.Background(), []string{"balance"})
	if !errors.Is(err, errBoom) {
		t.Errorf("Expected durable error, got %v", err)
	}
}

func TestChain_SetMultiWritesDurableFirst(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) *mock.Store {
		m := mock.Wrap(memory.New(memory.Config{Name: name}))
		m.SetMultiFunc = func(ctx context.Context, entries map[string]string) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return m.Backing.SetMulti(ctx, entries)
		}
		return m
	}

	chain, err := New(record("L1"), record("L2"), record("L3"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := chain.SetMulti(context.Background(), map[string]string{"balance": "10.00", "transactions": "[]"}); err != nil {
		t.Fatalf("SetMulti failed: %v", err)
	}

	expected := []string{"L3", "L2", "L1"}
	if len(order) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, order)
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Errorf("Expected write %d to hit %s, got %s", i, expected[i], order[i])
		}
	}
}

func TestChain_DurableWriteFailure(t *testing.T) {
	l1 := memory.New(memory.Config{Name: "L1"})
	durable := memory.New(memory.Config{Name: "L2"})
	l2 := mock.Wrap(durable)
	ctx := context.Background()

	chain, err := New(l1, l2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := chain.SetMulti(ctx, map[string]string{"balance": "5.00"}); err != nil {
		t.Fatalf("SetMulti failed: %v", err)
	}

	l2.SetMultiFunc = func(ctx context.Context, entries map[string]string) error {
		return errBoom
	}

	err = chain.SetMulti(ctx, map[string]string{"balance": "20.00"})
	if !errors.Is(err, errBoom) {
		t.Fatalf("Expected durable error, got %v", err)
	}

	if _, err := l1.Get(ctx, "balance"); !kv.IsNotFound(err) {
		t.Errorf("Expected L1 copy to be dropped, got %v", err)
	}

	got, err := chain.Get(ctx, "balance")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "5.00" {
		t.Errorf("Expected durable value 5.00, got %q", got)
	}
}

func TestChain_FasterLayerWriteFailureIsTolerated(t *testing.T) {
	l1 := mock.Wrap(memory.New(memory.Config{Name: "L1"}))
	l1.SetMultiFunc = func(ctx context.Context, entries map[string]string) error {
		return errBoom
	}
	l2 := memory.New(memory.Config{Name: "L2"})
	ctx := context.Background()

	chain, err := New(l1, l2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := chain.SetMulti(ctx, map[string]string{"balance": "7.50"}); err != nil {
		t.Fatalf("Expected faster-layer failure to be tolerated, got %v", err)
	}

	got, err := l2.Get(ctx, "balance")
	if err != nil || got != "7.50" {
		t.Errorf("Expected durable 7.50, got %q, %v", got, err)
	}
}

func TestChain_DirtyKeysReadDurable(t *testing.T) {
	backing := memory.New(memory.Config{Name: "L1"})
	l1 := mock.Wrap(backing)
	l2 := memory.New(memory.Config{Name: "L2"})
	ctx := context.Background()

	chain, err := New(l1, l2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := chain.SetMulti(ctx, map[string]string{"balance": "1.00"}); err != nil {
		t.Fatalf("SetMulti failed: %v", err)
	}

	// L1 can neither take the new value nor drop the old one.
	l1.SetMultiFunc = func(ctx context.Context, entries map[string]string) error { return errBoom }
	l1.DeleteFunc = func(ctx context.Context, key string) error { return errBoom }

	if err := chain.SetMulti(ctx, map[string]string{"balance": "2.00"}); err != nil {
		t.Fatalf("SetMulti failed: %v", err)
	}
	if v, _ := backing.Get(ctx, "balance"); v != "1.00" {
		t.Fatalf("Expected stale 1.00 left in L1, got %q", v)
	}

	got, err := chain.Get(ctx, "balance")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "2.00" {
		t.Errorf("Expected dirty key to be read from the durable layer, got %q", got)
	}

	// Once L1 recovers, a read warms it and clears the mark.
	l1.SetMultiFunc = nil
	l1.DeleteFunc = nil
	if _, err := chain.Get(ctx, "balance"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v, _ := backing.Get(ctx, "balance"); v != "2.00" {
		t.Errorf("Expected L1 warmed to 2.00, got %q", v)
	}
	if _, dirty := chain.snapshot([]string{"balance"}); dirty {
		t.Error("Expected balance to be clean after warm-up")
	}
}

func TestChain_StaleWarmUpIsDiscarded(t *testing.T) {
	l1 := memory.New(memory.Config{Name: "L1"})
	durable := memory.New(memory.Config{Name: "L2"})
	l2 := mock.Wrap(durable)
	ctx := context.Background()

	if err := durable.Set(ctx, "balance", "1.00"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	readDone := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	l2.GetMultiFunc = func(ctx context.Context, keys []string) (map[string]string, error) {
		values, err := durable.GetMulti(ctx, keys)
		once.Do(func() {
			close(readDone)
			<-release
		})
		return values, err
	}

	chain, err := New(l1, l2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	result := make(chan map[string]string, 1)
	go func() {
		values, _ := chain.GetMulti(ctx, []string{"balance"})
		result <- values
	}()

	<-readDone
	if err := chain.SetMulti(ctx, map[string]string{"balance": "2.00"}); err != nil {
		t.Fatalf("SetMulti failed: %v", err)
	}
	close(release)

	if old := <-result; old["balance"] != "1.00" {
		t.Errorf("Expected in-flight read to see 1.00, got %v", old)
	}

	got, err := l1.Get(ctx, "balance")
	if err != nil || got != "2.00" {
		t.Errorf("Expected L1 to keep the newer 2.00, got %q, %v", got, err)
	}
}

func TestChain_ConcurrentReadsShareTraversal(t *testing.T) {
	durable := memory.New(memory.Config{Name: "L1"})
	l1 := mock.Wrap(durable)
	ctx := context.Background()
	if err := durable.Set(ctx, "balance", "4.00"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	gate := make(chan struct{})
	l1.GetFunc = func(ctx context.Context, key string) (string, error) {
		<-gate
		return durable.Get(ctx, key)
	}

	chain, err := New(l1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := chain.Get(ctx, "balance"); err != nil || v != "4.00" {
				t.Errorf("Expected 4.00, got %q, %v", v, err)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if l1.GetCalls() != 1 {
		t.Errorf("Expected 1 shared read, got %d", l1.GetCalls())
	}
}

func TestChain_Delete(t *testing.T) {
	l1 := memory.New(memory.Config{Name: "L1"})
	l2 := memory.New(memory.Config{Name: "L2"})
	ctx := context.Background()

	chain, err := New(l1, l2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := chain.Set(ctx, "boxes", "[]"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := chain.Delete(ctx, "boxes"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	for _, layer := range []kv.Store{l1, l2} {
		if _, err := layer.Get(ctx, "boxes"); !kv.IsNotFound(err) {
			t.Errorf("Expected boxes gone from %s, got %v", layer.Name(), err)
		}
	}
}

func TestChain_Metrics(t *testing.T) {
	mc := metricsmem.NewMemoryCollector()
	l1 := memory.New(memory.Config{Name: "L1"})
	l2 := memory.New(memory.Config{Name: "L2"})
	ctx := context.Background()

	chain, err := NewWithConfig(Config{Metrics: mc}, l1, l2)
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}

	if _, err := chain.Get(ctx, "balance"); !kv.IsNotFound(err) {
		t.Fatalf("Expected miss, got %v", err)
	}
	if err := l2.Set(ctx, "balance", "1.00"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	// First read is served by L2 and warms L1; the second is an L1 hit.
	for i := 0; i < 2; i++ {
		if _, err := chain.Get(ctx, "balance"); err != nil {
			t.Fatalf("Get %d failed: %v", i, err)
		}
	}

	snapshot := mc.Snapshot()
	if snapshot.ChainMisses != 1 {
		t.Errorf("Expected 1 chain miss, got %d", snapshot.ChainMisses)
	}
	if snapshot.ChainHits != 2 {
		t.Errorf("Expected 2 chain hits, got %d", snapshot.ChainHits)
	}
	if snapshot.ChainHitsByLayer[0] != 1 || snapshot.ChainHitsByLayer[1] != 1 {
		t.Errorf("Expected one hit per layer, got %v", snapshot.ChainHitsByLayer)
	}
}

func TestChain_WithResilience(t *testing.T) {
	rc := resilience.DefaultResilientConfig()
	chain, err := NewWithConfig(Config{Resilience: &rc},
		memory.New(memory.Config{Name: "L1"}),
		memory.New(memory.Config{Name: "L2"}),
	)
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}

	for i, layer := range chain.Layers() {
		if _, ok := layer.(*resilience.Store); !ok {
			t.Errorf("Expected layer %d to be wrapped, got %T", i, layer)
		}
	}

	ctx := context.Background()
	if err := chain.SetMulti(ctx, map[string]string{"balance": "8.00"}); err != nil {
		t.Fatalf("SetMulti failed: %v", err)
	}
	if v, err := chain.Get(ctx, "balance"); err != nil || v != "8.00" {
		t.Errorf("Expected 8.00, got %q, %v", v, err)
	}
}

func TestChain_Close(t *testing.T) {
	l1 := mock.New("L1")
	l1.CloseFunc = func() error { return errBoom }
	l2 := mock.New("L2")

	chain, err := New(l1, l2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := chain.Close(); !errors.Is(err, errBoom) {
		t.Errorf("Expected first close error, got %v", err)
	}
	if l1.CloseCalls() != 1 || l2.CloseCalls() != 1 {
		t.Errorf("Expected every layer closed, got %d and %d", l1.CloseCalls(), l2.CloseCalls())
	}
}

func TestChain_ConsistentReadSkipsFasterLayers(t *testing.T) {
	l1 := memory.New(memory.Config{Name: "L1"})
	durable := memory.New(memory.Config{Name: "L2"})
	ctx := context.Background()

	chain, err := New(l1, durable)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := chain.SetMulti(ctx, map[string]string{"balance": "10.00", "transactions": "[1]"}); err != nil {
		t.Fatalf("SetMulti failed: %v", err)
	}

	// Another process writes the durable store directly.
	if err := durable.SetMulti(ctx, map[string]string{"balance": "17.00", "transactions": "[1,2]"}); err != nil {
		t.Fatalf("SetMulti failed: %v", err)
	}

	got, err := chain.Get(ctx, "balance")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "10.00" {
		t.Errorf("Expected cached 10.00 for a plain read, got %q", got)
	}

	consistent := kv.WithConsistentRead(ctx)
	values, err := chain.GetMulti(consistent, []string{"balance", "transactions"})
	if err != nil {
		t.Fatalf("GetMulti failed: %v", err)
	}
	if values["balance"] != "17.00" || values["transactions"] != "[1,2]" {
		t.Errorf("Expected durable values, got %v", values)
	}
	if got, err := chain.Get(consistent, "balance"); err != nil || got != "17.00" {
		t.Errorf("Expected durable 17.00, got %q, %v", got, err)
	}

	// The consistent read refreshed the cache.
	if v, _ := l1.Get(ctx, "transactions"); v != "[1,2]" {
		t.Errorf("Expected L1 refreshed to [1,2], got %q", v)
	}
}

func TestChain_MaxAge(t *testing.T) {
	l1 := memory.New(memory.Config{Name: "L1"})
	durable := mock.Wrap(memory.New(memory.Config{Name: "L2"}))
	ctx := context.Background()

	chain, err := NewWithConfig(Config{MaxAge: time.Second}, l1, durable)
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	chain.now = func() time.Time { return now }

	if err := chain.Set(ctx, "boxes", `[{"id":"1","name":"Trip"}]`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := durable.Backing.Set(ctx, "boxes", `[{"id":"1","name":"Trip"},{"id":"2","name":"Car"}]`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	calls := durable.GetCalls()
	got, err := chain.Get(ctx, "boxes")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != `[{"id":"1","name":"Trip"}]` {
		t.Errorf("Expected fresh cached copy, got %q", got)
	}
	if durable.GetCalls() != calls {
		t.Error("Expected a fresh copy to be served without reaching the durable layer")
	}

	now = now.Add(2 * time.Second)
	got, err = chain.Get(ctx, "boxes")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != `[{"id":"1","name":"Trip"},{"id":"2","name":"Car"}]` {
		t.Errorf("Expected expired copy to be reread from the durable layer, got %q", got)
	}

	// The reread counts as fresh again.
	calls = durable.GetCalls()
	if _, err := chain.Get(ctx, "boxes"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if durable.GetCalls() != calls {
		t.Error("Expected the refreshed copy to be served from L1")
	}
}

func TestChain_NegativeMaxAge(t *testing.T) {
	if _, err := NewWithConfig(Config{MaxAge: -time.Second}, memory.New(memory.Config{})); err == nil {
		t.Error("Expected error for a negative max age")
	}
}
