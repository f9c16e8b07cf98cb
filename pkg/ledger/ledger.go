package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"pocket-ledger/pkg/kv"
	"pocket-ledger/pkg/logging"
	"pocket-ledger/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store keys, before namespacing.
const (
	KeyBalance      = "balance"
	KeyTransactions = "transactions"
)

// Ledger is a balance plus its append-only transaction history, persisted
// in a kv.Store. Both values are always written together in one SetMulti,
// so the stored balance equals the sum of the stored history.
//
// The Ledger keeps no copy of either value; every call reads the store.
type Ledger struct {
	store      kv.Store
	balanceKey string
	historyKey string

	// mu serialises mutations; reads take the read side so they never
	// interleave with a read-modify-write of the same instance.
	mu    sync.RWMutex
	index *idIndex

	metrics metrics.MetricsCollector
	logger  *logging.Logger
	now     func() time.Time
	newID   func() (string, error)
}

// Config configures a Ledger.
type Config struct {
	// Namespace prefixes the store keys ("alice" -> "alice:balance").
	Namespace string

	// Metrics receives operation outcomes and the latest balance.
	Metrics metrics.MetricsCollector

	// Logger defaults to the global logger named "ledger".
	Logger *logging.Logger

	// Now and NewID default to the wall clock and UUIDv7.
	Now   func() time.Time
	NewID func() (string, error)

	// IndexCapacity sizes the transaction id bloom filter.
	IndexCapacity uint
}

// State is the balance and history as read together.
type State struct {
	Balance      Money         `json:"balance"`
	Transactions []Transaction `json:"transactions"`
}

// Receipt is the result of a mutation.
type Receipt struct {
	Transaction Transaction `json:"transaction"`
	Balance     Money       `json:"balance"`
}

// New creates a Ledger over store with default configuration.
func New(store kv.Store) (*Ledger, error) {
	return NewWithConfig(store, Config{})
}

// NewWithConfig creates a Ledger over store.
func NewWithConfig(store kv.Store, config Config) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("ledger: store is required")
	}

	pattern := kv.NewKeyPattern(config.Namespace, ":")
	balanceKey := pattern.Build(KeyBalance)
	historyKey := pattern.Build(KeyTransactions)
	for _, key := range []string{balanceKey, historyKey} {
		if err := kv.ValidateKey(key); err != nil {
			return nil, fmt.Errorf("ledger: namespace %q: %w", config.Namespace, err)
		}
	}

	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}
	if config.Logger == nil {
		config.Logger = logging.Global().Named("ledger")
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.NewID == nil {
		config.NewID = newTransactionID
	}

	return &Ledger{
		store:      store,
		balanceKey: balanceKey,
		historyKey: historyKey,
		index:      newIDIndex(config.IndexCapacity, defaultFalsePositiveRate),
		metrics:    config.Metrics,
		logger:     config.Logger,
		now:        config.Now,
		newID:      config.NewID,
	}, nil
}

func newTransactionID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// StoreName returns the name of the backing store.
func (l *Ledger) StoreName() string {
	return l.store.Name()
}

// IndexStats reports on the transaction id index.
func (l *Ledger) IndexStats() IndexStats {
	return l.index.stats()
}

// Balance returns the stored balance, 0.00 when nothing was stored yet.
// A missing balance next to an existing history is derived from it.
func (l *Ledger) Balance(ctx context.Context) (Money, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	raw, err := l.store.Get(ctx, l.balanceKey)
	if err == nil {
		return decodeBalance(raw)
	}
	if !kv.IsNotFound(err) {
		return 0, kv.ReadError(err)
	}

	state, _, err := l.load(ctx)
	if err != nil {
		return 0, err
	}
	return state.Balance, nil
}

// Transactions returns the history in insertion order; empty, not nil,
// when nothing was stored yet.
func (l *Ledger) Transactions(ctx context.Context) ([]Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.history(ctx)
}

func (l *Ledger) history(ctx context.Context) ([]Transaction, error) {
	raw, err := l.store.Get(ctx, l.historyKey)
	if kv.IsNotFound(err) {
		return []Transaction{}, nil
	}
	if err != nil {
		return nil, kv.ReadError(err)
	}
	return decodeHistory(raw)
}

// Snapshot reads balance and history together.
func (l *Ledger) Snapshot(ctx context.Context) (State, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	state, _, err := l.load(ctx)
	return state, err
}

// Transaction returns the transaction with the given id.
func (l *Ledger) Transaction(ctx context.Context, id string) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	history, err := l.history(ctx)
	if err != nil {
		return Transaction{}, err
	}

	// History is always decoded so external appends are seen. The index
	// only saves the scan for ids that were never recorded.
	l.index.sync(history)
	if !l.index.mayContain(id) {
		return Transaction{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for _, tx := range history {
		if tx.ID == id {
			return tx, nil
		}
	}
	l.index.recordFalsePositive()
	return Transaction{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Deposit adds amount to the balance and records a deposit. An empty
// description becomes DefaultDepositDescription.
func (l *Ledger) Deposit(ctx context.Context, amount Money, description string) (Receipt, error) {
	return l.DepositFrom(ctx, amount, description, "")
}

// DepositFrom is Deposit with the origin of the money recorded, e.g. "bank".
func (l *Ledger) DepositFrom(ctx context.Context, amount Money, description, source string) (Receipt, error) {
	start := time.Now()
	if amount <= 0 {
		return l.reject("deposit", start, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount))
	}

	description = strings.TrimSpace(description)
	if description == "" {
		description = DefaultDepositDescription
	}

	return l.apply(ctx, "deposit", start, Transaction{
		Type:        TypeDeposit,
		Amount:      amount,
		Description: description,
		Source:      strings.TrimSpace(source),
	})
}

// Transfer debits amount from the balance and records a transfer-out.
// It fails with ErrInsufficientFunds when the balance does not cover it.
func (l *Ledger) Transfer(ctx context.Context, amount Money, description string) (Receipt, error) {
	start := time.Now()
	if err := validateTransfer(amount, description); err != nil {
		return l.reject("transfer", start, err)
	}

	return l.apply(ctx, "transfer", start, Transaction{
		Type:        TypeTransferOut,
		Amount:      amount,
		Description: strings.TrimSpace(description),
	})
}

// Receive credits amount from an external account and records a transfer-in.
func (l *Ledger) Receive(ctx context.Context, amount Money, description string) (Receipt, error) {
	start := time.Now()
	if err := validateTransfer(amount, description); err != nil {
		return l.reject("receive", start, err)
	}

	return l.apply(ctx, "receive", start, Transaction{
		Type:        TypeTransferIn,
		Amount:      amount,
		Description: strings.TrimSpace(description),
	})
}

func validateTransfer(amount Money, description string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if strings.TrimSpace(description) == "" {
		return fmt.Errorf("%w: required", ErrInvalidDescription)
	}
	return nil
}

// Verify recomputes the balance from the history and compares it with the
// stored one.
func (l *Ledger) Verify(ctx context.Context) (State, error) {
	start := time.Now()
	l.mu.RLock()
	defer l.mu.RUnlock()

	state, stored, err := l.load(kv.WithConsistentRead(ctx))
	if err != nil {
		l.finish("verify", metrics.OutcomeFailed, start)
		return State{}, err
	}

	sum, err := Sum(state.Transactions)
	if err != nil {
		l.finish("verify", metrics.OutcomeFailed, start)
		return State{}, err
	}
	if stored && sum != state.Balance {
		l.logger.Error("ledger is inconsistent",
			logging.Balance(state.Balance.Cents()),
			zap.Int64("history_sum_cents", sum.Cents()),
		)
		l.finish("verify", metrics.OutcomeRejected, start)
		return state, fmt.Errorf("%w: stored %s, history sums to %s", ErrInconsistentState, state.Balance, sum)
	}

	l.finish("verify", metrics.OutcomeSuccess, start)
	return state, nil
}

// Sum adds up the signed effect of every transaction. A history whose
// running total leaves the int64 range is ErrCorruptState.
func Sum(history []Transaction) (Money, error) {
	var total Money
	for i, tx := range history {
		effect := tx.Effect()
		if (effect > 0 && total > math.MaxInt64-effect) || (effect < 0 && total < math.MinInt64-effect) {
			return 0, fmt.Errorf("%w: transactions: sum overflows at entry %d", ErrCorruptState, i)
		}
		total += effect
	}
	return total, nil
}

// apply runs one read-modify-write under the write lock. The state is read
// from the authoritative store, never from a cache, so entries written by
// other processes are kept. The new history entry and the new balance are
// written in a single SetMulti.
func (l *Ledger) apply(ctx context.Context, op string, start time.Time, tx Transaction) (Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, _, err := l.load(kv.WithConsistentRead(ctx))
	if err != nil {
		return l.fail(op, start, err)
	}

	effect := tx.Effect()
	if effect < 0 && state.Balance+effect < 0 {
		return l.reject(op, start, fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientFunds, state.Balance, tx.Amount))
	}
	if effect > 0 && state.Balance > math.MaxInt64-effect {
		return l.reject(op, start, fmt.Errorf("%w: balance would overflow", ErrInvalidAmount))
	}

	tx.ID, err = l.newID()
	if err != nil {
		return l.fail(op, start, fmt.Errorf("generate transaction id: %w", err))
	}
	tx.Date = l.now().UTC()

	history := make([]Transaction, len(state.Transactions), len(state.Transactions)+1)
	copy(history, state.Transactions)
	history = append(history, tx)
	balance := state.Balance + effect

	encoded, err := json.Marshal(history)
	if err != nil {
		return l.fail(op, start, fmt.Errorf("encode transactions: %w", err))
	}

	if err := l.store.SetMulti(ctx, map[string]string{
		l.balanceKey: balance.String(),
		l.historyKey: string(encoded),
	}); err != nil {
		return l.fail(op, start, kv.WriteError(err))
	}

	l.index.sync(history)
	l.metrics.RecordBalance(balance.Cents())
	l.finish(op, metrics.OutcomeSuccess, start)
	l.logger.Info("transaction recorded",
		logging.Operation(op),
		logging.TransactionID(tx.ID),
		logging.Amount(tx.Amount.Cents()),
		logging.Balance(balance.Cents()),
	)

	return Receipt{Transaction: tx, Balance: balance}, nil
}

// load reads balance and history in one GetMulti. stored reports whether
// the balance came from the store rather than from the history.
func (l *Ledger) load(ctx context.Context) (State, bool, error) {
	values, err := l.store.GetMulti(ctx, []string{l.balanceKey, l.historyKey})
	if err != nil {
		return State{}, false, kv.ReadError(err)
	}

	history := []Transaction{}
	if raw, ok := values[l.historyKey]; ok {
		if history, err = decodeHistory(raw); err != nil {
			return State{}, false, err
		}
	}

	raw, stored := values[l.balanceKey]
	if !stored {
		sum, err := Sum(history)
		if err != nil {
			return State{}, false, err
		}
		return State{Balance: sum, Transactions: history}, false, nil
	}
	balance, err := decodeBalance(raw)
	if err != nil {
		return State{}, false, err
	}
	return State{Balance: balance, Transactions: history}, true, nil
}

func decodeBalance(raw string) (Money, error) {
	balance, err := decodeStoredAmount(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: balance: %v", ErrCorruptState, err)
	}
	return balance, nil
}

func decodeHistory(raw string) ([]Transaction, error) {
	history := []Transaction{}
	if strings.TrimSpace(raw) == "" {
		return history, nil
	}
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("%w: transactions: %v", ErrCorruptState, err)
	}
	if history == nil {
		history = []Transaction{}
	}
	return history, nil
}

func (l *Ledger) reject(op string, start time.Time, err error) (Receipt, error) {
	l.logger.Info("operation rejected", logging.Operation(op), zap.Error(err))
	l.finish(op, metrics.OutcomeRejected, start)
	return Receipt{}, err
}

func (l *Ledger) fail(op string, start time.Time, err error) (Receipt, error) {
	l.logger.Error("operation failed", logging.Operation(op), zap.Error(err))
	l.finish(op, metrics.OutcomeFailed, start)
	return Receipt{}, err
}

func (l *Ledger) finish(op string, outcome metrics.Outcome, start time.Time) {
	l.metrics.RecordLedgerOp(op, outcome, time.Since(start))
}
