package logging

import (
	"time"

	"go.uber.org/zap"
)

// Field constructors shared by the ledger, the box registry and the stores,
// so the same attribute always carries the same key.

func Operation(op string) zap.Field { return zap.String("operation", op) }

func Store(name string) zap.Field { return zap.String("store", name) }

func Key(key string) zap.Field { return zap.String("key", key) }

func TransactionID(id string) zap.Field { return zap.String("transaction_id", id) }

func BoxID(id string) zap.Field { return zap.String("box_id", id) }

// Amount logs a money value in cents.
func Amount(cents int64) zap.Field { return zap.Int64("amount_cents", cents) }

// Balance logs a balance in cents.
func Balance(cents int64) zap.Field { return zap.Int64("balance_cents", cents) }

func Elapsed(d time.Duration) zap.Field { return zap.Duration("elapsed", d) }
