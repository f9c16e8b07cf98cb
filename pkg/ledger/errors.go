package ledger

import "errors"

var (
	// ErrInvalidAmount is returned for missing, non-numeric or non-positive amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidDescription is returned when a required description is blank.
	ErrInvalidDescription = errors.New("invalid description")

	// ErrInsufficientFunds is returned when a transfer exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNotFound is returned when no transaction has the requested id.
	ErrNotFound = errors.New("transaction not found")

	// ErrInconsistentState is returned by Verify when the stored balance
	// differs from the sum of the history.
	ErrInconsistentState = errors.New("balance does not match transaction history")

	// ErrCorruptState is returned when a stored value cannot be decoded.
	ErrCorruptState = errors.New("stored ledger state is corrupt")
)
