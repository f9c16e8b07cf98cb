package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Type is the kind of a transaction.
type Type string

const (
	TypeDeposit     Type = "deposit"
	TypeTransferOut Type = "transfer-out"
	TypeTransferIn  Type = "transfer-in"

	// legacyTypeAdd was written by the old add-money-from-bank flow.
	legacyTypeAdd = "add"
)

// DefaultDepositDescription is recorded when a deposit has no description.
const DefaultDepositDescription = "Added to balance"

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	switch t {
	case TypeDeposit, TypeTransferOut, TypeTransferIn:
		return true
	}
	return false
}

// UnmarshalJSON decodes a type label, mapping legacy labels.
func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == legacyTypeAdd {
		s = string(TypeDeposit)
	}
	if !Type(s).Valid() {
		return fmt.Errorf("unknown transaction type %q", s)
	}
	*t = Type(s)
	return nil
}

// Transaction is one immutable entry of the history.
type Transaction struct {
	ID          string
	Type        Type
	Amount      Money
	Description string
	// Date is the creation instant in UTC. It is zero for entries whose
	// stored date was not machine readable; DisplayDate keeps that text.
	Date        time.Time
	DisplayDate string
	// Source tags where the money came from, e.g. "bank".
	Source string
}

// Effect returns the signed change this transaction makes to the balance.
func (t Transaction) Effect() Money {
	if t.Type == TypeTransferOut {
		return -t.Amount
	}
	return t.Amount
}

// When returns the date for display.
func (t Transaction) When() string {
	if t.Date.IsZero() {
		return t.DisplayDate
	}
	return t.Date.Format(time.RFC3339)
}

type transactionJSON struct {
	ID          json.RawMessage `json:"id"`
	Type        Type            `json:"type"`
	Amount      Money           `json:"amount"`
	Description string          `json:"description"`
	Date        string          `json:"date"`
	Source      string          `json:"source,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (t Transaction) MarshalJSON() ([]byte, error) {
	id, err := json.Marshal(t.ID)
	if err != nil {
		return nil, err
	}
	date := t.DisplayDate
	if !t.Date.IsZero() {
		date = t.Date.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(transactionJSON{
		ID:          id,
		Type:        t.Type,
		Amount:      t.Amount,
		Description: t.Description,
		Date:        date,
		Source:      t.Source,
	})
}

// UnmarshalJSON implements json.Unmarshaler. Numeric ids decode as their
// decimal text.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var raw transactionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	id, err := decodeID(raw.ID)
	if err != nil {
		return err
	}

	decoded := Transaction{
		ID:          id,
		Type:        raw.Type,
		Amount:      raw.Amount,
		Description: raw.Description,
		Source:      raw.Source,
	}
	if decoded.Type == "" {
		return fmt.Errorf("transaction %q has no type", id)
	}
	if decoded.Amount < 0 {
		return fmt.Errorf("transaction %q has a negative amount", id)
	}
	if date, err := time.Parse(time.RFC3339Nano, raw.Date); err == nil {
		decoded.Date = date.UTC()
	} else {
		decoded.DisplayDate = raw.Date
	}

	*t = decoded
	return nil
}

// decodeID accepts a JSON string or number.
func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("transaction without id")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("invalid transaction id %s", raw)
	}
	return n.String(), nil
}
