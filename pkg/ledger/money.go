package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is an amount in cents. The currency is implicit.
type Money int64

// maxIntegerDigits keeps parsed amounts far away from int64 overflow.
const maxIntegerDigits = 15

// Cents returns the amount as a count of cents.
func (m Money) Cents() int64 {
	return int64(m)
}

// String formats the amount with two decimals, e.g. "50.00" or "-3.10".
func (m Money) String() string {
	sign := ""
	c := int64(m)
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

// MarshalJSON encodes the amount as a JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a decimal string.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := ParseBalance(s)
		if err != nil {
			return err
		}
		*m = v
		return nil
	}

	v, err := decodeStoredAmount(string(data))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseAmount parses user input such as "50", "12,5" or "0.01".
// Either '.' or ',' separates the decimals; a third decimal rounds half-up.
// The result must be strictly positive.
func ParseAmount(text string) (Money, error) {
	m, err := parseDecimal(text, false)
	if err != nil {
		return 0, err
	}
	if m <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return m, nil
}

// ParseBalance parses a stored balance. It accepts zero and a leading '-'.
func ParseBalance(text string) (Money, error) {
	return parseDecimal(text, true)
}

func parseDecimal(text string, signed bool) (Money, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	negative := false
	if signed && s[0] == '-' {
		negative = true
		s = s[1:]
	}

	s = strings.Replace(s, ",", ".", 1)
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return 0, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, text)
	}
	whole = strings.TrimLeft(whole, "0")
	if len(whole) > maxIntegerDigits {
		return 0, fmt.Errorf("%w: %q is too large", ErrInvalidAmount, text)
	}

	var cents int64
	for _, r := range whole {
		cents = cents*10 + int64(r-'0')
	}
	cents *= 100

	padded := frac + "00"
	cents += int64(padded[0]-'0')*10 + int64(padded[1]-'0')
	if len(frac) > 2 && frac[2] >= '5' {
		cents++
	}

	if negative {
		cents = -cents
	}
	return Money(cents), nil
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// decodeStoredAmount reads amounts written by older builds, which stored
// floating point numbers such as 12.5 or 15.299999999999999.
func decodeStoredAmount(text string) (Money, error) {
	if m, err := ParseBalance(text); err == nil {
		return m, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= 1e15 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}
	return Money(math.Round(f * 100)), nil
}
