package kv

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxKeyLength is the longest key any backend accepts.
const MaxKeyLength = 250

// ValidateKey checks if a key is valid.
//
// Rules:
// - Non-empty string
// - Maximum length of 250 bytes
// - No control characters
// - No leading or trailing whitespace
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key too long (max %d characters)", ErrInvalidKey, MaxKeyLength)
	}

	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: key contains control character", ErrInvalidKey)
		}
	}

	if strings.TrimSpace(key) != key {
		return fmt.Errorf("%w: key has leading or trailing whitespace", ErrInvalidKey)
	}

	return nil
}

// KeyPattern namespaces keys, so several ledgers can share one store.
// A pattern with an empty prefix leaves keys untouched.
type KeyPattern struct {
	prefix    string
	separator string
}

// NewKeyPattern creates a new key pattern with the given prefix and separator.
func NewKeyPattern(prefix, separator string) *KeyPattern {
	if separator == "" {
		separator = ":"
	}
	return &KeyPattern{
		prefix:    strings.TrimSpace(prefix),
		separator: separator,
	}
}

// Prefix returns the namespace prefix.
func (kp *KeyPattern) Prefix() string {
	return kp.prefix
}

// Build joins the prefix and parts with the separator.
// Example: NewKeyPattern("alice", ":").Build("balance") -> "alice:balance"
func (kp *KeyPattern) Build(parts ...string) string {
	all := make([]string, 0, len(parts)+1)
	if kp.prefix != "" {
		all = append(all, kp.prefix)
	}
	all = append(all, parts...)
	return strings.Join(all, kp.separator)
}

// MustBuild is like Build but panics if the resulting key is invalid.
// Only use it with constant parts.
func (kp *KeyPattern) MustBuild(parts ...string) string {
	key := kp.Build(parts...)
	if err := ValidateKey(key); err != nil {
		panic(fmt.Sprintf("invalid key generated: %v", err))
	}
	return key
}
