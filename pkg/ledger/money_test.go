package ledger

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input    string
		expected Money
		wantErr  bool
	}{
		{input: "50", expected: 5000},
		{input: "50.00", expected: 5000},
		{input: "0.01", expected: 1},
		{input: "12,5", expected: 1250},
		{input: " 7.25 ", expected: 725},
		{input: ".5", expected: 50},
		{input: "5.", expected: 500},
		{input: "1.005", expected: 101},
		{input: "1.004", expected: 100},
		{input: "0.005", expected: 1},
		{input: "0", wantErr: true},
		{input: "0.00", wantErr: true},
		{input: "0.004", wantErr: true},
		{input: "-5", wantErr: true},
		{input: "+5", wantErr: true},
		{input: "", wantErr: true},
		{input: "   ", wantErr: true},
		{input: "abc", wantErr: true},
		{input: "NaN", wantErr: true},
		{input: "Inf", wantErr: true},
		{input: "1e3", wantErr: true},
		{input: "1.2.3", wantErr: true},
		{input: "1,2,3", wantErr: true},
		{input: ".", wantErr: true},
		{input: "1 000", wantErr: true},
		{input: "1234567890123456", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input)

			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Errorf("Expected ErrInvalidAmount, got %v (value %d)", err, got)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Expected %d cents, got %d", tt.expected, got)
			}
		})
	}
}

func TestParseBalance(t *testing.T) {
	tests := []struct {
		input    string
		expected Money
		wantErr  bool
	}{
		{input: "0", expected: 0},
		{input: "0.00", expected: 0},
		{input: "-3.10", expected: -310},
		{input: "50", expected: 5000},
		{input: "12.5", expected: 1250},
		{input: "15.299999999999999", expected: 1530},
		{input: "-", wantErr: true},
		{input: "--1", wantErr: true},
		{input: "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseBalance(tt.input)

			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error, got %d", got)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Expected %d cents, got %d", tt.expected, got)
			}
		})
	}
}

func TestMoney_String(t *testing.T) {
	tests := []struct {
		cents    Money
		expected string
	}{
		{0, "0.00"},
		{1, "0.01"},
		{5000, "50.00"},
		{1250, "12.50"},
		{-310, "-3.10"},
		{-5, "-0.05"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.cents.String(); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestMoney_JSON(t *testing.T) {
	encoded, err := json.Marshal(Money(1050))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(encoded) != "10.50" {
		t.Errorf("Expected 10.50, got %s", encoded)
	}

	tests := []struct {
		input    string
		expected Money
	}{
		{`10.5`, 1050},
		{`"10,50"`, 1050},
		{`50`, 5000},
		{`1e2`, 10000},
		{`0.30000000000000004`, 30},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var m Money
			if err := json.Unmarshal([]byte(tt.input), &m); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if m != tt.expected {
				t.Errorf("Expected %d cents, got %d", tt.expected, m)
			}
		})
	}

	var m Money
	if err := json.Unmarshal([]byte(`"lots"`), &m); err == nil {
		t.Error("Expected error for non-numeric string")
	}
}
