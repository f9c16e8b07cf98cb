package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"pocket-ledger/pkg/boxes"
	"pocket-ledger/pkg/ledger"
)

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LEDGER_BACKEND", "sqlite")
	t.Setenv("LEDGER_SQLITE_PATH", filepath.Join(t.TempDir(), "ledger.db"))
	t.Setenv("LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_DepositTransferHistory(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "balance")
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if strings.TrimSpace(out) != "0.00" {
		t.Errorf("Expected 0.00, got %q", out)
	}

	out, err = run(t, "deposit", "50")
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if !strings.Contains(out, "Balance:     50.00") || !strings.Contains(out, ledger.DefaultDepositDescription) {
		t.Errorf("Unexpected deposit output %q", out)
	}

	if _, err := run(t, "transfer", "12,50", "-d", "rent"); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if _, err := run(t, "receive", "2.5", "-d", "refund"); err != nil {
		t.Fatalf("receive failed: %v", err)
	}

	out, err = run(t, "balance")
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if strings.TrimSpace(out) != "40.00" {
		t.Errorf("Expected 40.00, got %q", out)
	}

	out, err = run(t, "history")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	for _, want := range []string{"deposit", "transfer-out", "-12.50", "transfer-in", "refund"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected history to contain %q, got %q", want, out)
		}
	}

	out, err = run(t, "verify")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !strings.HasPrefix(out, "OK: balance 40.00 over 3 transactions") {
		t.Errorf("Unexpected verify output %q", out)
	}
}

func TestCLI_Errors(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		target error
	}{
		{"invalid amount", []string{"deposit", "abc"}, ledger.ErrInvalidAmount},
		{"zero amount", []string{"deposit", "0"}, ledger.ErrInvalidAmount},
		{"insufficient funds", []string{"transfer", "1", "-d", "rent"}, ledger.ErrInsufficientFunds},
		{"unknown transaction", []string{"show", "nope"}, ledger.ErrNotFound},
		{"unknown box", []string{"boxes", "show", "nope"}, boxes.ErrNotFound},
		{"blank box name", []string{"boxes", "create", " "}, boxes.ErrInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupEnv(t)

			_, err := run(t, tt.args...)
			if !errors.Is(err, tt.target) {
				t.Errorf("Expected %v, got %v", tt.target, err)
			}
		})
	}
}

func TestCLI_TransferRequiresDescription(t *testing.T) {
	setupEnv(t)

	if _, err := run(t, "transfer", "1"); err == nil {
		t.Error("Expected error without --description")
	}
}

func TestCLI_Boxes(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "boxes", "list")
	if err != nil {
		t.Fatalf("boxes list failed: %v", err)
	}
	if !strings.Contains(out, "No boxes yet.") {
		t.Errorf("Unexpected output %q", out)
	}

	out, err = run(t, "boxes", "create", "Summer", "trip")
	if err != nil {
		t.Fatalf("boxes create failed: %v", err)
	}
	if !strings.Contains(out, `Created box "Summer trip"`) {
		t.Errorf("Unexpected output %q", out)
	}

	if _, err := run(t, "boxes", "create", "summer TRIP"); !errors.Is(err, boxes.ErrDuplicateName) {
		t.Errorf("Expected ErrDuplicateName, got %v", err)
	}

	out, err = run(t, "boxes", "list")
	if err != nil {
		t.Fatalf("boxes list failed: %v", err)
	}
	if !strings.Contains(out, "Summer trip") {
		t.Errorf("Expected box in list, got %q", out)
	}
}

func TestCLI_BadConfig(t *testing.T) {
	setupEnv(t)
	t.Setenv("LEDGER_BACKEND", "sheets")

	if _, err := run(t, "balance"); err == nil {
		t.Error("Expected configuration error")
	}
}

func TestCLI_ConfigFile(t *testing.T) {
	setupEnv(t)

	if _, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "balance"); err == nil {
		t.Error("Expected error for a missing config file")
	}
}
