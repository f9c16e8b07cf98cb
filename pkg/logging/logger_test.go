package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"", zapcore.InfoLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	config := DefaultConfig()
	config.Format = "xml"

	if _, err := NewLogger(config); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LOG_DEV", "true")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "")

	config := ApplyEnv(DefaultConfig())
	if !config.Development {
		t.Error("Expected development preset")
	}
	if config.Level != "warn" {
		t.Errorf("Expected LOG_LEVEL to win in dev mode, got %q", config.Level)
	}
	if config.Format != "console" {
		t.Errorf("Expected console format, got %q", config.Format)
	}
}

func TestSetGlobal(t *testing.T) {
	original := Global()
	defer SetGlobal(original)

	logger := NewNoOpLogger().Named("test")
	SetGlobal(logger)
	if Global() != logger {
		t.Error("Expected Global to return the logger that was set")
	}

	SetGlobal(nil)
	if Global() == nil {
		t.Error("Expected nil to restore a usable no-op logger")
	}
}
