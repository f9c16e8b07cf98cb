package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Backend != BackendSQLite {
		t.Errorf("Expected sqlite backend, got %q", cfg.Backend)
	}
	if cfg.SQLite.Path != "./data/ledger.db" {
		t.Errorf("Expected ./data/ledger.db, got %q", cfg.SQLite.Path)
	}
	if cfg.API.Addr != ":8080" {
		t.Errorf("Expected :8080, got %q", cfg.API.Addr)
	}
	if cfg.StoreTimeout != 2*time.Second {
		t.Errorf("Expected 2s store timeout, got %v", cfg.StoreTimeout)
	}
	if cfg.CacheMaxAge != time.Second {
		t.Errorf("Expected 1s cache max age, got %v", cfg.CacheMaxAge)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
backend = "postgres"
namespace = "alice"
cache = true
cache_max_age = "250ms"
store_timeout = "500ms"

[postgres]
host = "db.internal"
port = 6543
database = "money"

[api]
addr = "127.0.0.1:9090"

[log]
level = "debug"
format = "console"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Backend != BackendPostgres || cfg.Namespace != "alice" || !cfg.Cache {
		t.Errorf("Unexpected top-level values: %+v", cfg)
	}
	if cfg.StoreTimeout != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", cfg.StoreTimeout)
	}
	if cfg.CacheMaxAge != 250*time.Millisecond {
		t.Errorf("Expected 250ms cache max age, got %v", cfg.CacheMaxAge)
	}
	if cfg.Postgres.Host != "db.internal" || cfg.Postgres.Port != 6543 || cfg.Postgres.Database != "money" {
		t.Errorf("Unexpected postgres config: %+v", cfg.Postgres)
	}
	if cfg.Postgres.User != "postgres" {
		t.Errorf("Expected default user kept, got %q", cfg.Postgres.User)
	}
	if cfg.API.Addr != "127.0.0.1:9090" {
		t.Errorf("Expected 127.0.0.1:9090, got %q", cfg.API.Addr)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("Unexpected log config: %+v", cfg.Log)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, `backnd = "sqlite"`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "backnd") {
		t.Errorf("Expected unknown key error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `backend = "sqlite"`)

	t.Setenv("LEDGER_BACKEND", "redis")
	t.Setenv("LEDGER_NAMESPACE", "bob")
	t.Setenv("LEDGER_CACHE", "true")
	t.Setenv("LEDGER_STORE_TIMEOUT", "3s")
	t.Setenv("LEDGER_CACHE_MAX_AGE", "5s")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_CLUSTER_ADDRS", "a:1, b:2,")
	t.Setenv("POSTGRES_PORT", "5433")
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Backend != BackendRedis || cfg.Namespace != "bob" || !cfg.Cache {
		t.Errorf("Unexpected overrides: %+v", cfg)
	}
	if cfg.StoreTimeout != 3*time.Second {
		t.Errorf("Expected 3s, got %v", cfg.StoreTimeout)
	}
	if cfg.CacheMaxAge != 5*time.Second {
		t.Errorf("Expected 5s cache max age, got %v", cfg.CacheMaxAge)
	}
	if cfg.Redis.Addr != "cache:6380" || cfg.Redis.Password != "secret" {
		t.Errorf("Unexpected redis config: %+v", cfg.Redis)
	}
	if len(cfg.Redis.ClusterAddrs) != 2 || cfg.Redis.ClusterAddrs[1] != "b:2" {
		t.Errorf("Expected [a:1 b:2], got %v", cfg.Redis.ClusterAddrs)
	}
	if cfg.Postgres.Port != 5433 {
		t.Errorf("Expected 5433, got %d", cfg.Postgres.Port)
	}
	if cfg.API.Addr != ":9999" {
		t.Errorf("Expected :9999, got %q", cfg.API.Addr)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected warn, got %q", cfg.Log.Level)
	}
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("POSTGRES_PORT", "five")
	t.Setenv("LEDGER_CACHE", "maybe")
	t.Setenv("LEDGER_STORE_TIMEOUT", "soon")

	_, err := Load("")
	if err == nil {
		t.Fatal("Expected error")
	}
	for _, key := range []string{"POSTGRES_PORT", "LEDGER_CACHE", "LEDGER_STORE_TIMEOUT"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("Expected %s in error, got %v", key, err)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(c *Config)
		wantErr     bool
		errorString string
	}{
		{
			name:   "valid memory backend",
			modify: func(c *Config) { c.Backend = BackendMemory },
		},
		{
			name: "valid redis backend",
			modify: func(c *Config) {
				c.Backend = BackendRedis
			},
		},
		{
			name: "valid postgres backend",
			modify: func(c *Config) {
				c.Backend = BackendPostgres
			},
		},
		{
			name:        "invalid backend",
			modify:      func(c *Config) { c.Backend = "sheets" },
			wantErr:     true,
			errorString: "invalid backend 'sheets': must be one of [memory sqlite redis postgres]",
		},
		{
			name:        "sqlite backend missing path",
			modify:      func(c *Config) { c.SQLite.Path = "" },
			wantErr:     true,
			errorString: "sqlite path cannot be empty",
		},
		{
			name:        "sqlite in-memory path",
			modify:      func(c *Config) { c.SQLite.Path = ":memory:" },
			wantErr:     true,
			errorString: "is not durable",
		},
		{
			name: "redis without address",
			modify: func(c *Config) {
				c.Backend = BackendRedis
				c.Redis.Addr = ""
			},
			wantErr:     true,
			errorString: "redis address is required",
		},
		{
			name: "redis cluster with db",
			modify: func(c *Config) {
				c.Backend = BackendRedis
				c.Redis.ClusterAddrs = []string{"a:1"}
				c.Redis.DB = 2
			},
			wantErr:     true,
			errorString: "cluster mode only supports db 0",
		},
		{
			name: "postgres bad port",
			modify: func(c *Config) {
				c.Backend = BackendPostgres
				c.Postgres.Port = 70000
			},
			wantErr:     true,
			errorString: "invalid postgres port 70000",
		},
		{
			name:        "namespace with colon",
			modify:      func(c *Config) { c.Namespace = "a:b" },
			wantErr:     true,
			errorString: "invalid namespace 'a:b'",
		},
		{
			name:        "negative timeout",
			modify:      func(c *Config) { c.StoreTimeout = -time.Second },
			wantErr:     true,
			errorString: "invalid store timeout",
		},
		{
			name:        "negative cache max age",
			modify:      func(c *Config) { c.CacheMaxAge = -time.Second },
			wantErr:     true,
			errorString: "invalid cache max age",
		},
		{
			name:    "zero cache max age",
			modify:  func(c *Config) { c.CacheMaxAge = 0 },
			wantErr: false,
		},
		{
			name:        "bad api address",
			modify:      func(c *Config) { c.API.Addr = "8080" },
			wantErr:     true,
			errorString: "invalid api address '8080'",
		},
		{
			name:        "bad log level",
			modify:      func(c *Config) { c.Log.Level = "loud" },
			wantErr:     true,
			errorString: "unknown level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				if !strings.Contains(err.Error(), tt.errorString) {
					t.Errorf("Expected error containing %q, got %q", tt.errorString, err.Error())
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Backend = "nope"
	cfg.API.Addr = "nope"
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected error")
	}
	if strings.Count(err.Error(), "\n- ") != 3 {
		t.Errorf("Expected 3 problems, got %q", err.Error())
	}
}
