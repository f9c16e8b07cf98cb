package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"pocket-ledger/pkg/kv"
	"pocket-ledger/pkg/logging"

	"github.com/BurntSushi/toml"
)

// Backends selectable with Config.Backend.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

var validBackends = []string{BackendMemory, BackendSQLite, BackendRedis, BackendPostgres}

// Config is the process configuration: a TOML file overridden by the
// environment.
type Config struct {
	// Backend is the durable store: memory, sqlite, redis or postgres.
	Backend string `toml:"backend"`
	// Namespace prefixes every key, so several ledgers share a store.
	Namespace string `toml:"namespace"`
	// Cache puts an in-process memory layer in front of the backend.
	Cache bool `toml:"cache"`
	// CacheMaxAge bounds how stale a cached read may be when other
	// processes write the backend directly. Mutations always read the
	// backend.
	CacheMaxAge time.Duration `toml:"cache_max_age"`
	// StoreTimeout bounds every store call.
	StoreTimeout time.Duration `toml:"store_timeout"`

	SQLite   SQLiteConfig   `toml:"sqlite"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	API      APIConfig      `toml:"api"`
	Log      logging.Config `toml:"log"`
}

type SQLiteConfig struct {
	Path        string        `toml:"path"`
	BusyTimeout time.Duration `toml:"busy_timeout"`
}

type RedisConfig struct {
	Addr         string   `toml:"addr"`
	ClusterAddrs []string `toml:"cluster_addrs"`
	Username     string   `toml:"username"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	KeyPrefix    string   `toml:"key_prefix"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
	Table    string `toml:"table"`
}

type APIConfig struct {
	Addr            string        `toml:"addr"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Backend:      BackendSQLite,
		StoreTimeout: 2 * time.Second,
		CacheMaxAge:  time.Second,
		SQLite: SQLiteConfig{
			Path:        "./data/ledger.db",
			BusyTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "ledger:",
		},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "ledger",
			SSLMode:  "disable",
			Table:    "ledger_kv",
		},
		API: APIConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: logging.DefaultConfig(),
	}
}

// Load reads the TOML file at path, if any, over the defaults and then
// applies environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from environment variables. Malformed numbers,
// booleans and durations are errors rather than silently ignored.
func (c *Config) applyEnv() error {
	var problems []string
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s=%q is not a number", key, v))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s=%q is not a boolean", key, v))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s=%q is not a duration", key, v))
				return
			}
			*dst = d
		}
	}

	str("LEDGER_BACKEND", &c.Backend)
	str("LEDGER_NAMESPACE", &c.Namespace)
	boolean("LEDGER_CACHE", &c.Cache)
	duration("LEDGER_CACHE_MAX_AGE", &c.CacheMaxAge)
	duration("LEDGER_STORE_TIMEOUT", &c.StoreTimeout)

	str("LEDGER_SQLITE_PATH", &c.SQLite.Path)

	str("REDIS_ADDR", &c.Redis.Addr)
	if v := os.Getenv("REDIS_CLUSTER_ADDRS"); v != "" {
		c.Redis.ClusterAddrs = splitList(v)
	}
	str("REDIS_USERNAME", &c.Redis.Username)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)
	str("REDIS_KEY_PREFIX", &c.Redis.KeyPrefix)

	str("POSTGRES_HOST", &c.Postgres.Host)
	num("POSTGRES_PORT", &c.Postgres.Port)
	str("POSTGRES_USER", &c.Postgres.User)
	str("POSTGRES_PASSWORD", &c.Postgres.Password)
	str("POSTGRES_DB", &c.Postgres.Database)
	str("POSTGRES_SSLMODE", &c.Postgres.SSLMode)
	str("POSTGRES_TABLE", &c.Postgres.Table)

	str("API_ADDR", &c.API.Addr)

	c.Log = logging.ApplyEnv(c.Log)

	if len(problems) > 0 {
		return fmt.Errorf("environment: %s", strings.Join(problems, "; "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var problems []string

	valid := false
	for _, b := range validBackends {
		if c.Backend == b {
			valid = true
			break
		}
	}
	if !valid {
		problems = append(problems, fmt.Sprintf("invalid backend '%s': must be one of %v", c.Backend, validBackends))
	}

	if c.Namespace != "" {
		if err := kv.ValidateKey(c.Namespace); err != nil || strings.ContainsAny(c.Namespace, " :") {
			problems = append(problems, fmt.Sprintf("invalid namespace '%s': no spaces, colons or control characters", c.Namespace))
		}
	}

	if c.StoreTimeout < 0 {
		problems = append(problems, fmt.Sprintf("invalid store timeout %v: must not be negative", c.StoreTimeout))
	}
	if c.CacheMaxAge < 0 {
		problems = append(problems, fmt.Sprintf("invalid cache max age %v: must not be negative", c.CacheMaxAge))
	}

	switch c.Backend {
	case BackendSQLite:
		if strings.TrimSpace(c.SQLite.Path) == "" {
			problems = append(problems, "sqlite path cannot be empty when using sqlite backend")
		} else if c.SQLite.Path == ":memory:" {
			problems = append(problems, "sqlite path ':memory:' is not durable; use the memory backend")
		}
	case BackendRedis:
		if c.Redis.Addr == "" && len(c.Redis.ClusterAddrs) == 0 {
			problems = append(problems, "redis address is required when using redis backend")
		}
		if len(c.Redis.ClusterAddrs) > 0 && c.Redis.DB != 0 {
			problems = append(problems, "redis cluster mode only supports db 0")
		}
		if c.Redis.DB < 0 || c.Redis.DB > 15 {
			problems = append(problems, fmt.Sprintf("invalid redis db %d: must be between 0 and 15", c.Redis.DB))
		}
	case BackendPostgres:
		if c.Postgres.Host == "" {
			problems = append(problems, "postgres host is required when using postgres backend")
		}
		if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
			problems = append(problems, fmt.Sprintf("invalid postgres port %d: must be between 1 and 65535", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			problems = append(problems, "postgres database is required when using postgres backend")
		}
	}

	if _, port, err := net.SplitHostPort(c.API.Addr); err != nil {
		problems = append(problems, fmt.Sprintf("invalid api address '%s': %v", c.API.Addr, err))
	} else if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
		problems = append(problems, fmt.Sprintf("invalid api port '%s': must be between 0 and 65535", port))
	}

	if err := c.Log.Validate(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return errors.New("configuration validation failed:\n- " + strings.Join(problems, "\n- "))
	}
	return nil
}
