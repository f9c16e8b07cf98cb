// Package sqlite is the durable on-device kv.Store, a single two-column
// table in a pure-Go SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pocket-ledger/pkg/kv"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// Store keeps values in the kv table.
type Store struct {
	db   *sql.DB
	name string
}

// Config holds configuration for the sqlite store.
type Config struct {
	// Name is the store identifier used in logs and metrics
	Name string

	// Path is the database file. Parent directories are created.
	Path string

	// BusyTimeout is how long a connection waits for a lock held by another one
	BusyTimeout time.Duration
}

// DefaultConfig returns the on-device defaults.
func DefaultConfig() Config {
	return Config{
		Name:        "sqlite",
		Path:        "./data/ledger.db",
		BusyTimeout: 5 * time.Second,
	}
}

// New opens the database at config.Path and applies pending migrations.
func New(config Config) (*Store, error) {
	if config.Name == "" {
		config.Name = "sqlite"
	}
	if config.Path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if config.Path == ":memory:" || strings.HasPrefix(config.Path, "file::memory:") {
		return nil, errors.New("sqlite: in-memory databases are not supported, use the memory store")
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		config.Path, config.BusyTimeout.Milliseconds())

	if err := RunMigrations(dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, name: config.Name}, nil
}

// Get retrieves a value.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := kv.ValidateKey(key); err != nil {
		return "", err
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", kv.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlite get: %w", err)
	}
	return value, nil
}

// GetMulti reads all keys with a single statement, which SQLite runs
// against one snapshot.
func (s *Store) GetMulti(ctx context.Context, keys []string) (map[string]string, error) {
	if err := kv.ValidateKeys(keys); err != nil {
		return nil, err
	}
	result := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite get multi: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("sqlite get multi: scan: %w", err)
		}
		result[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite get multi: %w", err)
	}
	return result, nil
}

const upsert = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

// Set stores a value.
func (s *Store) Set(ctx context.Context, key string, value string) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsert, key, value); err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

// SetMulti stores all entries in one transaction.
func (s *Store) SetMulti(ctx context.Context, entries map[string]string) error {
	if err := kv.ValidateEntries(entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite set multi: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return fmt.Errorf("sqlite set multi: prepare: %w", err)
	}
	defer stmt.Close()

	// Fixed order keeps concurrent writers from deadlocking on row locks.
	for _, k := range kv.SortedKeys(entries) {
		if _, err := stmt.ExecContext(ctx, k, entries[k]); err != nil {
			return fmt.Errorf("sqlite set multi: %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite set multi: commit: %w", err)
	}
	return nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Name returns the store identifier.
func (s *Store) Name() string {
	return s.name
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
