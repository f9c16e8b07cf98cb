package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pocket-ledger/pkg/kv"

	"github.com/lib/pq"
)

// Store is a kv.Store on a PostgreSQL table.
type Store struct {
	db    *sql.DB
	name  string
	table string
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	Name     string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// Table holds the key-value rows; created on connect if missing.
	Table string
}

// DefaultConfig returns default PostgreSQL configuration.
func DefaultConfig() Config {
	return Config{
		Name:     "postgres",
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "ledger",
		SSLMode:  "disable",
		Table:    "ledger_kv",
	}
}

// DSN returns the lib/pq connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// New opens a connection pool and creates the table if needed.
func New(cfg Config) (*Store, error) {
	if cfg.Name == "" {
		cfg.Name = "postgres"
	}
	if cfg.Table == "" {
		cfg.Table = "ledger_kv"
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &Store{
		db:    db,
		name:  cfg.Name,
		table: pq.QuoteIdentifier(cfg.Table),
	}

	if err := s.initTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init tables: %w", err)
	}

	return s, nil
}

func (s *Store) initTables(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
		key VARCHAR(250) PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Get retrieves a value.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := kv.ValidateKey(key); err != nil {
		return "", err
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM `+s.table+` WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", kv.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres get: %w", err)
	}
	return value, nil
}

// GetMulti reads all keys with one statement.
func (s *Store) GetMulti(ctx context.Context, keys []string) (map[string]string, error) {
	if err := kv.ValidateKeys(keys); err != nil {
		return nil, err
	}
	result := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM `+s.table+` WHERE key = ANY($1)`, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("postgres get multi: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("postgres get multi: scan: %w", err)
		}
		result[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres get multi: %w", err)
	}
	return result, nil
}

func (s *Store) upsert() string {
	return `INSERT INTO ` + s.table + ` (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
}

// Set stores a value.
func (s *Store) Set(ctx context.Context, key string, value string) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.upsert(), key, value); err != nil {
		return fmt.Errorf("postgres set: %w", err)
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
		return fmt.Errorf("postgres set multi: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.upsert())
	if err != nil {
		return fmt.Errorf("postgres set multi: prepare: %w", err)
	}
	defer stmt.Close()

	// Fixed order keeps concurrent writers from deadlocking on row locks.
	for _, k := range kv.SortedKeys(entries) {
		if _, err := stmt.ExecContext(ctx, k, entries[k]); err != nil {
			return fmt.Errorf("postgres set multi: %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres set multi: commit: %w", err)
	}
	return nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE key = $1`, key); err != nil {
		return fmt.Errorf("postgres delete: %w", err)
	}
	return nil
}

// Clear empties the table.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table); err != nil {
		return fmt.Errorf("postgres clear: %w", err)
	}
	return nil
}

// Drop removes the table. Used by tests.
func (s *Store) Drop(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+s.table); err != nil {
		return fmt.Errorf("postgres drop: %w", err)
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

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
