// Package postgres provides a PostgreSQL implementation of the metering stores.
// Counter increments run inside transactions with SELECT FOR UPDATE, so
// check-and-increment is atomic per key.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mockpress/mockpress/pkg/metering"
)

// Store implements metering.CounterStore and metering.KeyValueStore using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool:   pool,
		config: config,
	}, nil
}

// InitSchema creates the tables the store needs if they do not exist
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS window_counters (
			client_id    TEXT        NOT NULL,
			win          TEXT        NOT NULL,
			window_start TIMESTAMPTZ NOT NULL,
			count        BIGINT      NOT NULL DEFAULT 0,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (client_id, win)
		);

		CREATE TABLE IF NOT EXISTS kv_store (
			key        TEXT        PRIMARY KEY,
			value      TEXT        NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Increment atomically increments the counter for the given window unless it
// is already at the limit. A row carrying an older window start is reset
// before the check.
func (s *Store) Increment(ctx context.Context, key metering.CounterKey, windowStart time.Time, limit int) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	// Ensure the row exists so SELECT FOR UPDATE always finds it
	_, err = tx.Exec(ctx,
		`INSERT INTO window_counters (client_id, win, window_start, count, updated_at)
			VALUES ($1, $2, $3, 0, NOW())
			ON CONFLICT (client_id, win) DO NOTHING`,
		key.ClientID, string(key.Window), windowStart)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure counter exists: %w", err)
	}

	var count int64
	var storedStart time.Time
	err = tx.QueryRow(ctx,
		`SELECT count, window_start
			FROM window_counters
			WHERE client_id = $1 AND win = $2
			FOR UPDATE`,
		key.ClientID, string(key.Window)).Scan(&count, &storedStart)
	if err != nil {
		return 0, fmt.Errorf("failed to get counter for update: %w", err)
	}

	// Stale window: reset before checking the limit
	if storedStart.Before(windowStart) {
		count = 0
	}

	if count >= int64(limit) {
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return 0, fmt.Errorf("failed to commit: %w", commitErr)
		}
		return int(count), metering.ErrLimitReached
	}

	count++
	_, err = tx.Exec(ctx,
		`UPDATE window_counters
			SET count = $1, window_start = $2, updated_at = NOW()
			WHERE client_id = $3 AND win = $4`,
		count, windowStart, key.ClientID, string(key.Window))
	if err != nil {
		return 0, fmt.Errorf("failed to update counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return int(count), nil
}

// Count returns the current count for the given window without mutating it.
// A missing or stale row reads as zero.
func (s *Store) Count(ctx context.Context, key metering.CounterKey, windowStart time.Time) (int, error) {
	var count int64
	var storedStart time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT count, window_start
			FROM window_counters
			WHERE client_id = $1 AND win = $2`,
		key.ClientID, string(key.Window)).Scan(&count, &storedStart)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}

	if storedStart.Before(windowStart) {
		return 0, nil
	}
	return int(count), nil
}

// Get retrieves a value by key
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv_store WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", metering.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get value: %w", err)
	}
	return value, nil
}

// Set stores a value by key
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv_store (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set value: %w", err)
	}
	return nil
}

// Delete removes a value by key
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM kv_store WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to delete value: %w", err)
	}
	return nil
}

// Ping verifies connectivity to the database
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
