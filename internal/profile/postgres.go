package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS neurolink_kv (
    key        TEXT        PRIMARY KEY,
    value      JSONB       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps the profile in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to dsn, verifies the connection and ensures the
// key/value table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("profile: parse dsn: %w", err)
	}
	cfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("profile: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Load implements [Store].
func (s *PostgresStore) Load(ctx context.Context) (*Profile, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM neurolink_kv WHERE key = $1`, Key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile: load: %w", err)
	}
	return decode(value)
}

// Save implements [Store].
func (s *PostgresStore) Save(ctx context.Context, p *Profile) error {
	data, err := encode(p)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO neurolink_kv (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		Key, string(data))
	if err != nil {
		return fmt.Errorf("profile: save: %w", err)
	}
	return nil
}

// Erase implements [Store].
func (s *PostgresStore) Erase(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM neurolink_kv WHERE key = $1`, Key); err != nil {
		return fmt.Errorf("profile: erase: %w", err)
	}
	return nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [Store].
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
