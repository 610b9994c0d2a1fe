package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// KV is the Postgres-backed secrets store used for credential and
// authorization state. Each Set fully replaces the value of its key.
type KV struct {
	pool *pgxpool.Pool
}

// NewKV constructs a KV.
func NewKV(pool *pgxpool.Pool) *KV {
	return &KV{pool: pool}
}

// Get returns the value stored under key, empty string when absent.
func (s *KV) Get(ctx context.Context, key string) (string, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Release()

	var value string
	err = conn.QueryRow(ctx, `SELECT value FROM secure_kv WHERE key=$1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// Set writes the value under key, replacing any previous value.
func (s *KV) Set(ctx context.Context, key, value string) error {
	const stmt = `INSERT INTO secure_kv (key, value, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, stmt, key, value)
	return err
}

// Delete removes the key. Deleting a missing key is not an error.
func (s *KV) Delete(ctx context.Context, key string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `DELETE FROM secure_kv WHERE key=$1`, key)
	return err
}
