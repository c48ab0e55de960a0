package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/repliq/pkg/types"
)

// migration creates the cache table. Expiry lives in the row so that every
// replica sharing the table agrees on entry lifetime.
const migration = `
CREATE TABLE IF NOT EXISTS response_cache (
	key        text PRIMARY KEY,
	response   jsonb NOT NULL,
	expires_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS response_cache_expires_at_idx ON response_cache (expires_at);
`

// Postgres is a [Cache] backed by a PostgreSQL table, for deployments that
// run multiple replicas against one shared cache. Responses are stored as
// jsonb rows keyed by the BLAKE3 query key.
//
// All operations are safe for concurrent use.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database at dsn, ensures the cache table
// exists, and returns the ready cache.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cache: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, migration); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cache: migrate: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Get implements [Cache].
func (p *Postgres) Get(ctx context.Context, key string) (*types.LLMResponse, bool, error) {
	var payload []byte
	err := p.pool.QueryRow(ctx,
		`SELECT response FROM response_cache WHERE key = $1 AND expires_at > now()`,
		key,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %q: %w", key, err)
	}

	var value types.LLMResponse
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, false, fmt.Errorf("cache: decode entry %q: %w", key, err)
	}
	return &value, true, nil
}

// Set implements [Cache].
func (p *Postgres) Set(ctx context.Context, key string, value *types.LLMResponse, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode entry %q: %w", key, err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO response_cache (key, response, expires_at)
		VALUES ($1, $2, now() + $3)
		ON CONFLICT (key) DO UPDATE
		SET response = EXCLUDED.response, expires_at = EXCLUDED.expires_at`,
		key, payload, ttl,
	)
	if err != nil {
		return fmt.Errorf("cache: set %q: %w", key, err)
	}
	return nil
}

// Ping verifies database connectivity. Readiness probes use this to report
// cache availability.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Clear implements [Cache].
func (p *Postgres) Clear(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM response_cache`); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	return nil
}

// ClearExpired implements [Cache].
func (p *Postgres) ClearExpired(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM response_cache WHERE expires_at <= now()`); err != nil {
		return fmt.Errorf("cache: clear expired: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

var _ Cache = (*Postgres)(nil)
