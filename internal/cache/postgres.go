package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS cache (
    key        TEXT PRIMARY KEY,
    value      BYTEA NOT NULL,
    expires_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache (expires_at);
`

// Postgres is a cache backend over a single-table Postgres schema. Expiry is
// lazy on read plus an explicit CleanupExpired for periodic sweeps.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, verifies the connection, and ensures the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, cacheSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt *time.Time
	err := p.pool.QueryRow(ctx,
		`SELECT value, expires_at FROM cache WHERE key = $1`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres get %q: %w", key, err)
	}
	if expiresAt != nil && time.Now().After(*expiresAt) {
		_, _ = p.pool.Exec(ctx, `DELETE FROM cache WHERE key = $1`, key)
		return nil, false, nil
	}
	return value, true, nil
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO cache (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, created_at = now()`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("postgres set %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM cache WHERE key = $1`, key); err != nil {
		return fmt.Errorf("postgres delete %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM cache
			WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
		)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres exists %q: %w", key, err)
	}
	return exists, nil
}

func (p *Postgres) Clear(ctx context.Context, prefix string) error {
	if _, err := p.pool.Exec(ctx,
		`DELETE FROM cache WHERE key LIKE $1 || '%'`, prefix); err != nil {
		return fmt.Errorf("postgres clear %q: %w", prefix, err)
	}
	return nil
}

// CleanupExpired removes rows past their expiry and returns how many went.
func (p *Postgres) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM cache WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("postgres cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
