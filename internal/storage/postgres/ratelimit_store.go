package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/nwhited/characterimg/internal/character"
)

// RateLimitStore implements character.RateLimitLog on Postgres.
type RateLimitStore struct {
	pool  dbPool
	table string
}

// RateLimitStoreConfig controls the Postgres connection pool used for the
// rate-limit event log.
type RateLimitStoreConfig = CacheStoreConfig

// NewRateLimitStore creates a Postgres-backed RateLimitStore.
func NewRateLimitStore(ctx context.Context, cfg RateLimitStoreConfig) (*RateLimitStore, error) {
	if cfg.Table == "" {
		cfg.Table = "rate_limit_events"
	}
	base, err := NewCacheStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &RateLimitStore{pool: base.pool, table: base.table}, nil
}

// NewRateLimitStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewRateLimitStoreWithPool(pool dbPool, table string) (*RateLimitStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "rate_limit_events"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RateLimitStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RateLimitStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Append inserts one rate-limit event row.
func (s *RateLimitStore) Append(ctx context.Context, event character.RateLimitEvent) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("rate limit store is not configured")
	}
	if event.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if event.CallCount < 1 {
		return fmt.Errorf("call count must be >= 1")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, client_identity, call_count, occurred_at)
VALUES ($1, $2, $3, $4)`, s.table)

	if _, err := s.pool.Exec(ctx, query,
		event.ID, event.ClientIdentity, event.CallCount, event.OccurredAt); err != nil {
		return fmt.Errorf("insert rate limit event: %w", err)
	}
	return nil
}

// SumForClient aggregates call counts for one client identity since the
// given time.
func (s *RateLimitStore) SumForClient(ctx context.Context, clientIdentity string, since time.Time) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("rate limit store is not configured")
	}
	query := fmt.Sprintf(`
SELECT COALESCE(SUM(call_count), 0)
FROM %s
WHERE client_identity = $1 AND occurred_at >= $2`, s.table)

	var total int
	if err := s.pool.QueryRow(ctx, query, clientIdentity, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum client calls: %w", err)
	}
	return total, nil
}

// SumGlobal aggregates call counts across all clients since the given time.
func (s *RateLimitStore) SumGlobal(ctx context.Context, since time.Time) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("rate limit store is not configured")
	}
	query := fmt.Sprintf(`
SELECT COALESCE(SUM(call_count), 0)
FROM %s
WHERE occurred_at >= $1`, s.table)

	var total int
	if err := s.pool.QueryRow(ctx, query, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum global calls: %w", err)
	}
	return total, nil
}

// DeleteBefore removes rows older than the retention horizon. It is called
// by the maintenance job, not the request path.
func (s *RateLimitStore) DeleteBefore(ctx context.Context, horizon time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("rate limit store is not configured")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE occurred_at < $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, horizon)
	if err != nil {
		return 0, fmt.Errorf("delete rate limit events: %w", err)
	}
	return tag.RowsAffected(), nil
}
