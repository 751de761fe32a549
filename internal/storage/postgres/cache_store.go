// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nwhited/characterimg/internal/character"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// CacheStoreConfig controls the Postgres connection pool used for the cache
// index.
type CacheStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// CacheStore implements character.CacheIndex on Postgres.
type CacheStore struct {
	pool  dbPool
	table string
}

// NewCacheStore creates a Postgres-backed CacheStore using the provided config.
func NewCacheStore(ctx context.Context, cfg CacheStoreConfig) (*CacheStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "image_cache"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CacheStore{pool: pool, table: table}, nil
}

// NewCacheStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewCacheStoreWithPool(pool dbPool, table string) (*CacheStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "image_cache"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &CacheStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *CacheStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// LookupRange returns all cached entries with numbers in [lo, hi].
func (s *CacheStore) LookupRange(ctx context.Context, lo, hi uint64) (map[uint64]character.CacheEntry, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("cache store is not configured")
	}
	query := fmt.Sprintf(`
SELECT number, storage_locator, original_source_url, created_at
FROM %s
WHERE number BETWEEN $1 AND $2`, s.table)

	rows, err := s.pool.Query(ctx, query, int64(lo), int64(hi))
	if err != nil {
		return nil, fmt.Errorf("query cache range: %w", err)
	}
	defer rows.Close()

	entries := make(map[uint64]character.CacheEntry)
	for rows.Next() {
		var (
			number    int64
			locator   string
			sourceURL *string
			createdAt time.Time
		)
		if err := rows.Scan(&number, &locator, &sourceURL, &createdAt); err != nil {
			return nil, fmt.Errorf("scan cache row: %w", err)
		}
		entry := character.CacheEntry{
			Number:         uint64(number),
			StorageLocator: locator,
			CreatedAt:      createdAt,
		}
		if sourceURL != nil {
			entry.OriginalSourceURL = *sourceURL
		}
		entries[entry.Number] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache rows: %w", err)
	}
	return entries, nil
}

// Upsert writes or overwrites the cache row for a number. Last write wins;
// concurrent resolutions for the same number produce equivalent rows.
func (s *CacheStore) Upsert(ctx context.Context, number uint64, storageLocator, originalSourceURL string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("cache store is not configured")
	}
	if storageLocator == "" {
		return fmt.Errorf("storage locator is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (number, storage_locator, original_source_url, created_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (number) DO UPDATE
SET storage_locator = EXCLUDED.storage_locator,
	original_source_url = EXCLUDED.original_source_url,
	created_at = EXCLUDED.created_at`, s.table)

	var source *string
	if originalSourceURL != "" {
		source = &originalSourceURL
	}
	if _, err := s.pool.Exec(ctx, query, int64(number), storageLocator, source); err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}
