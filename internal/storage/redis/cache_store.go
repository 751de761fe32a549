// Package redis provides a Redis-backed cache index for deployments that
// keep the locator mapping in Redis instead of Postgres.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nwhited/characterimg/internal/character"
)

// Config controls the Redis connection and key layout.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// CacheStore implements character.CacheIndex on Redis. Entries are stored as
// JSON values under <prefix>:<number> with the numbers also tracked in a
// sorted set scored by number, which makes range lookups one ZRANGEBYSCORE
// plus an MGET.
type CacheStore struct {
	client *redis.Client
	prefix string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*CacheStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, cfg.KeyPrefix), nil
}

// NewWithClient constructs a store from an existing client (primarily for
// testing).
func NewWithClient(client *redis.Client, keyPrefix string) *CacheStore {
	if keyPrefix == "" {
		keyPrefix = "charimg"
	}
	return &CacheStore{client: client, prefix: keyPrefix}
}

// Close releases the underlying client.
func (s *CacheStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

func (s *CacheStore) entryKey(number uint64) string {
	return fmt.Sprintf("%s:entry:%d", s.prefix, number)
}

func (s *CacheStore) indexKey() string {
	return s.prefix + ":numbers"
}

// LookupRange returns all cached entries with numbers in [lo, hi].
func (s *CacheStore) LookupRange(ctx context.Context, lo, hi uint64) (map[uint64]character.CacheEntry, error) {
	members, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: strconv.FormatUint(lo, 10),
		Max: strconv.FormatUint(hi, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range cache index: %w", err)
	}
	if len(members) == 0 {
		return map[uint64]character.CacheEntry{}, nil
	}

	keys := make([]string, 0, len(members))
	for _, member := range members {
		number, err := strconv.ParseUint(member, 10, 64)
		if err != nil {
			continue
		}
		keys = append(keys, s.entryKey(number))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch cache entries: %w", err)
	}

	entries := make(map[uint64]character.CacheEntry, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var entry character.CacheEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		entries[entry.Number] = entry
	}
	return entries, nil
}

// Upsert writes or overwrites the entry for a number; last write wins.
func (s *CacheStore) Upsert(ctx context.Context, number uint64, storageLocator, originalSourceURL string) error {
	if storageLocator == "" {
		return fmt.Errorf("storage locator is required")
	}
	entry := character.CacheEntry{
		Number:            number,
		StorageLocator:    storageLocator,
		OriginalSourceURL: originalSourceURL,
		CreatedAt:         time.Now().UTC(),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.entryKey(number), raw, 0)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(number),
		Member: strconv.FormatUint(number, 10),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}
