package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nwhited/characterimg/internal/character"
)

// CacheStore implements character.CacheIndex in-memory.
type CacheStore struct {
	mu      sync.RWMutex
	entries map[uint64]character.CacheEntry
}

// NewCacheStore creates a new in-memory cache index.
func NewCacheStore() *CacheStore {
	return &CacheStore{entries: make(map[uint64]character.CacheEntry)}
}

// LookupRange returns all cached entries with numbers in [lo, hi].
func (s *CacheStore) LookupRange(_ context.Context, lo, hi uint64) (map[uint64]character.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint64]character.CacheEntry)
	for number, entry := range s.entries {
		if number >= lo && number <= hi {
			out[number] = entry
		}
	}
	return out, nil
}

// Upsert writes or overwrites the entry for a number; last write wins.
func (s *CacheStore) Upsert(_ context.Context, number uint64, storageLocator, originalSourceURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[number] = character.CacheEntry{
		Number:            number,
		StorageLocator:    storageLocator,
		OriginalSourceURL: originalSourceURL,
		CreatedAt:         time.Now().UTC(),
	}
	return nil
}
