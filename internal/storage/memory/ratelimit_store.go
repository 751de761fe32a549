package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nwhited/characterimg/internal/character"
)

// RateLimitStore implements character.RateLimitLog in-memory.
type RateLimitStore struct {
	mu     sync.RWMutex
	events []character.RateLimitEvent
}

// NewRateLimitStore creates a new in-memory rate-limit log.
func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{}
}

// Append records one event.
func (s *RateLimitStore) Append(_ context.Context, event character.RateLimitEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// SumForClient totals call counts for a client since the given time.
func (s *RateLimitStore) SumForClient(_ context.Context, clientIdentity string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, event := range s.events {
		if event.ClientIdentity == clientIdentity && !event.OccurredAt.Before(since) {
			total += event.CallCount
		}
	}
	return total, nil
}

// SumGlobal totals call counts across all clients since the given time.
func (s *RateLimitStore) SumGlobal(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, event := range s.events {
		if !event.OccurredAt.Before(since) {
			total += event.CallCount
		}
	}
	return total, nil
}
