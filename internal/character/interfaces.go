package character

import (
	"context"
	"time"
)

// CacheIndex maps character numbers to stored-image locators. Implementations
// must treat Upsert as idempotent with last-write-wins semantics.
type CacheIndex interface {
	LookupRange(ctx context.Context, lo, hi uint64) (map[uint64]CacheEntry, error)
	Upsert(ctx context.Context, number uint64, storageLocator, originalSourceURL string) error
}

// BlobStore writes raw image bytes and returns a URI for the stored object.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// PublicURLer derives the deterministic public URL for a storage locator.
// Cache hits are served through this derivation so the URL written at upsert
// time and the URL served later can never drift.
type PublicURLer interface {
	PublicURL(storageLocator string) string
}

// RateLimitLog is the append-only store behind admission control.
type RateLimitLog interface {
	Append(ctx context.Context, event RateLimitEvent) error
	// SumForClient returns the total call count recorded for one client
	// identity with occurred_at >= since.
	SumForClient(ctx context.Context, clientIdentity string, since time.Time) (int, error)
	// SumGlobal returns the total call count across all clients since the
	// given time.
	SumGlobal(ctx context.Context, since time.Time) (int, error)
}

// PageFetcher retrieves a wiki page document.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (Page, error)
}

// HeadlessDetector decides whether a fetched page needs a headless re-fetch
// to render its content.
type HeadlessDetector interface {
	ShouldPromote(page Page) bool
}

// ImageDownloader retrieves raw image bytes from a candidate URL.
type ImageDownloader interface {
	Download(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// ImageGenerator produces a synthetic character image for a number and
// returns a URL the bytes can be downloaded from.
type ImageGenerator interface {
	Generate(ctx context.Context, number uint64) (imageURL string, err error)
}

// Publisher pushes cache-write events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator mints unique identifiers for events and requests.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes digests for content-addressed locators.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
