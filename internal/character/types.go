// Package character defines core types shared across subsystems.
package character

import "time"

// Origin records the provenance of a resolved image.
type Origin string

// Provenance values attached to each ImageResult.
const (
	OriginCache     Origin = "cache"
	OriginScraped   Origin = "freshly-scraped"
	OriginGenerated Origin = "ai-generated"
	OriginNone      Origin = "none"
)

// GeneratedSourceSentinel marks cache entries whose bytes came from the
// synthetic generator rather than a remote page.
const GeneratedSourceSentinel = "ai:generated"

// SkippedReason is the fixed failure reason attached to numbers the
// scrape-worthiness policy rules out.
const SkippedReason = "not expected to have wiki image"

// ImageResult is the per-number outcome of a resolve request.
// Exactly one of ImageURL and FailureReason is populated, except skipped
// numbers which carry no URL and the fixed SkippedReason.
type ImageResult struct {
	Number        uint64 `json:"number"`
	ImageURL      string `json:"image_url,omitempty"`
	SourcePageURL string `json:"source_page_url"`
	Origin        Origin `json:"origin"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// CacheEntry is the persisted cache-index row for one number.
type CacheEntry struct {
	Number            uint64    `json:"number"`
	StorageLocator    string    `json:"storage_locator"`
	OriginalSourceURL string    `json:"original_source_url,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Generated reports whether the entry's bytes were synthesized rather than
// fetched from a remote page.
func (e CacheEntry) Generated() bool {
	return e.OriginalSourceURL == GeneratedSourceSentinel
}

// RateLimitEvent is one append-only rate-limit log row. A single row may
// account for a whole batch of remote calls.
type RateLimitEvent struct {
	ID             string    `json:"id"`
	ClientIdentity string    `json:"client_identity"`
	CallCount      int       `json:"call_count"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Page is a raw fetched wiki document plus fetch metadata.
type Page struct {
	URL          string
	StatusCode   int
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
