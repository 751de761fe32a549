package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nwhited/characterimg/internal/character"
	"github.com/nwhited/characterimg/internal/extract"
	"github.com/nwhited/characterimg/internal/generate"
	"github.com/nwhited/characterimg/internal/hash/sha256"
	"github.com/nwhited/characterimg/internal/naming"
	"github.com/nwhited/characterimg/internal/policy/admission"
	"github.com/nwhited/characterimg/internal/publisher/memory"
	storagememory "github.com/nwhited/characterimg/internal/storage/memory"
)

const testWikiBase = "https://example.org/wiki"

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeFetcher struct {
	mu          sync.Mutex
	pages       map[string]string
	errFor      map[string]error
	delay       time.Duration
	calls       int
	inFlight    int
	maxInFlight int
}

func (f *fakeFetcher) FetchPage(_ context.Context, url string) (character.Page, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inFlight--
	body, ok := f.pages[url]
	err := f.errFor[url]
	f.mu.Unlock()

	if err != nil {
		return character.Page{}, err
	}
	if !ok {
		body = "<html><body>nothing here</body></html>"
	}
	return character.Page{URL: url, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDownloader struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (d *fakeDownloader) Download(_ context.Context, url string) ([]byte, string, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.err != nil {
		return nil, "", d.err
	}
	return []byte("image-bytes-for-" + url), "image/png", nil
}

type fakeGenerator struct {
	mu    sync.Mutex
	url   string
	err   error
	calls int
}

func (g *fakeGenerator) Generate(_ context.Context, number uint64) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	if g.url != "" {
		return g.url, nil
	}
	return fmt.Sprintf("https://gen.example.org/out/%d.png", number), nil
}

type recordingLog struct {
	mu     sync.Mutex
	events []character.RateLimitEvent
}

func (l *recordingLog) Append(_ context.Context, event character.RateLimitEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *recordingLog) SumForClient(_ context.Context, clientIdentity string, since time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, e := range l.events {
		if e.ClientIdentity == clientIdentity && !e.OccurredAt.Before(since) {
			total += e.CallCount
		}
	}
	return total, nil
}

func (l *recordingLog) SumGlobal(_ context.Context, since time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, e := range l.events {
		if !e.OccurredAt.Before(since) {
			total += e.CallCount
		}
	}
	return total, nil
}

func (l *recordingLog) recorded() []character.RateLimitEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]character.RateLimitEvent, len(l.events))
	copy(out, l.events)
	return out
}

// failingIndex errors every lookup and swallows writes.
type failingIndex struct{}

func (failingIndex) LookupRange(context.Context, uint64, uint64) (map[uint64]character.CacheEntry, error) {
	return nil, errors.New("index unavailable")
}

func (failingIndex) Upsert(context.Context, uint64, string, string) error { return nil }

// missIndex reports every number uncached but accepts writes without
// remembering them, so repeat resolutions rely on the session memo.
type missIndex struct{}

func (missIndex) LookupRange(context.Context, uint64, uint64) (map[uint64]character.CacheEntry, error) {
	return map[uint64]character.CacheEntry{}, nil
}

func (missIndex) Upsert(context.Context, uint64, string, string) error { return nil }

type testHarness struct {
	resolver  *Resolver
	index     *storagememory.CacheStore
	blobs     *storagememory.BlobStore
	publisher *memory.Publisher
	fetcher   *fakeFetcher
	download  *fakeDownloader
	generator *fakeGenerator
	log       *recordingLog
}

func pageURLFor(n uint64) string {
	return testWikiBase + "/" + naming.Slug(n)
}

func pageBodyFor(n uint64) string {
	return fmt.Sprintf(
		`<html><body><img src="https://static.example.org/chars/%d_full.png"></body></html>`, n)
}

func newHarness(index character.CacheIndex) *testHarness {
	h := &testHarness{
		blobs:     storagememory.NewBlobStore(),
		publisher: memory.New(),
		fetcher:   &fakeFetcher{pages: map[string]string{}, errFor: map[string]error{}},
		download:  &fakeDownloader{},
		generator: &fakeGenerator{},
		log:       &recordingLog{},
	}
	if index == nil {
		h.index = storagememory.NewCacheStore()
		index = h.index
	}
	clk := fixedClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	h.resolver = New(
		index,
		h.blobs,
		h.blobs,
		h.publisher,
		sha256.New(),
		clk,
		h.fetcher,
		nil,
		nil,
		extract.New("static.example.org"),
		h.download,
		h.generator,
		admission.New(h.log, clk, zap.NewNop()),
		nil,
		Config{
			WikiBaseURL: testWikiBase,
			BlobPrefix:  "characters",
			Topic:       "cache-writes",
			BatchSize:   5,
			BatchPause:  time.Millisecond,
			MemoTTL:     time.Minute,
		},
		zap.NewNop(),
	)
	return h
}

func (h *testHarness) servePages(lo, hi uint64) {
	for n := lo; n <= hi; n++ {
		h.fetcher.pages[pageURLFor(n)] = pageBodyFor(n)
	}
}

func TestResolveAllCachedBypassesRemote(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	for n := uint64(3); n <= 5; n++ {
		require.NoError(t, h.index.Upsert(ctx, n, fmt.Sprintf("characters/%d/abc.png", n), pageURLFor(n)))
	}

	results, err := h.resolver.Resolve(ctx, 3, 5, false, "client-a")
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, result := range results {
		require.Equal(t, uint64(3+i), result.Number)
		require.Equal(t, character.OriginCache, result.Origin)
		require.NotEmpty(t, result.ImageURL)
		require.Empty(t, result.FailureReason)
	}
	require.Zero(t, h.fetcher.callCount())
	require.Empty(t, h.log.recorded(), "fully-cached requests must bypass admission control")
}

func TestResolveSkipsUnworthyNumbers(t *testing.T) {
	h := newHarness(nil)

	results, err := h.resolver.Resolve(context.Background(), 101, 103, false, "client-a")
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, result := range results {
		require.Empty(t, result.ImageURL)
		require.Equal(t, character.OriginNone, result.Origin)
		require.Equal(t, character.SkippedReason, result.FailureReason)
	}
	require.Zero(t, h.fetcher.callCount())
	require.Empty(t, h.log.recorded())
}

func TestResolveRangeBatchesAndSorts(t *testing.T) {
	h := newHarness(nil)
	h.servePages(1, 20)
	h.fetcher.delay = 3 * time.Millisecond

	results, err := h.resolver.Resolve(context.Background(), 1, 20, false, "client-a")
	require.NoError(t, err)
	require.Len(t, results, 20)
	for i, result := range results {
		require.Equal(t, uint64(i+1), result.Number, "output must be sorted ascending")
		require.Equal(t, character.OriginScraped, result.Origin)
		require.NotEmpty(t, result.ImageURL)
		require.Equal(t, pageURLFor(result.Number), result.SourcePageURL)
	}

	require.Equal(t, 20, h.fetcher.callCount())
	require.LessOrEqual(t, h.fetcher.maxInFlight, 5, "batch size bounds concurrency")

	events := h.log.recorded()
	require.Len(t, events, 4, "one rate-limit row per batch")
	for _, event := range events {
		require.Equal(t, 5, event.CallCount)
		require.Equal(t, "client-a", event.ClientIdentity)
	}

	cached, err := h.index.LookupRange(context.Background(), 1, 20)
	require.NoError(t, err)
	require.Len(t, cached, 20)
	require.Len(t, h.publisher.Messages(), 20)
}

func TestResolveStorageWritePrecedesIndexWrite(t *testing.T) {
	h := newHarness(nil)
	h.servePages(7, 7)

	results, err := h.resolver.Resolve(context.Background(), 7, 7, false, "client-a")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, character.OriginScraped, results[0].Origin)

	cached, err := h.index.LookupRange(context.Background(), 7, 7)
	require.NoError(t, err)
	entry, ok := cached[7]
	require.True(t, ok)
	_, stored := h.blobs.Object(entry.StorageLocator)
	require.True(t, stored, "index entry must reference written bytes")
	require.True(t, strings.HasPrefix(entry.StorageLocator, "characters/7/"))
	require.True(t, strings.HasSuffix(entry.StorageLocator, ".png"))
}

func TestResolvePerNumberFailureIsolation(t *testing.T) {
	h := newHarness(nil)
	h.servePages(1, 3)
	h.fetcher.errFor[pageURLFor(2)] = errors.New("connection reset")

	results, err := h.resolver.Resolve(context.Background(), 1, 3, false, "client-a")
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.Equal(t, character.OriginScraped, results[0].Origin)
	require.Equal(t, character.OriginScraped, results[2].Origin)

	require.Equal(t, uint64(2), results[1].Number)
	require.Empty(t, results[1].ImageURL)
	require.Contains(t, results[1].FailureReason, "page fetch failed")
}

func TestResolveNoImageOnPage(t *testing.T) {
	h := newHarness(nil)
	h.fetcher.pages[pageURLFor(9)] = "<html><body><p>no pictures</p></body></html>"

	results, err := h.resolver.Resolve(context.Background(), 9, 9, false, "client-a")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Empty(t, results[0].ImageURL)
	require.Equal(t, "no suitable image found on page", results[0].FailureReason)
}

func TestResolveIndexFailureDegradesToMiss(t *testing.T) {
	h := newHarness(failingIndex{})
	h.servePages(4, 4)

	results, err := h.resolver.Resolve(context.Background(), 4, 4, false, "client-a")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, character.OriginScraped, results[0].Origin)
	require.NotEmpty(t, results[0].ImageURL)
}

func TestResolveSingleUnworthyEscalatesToGenerationOnce(t *testing.T) {
	h := newHarness(nil)

	results, err := h.resolver.Resolve(context.Background(), 101, 101, true, "client-a")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, character.OriginGenerated, results[0].Origin)
	require.NotEmpty(t, results[0].ImageURL)
	require.Empty(t, results[0].FailureReason)

	require.Zero(t, h.fetcher.callCount(), "unworthy numbers skip remote lookup")
	require.Equal(t, 1, h.generator.calls)

	cached, err := h.index.LookupRange(context.Background(), 101, 101)
	require.NoError(t, err)
	entry, ok := cached[101]
	require.True(t, ok)
	require.True(t, entry.Generated())
}

func TestResolveGenerationRateLimitedReason(t *testing.T) {
	h := newHarness(nil)
	h.generator.err = fmt.Errorf("quota: %w", generate.ErrRateLimited)

	results, err := h.resolver.Resolve(context.Background(), 101, 101, true, "client-a")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Empty(t, results[0].ImageURL)
	require.Equal(t, reasonGenerationRateLimited, results[0].FailureReason)
	require.Equal(t, character.OriginNone, results[0].Origin)
}

func TestResolveGenerationFailureReason(t *testing.T) {
	h := newHarness(nil)
	h.generator.err = errors.New("model exploded")

	results, err := h.resolver.Resolve(context.Background(), 101, 101, true, "client-a")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Contains(t, results[0].FailureReason, "image generation failed")
	require.NotEqual(t, reasonGenerationRateLimited, results[0].FailureReason)
}

func TestResolveMultiNumberRangeNeverGenerates(t *testing.T) {
	h := newHarness(nil)

	results, err := h.resolver.Resolve(context.Background(), 101, 102, false, "client-a")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Zero(t, h.generator.calls)
}

func TestResolveSessionMemoSkipsRepeatScrape(t *testing.T) {
	h := newHarness(missIndex{})
	h.servePages(6, 6)

	first, err := h.resolver.Resolve(context.Background(), 6, 6, false, "client-a")
	require.NoError(t, err)
	require.Equal(t, character.OriginScraped, first[0].Origin)
	require.Equal(t, 1, h.fetcher.callCount())

	second, err := h.resolver.Resolve(context.Background(), 6, 6, false, "client-a")
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.NotEmpty(t, second[0].ImageURL)
	require.Equal(t, 1, h.fetcher.callCount(), "memoized result must not re-scrape")
	require.Equal(t, character.OriginCache, second[0].Origin,
		"a request issuing no remote calls must not report fresh provenance")
}

func TestResolveCancellationReturnsPartialResults(t *testing.T) {
	h := newHarness(nil)
	h.servePages(1, 10)

	ctx, cancel := context.WithCancel(context.Background())
	h.fetcher.delay = 5 * time.Millisecond
	go func() {
		time.Sleep(2 * time.Millisecond)
		cancel()
	}()

	results, err := h.resolver.Resolve(ctx, 1, 10, false, "client-a")
	require.NoError(t, err)
	require.LessOrEqual(t, len(results), 10)
	for i := 1; i < len(results); i++ {
		require.Less(t, results[i-1].Number, results[i].Number)
	}
}

func TestGenerateOverwritesCacheEntry(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()
	require.NoError(t, h.index.Upsert(ctx, 8, "characters/8/old.png", pageURLFor(8)))

	result := h.resolver.Generate(ctx, 8)
	require.Equal(t, character.OriginGenerated, result.Origin)
	require.NotEmpty(t, result.ImageURL)
	require.Equal(t, 1, h.generator.calls)

	cached, err := h.index.LookupRange(ctx, 8, 8)
	require.NoError(t, err)
	entry := cached[8]
	require.True(t, entry.Generated())
	require.NotEqual(t, "characters/8/old.png", entry.StorageLocator)
}

func TestResolveInvalidRange(t *testing.T) {
	h := newHarness(nil)
	_, err := h.resolver.Resolve(context.Background(), 5, 2, false, "client-a")
	require.Error(t, err)
}
