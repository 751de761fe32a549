// Package resolver implements the per-number image resolution pipeline.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/nwhited/characterimg/internal/character"
	"github.com/nwhited/characterimg/internal/extract"
	"github.com/nwhited/characterimg/internal/generate"
	"github.com/nwhited/characterimg/internal/metrics"
	"github.com/nwhited/characterimg/internal/naming"
	"github.com/nwhited/characterimg/internal/policy/admission"
	"github.com/nwhited/characterimg/internal/policy/scrapeworth"
)

// Config controls Resolver behavior.
type Config struct {
	// WikiBaseURL is the page root lookups are built against, without a
	// trailing slash (e.g. "https://numberblocks.fandom.com/wiki").
	WikiBaseURL string
	// BlobPrefix is prepended to stored-object paths.
	BlobPrefix string
	// Topic is the pub/sub topic cache-write events are published to.
	Topic string
	// BatchSize bounds concurrent remote lookups per invocation.
	BatchSize int
	// BatchPause is the courtesy pause between consecutive batches.
	BatchPause time.Duration
	// MemoTTL bounds how long resolved results are memoized in-process.
	MemoTTL time.Duration
}

const (
	defaultBatchSize  = 5
	defaultBatchPause = time.Second
	defaultMemoTTL    = 10 * time.Minute
)

// Failure reasons surfaced on per-number results.
const (
	reasonGenerationRateLimited = "image generation rate limited, retry later"
)

// Resolver orchestrates cache consult, remote scrape, persistence, and
// synthetic-generation escalation for a range of character numbers.
type Resolver struct {
	index      character.CacheIndex
	urls       character.PublicURLer
	blobs      character.BlobStore
	publisher  character.Publisher
	hasher     character.Hasher
	clock      character.Clock
	probe      character.PageFetcher
	headless   character.PageFetcher
	detector   character.HeadlessDetector
	extractor  *extract.Extractor
	downloader character.ImageDownloader
	generator  character.ImageGenerator
	admission  *admission.Controller
	memo       *gocache.Cache
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Resolver. The memo cache may be nil, in which case a
// private one is created with the configured TTL.
func New(
	index character.CacheIndex,
	urls character.PublicURLer,
	blobs character.BlobStore,
	publisher character.Publisher,
	hasher character.Hasher,
	clock character.Clock,
	probe character.PageFetcher,
	headless character.PageFetcher,
	detector character.HeadlessDetector,
	extractor *extract.Extractor,
	downloader character.ImageDownloader,
	generator character.ImageGenerator,
	admit *admission.Controller,
	memo *gocache.Cache,
	cfg Config,
	logger *zap.Logger,
) *Resolver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = defaultBatchPause
	}
	if cfg.MemoTTL <= 0 {
		cfg.MemoTTL = defaultMemoTTL
	}
	cfg.WikiBaseURL = strings.TrimRight(cfg.WikiBaseURL, "/")
	if memo == nil {
		memo = gocache.New(cfg.MemoTTL, 2*cfg.MemoTTL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		index:      index,
		urls:       urls,
		blobs:      blobs,
		publisher:  publisher,
		hasher:     hasher,
		clock:      clock,
		probe:      probe,
		headless:   headless,
		detector:   detector,
		extractor:  extractor,
		downloader: downloader,
		generator:  generator,
		admission:  admit,
		memo:       memo,
		cfg:        cfg,
		logger:     logger,
	}
}

// Resolve produces one ImageResult per number in [lo, hi], sorted ascending.
// Cancellation between batches returns the results gathered so far; numbers
// never attempted are absent from the slice.
func (r *Resolver) Resolve(
	ctx context.Context,
	lo, hi uint64,
	singleNumber bool,
	clientIdentity string,
) ([]character.ImageResult, error) {
	if hi < lo {
		return nil, fmt.Errorf("invalid range: %d > %d", lo, hi)
	}

	results := make([]character.ImageResult, 0, hi-lo+1)
	pending := make([]uint64, 0)

	cached := r.lookupCached(ctx, lo, hi)
	for n := lo; ; n++ {
		if entry, ok := cached[n]; ok {
			metrics.ObserveCacheLookup("hit")
			results = append(results, r.cachedResult(n, entry))
		} else if memoized, ok := r.memoized(n); ok {
			metrics.ObserveCacheLookup("hit")
			results = append(results, memoized)
		} else {
			metrics.ObserveCacheLookup("miss")
			if scrapeworth.Worth(n) {
				pending = append(pending, n)
			} else {
				results = append(results, character.ImageResult{
					Number:        n,
					SourcePageURL: r.pageURL(n),
					Origin:        character.OriginNone,
					FailureReason: character.SkippedReason,
				})
			}
		}
		if n == hi {
			break
		}
	}

	// Fully-cached requests never touch admission control.
	if len(pending) > 0 {
		if !r.awaitAdmission(ctx, clientIdentity) {
			return r.finish(ctx, results, singleNumber), nil
		}
		results = r.resolveBatches(ctx, clientIdentity, pending, results)
	}

	return r.finish(ctx, results, singleNumber), nil
}

// lookupCached degrades index failures to an all-miss view so resolution can
// continue against the remote source.
func (r *Resolver) lookupCached(ctx context.Context, lo, hi uint64) map[uint64]character.CacheEntry {
	cached, err := r.index.LookupRange(ctx, lo, hi)
	if err != nil {
		metrics.ObserveCacheLookup("error")
		r.logger.Warn("cache index lookup failed, treating range as uncached",
			zap.Uint64("lo", lo), zap.Uint64("hi", hi), zap.Error(err))
		return map[uint64]character.CacheEntry{}
	}
	return cached
}

func (r *Resolver) cachedResult(n uint64, entry character.CacheEntry) character.ImageResult {
	source := entry.OriginalSourceURL
	if source == "" || entry.Generated() {
		source = r.pageURL(n)
	}
	return character.ImageResult{
		Number:        n,
		ImageURL:      r.urls.PublicURL(entry.StorageLocator),
		SourcePageURL: source,
		Origin:        character.OriginCache,
	}
}

// memoized serves a prior resolution from the in-process memo. The memo is a
// cache tier, so served results carry cache provenance regardless of how the
// original resolution obtained its bytes.
func (r *Resolver) memoized(n uint64) (character.ImageResult, bool) {
	v, ok := r.memo.Get(strconv.FormatUint(n, 10))
	if !ok {
		return character.ImageResult{}, false
	}
	result, ok := v.(character.ImageResult)
	if !ok {
		return character.ImageResult{}, false
	}
	result.Origin = character.OriginCache
	return result, true
}

// awaitAdmission sleeps out the admission-control delay. It reports false
// when the context finishes first.
func (r *Resolver) awaitAdmission(ctx context.Context, clientIdentity string) bool {
	if r.admission == nil {
		return true
	}
	delay := r.admission.ComputeDelay(ctx, clientIdentity)
	if delay <= 0 {
		return true
	}
	metrics.ObserveAdmissionDelay(delay)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// resolveBatches fans out remote lookups in fixed-size batches with a
// courtesy pause between them. Cancellation is honored between batches only.
func (r *Resolver) resolveBatches(
	ctx context.Context,
	clientIdentity string,
	pending []uint64,
	results []character.ImageResult,
) []character.ImageResult {
	for start := 0; start < len(pending); start += r.cfg.BatchSize {
		if start > 0 {
			if !r.pause(ctx) {
				break
			}
		}
		end := start + r.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		var (
			mu          sync.Mutex
			wg          sync.WaitGroup
			remoteCalls int
		)
		for _, n := range batch {
			wg.Add(1)
			go func(n uint64) {
				defer wg.Done()
				result, called := r.resolveOne(ctx, n)
				mu.Lock()
				results = append(results, result)
				if called {
					remoteCalls++
				}
				mu.Unlock()
			}(n)
		}
		wg.Wait()

		if r.admission != nil && remoteCalls > 0 {
			r.admission.Record(ctx, clientIdentity, remoteCalls)
		}
	}
	return results
}

func (r *Resolver) pause(ctx context.Context) bool {
	timer := time.NewTimer(r.cfg.BatchPause)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// resolveOne runs the scrape-extract-persist sequence for a single number.
// Every failure degrades to a FailureReason on that number's result. The
// second return reports whether a remote call was issued.
func (r *Resolver) resolveOne(ctx context.Context, n uint64) (character.ImageResult, bool) {
	pageURL := r.pageURL(n)
	result := character.ImageResult{
		Number:        n,
		SourcePageURL: pageURL,
		Origin:        character.OriginNone,
	}

	page, err := r.probe.FetchPage(ctx, pageURL)
	if err != nil {
		metrics.ObserveScrape("fetch_error")
		r.logger.Warn("page fetch failed",
			zap.Uint64("number", n), zap.String("url", pageURL), zap.Error(err))
		result.FailureReason = fmt.Sprintf("page fetch failed: %v", err)
		return result, true
	}

	page = r.maybePromote(ctx, n, pageURL, page)

	candidate, ok := r.extractor.CandidateImage(string(page.Body), n)
	if !ok {
		metrics.ObserveScrape("no_image")
		result.FailureReason = "no suitable image found on page"
		return result, true
	}

	data, contentType, err := r.downloader.Download(ctx, candidate)
	if err != nil {
		metrics.ObserveScrape("download_error")
		r.logger.Warn("image download failed",
			zap.Uint64("number", n), zap.String("url", candidate), zap.Error(err))
		result.FailureReason = fmt.Sprintf("image download failed: %v", err)
		return result, true
	}

	imageURL, err := r.persist(ctx, n, data, contentType, pageURL)
	if err != nil {
		metrics.ObserveScrape("storage_error")
		result.FailureReason = fmt.Sprintf("storage write failed: %v", err)
		return result, true
	}

	metrics.ObserveScrape("success")
	result.ImageURL = imageURL
	result.Origin = character.OriginScraped
	r.memo.SetDefault(strconv.FormatUint(n, 10), result)
	return result, true
}

// maybePromote re-fetches through the headless browser when the probe body
// looks like an unrendered script shell. Promotion failures fall back to the
// probe response.
func (r *Resolver) maybePromote(ctx context.Context, n uint64, url string, page character.Page) character.Page {
	if r.detector == nil || r.headless == nil || !r.detector.ShouldPromote(page) {
		return page
	}
	promoted, err := r.headless.FetchPage(ctx, url)
	if err != nil {
		r.logger.Warn("headless promotion failed, keeping probe response",
			zap.Uint64("number", n), zap.String("url", url), zap.Error(err))
		return page
	}
	r.logger.Debug("headless promotion applied", zap.Uint64("number", n), zap.String("url", url))
	return promoted
}

// persist writes image bytes to blob storage and then records the cache-index
// entry. The blob write strictly precedes the index write so an entry can
// never reference unwritten bytes. Index and publish failures after a
// successful blob write are logged, not surfaced: the resolved image is still
// servable and the next request simply re-resolves.
func (r *Resolver) persist(
	ctx context.Context,
	n uint64,
	data []byte,
	contentType string,
	sourceURL string,
) (string, error) {
	digest, err := r.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash image bytes: %w", err)
	}
	locator := r.buildLocator(n, digest, contentType)

	if _, err := r.blobs.PutObject(ctx, locator, contentType, data); err != nil {
		return "", err
	}

	if err := r.index.Upsert(ctx, n, locator, sourceURL); err != nil {
		r.logger.Warn("cache index upsert failed",
			zap.Uint64("number", n), zap.String("locator", locator), zap.Error(err))
	} else {
		r.publishCacheWrite(ctx, n, locator, sourceURL)
	}

	return r.urls.PublicURL(locator), nil
}

func (r *Resolver) publishCacheWrite(ctx context.Context, n uint64, locator, sourceURL string) {
	if r.publisher == nil || r.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"number":          n,
		"storage_locator": locator,
		"source_url":      sourceURL,
		"written_at":      r.clock.Now().UTC(),
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.Topic, payload); err != nil {
		r.logger.Warn("cache-write publish failed", zap.Uint64("number", n), zap.Error(err))
	}
}

// finish applies the single-number generation escalation and imposes the
// total ordering on the output.
func (r *Resolver) finish(
	ctx context.Context,
	results []character.ImageResult,
	singleNumber bool,
) []character.ImageResult {
	if singleNumber && len(results) == 1 && results[0].ImageURL == "" {
		results[0] = r.generateOne(ctx, results[0])
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Number < results[j].Number })
	return results
}

// generateOne invokes the synthetic generator for a single unresolved number
// and, on success, persists the generated bytes like a scraped image.
func (r *Resolver) generateOne(ctx context.Context, prior character.ImageResult) character.ImageResult {
	if r.generator == nil {
		return prior
	}
	n := prior.Number

	remoteURL, err := r.generator.Generate(ctx, n)
	if err != nil {
		if errors.Is(err, generate.ErrRateLimited) {
			metrics.ObserveGeneration("rate_limited")
			prior.FailureReason = reasonGenerationRateLimited
		} else {
			metrics.ObserveGeneration("error")
			prior.FailureReason = fmt.Sprintf("image generation failed: %v", err)
		}
		return prior
	}

	data, contentType, err := r.downloader.Download(ctx, remoteURL)
	if err != nil {
		metrics.ObserveGeneration("error")
		prior.FailureReason = fmt.Sprintf("generated image download failed: %v", err)
		return prior
	}

	imageURL, err := r.persist(ctx, n, data, contentType, character.GeneratedSourceSentinel)
	if err != nil {
		metrics.ObserveGeneration("error")
		prior.FailureReason = fmt.Sprintf("storage write failed: %v", err)
		return prior
	}

	metrics.ObserveGeneration("success")
	result := character.ImageResult{
		Number:        n,
		ImageURL:      imageURL,
		SourcePageURL: r.pageURL(n),
		Origin:        character.OriginGenerated,
	}
	r.memo.SetDefault(strconv.FormatUint(n, 10), result)
	return result
}

// Generate forces synthetic generation for a single number, bypassing the
// cache consult. A successful generation overwrites any existing cache entry.
func (r *Resolver) Generate(ctx context.Context, n uint64) character.ImageResult {
	prior := character.ImageResult{
		Number:        n,
		SourcePageURL: r.pageURL(n),
		Origin:        character.OriginNone,
	}
	return r.generateOne(ctx, prior)
}

func (r *Resolver) pageURL(n uint64) string {
	return r.cfg.WikiBaseURL + "/" + naming.Slug(n)
}

func (r *Resolver) buildLocator(n uint64, digest, contentType string) string {
	prefix := strings.Trim(r.cfg.BlobPrefix, "/")
	if prefix == "" {
		prefix = "characters"
	}
	return fmt.Sprintf("%s/%d/%s%s", prefix, n, digest, extensionFor(contentType))
}

func extensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return ".jpg"
	case strings.Contains(contentType, "gif"):
		return ".gif"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	case strings.Contains(contentType, "svg"):
		return ".svg"
	default:
		return ".img"
	}
}
