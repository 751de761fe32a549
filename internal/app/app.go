// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/nwhited/characterimg/internal/api"
	"github.com/nwhited/characterimg/internal/character"
	"github.com/nwhited/characterimg/internal/clock/system"
	"github.com/nwhited/characterimg/internal/config"
	"github.com/nwhited/characterimg/internal/extract"
	colly "github.com/nwhited/characterimg/internal/fetcher/colly"
	"github.com/nwhited/characterimg/internal/fetcher/download"
	"github.com/nwhited/characterimg/internal/fetcher/headless"
	"github.com/nwhited/characterimg/internal/generate"
	"github.com/nwhited/characterimg/internal/hash/sha256"
	"github.com/nwhited/characterimg/internal/headless/detector"
	"github.com/nwhited/characterimg/internal/id/uuid"
	"github.com/nwhited/characterimg/internal/logging"
	"github.com/nwhited/characterimg/internal/metrics"
	"github.com/nwhited/characterimg/internal/policy/admission"
	"github.com/nwhited/characterimg/internal/proxy"
	memorypub "github.com/nwhited/characterimg/internal/publisher/memory"
	"github.com/nwhited/characterimg/internal/publisher/pubsub"
	"github.com/nwhited/characterimg/internal/resolver"
	"github.com/nwhited/characterimg/internal/storage/gcs"
	"github.com/nwhited/characterimg/internal/storage/local"
	"github.com/nwhited/characterimg/internal/storage/memory"
	"github.com/nwhited/characterimg/internal/storage/postgres"
	redisstore "github.com/nwhited/characterimg/internal/storage/redis"
)

// blobBackend joins the two storage capabilities every provider must offer.
type blobBackend interface {
	character.BlobStore
	character.PublicURLer
}

// App holds all the shared, long-lived services for the application. It is
// initialized once at startup and passed to the components that need it.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	resolver *resolver.Resolver
	server   *api.Server
	closers  []func() error
}

// New creates and initializes an App from configuration. It is the central
// point for service initialization and fails fast if any critical service
// cannot be reached.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}

	blobs, err := a.initBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	index, rateLog, err := a.initIndex(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.initPublisher(ctx)
	if err != nil {
		return nil, err
	}

	clk := system.New()

	probe := colly.New(colly.Config{
		UserAgent: cfg.Scrape.UserAgent,
		Timeout:   cfg.ScrapeTimeout(),
	})

	var headlessFetcher character.PageFetcher
	var promote character.HeadlessDetector
	if cfg.Headless.Enabled {
		chrome, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Scrape.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		a.closers = append(a.closers, func() error { chrome.Close(); return nil })
		headlessFetcher = chrome
		promote = detector.NewHeuristic(cfg.Headless.PromotionThresh)
	}

	downloader := download.New(download.Config{
		Timeout:   cfg.DownloadTimeout(),
		MaxBytes:  cfg.Scrape.DownloadMaxBytes,
		UserAgent: cfg.Scrape.UserAgent,
		HostRPS:   cfg.Scrape.HostRPS,
	})

	var generator character.ImageGenerator
	if cfg.Generation.Enabled {
		client, err := generate.New(generate.Config{
			BaseURL: cfg.Generation.BaseURL,
			APIKey:  cfg.Generation.APIKey,
			Model:   cfg.Generation.Model,
			Timeout: time.Duration(cfg.Generation.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("init generation client: %w", err)
		}
		generator = client
	}

	pipeline := resolver.New(
		index,
		blobs,
		blobs,
		publisher,
		sha256.New(),
		clk,
		probe,
		headlessFetcher,
		promote,
		extract.New(cfg.Scrape.AllowedImageHosts...),
		downloader,
		generator,
		admission.New(rateLog, clk, logger),
		nil,
		resolver.Config{
			WikiBaseURL: cfg.Scrape.WikiBaseURL,
			BlobPrefix:  cfg.Storage.Prefix,
			Topic:       cfg.PubSub.TopicName,
			BatchSize:   cfg.Resolver.BatchSize,
			BatchPause:  cfg.BatchPause(),
			MemoTTL:     cfg.MemoTTL(),
		},
		logger,
	)
	a.resolver = pipeline

	imageProxy := proxy.New(downloader, proxy.Config{
		AllowedHosts: cfg.Proxy.AllowedHosts,
		Timeout:      cfg.ProxyTimeout(),
	}, logger)

	a.server = api.NewServer(pipeline, imageProxy, uuid.New(), cfg, logger)

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Provider),
		zap.String("index", cfg.Index.Provider),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.Bool("generation", cfg.Generation.Enabled),
	)
	return a, nil
}

func (a *App) initBlobStore(ctx context.Context) (blobBackend, error) {
	switch a.cfg.Storage.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{
			Bucket:        a.cfg.Storage.GCSBucket,
			PublicBaseURL: a.cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		a.logger.Info("using GCS blob storage", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return store, nil
	case "local":
		store, err := local.New(local.Config{
			BaseDir:       a.cfg.Storage.LocalBaseDir,
			PublicBaseURL: a.cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		a.logger.Info("using local blob storage", zap.String("dir", a.cfg.Storage.LocalBaseDir))
		return store, nil
	case "memory":
		a.logger.Info("using in-memory blob storage; stored images will not survive restarts")
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", a.cfg.Storage.Provider)
	}
}

func (a *App) initIndex(ctx context.Context) (character.CacheIndex, character.RateLimitLog, error) {
	switch a.cfg.Index.Provider {
	case "postgres":
		cache, err := postgres.NewCacheStore(ctx, postgres.CacheStoreConfig{
			DSN:   a.cfg.DB.DSN,
			Table: a.cfg.DB.CacheTable,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres cache index: %w", err)
		}
		a.closers = append(a.closers, func() error { cache.Close(); return nil })
		rateLog, err := postgres.NewRateLimitStore(ctx, postgres.RateLimitStoreConfig{
			DSN:   a.cfg.DB.DSN,
			Table: a.cfg.DB.RateLimitTable,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres rate-limit log: %w", err)
		}
		a.closers = append(a.closers, func() error { rateLog.Close(); return nil })
		a.logger.Info("using Postgres cache index")
		return cache, rateLog, nil
	case "redis":
		cache, err := redisstore.New(ctx, redisstore.Config{
			Addr:      a.cfg.Redis.Addr,
			Password:  a.cfg.Redis.Password,
			DB:        a.cfg.Redis.DB,
			KeyPrefix: a.cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init redis cache index: %w", err)
		}
		a.closers = append(a.closers, cache.Close)
		// Rate-limit bookkeeping stays in-process on the redis provider.
		a.logger.Info("using Redis cache index", zap.String("addr", a.cfg.Redis.Addr))
		return cache, memory.NewRateLimitStore(), nil
	case "memory":
		a.logger.Info("using in-memory cache index")
		return memory.NewCacheStore(), memory.NewRateLimitStore(), nil
	default:
		return nil, nil, fmt.Errorf("unknown index provider: %s", a.cfg.Index.Provider)
	}
}

func (a *App) initPublisher(ctx context.Context) (character.Publisher, error) {
	if !a.cfg.PubSub.Enabled {
		a.logger.Info("pub/sub disabled; cache-write events stay in-process")
		return memorypub.New(), nil
	}
	pub, err := pubsub.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.closers = append(a.closers, pub.Close)
	a.logger.Info("using GCP Pub/Sub", zap.String("topic", a.cfg.PubSub.TopicName))
	return pub, nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Resolver exposes the resolution pipeline.
func (a *App) Resolver() *resolver.Resolver {
	return a.resolver
}

// Handler returns the HTTP handler for the API server.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Close releases all held resources in reverse initialization order.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return firstErr
}
