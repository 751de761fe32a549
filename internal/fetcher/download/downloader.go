// Package download retrieves raw image bytes from candidate URLs with a
// bounded wait, a byte-size ceiling, and per-host politeness limiting.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout  = 15 * time.Second
	defaultMaxBytes = 10 << 20 // 10 MiB
)

// Config controls downloader behavior.
type Config struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
	// HostRPS caps request rate per image host; zero means unlimited.
	HostRPS float64
}

// Downloader implements character.ImageDownloader.
type Downloader struct {
	cfg    Config
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a Downloader.
func New(cfg Config) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	return &Downloader{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiters: make(map[string]*rate.Limiter),
	}
}

// Download fetches the image bytes at rawURL. A response whose declared or
// actual size exceeds the configured ceiling fails closed.
func (d *Downloader) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("parse image url: %w", err)
	}
	if err := d.wait(ctx, u.Hostname()); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build image request: %w", err)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read side already handled

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download image: unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > d.cfg.MaxBytes {
		return nil, "", fmt.Errorf("image too large: %d bytes declared", resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.cfg.MaxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image body: %w", err)
	}
	if int64(len(data)) > d.cfg.MaxBytes {
		return nil, "", fmt.Errorf("image too large: exceeds %d bytes", d.cfg.MaxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func (d *Downloader) wait(ctx context.Context, host string) error {
	if d.cfg.HostRPS <= 0 {
		return nil
	}
	d.mu.Lock()
	limiter, ok := d.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(d.cfg.HostRPS), 1)
		d.limiters[host] = limiter
	}
	d.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("politeness wait: %w", err)
	}
	return nil
}
