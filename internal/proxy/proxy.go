// Package proxy fetches remote images on behalf of the presentation layer,
// failing closed on any policy violation.
package proxy

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nwhited/characterimg/internal/character"
	"github.com/nwhited/characterimg/internal/metrics"
)

// Config controls proxy policy.
type Config struct {
	// AllowedHosts is the exact-match host allow-list. Empty means the
	// source wiki CDN defaults.
	AllowedHosts []string
	// Timeout bounds the whole fetch.
	Timeout time.Duration
}

var defaultAllowedHosts = []string{
	"static.wikia.nocookie.net",
	"vignette.wikia.nocookie.net",
	"images.wikia.com",
	"storage.googleapis.com",
}

const defaultTimeout = 15 * time.Second

// Result is the proxied image, base64-encoded for JSON transport.
type Result struct {
	Data        string `json:"data"`
	ContentType string `json:"content_type"`
}

// Proxy validates and retrieves remote images. Byte-size enforcement lives in
// the downloader, which caps both the declared and the actual body size.
type Proxy struct {
	downloader character.ImageDownloader
	allowed    map[string]struct{}
	timeout    time.Duration
	logger     *zap.Logger
}

// New constructs a Proxy around an ImageDownloader.
func New(downloader character.ImageDownloader, cfg Config, logger *zap.Logger) *Proxy {
	hosts := cfg.AllowedHosts
	if len(hosts) == 0 {
		hosts = defaultAllowedHosts
	}
	allowed := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		allowed[strings.ToLower(h)] = struct{}{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{downloader: downloader, allowed: allowed, timeout: timeout, logger: logger}
}

// Fetch validates the target against the allow-list, downloads it within the
// configured timeout, and returns the bytes base64-encoded.
func (p *Proxy) Fetch(ctx context.Context, rawURL string) (Result, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, fmt.Errorf("invalid url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return Result{}, fmt.Errorf("unsupported scheme %q", target.Scheme)
	}
	host := strings.ToLower(target.Hostname())
	if _, ok := p.allowed[host]; !ok {
		return Result{}, fmt.Errorf("host %q not allowed", host)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	data, contentType, err := p.downloader.Download(ctx, rawURL)
	if err != nil {
		p.logger.Warn("proxy download failed", zap.String("url", rawURL), zap.Error(err))
		return Result{}, err
	}
	metrics.AddProxyBytes(len(data))

	return Result{
		Data:        base64.StdEncoding.EncodeToString(data),
		ContentType: contentType,
	}, nil
}
