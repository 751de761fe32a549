// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Scrape     ScrapeConfig     `mapstructure:"scrape"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Generation GenerationConfig `mapstructure:"generation"`
	Resolver   ResolverConfig   `mapstructure:"resolver"`
	Proxy      ProxyConfig      `mapstructure:"proxy"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Index      IndexConfig      `mapstructure:"index"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScrapeConfig governs remote page fetching and image download behavior.
type ScrapeConfig struct {
	WikiBaseURL        string   `mapstructure:"wiki_base_url"`
	UserAgent          string   `mapstructure:"user_agent"`
	TimeoutSeconds     int      `mapstructure:"timeout_seconds"`
	AllowedImageHosts  []string `mapstructure:"allowed_image_hosts"`
	DownloadTimeoutSec int      `mapstructure:"download_timeout_seconds"`
	DownloadMaxBytes   int64    `mapstructure:"download_max_bytes"`
	HostRPS            float64  `mapstructure:"host_rps"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// GenerationConfig controls the synthetic image generation client.
type GenerationConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ResolverConfig governs the resolution pipeline.
type ResolverConfig struct {
	BatchSize      int `mapstructure:"batch_size"`
	BatchPauseMs   int `mapstructure:"batch_pause_ms"`
	MemoTTLSeconds int `mapstructure:"memo_ttl_seconds"`
	MaxRangeSpan   int `mapstructure:"max_range_span"`
}

// ProxyConfig governs the image proxy.
type ProxyConfig struct {
	AllowedHosts   []string `mapstructure:"allowed_hosts"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// StorageConfig selects and parameterizes blob persistence.
type StorageConfig struct {
	Provider      string `mapstructure:"provider"` // "gcs", "local", or "memory"
	GCSBucket     string `mapstructure:"gcs_bucket"`
	LocalBaseDir  string `mapstructure:"local_base_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	Prefix        string `mapstructure:"prefix"`
}

// IndexConfig selects the cache-index backend.
type IndexConfig struct {
	Provider string `mapstructure:"provider"` // "postgres", "redis", or "memory"
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN            string `mapstructure:"dsn"`
	CacheTable     string `mapstructure:"cache_table"`
	RateLimitTable string `mapstructure:"rate_limit_table"`
}

// RedisConfig controls the optional Redis cache-index backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHARIMG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("scrape.wiki_base_url", "https://numberblocks.fandom.com/wiki")
	v.SetDefault("scrape.user_agent", "characterimg-bot/0.1")
	v.SetDefault("scrape.timeout_seconds", 15)
	v.SetDefault("scrape.download_timeout_seconds", 15)
	v.SetDefault("scrape.download_max_bytes", 10<<20)
	v.SetDefault("scrape.host_rps", 2.0)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("generation.enabled", false)
	v.SetDefault("generation.base_url", "https://api.openai.com")
	v.SetDefault("generation.model", "gpt-image-1")
	v.SetDefault("generation.timeout_seconds", 60)
	v.SetDefault("resolver.batch_size", 5)
	v.SetDefault("resolver.batch_pause_ms", 1000)
	v.SetDefault("resolver.memo_ttl_seconds", 600)
	v.SetDefault("resolver.max_range_span", 1000)
	v.SetDefault("proxy.timeout_seconds", 15)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "characters")
	v.SetDefault("index.provider", "memory")
	v.SetDefault("db.cache_table", "character_images")
	v.SetDefault("db.rate_limit_table", "rate_limit_events")
	v.SetDefault("redis.key_prefix", "characterimg")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scrape.WikiBaseURL == "" {
		return fmt.Errorf("scrape.wiki_base_url must be set")
	}
	if c.Scrape.TimeoutSeconds <= 0 {
		return fmt.Errorf("scrape.timeout_seconds must be > 0")
	}
	if c.Resolver.BatchSize <= 0 {
		return fmt.Errorf("resolver.batch_size must be > 0")
	}
	if c.Resolver.MaxRangeSpan <= 0 {
		return fmt.Errorf("resolver.max_range_span must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Generation.Enabled && c.Generation.APIKey == "" {
		return fmt.Errorf("generation.api_key must be set when generation is enabled")
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
		}
	case "local":
		if c.Storage.LocalBaseDir == "" {
			return fmt.Errorf("storage.local_base_dir must be set for the local provider")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.provider must be gcs, local, or memory, got %q", c.Storage.Provider)
	}
	switch c.Index.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres index provider")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set for the redis index provider")
		}
	case "memory":
	default:
		return fmt.Errorf("index.provider must be postgres, redis, or memory, got %q", c.Index.Provider)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// ScrapeTimeout returns the page fetch budget as a duration.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scrape.TimeoutSeconds) * time.Second
}

// DownloadTimeout returns the image download budget as a duration.
func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Scrape.DownloadTimeoutSec) * time.Second
}

// BatchPause returns the inter-batch courtesy pause as a duration.
func (c Config) BatchPause() time.Duration {
	return time.Duration(c.Resolver.BatchPauseMs) * time.Millisecond
}

// MemoTTL returns the session memo lifetime as a duration.
func (c Config) MemoTTL() time.Duration {
	return time.Duration(c.Resolver.MemoTTLSeconds) * time.Second
}

// ProxyTimeout returns the proxy fetch budget as a duration.
func (c Config) ProxyTimeout() time.Duration {
	return time.Duration(c.Proxy.TimeoutSeconds) * time.Second
}
