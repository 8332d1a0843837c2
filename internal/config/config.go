// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/chapter-crawler/internal/crawler"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Host      HostConfig      `mapstructure:"host"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Session   SessionConfig   `mapstructure:"session"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// HostConfig points the fetcher at the novel host.
type HostConfig struct {
	BaseURL    string   `mapstructure:"base_url"`
	UserAgents []string `mapstructure:"user_agents"`
}

// CrawlerConfig governs the per-work download engine.
type CrawlerConfig struct {
	Concurrency           int `mapstructure:"concurrency"`
	DelayMinMs            int `mapstructure:"delay_min_ms"`
	DelayMaxMs            int `mapstructure:"delay_max_ms"`
	FlushEvery            int `mapstructure:"flush_every"`
	RenewAfterDegraded    int `mapstructure:"renew_after_degraded"`
	ChapterTimeoutSeconds int `mapstructure:"chapter_timeout_seconds"`
	// Workers is the number of works downloaded in parallel by serve/update.
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// HTTPConfig configures request timeouts and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// SessionConfig tunes session token discovery.
type SessionConfig struct {
	CookieName      string `mapstructure:"cookie_name"`
	SeedWorkID      int64  `mapstructure:"seed_work_id"`
	SeedChapterID   string `mapstructure:"seed_chapter_id"`
	MaxAttempts     int    `mapstructure:"max_attempts"`
	MinBodyChars    int    `mapstructure:"min_body_chars"`
	ProbeDelayMinMs int    `mapstructure:"probe_delay_min_ms"`
	ProbeDelayMaxMs int    `mapstructure:"probe_delay_max_ms"`
}

// StorageConfig selects where checkpoints and the session live.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// RegistryConfig selects the tracked-work registry backend.
type RegistryConfig struct {
	Provider string `mapstructure:"provider"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// HeadlessConfig configures the rendered-page fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// RateLimitConfig bounds outgoing request rate per host. RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
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

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Storage and registry providers.
const (
	ProviderLocal    = "local"
	ProviderGCS      = "gcs"
	ProviderMemory   = "memory"
	ProviderFile     = "file"
	ProviderPostgres = "postgres"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("host.base_url", "https://fanqienovel.com")
	v.SetDefault("host.user_agents", []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	})
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.delay_min_ms", 50)
	v.SetDefault("crawler.delay_max_ms", 150)
	v.SetDefault("crawler.flush_every", 5)
	v.SetDefault("crawler.renew_after_degraded", 7)
	v.SetDefault("crawler.chapter_timeout_seconds", 120)
	v.SetDefault("crawler.workers", 1)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_attempts", 8)
	v.SetDefault("http.backoff_initial_ms", 400)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("session.cookie_name", "novel_web_id")
	v.SetDefault("session.seed_work_id", int64(7143038691944959011))
	v.SetDefault("session.seed_chapter_id", "")
	v.SetDefault("session.max_attempts", 200)
	v.SetDefault("session.min_body_chars", 200)
	v.SetDefault("session.probe_delay_min_ms", 50)
	v.SetDefault("session.probe_delay_max_ms", 150)
	v.SetDefault("storage.provider", ProviderLocal)
	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.prefix", "bookstore")
	v.SetDefault("registry.provider", ProviderFile)
	v.SetDefault("db.table", "tracked_works")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("ratelimit.rps", 0)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Host.BaseURL) == "" {
		return fmt.Errorf("host.base_url is required")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.DelayMinMs < 0 || c.Crawler.DelayMaxMs < c.Crawler.DelayMinMs {
		return fmt.Errorf("crawler.delay_min_ms must be >= 0 and <= crawler.delay_max_ms")
	}
	if c.Crawler.FlushEvery <= 0 {
		return fmt.Errorf("crawler.flush_every must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.Session.MaxAttempts <= 0 {
		return fmt.Errorf("session.max_attempts must be > 0")
	}
	switch c.Storage.Provider {
	case ProviderLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local provider")
		}
	case ProviderGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs provider")
		}
	case ProviderMemory:
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	switch c.Registry.Provider {
	case ProviderFile:
	case ProviderPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres registry")
		}
	default:
		return fmt.Errorf("unknown registry.provider %q", c.Registry.Provider)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// ChapterDelay is the pause taken after every chapter fetch.
func (c Config) ChapterDelay() crawler.DelayRange {
	return crawler.DelayRange{Min: ms(c.Crawler.DelayMinMs), Max: ms(c.Crawler.DelayMaxMs)}
}

// ProbeDelay is the pause taken before every session probe.
func (c Config) ProbeDelay() crawler.DelayRange {
	return crawler.DelayRange{Min: ms(c.Session.ProbeDelayMinMs), Max: ms(c.Session.ProbeDelayMaxMs)}
}

// ChapterTimeout caps one chapter fetch including retries.
func (c Config) ChapterTimeout() time.Duration {
	return time.Duration(c.Crawler.ChapterTimeoutSeconds) * time.Second
}

// RequestTimeout caps a single HTTP request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RetryPolicy builds the fetch retry policy.
func (c Config) RetryPolicy() *crawler.ExponentialRetryPolicy {
	return crawler.NewExponentialRetryPolicy(c.HTTP.MaxAttempts, ms(c.HTTP.BackoffInitialMs), ms(c.HTTP.BackoffMaxMs))
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
