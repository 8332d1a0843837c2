package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://fanqienovel.com", cfg.Host.BaseURL)
	assert.Len(t, cfg.Host.UserAgents, 3)
	assert.Equal(t, 1, cfg.Crawler.Concurrency)
	assert.Equal(t, 5, cfg.Crawler.FlushEvery)
	assert.Equal(t, 7, cfg.Crawler.RenewAfterDegraded)
	assert.Equal(t, 8, cfg.HTTP.MaxAttempts)
	assert.Equal(t, "novel_web_id", cfg.Session.CookieName)
	assert.Equal(t, int64(7143038691944959011), cfg.Session.SeedWorkID)
	assert.Equal(t, 200, cfg.Session.MaxAttempts)
	assert.Equal(t, ProviderLocal, cfg.Storage.Provider)
	assert.Equal(t, "bookstore", cfg.Storage.Prefix)
	assert.Equal(t, ProviderFile, cfg.Registry.Provider)
	assert.Equal(t, "tracked_works", cfg.DB.Table)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Logging.Development)

	assert.Equal(t, 50*time.Millisecond, cfg.ChapterDelay().Min)
	assert.Equal(t, 150*time.Millisecond, cfg.ProbeDelay().Max)
	assert.Equal(t, 2*time.Minute, cfg.ChapterTimeout())
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 8, cfg.RetryPolicy().MaxAttempts())
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
host:
  base_url: http://127.0.0.1:9999
  user_agents: ["agent-a"]
crawler:
  concurrency: 4
  delay_min_ms: 0
  delay_max_ms: 10
  flush_every: 2
  workers: 3
http:
  max_attempts: 3
session:
  seed_chapter_id: "7200000000000000001"
  max_attempts: 20
storage:
  provider: gcs
  gcs_bucket: novels
registry:
  provider: postgres
db:
  dsn: postgres://crawler@localhost/crawler
pubsub:
  project_id: proj
  topic_name: works-finished
ratelimit:
  rps: 2.5
  burst: 3
logging:
  development: false
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:9999", cfg.Host.BaseURL)
	assert.Equal(t, []string{"agent-a"}, cfg.Host.UserAgents)
	assert.Equal(t, 4, cfg.Crawler.Concurrency)
	assert.Equal(t, 3, cfg.Crawler.Workers)
	assert.Equal(t, time.Duration(0), cfg.ChapterDelay().Min)
	assert.Equal(t, "7200000000000000001", cfg.Session.SeedChapterID)
	assert.Equal(t, ProviderGCS, cfg.Storage.Provider)
	assert.Equal(t, ProviderPostgres, cfg.Registry.Provider)
	assert.Equal(t, "works-finished", cfg.PubSub.TopicName)
	assert.InDelta(t, 2.5, cfg.RateLimit.RPS, 1e-9)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CRAWLER_CRAWLER_CONCURRENCY", "6")
	t.Setenv("CRAWLER_STORAGE_BASE_DIR", "/tmp/novels")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Crawler.Concurrency)
	assert.Equal(t, "/tmp/novels", cfg.Storage.BaseDir)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"host.base_url":          func(c *Config) { c.Host.BaseURL = " " },
		"crawler.concurrency":    func(c *Config) { c.Crawler.Concurrency = 0 },
		"crawler.delay_min_ms":   func(c *Config) { c.Crawler.DelayMinMs = 500 },
		"crawler.flush_every":    func(c *Config) { c.Crawler.FlushEvery = 0 },
		"crawler.workers":        func(c *Config) { c.Crawler.Workers = 0 },
		"http.timeout_seconds":   func(c *Config) { c.HTTP.TimeoutSeconds = 0 },
		"http.max_attempts":      func(c *Config) { c.HTTP.MaxAttempts = 0 },
		"session.cookie_name":    func(c *Config) { c.Session.CookieName = "" },
		"session.max_attempts":   func(c *Config) { c.Session.MaxAttempts = -1 },
		"storage.base_dir":       func(c *Config) { c.Storage.BaseDir = "" },
		"storage.gcs_bucket":     func(c *Config) { c.Storage.Provider = ProviderGCS },
		"storage.provider":       func(c *Config) { c.Storage.Provider = "s3" },
		"db.dsn":                 func(c *Config) { c.Registry.Provider = ProviderPostgres },
		"registry.provider":      func(c *Config) { c.Registry.Provider = "redis" },
		"pubsub.project_id":      func(c *Config) { c.PubSub.TopicName = "t" },
		"headless.max_parallel":  func(c *Config) { c.Headless.Enabled = true; c.Headless.MaxParallel = 0 },
		"server.port":            func(c *Config) { c.Server.Port = 0 },
		"auth.api_key":           func(c *Config) { c.Auth.Enabled = true },
	}
	for key, mutate := range cases {
		t.Run(key, func(t *testing.T) {
			t.Parallel()
			cfg := base
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), key), "error %q should mention %s", err, key)
		})
	}

	require.NoError(t, base.Validate())
	memory := base
	memory.Storage.Provider = ProviderMemory
	require.NoError(t, memory.Validate())
}
