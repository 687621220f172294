package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapernhl/scrapekit/pkg/logging"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Batch.Workers)
	assert.Equal(t, CacheFile, cfg.Cache.Backend)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "scrapekit.yaml", `
log:
  level: debug
  pretty: true
api:
  base_url: http://localhost:9000
  timeout: 5s
batch:
  workers: 12
  rate_per_second: 2.5
  max_retries: 1
  base_delay: 250ms
checkpoint:
  path: /tmp/season.json
  size: 50
cache:
  backend: redis
  ttl: 24h
  redis:
    addr: redis:6379
    db: 3
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, logging.LevelDebug, cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
	assert.Equal(t, "http://localhost:9000", cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, 12, cfg.Batch.Workers)
	assert.InDelta(t, 2.5, cfg.Batch.RatePerSecond, 0.0001)
	assert.Equal(t, 250*time.Millisecond, cfg.Batch.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Batch.MaxDelay, "unset fields keep defaults")
	assert.Equal(t, "/tmp/season.json", cfg.Checkpoint.Path)
	assert.Equal(t, 50, cfg.Checkpoint.Size)
	assert.Equal(t, CacheRedis, cfg.Cache.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "redis:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, 3, cfg.Cache.Redis.DB)
	assert.Equal(t, "scrapekit:cache:", cfg.Cache.Redis.Prefix)

	policy := cfg.RetryPolicy()
	assert.Equal(t, 1, policy.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, policy.BaseDelay)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "scrapekit.yaml", "batch:\n  workers: 3\n")
	t.Setenv("SCRAPEKIT_WORKERS", "9")
	t.Setenv("SCRAPEKIT_RATE", "4")
	t.Setenv("SCRAPEKIT_CACHE_BACKEND", "none")
	t.Setenv("SCRAPEKIT_LOG_LEVEL", "warn")

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Batch.Workers)
	assert.InDelta(t, 4.0, cfg.Batch.RatePerSecond, 0.0001)
	assert.Equal(t, CacheNone, cfg.Cache.Backend)
	assert.Equal(t, logging.LevelWarn, cfg.Log.Level)
}

func TestLoad_EnvFile(t *testing.T) {
	envFile := writeFile(t, "test.env", "SCRAPEKIT_METRICS_ADDR=127.0.0.1:9100\n")
	t.Cleanup(func() { os.Unsetenv("SCRAPEKIT_METRICS_ADDR") })

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
		assert.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, "bad.yaml", "batch: [unclosed"), "")
		assert.Error(t, err)
	})

	t.Run("bad env value", func(t *testing.T) {
		t.Setenv("SCRAPEKIT_WORKERS", "many")
		_, err := Load("", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SCRAPEKIT_WORKERS")
	})
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Batch.Workers = 0
	cfg.Batch.RatePerSecond = -1
	cfg.Cache.Backend = "memcached"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"batch.workers", "batch.rate_per_second", "cache.backend", "loud"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_RateCeiling(t *testing.T) {
	cfg := Default()
	cfg.Batch.RatePerSecond = 1e19

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch.rate_per_second")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "cache"), ExpandPath("~/cache"))
	assert.Equal(t, "/var/cache", ExpandPath("/var/cache"))
}
