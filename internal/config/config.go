// Package config loads the scrapebatch CLI configuration from YAML with
// environment overrides.
//
// Precedence, lowest first: Default(), the YAML file, a .env file, SCRAPEKIT_*
// environment variables. Command-line flags are applied by the CLI on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/scrapernhl/scrapekit/pkg/logging"
	"github.com/scrapernhl/scrapekit/pkg/ratelimit"
	"github.com/scrapernhl/scrapekit/pkg/retry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SCRAPEKIT_"

// Cache backends.
const (
	CacheFile  = "file"
	CacheRedis = "redis"
	CacheNone  = "none"
)

// Config is the complete CLI configuration.
type Config struct {
	Log        logging.Config   `yaml:"log"`
	API        APIConfig        `yaml:"api"`
	Batch      BatchConfig      `yaml:"batch"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Cache      CacheConfig      `yaml:"cache"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// APIConfig configures the HTTP JSON source.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// BatchConfig configures the worker pool and retries.
type BatchConfig struct {
	Workers       int           `yaml:"workers"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	MaxRetries    int           `yaml:"max_retries"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	Jitter        float64       `yaml:"jitter"`
}

// CheckpointConfig configures checkpointed runs. An empty path disables
// checkpointing.
type CheckpointConfig struct {
	Path string `yaml:"path"`
	Size int    `yaml:"size"`
	Keep bool   `yaml:"keep"`
}

// CacheConfig selects and configures the response cache.
type CacheConfig struct {
	Backend string        `yaml:"backend"`
	Dir     string        `yaml:"dir"`
	TTL     time.Duration `yaml:"ttl"`
	Redis   RedisConfig   `yaml:"redis"`
}

// RedisConfig holds the Redis connection for the redis cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	policy := retry.DefaultPolicy()
	return Config{
		Log: logging.Config{Level: logging.LevelInfo},
		API: APIConfig{
			BaseURL:   "https://api-web.nhle.com/v1",
			UserAgent: "scrapekit/1.0",
			Timeout:   30 * time.Second,
		},
		Batch: BatchConfig{
			Workers:       5,
			RatePerSecond: 10,
			MaxRetries:    policy.MaxRetries,
			BaseDelay:     policy.BaseDelay,
			MaxDelay:      policy.MaxDelay,
			Jitter:        policy.Jitter,
		},
		Checkpoint: CheckpointConfig{Size: 100},
		Cache: CacheConfig{
			Backend: CacheFile,
			TTL:     time.Hour,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "scrapekit:cache:",
			},
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies the .env
// file (if envFile is non-empty or ./.env exists) and SCRAPEKIT_* overrides.
// An empty path skips the YAML step.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		// godotenv never overrides variables already set in the process
		_ = godotenv.Load()
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides fields from SCRAPEKIT_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var result *multierror.Error

	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(EnvPrefix + name); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	var level string
	str("LOG_LEVEL", &level)
	if level != "" {
		c.Log.Level = logging.LogLevel(level)
	}
	boolean("LOG_PRETTY", &c.Log.Pretty)

	str("API_BASE_URL", &c.API.BaseURL)
	str("API_USER_AGENT", &c.API.UserAgent)
	duration("API_TIMEOUT", &c.API.Timeout)

	integer("WORKERS", &c.Batch.Workers)
	float("RATE", &c.Batch.RatePerSecond)
	integer("MAX_RETRIES", &c.Batch.MaxRetries)
	duration("BASE_DELAY", &c.Batch.BaseDelay)
	duration("MAX_DELAY", &c.Batch.MaxDelay)

	str("CHECKPOINT_PATH", &c.Checkpoint.Path)
	integer("CHECKPOINT_SIZE", &c.Checkpoint.Size)

	str("CACHE_BACKEND", &c.Cache.Backend)
	str("CACHE_DIR", &c.Cache.Dir)
	duration("CACHE_TTL", &c.Cache.TTL)
	str("REDIS_ADDR", &c.Cache.Redis.Addr)
	str("REDIS_PASSWORD", &c.Cache.Redis.Password)
	integer("REDIS_DB", &c.Cache.Redis.DB)

	str("METRICS_ADDR", &c.Metrics.Addr)

	return result.ErrorOrNil()
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if _, err := logging.ParseLevel(string(c.Log.Level)); err != nil {
		result = multierror.Append(result, err)
	}
	if c.API.BaseURL == "" {
		result = multierror.Append(result, errors.New("api.base_url must not be empty"))
	}
	if c.Batch.Workers <= 0 {
		result = multierror.Append(result, fmt.Errorf("batch.workers must be positive, got %d", c.Batch.Workers))
	}
	if c.Batch.RatePerSecond <= 0 || c.Batch.RatePerSecond > ratelimit.MaxRate {
		result = multierror.Append(result, fmt.Errorf("batch.rate_per_second must be in (0, %d], got %g", ratelimit.MaxRate, c.Batch.RatePerSecond))
	}
	if c.Batch.MaxRetries < 0 {
		result = multierror.Append(result, fmt.Errorf("batch.max_retries must not be negative, got %d", c.Batch.MaxRetries))
	}
	if c.Checkpoint.Size <= 0 {
		result = multierror.Append(result, fmt.Errorf("checkpoint.size must be positive, got %d", c.Checkpoint.Size))
	}
	switch c.Cache.Backend {
	case CacheFile, CacheRedis, CacheNone:
	default:
		result = multierror.Append(result, fmt.Errorf("cache.backend must be file, redis or none, got %q", c.Cache.Backend))
	}

	return result.ErrorOrNil()
}

// RetryPolicy converts the batch settings into a retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: c.Batch.MaxRetries,
		BaseDelay:  c.Batch.BaseDelay,
		MaxDelay:   c.Batch.MaxDelay,
		Jitter:     c.Batch.Jitter,
	}
}

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
