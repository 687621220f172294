package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/scrapernhl/scrapekit/pkg/logging"
)

// Cache stores JSON-encodable values with a per-entry TTL on top of a Store.
// It is safe for concurrent use when its Store is.
type Cache struct {
	store  Store
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the cache logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates a cache over store.
func New(store Store, opts ...Option) *Cache {
	if store == nil {
		panic("cache store cannot be nil")
	}
	c := &Cache{
		store:  store,
		now:    time.Now,
		logger: logging.NewLogger("cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the underlying store.
func (c *Cache) Store() Store {
	return c.store
}

// Get returns the JSON value stored under key.
// Returns ErrCacheMiss if the key is absent, expired or unreadable.
func (c *Cache) Get(ctx context.Context, key string) (json.RawMessage, error) {
	kind := c.store.Kind()
	name := storageName(key)

	data, err := c.store.Read(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			CacheMisses.WithLabelValues(kind).Inc()
			c.logger.Debug().Str("cache_key", key).Msg("Cache miss")
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("cache get %q: %w", key, err)
	}

	entry, err := decodeEntry(data)
	if err == nil && entry.Key != key {
		err = fmt.Errorf("%w: stored key %q", ErrCorruptEntry, entry.Key)
	}
	if err != nil {
		CacheCorrupt.WithLabelValues(kind).Inc()
		CacheMisses.WithLabelValues(kind).Inc()
		c.logger.Warn().Err(err).Str("cache_key", key).Msg("Discarding corrupt cache entry")
		c.remove(ctx, name, data)
		return nil, ErrCacheMiss
	}

	now := c.now()
	if !entry.Valid(now) {
		CacheMisses.WithLabelValues(kind).Inc()
		c.logger.Debug().Str("cache_key", key).Msg("Cache entry expired")
		c.remove(ctx, name, data)
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(kind).Inc()
	c.logger.Debug().
		Str("cache_key", key).
		Dur("age", entry.Age(now)).
		Msg("Cache hit")

	return entry.Value, nil
}

// Set stores value (JSON-encoded) under key for ttl.
// A zero ttl stores nothing; NoExpiration keeps the entry until removed.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl == 0 {
		return nil
	}
	if ttl < 0 {
		ttl = NoExpiration
	}

	raw, err := json.Marshal(value)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache value: %w", err)
	}

	data, err := json.Marshal(Entry{
		Version:   entryVersion,
		Key:       key,
		Value:     raw,
		CreatedAt: c.now(),
		TTL:       ttl,
	})
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := c.store.Write(ctx, storageName(key), data, ttl); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("cache set %q: %w", key, err)
	}

	c.logger.Debug().Str("cache_key", key).Dur("ttl", ttl).Msg("Cached")
	return nil
}

// Invalidate removes key, reporting whether an entry existed.
func (c *Cache) Invalidate(ctx context.Context, key string) (bool, error) {
	removed, err := c.store.Delete(ctx, storageName(key))
	if err != nil {
		CacheErrors.WithLabelValues("invalidate").Inc()
		return false, fmt.Errorf("cache invalidate %q: %w", key, err)
	}
	if removed {
		c.logger.Debug().Str("cache_key", key).Msg("Invalidated cache entry")
	}
	return removed, nil
}

// Clear removes every entry and returns how many were removed.
// Removal continues past individual failures, which are returned together.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	names, err := c.store.List(ctx)
	if err != nil {
		CacheErrors.WithLabelValues("clear").Inc()
		return 0, fmt.Errorf("cache clear: %w", err)
	}

	var result *multierror.Error
	count := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}
		removed, err := c.store.Delete(ctx, name)
		if err != nil {
			CacheErrors.WithLabelValues("clear").Inc()
			result = multierror.Append(result, err)
			continue
		}
		if removed {
			count++
		}
	}

	c.logger.Info().Int("removed", count).Str("location", c.store.Location()).Msg("Cleared cache")
	return count, result.ErrorOrNil()
}

// Cleanup removes expired and corrupt entries and returns how many were
// removed.
func (c *Cache) Cleanup(ctx context.Context) (int, error) {
	names, err := c.store.List(ctx)
	if err != nil {
		CacheErrors.WithLabelValues("cleanup").Inc()
		return 0, fmt.Errorf("cache cleanup: %w", err)
	}

	var result *multierror.Error
	now := c.now()
	count := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}

		data, err := c.store.Read(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			CacheErrors.WithLabelValues("cleanup").Inc()
			result = multierror.Append(result, err)
			continue
		}

		entry, err := decodeEntry(data)
		if err == nil && entry.Valid(now) {
			continue
		}
		if err != nil {
			CacheCorrupt.WithLabelValues(c.store.Kind()).Inc()
		}

		removed, err := c.deleteStale(ctx, name, data)
		if err != nil {
			CacheErrors.WithLabelValues("cleanup").Inc()
			result = multierror.Append(result, err)
			continue
		}
		if removed {
			count++
		}
	}

	if count > 0 {
		c.logger.Info().Int("removed", count).Msg("Cleaned up expired cache entries")
	}
	return count, result.ErrorOrNil()
}

// Stats summarizes the cache contents.
type Stats struct {
	Store          string        `json:"store"`
	Location       string        `json:"location"`
	TotalEntries   int           `json:"total_entries"`
	ValidEntries   int           `json:"valid_entries"`
	ExpiredEntries int           `json:"expired_entries"`
	CorruptEntries int           `json:"corrupt_entries"`
	TotalSizeBytes int64         `json:"total_size_bytes"`
	OldestAge      time.Duration `json:"oldest_age"`
}

// Stats scans the store and counts entries by state.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Store:    c.store.Kind(),
		Location: c.store.Location(),
	}

	names, err := c.store.List(ctx)
	if err != nil {
		CacheErrors.WithLabelValues("stats").Inc()
		return stats, fmt.Errorf("cache stats: %w", err)
	}

	now := c.now()
	for _, name := range names {
		data, err := c.store.Read(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			CacheErrors.WithLabelValues("stats").Inc()
			return stats, fmt.Errorf("cache stats: %w", err)
		}

		stats.TotalEntries++
		stats.TotalSizeBytes += int64(len(data))

		entry, err := decodeEntry(data)
		if err != nil {
			stats.CorruptEntries++
			continue
		}
		if entry.Valid(now) {
			stats.ValidEntries++
		} else {
			stats.ExpiredEntries++
		}
		if age := entry.Age(now); age > stats.OldestAge {
			stats.OldestAge = age
		}
	}

	return stats, nil
}

// Keys returns the sorted logical keys of all decodable entries,
// expired ones included.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	names, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache keys: %w", err)
	}

	keys := make([]string, 0, len(names))
	for _, name := range names {
		data, err := c.store.Read(ctx, name)
		if err != nil {
			continue
		}
		entry, err := decodeEntry(data)
		if err != nil {
			continue
		}
		keys = append(keys, entry.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// remove deletes a stale entry, logging rather than returning failures.
func (c *Cache) remove(ctx context.Context, name string, seen []byte) {
	if _, err := c.deleteStale(ctx, name, seen); err != nil {
		CacheErrors.WithLabelValues("invalidate").Inc()
		c.logger.Warn().Err(err).Msg("Failed to remove stale cache entry")
	}
}

// deleteStale removes name only if it still holds seen, so an entry
// rewritten since it was read survives.
func (c *Cache) deleteStale(ctx context.Context, name string, seen []byte) (bool, error) {
	if cd, ok := c.store.(ConditionalDeleter); ok {
		return cd.DeleteIfUnchanged(ctx, name, seen)
	}

	current, err := c.store.Read(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !bytes.Equal(current, seen) {
		return false, nil
	}
	// stores without ConditionalDeleter can still lose a write landing here
	return c.store.Delete(ctx, name)
}

// GetJSON reads key and decodes it into a V.
// A value that does not decode as V is reported as ErrCacheMiss.
func GetJSON[V any](ctx context.Context, c *Cache, key string) (V, error) {
	var v V
	raw, err := c.Get(ctx, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Warn().Err(err).Str("cache_key", key).Msg("Cached value has unexpected shape")
		return v, ErrCacheMiss
	}
	return v, nil
}

// SetJSON stores v under key for ttl.
func SetJSON[V any](ctx context.Context, c *Cache, key string, v V, ttl time.Duration) error {
	return c.Set(ctx, key, v, ttl)
}
