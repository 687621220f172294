package cache

import (
	"context"
	"errors"
	"time"
)

// Memoize wraps fn so results are served from c for ttl.
//
// keyFn derives the cache key from the argument and is required. Errors
// from fn are returned as-is and never cached. A cache read failure other
// than a miss falls through to fn; a write failure is logged and the fresh
// result is still returned.
func Memoize[A, R any](c *Cache, fn func(context.Context, A) (R, error), ttl time.Duration, keyFn func(A) string) func(context.Context, A) (R, error) {
	if c == nil {
		panic("memoize: cache cannot be nil")
	}
	if fn == nil {
		panic("memoize: function cannot be nil")
	}
	if keyFn == nil {
		panic("memoize: key function cannot be nil")
	}

	return func(ctx context.Context, arg A) (R, error) {
		key := keyFn(arg)

		cached, err := GetJSON[R](ctx, c, key)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("cache_key", key).Msg("Cache read failed, calling through")
		}

		result, err := fn(ctx, arg)
		if err != nil {
			return result, err
		}

		if err := c.Set(ctx, key, result, ttl); err != nil {
			c.logger.Warn().Err(err).Str("cache_key", key).Msg("Failed to cache result")
		}
		return result, nil
	}
}
