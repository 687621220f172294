// Package cache provides a TTL cache for scrape results with file and Redis
// backends.
//
// Features:
//
// - Per-entry TTL, checked on every read (NoExpiration keeps entries forever)
// - Deterministic SHA-256 storage names, so arbitrary keys are safe
// - Atomic file writes (temp file + rename); readers never see torn entries
// - Corrupt or foreign entries are logged, counted, removed and reported as misses
// - Memoize for wrapping expensive calls
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	store, err := cache.NewFileStore(cache.DefaultDir())
//	if err != nil {
//		return err
//	}
//	c := cache.New(store)
//
//	key := cache.Key{
//		Namespace: "schedule",
//		Params:    map[string]string{"season": "20232024", "team": "TOR"},
//	}.String()
//
//	games, err := cache.GetJSON[[]Game](ctx, c, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch and store
//		games, err = fetchTeamSchedule(ctx, "TOR", 20232024)
//		if err == nil {
//			err = cache.SetJSON(ctx, c, key, games, time.Hour)
//		}
//	}
//
// # Redis Backend
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	c := cache.New(cache.NewRedisStore(redisClient, ""))
//
// Redis entries also carry a server-side expiry, so Cleanup is rarely needed.
//
// # Memoization
//
// Memoize wraps any func(context.Context, A) (R, error). The key function
// receives the same argument:
//
//	// func fetchLeagueSchedule(ctx context.Context, season int) ([]Game, error)
//	getSchedule := cache.Memoize(c, fetchLeagueSchedule, time.Hour,
//		func(season int) string { return fmt.Sprintf("schedule:%d", season) })
//
//	games, err := getSchedule(ctx, 20232024)
//
// # Maintenance
//
//	removed, err := c.Cleanup(ctx) // expired and corrupt entries
//	stats, err := c.Stats(ctx)
//	removed, err = c.Clear(ctx)
//
// # Metrics
//
//   - scrapekit_cache_hits_total{store} - Cache hits
//   - scrapekit_cache_misses_total{store} - Cache misses
//   - scrapekit_cache_corrupt_total{store} - Corrupt entries discarded
//   - scrapekit_cache_errors_total{operation} - Store operation errors
package cache
