package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/scrapernhl/scrapekit/pkg/cache"
	"github.com/scrapernhl/scrapekit/pkg/logging"
	"github.com/scrapernhl/scrapekit/pkg/ratelimit"
	"github.com/scrapernhl/scrapekit/pkg/retry"
)

// Config holds batch runner configuration
type Config[T, R any] struct {
	// MaxWorkers is the number of items processed concurrently.
	MaxWorkers int

	// RatePerSecond caps work function calls across all workers.
	// Ignored when Limiter is set.
	RatePerSecond float64

	// Limiter overrides the sliding window built from RatePerSecond.
	// Use ratelimit.Unlimited() to disable rate limiting.
	Limiter ratelimit.Limiter

	// Retry decides which failures are retried and how long to wait.
	Retry retry.Policy

	// Cache, when set, is consulted before the limiter. KeyFunc is then
	// required.
	Cache    *cache.Cache
	CacheTTL time.Duration
	KeyFunc  KeyFunc[T]

	// OnOutcome is called once per recorded outcome. Calls are serialized.
	OnOutcome func(Outcome[T, R])

	// Logger defaults to the "batch" component logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns safe defaults for scraping public hockey APIs
func DefaultConfig[T, R any]() Config[T, R] {
	return Config[T, R]{
		MaxWorkers:    5,
		RatePerSecond: 10,
		Retry:         retry.DefaultPolicy(),
		CacheTTL:      time.Hour,
	}
}

// Runner executes batches with a fixed worker count, a shared rate limiter
// and a retry policy. A Runner may be reused for several batches; they
// share its limiter.
type Runner[T, R any] struct {
	cfg     Config[T, R]
	limiter ratelimit.Limiter
	logger  zerolog.Logger
}

// NewRunner validates cfg and builds a runner. Invalid settings return a
// *ConfigError.
func NewRunner[T, R any](cfg Config[T, R]) (*Runner[T, R], error) {
	if cfg.MaxWorkers <= 0 {
		return nil, &ConfigError{Field: "MaxWorkers", Reason: fmt.Sprintf("must be positive, got %d", cfg.MaxWorkers)}
	}
	if cfg.Retry.MaxRetries < 0 {
		return nil, &ConfigError{Field: "Retry.MaxRetries", Reason: fmt.Sprintf("must not be negative, got %d", cfg.Retry.MaxRetries)}
	}
	if cfg.Retry.BaseDelay < 0 || cfg.Retry.MaxDelay < 0 {
		return nil, &ConfigError{Field: "Retry", Reason: "delays must not be negative"}
	}
	if cfg.Retry.Jitter < 0 || cfg.Retry.Jitter >= 1 {
		return nil, &ConfigError{Field: "Retry.Jitter", Reason: fmt.Sprintf("must be in [0, 1), got %v", cfg.Retry.Jitter)}
	}
	if cfg.Cache != nil && cfg.KeyFunc == nil {
		return nil, &ConfigError{Field: "KeyFunc", Reason: "is required when a cache is configured"}
	}

	logger := logging.NewLogger("batch")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	limiter := cfg.Limiter
	if limiter == nil {
		window, err := ratelimit.NewSlidingWindow(cfg.RatePerSecond,
			ratelimit.WithLogger(logger.With().Str("component", "ratelimit").Logger()))
		if err != nil {
			return nil, &ConfigError{Field: "RatePerSecond", Reason: err.Error()}
		}
		limiter = window
	}

	return &Runner[T, R]{
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Run builds a runner from cfg and processes items with it.
func Run[T, R any](ctx context.Context, items []Item[T], workFn WorkFunc[T, R], cfg Config[T, R]) (*Result[T, R], error) {
	runner, err := NewRunner(cfg)
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx, items, workFn)
}

// Run processes every item and returns once each has a terminal outcome or
// ctx is cancelled.
//
// Item failures never produce an error; they are listed in Result.Failed.
// The error is non-nil only for invalid input. On cancellation idle workers
// stop pulling items, in-flight work function calls run to completion, and
// the result covers the attempted items with Interrupted set.
func (r *Runner[T, R]) Run(ctx context.Context, items []Item[T], workFn WorkFunc[T, R]) (*Result[T, R], error) {
	if err := validateInput(items, workFn); err != nil {
		return nil, err
	}

	agg := newAggregator(r.cfg.OnOutcome)
	result := &Result[T, R]{StartedAt: time.Now()}

	r.logger.Info().
		Int("items", len(items)).
		Int("workers", r.cfg.MaxWorkers).
		Msg("Starting batch")

	r.execute(ctx, items, workFn, agg)

	r.finish(ctx, result, agg, len(items))
	return result, nil
}

// finish fills result from agg and logs the summary.
func (r *Runner[T, R]) finish(ctx context.Context, result *Result[T, R], agg *aggregator[T, R], total int) {
	result.Successful, result.Failed = agg.snapshot()
	result.FinishedAt = time.Now()
	result.Interrupted = ctx.Err() != nil && (result.TotalItems() < total || hasCancelled(result.Failed))

	summary := result.Summary()
	event := r.logger.Info()
	if result.Interrupted {
		event = r.logger.Warn()
	}
	event.EmbedObject(summary).Msg("Batch complete")
}

// execute runs items through the worker pool, recording into agg.
// It returns after all workers have exited.
func (r *Runner[T, R]) execute(ctx context.Context, items []Item[T], workFn WorkFunc[T, R], agg *aggregator[T, R]) {
	queue := make(chan Item[T])

	var g errgroup.Group

	// Fill item queue
	g.Go(func() error {
		defer close(queue)
		for _, item := range items {
			select {
			case queue <- item:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})

	workers := r.cfg.MaxWorkers
	if workers > len(items) {
		workers = len(items)
	}
	for i := 0; i < workers; i++ {
		workerID := i
		g.Go(func() error {
			r.worker(ctx, workerID, queue, workFn, agg)
			return nil
		})
	}

	_ = g.Wait()
}

// worker processes items from the queue until it is drained or ctx is done.
func (r *Runner[T, R]) worker(ctx context.Context, workerID int, queue <-chan Item[T], workFn WorkFunc[T, R], agg *aggregator[T, R]) {
	processed := 0

	for item := range queue {
		// Check context cancellation
		if ctx.Err() != nil {
			r.logger.Debug().
				Int("worker_id", workerID).
				Int("items_processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		}

		r.process(ctx, item, workFn, agg)
		processed++
	}

	if processed > 0 {
		r.logger.Debug().
			Int("worker_id", workerID).
			Int("items_processed", processed).
			Msg("Worker completed")
	}
}

// process runs one item to its terminal outcome.
func (r *Runner[T, R]) process(ctx context.Context, item Item[T], workFn WorkFunc[T, R], agg *aggregator[T, R]) {
	inflightItems.Inc()
	defer inflightItems.Dec()

	logger := logging.ForItem(r.logger, item.ID)

	var key string
	if r.cfg.Cache != nil {
		key = r.cfg.KeyFunc(item)
		value, err := cache.GetJSON[R](ctx, r.cfg.Cache, key)
		if err == nil {
			o := Success(item, value, 0)
			o.Cached = true
			agg.record(o)
			return
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn().Err(err).Str("cache_key", key).Msg("Cache read failed, treating as miss")
		}
	}

	// in-flight calls run to completion even if ctx is cancelled meanwhile
	callCtx := context.WithoutCancel(ctx)

	for attempt := 1; ; attempt++ {
		if err := r.limiter.Acquire(ctx); err != nil {
			if attempt == 1 {
				// never attempted, so no outcome; a resume picks it up
				return
			}
			agg.record(Failure[T, R](item, retry.ClassCancelled, "interrupted waiting for rate limit", attempt-1))
			return
		}

		start := time.Now()
		value, err := workFn(callCtx, item)
		attemptDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			if r.cfg.Cache != nil && r.cfg.CacheTTL != 0 {
				if err := r.cfg.Cache.Set(callCtx, key, value, r.cfg.CacheTTL); err != nil {
					logger.Warn().Err(err).Str("cache_key", key).Msg("Failed to cache result")
				}
			}
			agg.record(Success(item, value, attempt))
			return
		}

		class := retry.Classify(err)
		delay, ok := r.cfg.Retry.NextDelay(attempt, err)
		if !ok {
			event := logger.Error()
			if class == retry.ClassCancelled {
				event = logger.Warn()
			}
			event.Err(err).
				Str("error_class", string(class)).
				Int("attempt", attempt).
				Bool("retries_exhausted", retry.ShouldRetry(class)).
				Msg("Item failed")
			agg.record(Failure[T, R](item, class, err.Error(), attempt))
			return
		}

		logger.Warn().
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying item")

		if err := retry.Sleep(ctx, delay); err != nil {
			agg.record(Failure[T, R](item, retry.ClassCancelled, "interrupted during backoff: "+err.Error(), attempt))
			return
		}
	}
}

func validateInput[T, R any](items []Item[T], workFn WorkFunc[T, R]) error {
	if workFn == nil {
		return &ConfigError{Field: "workFn", Reason: "must not be nil"}
	}
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if item.ID == "" {
			return &ConfigError{Field: "items", Reason: fmt.Sprintf("item %d has an empty ID", i)}
		}
		if _, dup := seen[item.ID]; dup {
			return &ConfigError{Field: "items", Reason: fmt.Sprintf("duplicate item ID %q", item.ID)}
		}
		seen[item.ID] = struct{}{}
	}
	return nil
}

func hasCancelled[T, R any](failed []Outcome[T, R]) bool {
	for _, o := range failed {
		if o.ErrorKind == retry.ClassCancelled {
			return true
		}
	}
	return false
}
