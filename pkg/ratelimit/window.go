package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/scrapernhl/scrapekit/pkg/logging"
)

// Prometheus metrics for rate limiting.
var (
	permitsGrantedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scrapekit_rate_limit_permits_total",
		Help: "Total number of permits granted by rate limiters",
	})

	permitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scrapekit_rate_limit_wait_seconds",
		Help:    "Time callers spent blocked waiting for a permit",
		Buckets: []float64{0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// MaxRate is the highest rate a SlidingWindow accepts. The window keeps one
// timestamp per permit, so the rate bounds its memory.
const MaxRate = 10000

// ErrInvalidRate is returned when a limiter is configured with a
// non-positive, non-finite or too large rate.
var ErrInvalidRate = errors.New("rate limit must be a positive, finite number of permits per second")

// Limiter blocks callers until they may issue one more call.
type Limiter interface {
	// Acquire blocks until a permit is available or ctx is done.
	Acquire(ctx context.Context) error
}

// SlidingWindow grants at most MaxPerWindow permits inside any trailing
// window. One instance is shared by all workers of a job.
type SlidingWindow struct {
	mu     sync.Mutex
	grants []time.Time // ring buffer of grant times, oldest at head
	head   int
	count  int
	max    int
	window time.Duration

	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a SlidingWindow.
type Option func(*SlidingWindow)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *SlidingWindow) {
		w.now = now
	}
}

// WithLogger sets the logger used for wait diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *SlidingWindow) {
		w.logger = logger
	}
}

// NewSlidingWindow creates a limiter allowing permitsPerSecond calls.
//
// Rates of at least 1 use a one second window holding floor(rate) permits.
// Fractional rates below 1 stretch the window to 1/rate seconds with a single
// permit, so 0.5 allows one call every two seconds. Rates above MaxRate
// return ErrInvalidRate; use Unlimited or a TokenBucket instead.
func NewSlidingWindow(permitsPerSecond float64, opts ...Option) (*SlidingWindow, error) {
	if permitsPerSecond <= 0 || math.IsNaN(permitsPerSecond) || math.IsInf(permitsPerSecond, 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidRate, permitsPerSecond)
	}
	if permitsPerSecond > MaxRate {
		return nil, fmt.Errorf("%w: got %v, maximum is %d", ErrInvalidRate, permitsPerSecond, MaxRate)
	}

	perWindow := 1
	window := time.Second
	if permitsPerSecond >= 1 {
		perWindow = int(math.Floor(permitsPerSecond))
	} else {
		window = time.Duration(float64(time.Second) / permitsPerSecond)
	}

	w := &SlidingWindow{
		grants: make([]time.Time, perWindow),
		max:    perWindow,
		window: window,
		now:    time.Now,
		logger: logging.NewLogger("ratelimit"),
	}
	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Acquire blocks until a permit is available. The lock is never held while
// sleeping, so a waiting worker does not stall the others' bookkeeping.
func (w *SlidingWindow) Acquire(ctx context.Context) error {
	start := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait, ok := w.tryAcquire()
		if ok {
			permitsGrantedTotal.Inc()
			permitWaitSeconds.Observe(time.Since(start).Seconds())
			return nil
		}

		w.logger.Debug().
			Dur("wait", wait).
			Int("max_per_window", w.max).
			Msg("Rate limit window saturated, waiting")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire records a grant if the window has room, otherwise returns how
// long until the oldest grant expires.
func (w *SlidingWindow) tryAcquire() (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.evict(now)

	if w.count < w.max {
		w.grants[(w.head+w.count)%w.max] = now
		w.count++
		return 0, true
	}

	wait := w.grants[w.head].Add(w.window).Sub(now)
	if wait <= 0 {
		// clock moved between evict and here; let the caller loop
		wait = time.Millisecond
	}
	return wait, false
}

// evict drops grants that have left the trailing window. Caller holds mu.
func (w *SlidingWindow) evict(now time.Time) {
	for w.count > 0 && !now.Before(w.grants[w.head].Add(w.window)) {
		w.grants[w.head] = time.Time{}
		w.head = (w.head + 1) % w.max
		w.count--
	}
}

// State returns a snapshot of the current window.
func (w *SlidingWindow) State() WindowState {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(w.now())

	state := WindowState{
		Count:        w.count,
		MaxPerWindow: w.max,
		Window:       w.window,
	}
	if w.count > 0 {
		state.WindowStart = w.grants[w.head]
	}
	return state
}
