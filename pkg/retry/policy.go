package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrapekit_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scrapekit_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrapekit_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// maxShift keeps BaseDelay << (attempt-1) from overflowing.
const maxShift = 62

// Policy holds the configuration for retry decisions.
type Policy struct {
	// MaxRetries is the number of retries allowed after the initial try.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps every computed or server-provided delay.
	MaxDelay time.Duration

	// Jitter randomizes each delay by ±Jitter (0.2 = ±20%).
	// Zero keeps delays deterministic.
	Jitter float64
}

// DefaultPolicy returns the default retry configuration.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

var (
	jitterMu  sync.Mutex
	jitterRng = rand.New(rand.NewSource(time.Now().UnixNano())) // #nosec G404 -- jitter does not need crypto rand
)

// Backoff returns min(BaseDelay * 2^(attempt-1), MaxDelay) for attempt >= 1.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}

	shift := attempt - 1
	if shift > maxShift {
		shift = maxShift
	}

	delay := p.BaseDelay << uint(shift)
	if delay <= 0 || delay/p.BaseDelay != 1<<uint(shift) {
		// overflowed
		delay = p.MaxDelay
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// NextDelay decides whether the failed item gets retry number attempt
// (1 for the first retry) and how long to wait before it.
func (p Policy) NextDelay(attempt int, err error) (time.Duration, bool) {
	class := Classify(err)
	if !ShouldRetry(class) {
		return 0, false
	}
	if attempt > p.MaxRetries {
		retryExhaustedTotal.WithLabelValues(string(class)).Inc()
		return 0, false
	}

	delay := p.Backoff(attempt)
	if hint := RetryAfterOf(err); hint > 0 {
		delay = hint
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	if p.Jitter > 0 && delay > 0 {
		jitterMu.Lock()
		factor := 1 + (jitterRng.Float64()*2-1)*p.Jitter
		jitterMu.Unlock()
		delay = time.Duration(float64(delay) * factor)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	retriesTotal.WithLabelValues(string(class)).Inc()
	retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())

	return delay, true
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
