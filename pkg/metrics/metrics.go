// Package metrics exposes scrapekit's Prometheus metrics over HTTP.
//
// The metrics themselves are declared with promauto in the packages that
// update them (batch, cache, ratelimit, retry, fetch) so this package never
// imports them. Long-running batch jobs start a Server to make them scrapable.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/scrapernhl/scrapekit/pkg/logging"
)

// Registry is the Prometheus registerer all scrapekit metrics are added to.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server serves /metrics and /health on its own listener.
type Server struct {
	srv      *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer binds addr (for example ":9090" or "127.0.0.1:0").
// Serving starts with Start.
func NewServer(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", healthHandler)

	return &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		logger:   logging.NewLogger("metrics"),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start serves in a background goroutine.
func (s *Server) Start() {
	s.logger.Info().Str("addr", s.Addr()).Msg("Serving metrics")
	go func() {
		if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// Shutdown stops the server, waiting for in-flight scrapes until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// Metrics Documentation
//
// Batch Metrics (pkg/batch):
//   - scrapekit_batch_items_total{status} (Counter): Items finished by status (success, failure)
//   - scrapekit_batch_failures_total{kind} (Counter): Failed items by error kind
//   - scrapekit_batch_attempt_duration_seconds (Histogram): Work function call duration
//   - scrapekit_batch_inflight_items (Gauge): Items currently held by workers
//   - scrapekit_checkpoint_writes_total{result} (Counter): Checkpoint saves by result (ok, error)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - scrapekit_rate_limit_permits_total (Counter): Permits granted
//   - scrapekit_rate_limit_wait_seconds (Histogram): Time blocked waiting for a permit
//
// Retry Metrics (pkg/retry):
//   - scrapekit_retries_total{error_class} (Counter): Retries scheduled by error class
//   - scrapekit_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - scrapekit_retry_exhausted_total{error_class} (Counter): Items that exhausted max retries
//
// Cache Metrics (pkg/cache):
//   - scrapekit_cache_hits_total{store} (Counter): Cache hits by store (file, redis)
//   - scrapekit_cache_misses_total{store} (Counter): Cache misses by store
//   - scrapekit_cache_corrupt_total{store} (Counter): Unreadable entries discarded
//   - scrapekit_cache_errors_total{operation} (Counter): Store operation errors
//
// Fetch Metrics (pkg/fetch):
//   - scrapekit_fetch_requests_total{status} (Counter): HTTP requests by status code
//   - scrapekit_fetch_request_duration_seconds (Histogram): HTTP request duration
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(scrapekit_cache_hits_total[5m])) /
//   (sum(rate(scrapekit_cache_hits_total[5m])) + sum(rate(scrapekit_cache_misses_total[5m])))
//
//   # Item Failure Rate
//   rate(scrapekit_batch_items_total{status="failure"}[5m]) / rate(scrapekit_batch_items_total[5m])
//
//   # P95 Rate Limiter Wait
//   histogram_quantile(0.95, rate(scrapekit_rate_limit_wait_seconds_bucket[5m]))
