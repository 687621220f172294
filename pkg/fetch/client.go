// Package fetch provides an HTTP JSON client whose errors are classified
// for the batch runner's retry policy.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/scrapernhl/scrapekit/pkg/logging"
	"github.com/scrapernhl/scrapekit/pkg/retry"
)

// Prometheus metrics for API requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrapekit_fetch_requests_total",
		Help: "Total API requests by response status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scrapekit_fetch_request_duration_seconds",
		Help:    "API request duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
)

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "scrapekit/1.0"

// DefaultMaxBodySize caps response bodies read into memory.
const DefaultMaxBodySize = 32 << 20

// Client performs GET requests against one JSON API.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	userAgent   string
	maxBodySize int64
	now         func() time.Time
	logger      zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout. The HTTP client is copied first,
// so a client passed to WithHTTPClient is left untouched.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.httpClient
		hc.Timeout = d
		c.httpClient = &hc
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithMaxBodySize caps the response body size.
func WithMaxBodySize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodySize = n
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q: missing host", baseURL)
	}

	c := &Client{
		baseURL:     u,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		userAgent:   DefaultUserAgent,
		maxBodySize: DefaultMaxBodySize,
		now:         time.Now,
		logger:      logging.NewLogger("fetch"),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Resolve joins path onto the base URL. Absolute URLs are returned as is.
func (c *Client) Resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse path %q: %w", path, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}

	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}

// Get fetches path and returns the JSON body.
//
// Errors are classified for retry: 429 is a rate-limit error carrying the
// Retry-After hint, 408 and 5xx and network failures are transient, other
// 4xx and non-JSON bodies are permanent. Context errors are returned
// unwrapped.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	target, err := c.Resolve(path)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues("network_error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Debug().Err(err).Str("url", target).Msg("Request failed")
		return nil, retry.Transient(fmt.Errorf("GET %s: %w", path, err))
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, retry.Transient(fmt.Errorf("read body of %s: %w", path, err))
	}

	if resp.StatusCode >= 400 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Path: path, Body: snippet(body)}
		class := retry.ClassifyStatus(resp.StatusCode)

		c.logger.Debug().
			Str("url", target).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("API error response")

		classified := &retry.Error{Class: class, StatusCode: resp.StatusCode, Err: statusErr}
		if class == retry.ClassRateLimit {
			classified.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		}
		return nil, classified
	}

	if int64(len(body)) > c.maxBodySize {
		return nil, retry.Permanent(fmt.Errorf("response body of %s exceeds %d bytes", path, c.maxBodySize))
	}
	if !json.Valid(body) {
		return nil, retry.Permanent(fmt.Errorf("response body of %s is not valid JSON", path))
	}

	return json.RawMessage(body), nil
}

// GetJSON fetches path and decodes the body into V.
func GetJSON[V any](ctx context.Context, c *Client, path string) (V, error) {
	var out V
	raw, err := c.Get(ctx, path)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, retry.Permanent(fmt.Errorf("decode %s: %w", path, err))
	}
	return out, nil
}

// StatusError describes a non-success HTTP response.
type StatusError struct {
	StatusCode int
	Status     string
	Path       string
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = strconv.Itoa(e.StatusCode)
	}
	if e.Body != "" {
		return fmt.Sprintf("GET %s: %s: %s", e.Path, status, e.Body)
	}
	return fmt.Sprintf("GET %s: %s", e.Path, status)
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// ParseRetryAfter parses a Retry-After header given in seconds or as an
// HTTP date. Missing, malformed and past values yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}
