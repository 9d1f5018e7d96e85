// Package client fetches item records from the BGG XML API2 thing endpoint,
// waiting out rate limits and transient server errors.
package client

import (
	"context"
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
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Prometheus metrics for BGG client operations.
var (
	bggRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bgg_requests_total",
		Help: "Total BGG requests by status",
	}, []string{"status"})

	bggRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bgg_request_duration_seconds",
		Help:    "BGG request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	bggErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bgg_errors_total",
		Help: "Total BGG errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx (other than 429) and unexpected statuses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassQueued represents 202 Accepted, BGG's "try again shortly".
	ErrorClassQueued ErrorClass = "queued"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassCanceled represents context cancellation.
	ErrorClassCanceled ErrorClass = "canceled"
)

// DefaultBaseURL is the public XML API2 root.
const DefaultBaseURL = "https://boardgamegeek.com/xmlapi2"

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// BackoffStore shares backoff windows with other processes.
// *ratelimit.Tracker satisfies it.
type BackoffStore interface {
	Remaining(ctx context.Context) (time.Duration, error)
	Record(ctx context.Context, status int, wait time.Duration) error
}

// Client is the BGG thing client.
type Client struct {
	httpClient Doer
	limiter    *rate.Limiter
	sleeper    Sleeper
	backoff    BackoffStore
	thingURL   string
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, without the trailing /thing.
	BaseURL string

	// UserAgent header (REQUIRED)
	UserAgent string

	// APIToken is sent as a bearer token when set.
	APIToken string

	// Timeout bounds a single HTTP attempt. Ignored when HTTPClient is set.
	Timeout time.Duration

	// BackoffWait is the fixed wait after a retryable failure.
	BackoffWait time.Duration

	// RequestInterval paces consecutive requests. 0 disables pacing.
	RequestInterval time.Duration

	// Optional collaborators
	HTTPClient Doer
	Sleeper    Sleeper
	Backoff    BackoffStore
	OnState    func(State)
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		UserAgent:   userAgent,
		Timeout:     30 * time.Second,
		BackoffWait: DefaultBackoffWait,
	}
}

// New creates a new BGG client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}

	if cfg.BackoffWait < 0 {
		return nil, fmt.Errorf("backoff_wait must be >= 0 (got %s)", cfg.BackoffWait)
	}
	if cfg.RequestInterval < 0 {
		return nil, fmt.Errorf("request_interval must be >= 0 (got %s)", cfg.RequestInterval)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0 (got %s)", cfg.Timeout)
	}

	logger := log.With().Str("component", "bgg-client").Logger()

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	sleeper := cfg.Sleeper
	if sleeper == nil {
		sleeper = DefaultSleeper
	}

	var limiter *rate.Limiter
	if cfg.RequestInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RequestInterval), 1)
	}

	return &Client{
		httpClient: httpClient,
		limiter:    limiter,
		sleeper:    sleeper,
		backoff:    cfg.Backoff,
		thingURL:   base.String() + "/thing",
		config:     cfg,
		logger:     logger,
	}, nil
}

// ThingURL returns the request URL for ids. Commas are sent unescaped.
func (c *Client) ThingURL(ids []string) string {
	return c.thingURL + "?id=" + strings.Join(ids, ",") + "&stats=1"
}

// FetchItems requests all ids in one call and returns the raw XML payload.
// Retryable failures are waited out indefinitely; the first fatal failure or a
// canceled ctx ends the call.
func (c *Client) FetchItems(ctx context.Context, ids []string) ([]byte, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("fetch items: no ids given")
	}

	endpoint := c.ThingURL(ids)
	var body []byte

	err := Retry(ctx, RetryConfig{
		Wait:    c.config.BackoffWait,
		Sleeper: c.sleeper,
		OnState: c.config.OnState,
		Logger:  c.logger,
	}, func(ctx context.Context) error {
		if err := c.awaitTurn(ctx); err != nil {
			return err
		}
		b, err := c.get(ctx, endpoint)
		if err != nil {
			c.shareBackoff(ctx, err)
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %d items: %w", len(ids), err)
	}
	return body, nil
}

// awaitTurn honors the shared backoff window and the local request pacing.
func (c *Client) awaitTurn(ctx context.Context) error {
	if c.backoff != nil {
		remaining, err := c.backoff.Remaining(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Shared backoff lookup failed, continuing")
		} else if remaining > 0 {
			c.logger.Info().Dur("wait", remaining).Msg("Waiting for shared backoff window")
			if err := c.sleeper.Sleep(ctx, remaining); err != nil {
				return TransportError(ctx, err)
			}
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return TransportError(ctx, err)
		}
	}
	return nil
}

func (c *Client) shareBackoff(ctx context.Context, err error) {
	if c.backoff == nil || !IsRetryable(err) || ctx.Err() != nil {
		return
	}
	status := 0
	if fe, ok := err.(*FetchError); ok {
		status = fe.StatusCode
	}
	if recErr := c.backoff.Record(ctx, status, c.config.BackoffWait); recErr != nil {
		c.logger.Warn().Err(recErr).Msg("Failed to share backoff window")
	}
}

// get performs one attempt. Every failure is returned as a *FetchError.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Class: ErrorClassClient, Message: "create request", Err: err}
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/xml")
	if c.config.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	}

	c.logger.Debug().Str("url", endpoint).Msg("Executing BGG request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	bggRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		fe := TransportError(ctx, err)
		bggRequestsTotal.WithLabelValues(string(fe.Class)).Inc()
		bggErrorsTotal.WithLabelValues(string(fe.Class)).Inc()
		return nil, fe
	}
	defer resp.Body.Close()

	bggRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if err := CheckResponse(resp); err != nil {
		fe := err.(*FetchError)
		bggErrorsTotal.WithLabelValues(string(fe.Class)).Inc()
		c.logger.Debug().
			Int("status", resp.StatusCode).
			Str("error_class", string(fe.Class)).
			Msg("BGG request error")
		return nil, fe
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fe := TransportError(ctx, fmt.Errorf("read body: %w", err))
		bggErrorsTotal.WithLabelValues(string(fe.Class)).Inc()
		return nil, fe
	}
	return body, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client Doer) {
	c.httpClient = client
}
