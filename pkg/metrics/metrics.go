// Package metrics exposes the Prometheus registry used by the enricher and an
// optional /metrics listener. Metrics themselves are defined in their
// respective packages (client, ratelimit, batch, sink) and registered via
// promauto.
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
)

// Registry is the default Prometheus registry used by the enricher.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer served on /metrics.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler for the metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Server serves /metrics for the lifetime of a run.
type Server struct {
	srv      *http.Server
	listener net.Listener
	logger   zerolog.Logger
	done     chan error
}

// Start listens on addr and serves /metrics in the background.
// An addr of ":0" picks a free port; see Addr.
func Start(addr string, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		logger:   logger,
		done:     make(chan error, 1),
	}

	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()

	logger.Info().Str("addr", ln.Addr().String()).Msg("Metrics endpoint listening")
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the listener and waits for in-flight scrapes.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	if err := <-s.done; err != nil {
		return fmt.Errorf("serve metrics: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - bgg_requests_total{status} (Counter): Requests by HTTP status or failure class
//   - bgg_request_duration_seconds (Histogram): Request duration
//   - bgg_errors_total{class} (Counter): Errors by class (client, server, rate_limit, queued, network, canceled)
//
// Retry Metrics (pkg/client):
//   - bgg_retries_total{error_class} (Counter): Fixed waits by error class
//   - bgg_retry_backoff_seconds{error_class} (Histogram): Wait duration by error class
//   - bgg_retry_exhausted_total{error_class} (Counter): Bounded retries that ran out
//
// Shared Backoff Metrics (pkg/ratelimit):
//   - bgg_backoff_remaining_seconds (Gauge): Seconds left in the shared window
//   - bgg_backoff_recorded_total{status} (Counter): Windows recorded by status
//
// Run Metrics (pkg/batch):
//   - bgg_batches_total (Counter): Batches completed
//   - bgg_items_merged_total (Counter): Catalog rows merged and written
//   - bgg_links_written_total (Counter): Expansion links written
//   - bgg_batch_duration_seconds (Histogram): Fetch-to-write time per batch
//
// Sink Metrics (pkg/sink):
//   - bgg_sink_rows_flushed_total{sink, table} (Counter): Rows flushed to storage
//
// Example Prometheus Queries:
//
//   # Items per minute
//   rate(bgg_items_merged_total[1m]) * 60
//
//   # Time spent waiting out rate limits
//   sum(rate(bgg_retry_backoff_seconds_sum{error_class="rate_limit"}[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(bgg_request_duration_seconds_bucket[5m]))
