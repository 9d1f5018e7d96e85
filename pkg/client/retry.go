package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	bggRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bgg_retries_total",
		Help: "Total number of retry waits by error class",
	}, []string{"error_class"})

	bggRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bgg_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	bggRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bgg_retry_exhausted_total",
		Help: "Total number of times bounded retries ran out by error class",
	}, []string{"error_class"})
)

// DefaultBackoffWait is the fixed pause between attempts.
const DefaultBackoffWait = 10 * time.Second

// State is a step of the retry state machine.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateBackoffWait
	StateSuccess
	StateFatal
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateBackoffWait:
		return "backoff_wait"
	case StateSuccess:
		return "success"
	case StateFatal:
		return "fatal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sleeper blocks for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f(ctx, d).
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
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

// DefaultSleeper waits on a timer and returns early when the context ends.
var DefaultSleeper Sleeper = timerSleeper{}

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// Wait is the fixed pause between attempts. There is no growth.
	Wait time.Duration

	// MaxAttempts bounds the number of attempts. 0 retries until success or
	// a fatal error.
	MaxAttempts int

	// Sleeper performs the wait. Nil uses DefaultSleeper.
	Sleeper Sleeper

	// Retryable decides whether an error is waited out. Nil uses IsRetryable.
	Retryable func(error) bool

	// OnState observes every state transition.
	OnState func(State)

	Logger zerolog.Logger
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Wait:    DefaultBackoffWait,
		Sleeper: DefaultSleeper,
		Logger:  log.Logger,
	}
}

// Retry runs fn until it succeeds, returns a non-retryable error, the context
// ends, or MaxAttempts is reached. Between attempts it sleeps cfg.Wait.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	sleeper := cfg.Sleeper
	if sleeper == nil {
		sleeper = DefaultSleeper
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	transition := func(s State) {
		if cfg.OnState != nil {
			cfg.OnState(s)
		}
	}

	transition(StateIdle)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			transition(StateFatal)
			return &FetchError{Class: ErrorClassCanceled, Message: "retry loop interrupted", Err: err}
		}

		transition(StateRequesting)
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				cfg.Logger.Info().Int("attempt", attempt).Msg("Request succeeded after retry")
			}
			transition(StateSuccess)
			return nil
		}

		class := errorClassOf(err)
		if ctx.Err() != nil || !retryable(err) {
			transition(StateFatal)
			return err
		}

		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			bggRetryExhaustedTotal.WithLabelValues(class).Inc()
			cfg.Logger.Warn().
				Str("error_class", class).
				Int("max_attempts", cfg.MaxAttempts).
				Msg("Retry attempts exhausted")
			transition(StateFatal)
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, err)
		}

		transition(StateBackoffWait)
		bggRetriesTotal.WithLabelValues(class).Inc()
		bggRetryBackoffSeconds.WithLabelValues(class).Observe(cfg.Wait.Seconds())
		cfg.Logger.Warn().
			Err(err).
			Str("error_class", class).
			Int("attempt", attempt).
			Dur("wait", cfg.Wait).
			Msg("Request failed, waiting before resubmitting")

		if err := sleeper.Sleep(ctx, cfg.Wait); err != nil {
			transition(StateFatal)
			return &FetchError{Class: ErrorClassCanceled, Message: "backoff interrupted", Err: err}
		}
	}
}

func errorClassOf(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return string(fe.Class)
	}
	return "other"
}
