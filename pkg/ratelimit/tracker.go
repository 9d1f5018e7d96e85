package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for shared backoff tracking.
var (
	bggBackoffRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bgg_backoff_remaining_seconds",
		Help: "Seconds left in the shared BGG backoff window as last observed",
	})

	bggBackoffRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bgg_backoff_recorded_total",
		Help: "Total number of backoff windows recorded by HTTP status",
	}, []string{"status"})
)

// Tracker stores and reads the shared backoff window in Redis.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a new backoff tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

// GetState retrieves the current backoff window from Redis.
// Returns an inactive zero state if no window is recorded.
func (t *Tracker) GetState(ctx context.Context) (*BackoffState, error) {
	raw, err := t.redis.Get(ctx, RedisKeyBackoff).Bytes()
	if errors.Is(err, redis.Nil) {
		return &BackoffState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backoff state: %w", err)
	}

	var state BackoffState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("parse backoff state: %w", err)
	}
	return &state, nil
}

// Remaining returns how long callers must still wait before the next request.
func (t *Tracker) Remaining(ctx context.Context) (time.Duration, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return 0, err
	}
	remaining := state.Remaining()
	bggBackoffRemaining.Set(remaining.Seconds())
	return remaining, nil
}

// Record opens (or extends) the shared window so that it lasts at least wait
// from now. A window that already closes later is left untouched.
func (t *Tracker) Record(ctx context.Context, status int, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}

	current, err := t.GetState(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	until := now.Add(wait)
	if !current.Extends(until) {
		return nil
	}

	state := BackoffState{
		Until:      until,
		Status:     status,
		RecordedAt: now,
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal backoff state: %w", err)
	}

	// The key expires with the window, so a stale entry never blocks anyone.
	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyBackoff, payload, wait)
	pipe.Set(ctx, RedisKeyLastStatus, status, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store backoff state in redis: %w", err)
	}

	bggBackoffRecordedTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	bggBackoffRemaining.Set(wait.Seconds())

	t.logger.Info().
		Int("status", status).
		Time("until", until).
		Dur("wait", wait).
		Msg("Shared backoff window recorded")

	return nil
}

// Clear removes any recorded window.
func (t *Tracker) Clear(ctx context.Context) error {
	if err := t.redis.Del(ctx, RedisKeyBackoff).Err(); err != nil {
		return fmt.Errorf("clear backoff state: %w", err)
	}
	bggBackoffRemaining.Set(0)
	return nil
}
