// Package ratelimit shares the BGG API backoff window between enricher
// processes. When one process is told to slow down (429 or 5xx), it records
// the wait in Redis and every other process using the same Redis waits it out
// before its next request.
package ratelimit

import (
	"time"
)

// Redis keys for shared backoff state.
const (
	RedisKeyBackoff    = "bgg:backoff"
	RedisKeyLastStatus = "bgg:backoff:last_status"
)

// BackoffState is the cooling-down window shared across processes.
type BackoffState struct {
	// Until is the instant before which no request should be sent.
	Until time.Time `json:"until"`

	// Status is the HTTP status that opened the window (0 for network errors).
	Status int `json:"status"`

	// RecordedAt is when the window was recorded.
	RecordedAt time.Time `json:"recorded_at"`
}

// Active reports whether the window is still open.
func (s *BackoffState) Active() bool {
	return s.Remaining() > 0
}

// Remaining returns the time left in the window, or 0 once it has passed.
func (s *BackoffState) Remaining() time.Duration {
	d := time.Until(s.Until)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale returns true if the state was recorded longer ago than maxAge.
func (s *BackoffState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.RecordedAt) > maxAge
}

// Extends reports whether a window ending at until would close later than s.
func (s *BackoffState) Extends(until time.Time) bool {
	return until.After(s.Until)
}
