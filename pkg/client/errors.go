package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Common errors returned by the client.
var (
	// ErrFatal matches every FetchError that must not be retried.
	ErrFatal = errors.New("fatal fetch error")

	// ErrRetryable matches every FetchError the retry loop waits out.
	ErrRetryable = errors.New("retryable fetch error")

	// ErrRetryExhausted is returned when a bounded retry runs out of attempts.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// FetchError represents a failed request with its classification.
type FetchError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "bgg %s error", e.Class)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches ErrFatal or ErrRetryable according to the classification.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrRetryable:
		return e.Retryable()
	case ErrFatal:
		return !e.Retryable()
	}
	return false
}

// Retryable reports whether the retry loop should wait and try again.
func (e *FetchError) Retryable() bool {
	return shouldRetry(e.Class)
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassRateLimit, ErrorClassServer, ErrorClassNetwork, ErrorClassQueued:
		return true
	default:
		// client and canceled, and anything unknown
		return false
	}
}

// IsRetryable reports whether err is a retryable FetchError.
func IsRetryable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Retryable()
}

// classifyStatus maps a non-success HTTP status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status == http.StatusAccepted:
		return ErrorClassQueued
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// CheckResponse returns nil for a usable response and a FetchError otherwise.
// A 202 means BGG queued the request; the body is not the data yet.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && resp.StatusCode != http.StatusAccepted {
		return nil
	}

	msg := resp.Status
	if snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256)); len(snippet) > 0 {
		msg = fmt.Sprintf("%s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	return &FetchError{
		StatusCode: resp.StatusCode,
		Class:      classifyStatus(resp.StatusCode),
		Message:    msg,
	}
}

// TransportError classifies an error raised before a response was received.
// If ctx is done the failure is a cancellation, not a network fault.
func TransportError(ctx context.Context, err error) *FetchError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &FetchError{Class: ErrorClassCanceled, Message: "request interrupted", Err: ctxErr}
	}
	return &FetchError{Class: ErrorClassNetwork, Message: "transport failure", Err: err}
}
