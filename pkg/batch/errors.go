package batch

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConsistency matches every *ConsistencyError via errors.Is.
var ErrConsistency = errors.New("response does not match batch")

// ConsistencyError reports a response whose item ids do not line up with the
// ids requested for the batch.
type ConsistencyError struct {
	Batch int

	// Missing ids were requested but not returned.
	Missing []string

	// Unexpected ids were returned but not requested.
	Unexpected []string

	// Duplicate ids were returned more than once.
	Duplicate []string
}

// Error implements the error interface.
func (e *ConsistencyError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing ids "+strings.Join(e.Missing, ","))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "unexpected ids "+strings.Join(e.Unexpected, ","))
	}
	if len(e.Duplicate) > 0 {
		parts = append(parts, "duplicate ids "+strings.Join(e.Duplicate, ","))
	}
	return fmt.Sprintf("batch %d: %s", e.Batch, strings.Join(parts, "; "))
}

// Is lets callers test for the fault class with errors.Is(err, ErrConsistency).
func (e *ConsistencyError) Is(target error) bool {
	return target == ErrConsistency
}

func (e *ConsistencyError) empty() bool {
	return len(e.Missing) == 0 && len(e.Unexpected) == 0 && len(e.Duplicate) == 0
}
