package thing

import (
	"errors"
	"fmt"
)

var (
	// ErrParse matches every *ParseError via errors.Is.
	ErrParse = errors.New("malformed thing response")

	// ErrMissingElement is wrapped when a required element or attribute is absent.
	ErrMissingElement = errors.New("missing element")
)

// ParseError reports a response that does not have the structure the
// extractor depends on. It is never recovered from.
type ParseError struct {
	ItemID  string
	Element string
	Err     error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	switch {
	case e.ItemID != "" && e.Element != "":
		return fmt.Sprintf("parse item %s: <%s>: %v", e.ItemID, e.Element, e.Err)
	case e.Element != "":
		return fmt.Sprintf("parse response: <%s>: %v", e.Element, e.Err)
	default:
		return fmt.Sprintf("parse response: %v", e.Err)
	}
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is lets callers test for the parse fault class with errors.Is(err, ErrParse).
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func missing(itemID, element string) *ParseError {
	return &ParseError{ItemID: itemID, Element: element, Err: ErrMissingElement}
}
