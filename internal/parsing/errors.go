package parsing

import (
	"errors"
	"fmt"
)

// ErrMissingSectionMarker is returned when a BOM response lacks the JSON section label.
var ErrMissingSectionMarker = errors.New("section marker not found")

// ParseError represents an error parsing a backend response
type ParseError struct {
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}
