// Package rendering converts generated text into the byte formats packaged
// in the output archive: a delimited-text table and a paged PDF document.
package rendering

import "fmt"

// RenderError represents a general rendering failure
type RenderError struct {
	Filename string
	Message  string
	Cause    error
}

func (e *RenderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("render error (%s): %s: %v", e.Filename, e.Message, e.Cause)
	}
	return fmt.Sprintf("render error (%s): %s", e.Filename, e.Message)
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}
