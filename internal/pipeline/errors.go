package pipeline

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a run did not produce an archive.
type FailureKind string

const (
	KindInvalidRequest  FailureKind = "invalid_request"
	KindBackendFailure  FailureKind = "backend_failure"
	KindMalformedBOM    FailureKind = "malformed_bom_response"
	KindNoPartsResolved FailureKind = "no_parts_resolved"
	KindRenderFailure   FailureKind = "render_failure"
	KindArchiveFailure  FailureKind = "archive_failure"
	KindTimeout         FailureKind = "timeout"
	KindCanceled        FailureKind = "canceled"
)

var (
	// ErrMalformedBOM matches failures where the BOM response lacked its parts section.
	ErrMalformedBOM = errors.New("malformed BOM response")
	// ErrNoPartsResolved matches failures where no part could be extracted from the BOM.
	ErrNoPartsResolved = errors.New("no parts resolved")
)

// RunError is the terminal failure of a run.
type RunError struct {
	Kind    FailureKind
	Stage   string
	Message string
	Cause   error
}

func (e *RunError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s failed (%s): %s: %v", e.Stage, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s failed (%s): %s", e.Stage, e.Kind, e.Message)
}

func (e *RunError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel for e's kind.
func (e *RunError) Is(target error) bool {
	switch target {
	case ErrMalformedBOM:
		return e.Kind == KindMalformedBOM
	case ErrNoPartsResolved:
		return e.Kind == KindNoPartsResolved
	}
	return false
}

// Failure extracts the RunError from err, if any.
func Failure(err error) (*RunError, bool) {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr, true
	}
	return nil, false
}
