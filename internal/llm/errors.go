package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorKind classifies a completion failure
type ErrorKind string

// ErrorKind values
const (
	KindAuthorization    ErrorKind = "authorization"
	KindRateLimit        ErrorKind = "rate_limit"
	KindMalformedRequest ErrorKind = "malformed_request"
	KindTransient        ErrorKind = "transient"
	KindUnclassified     ErrorKind = "unclassified"
)

// APIError represents a classified failure from the completion backend
type APIError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("API call failed (%s): %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("API call failed (%s): %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// KindOf returns the classification of err, or KindUnclassified when err
// carries no APIError.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnclassified
}

// Classify wraps a raw provider error in an APIError with its kind resolved.
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return &APIError{Kind: classifyKind(err), Message: message, Cause: err}
}

func classifyKind(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var gaxErr *apierror.APIError
	if errors.As(err, &gaxErr) {
		if code := gaxErr.HTTPCode(); code > 0 {
			return kindFromHTTP(code)
		}
		if st := gaxErr.GRPCStatus(); st != nil {
			return kindFromGRPC(st.Code())
		}
	}

	var restErr *googleapi.Error
	if errors.As(err, &restErr) {
		return kindFromHTTP(restErr.Code)
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return kindFromGRPC(st.Code())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	return KindUnclassified
}

func kindFromHTTP(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuthorization
	case code == http.StatusTooManyRequests:
		return KindRateLimit
	case code == http.StatusBadRequest || code == http.StatusNotFound || code == http.StatusRequestEntityTooLarge:
		return KindMalformedRequest
	case code >= 500:
		return KindTransient
	default:
		return KindUnclassified
	}
}

func kindFromGRPC(code codes.Code) ErrorKind {
	switch code {
	case codes.Unauthenticated, codes.PermissionDenied:
		return KindAuthorization
	case codes.ResourceExhausted:
		return KindRateLimit
	case codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound, codes.OutOfRange:
		return KindMalformedRequest
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
		return KindTransient
	default:
		return KindUnclassified
	}
}
