package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/bom-generator/internal/llm"
	"github.com/jonathan/bom-generator/internal/pipeline"
	"github.com/jonathan/bom-generator/internal/types"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrNotFound indicates a missing resource
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrStorageDisabled indicates an endpoint that needs a database the server was started without
var ErrStorageDisabled = errors.New("run history requires a database")

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Backend string `json:"backend_error,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

// NewErrorBody describes err for clients.
func NewErrorBody(err error) ErrorBody {
	body := ErrorBody{Error: err.Error()}
	if f, ok := pipeline.Failure(err); ok {
		body.Kind = string(f.Kind)
		body.Stage = f.Stage
		if f.Kind == pipeline.KindBackendFailure {
			body.Backend = string(llm.KindOf(err))
		}
	}
	return body
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	if f, ok := pipeline.Failure(err); ok {
		switch f.Kind {
		case pipeline.KindInvalidRequest:
			return http.StatusBadRequest
		case pipeline.KindBackendFailure:
			if llm.KindOf(err) == llm.KindRateLimit {
				return http.StatusTooManyRequests
			}
			return http.StatusBadGateway
		case pipeline.KindMalformedBOM:
			return http.StatusBadGateway
		case pipeline.KindNoPartsResolved:
			return http.StatusUnprocessableEntity
		case pipeline.KindTimeout:
			return http.StatusGatewayTimeout
		case pipeline.KindCanceled:
			return http.StatusServiceUnavailable
		default:
			return http.StatusInternalServerError
		}
	}

	var validationErr *types.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest
	}

	switch err.(type) {
	case *ErrValidation:
		return http.StatusBadRequest
	case *ErrNotFound:
		return http.StatusNotFound
	}
	if errors.Is(err, ErrStorageDisabled) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
