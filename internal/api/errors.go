package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies errors crossing the controller/service boundary.
type Kind string

const (
	// KindValidation is a malformed local input, caught before any
	// remote call is made.
	KindValidation Kind = "validation"
	// KindSubmission is a remote rejection of a new job (collision,
	// quota, bad storage URI). Never retried automatically.
	KindSubmission Kind = "submission"
	// KindNotFound means the job name is unknown to the service.
	KindNotFound Kind = "not_found"
	// KindInvalidState means the operation is not valid for the job's
	// current status (e.g. stopping a finished job).
	KindInvalidState Kind = "invalid_state"
	// KindTransient is a network or service availability failure. Safe
	// to retry with backoff; all other kinds are not.
	KindTransient Kind = "transient"
)

// Error is the structured error exchanged between the service and the
// controller. The service serializes it as the JSON body of non-2xx
// responses so the client can reconstruct the original kind.
type Error struct {
	Kind    Kind   `json:"kind"`
	Job     string `json:"job,omitempty"`
	Op      string `json:"op,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Job != "" && e.Op != "" {
		return fmt.Sprintf("%s %s: %s: %s", e.Op, e.Job, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf builds an *Error with a formatted message.
func Errorf(kind Kind, op, job, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Job: job, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, or KindTransient when err is not
// an *Error (anything unclassified is treated as retryable plumbing).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// HTTPStatus maps an error kind to the status code the service emits.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindSubmission:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusPreconditionFailed
	default:
		return http.StatusServiceUnavailable
	}
}

// KindFromHTTPStatus is the inverse mapping, used by the client when
// the response body does not carry a structured Error.
func KindFromHTTPStatus(code int) Kind {
	switch code {
	case http.StatusBadRequest:
		return KindValidation
	case http.StatusConflict:
		return KindSubmission
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusPreconditionFailed:
		return KindInvalidState
	default:
		return KindTransient
	}
}
