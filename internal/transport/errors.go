package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoEndpoint is returned when no row-store endpoint is configured.
var ErrNoEndpoint = errors.New("no row-store endpoint configured")

// ErrMalformedResponse is returned when the response body is not the
// expected JSON envelope.
var ErrMalformedResponse = errors.New("malformed row-store response")

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Action string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected HTTP status %d", e.Action, e.Code)
}

// BackendError is a response with success=false.
type BackendError struct {
	Action string
	Reason string
}

func (e *BackendError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "Unknown error"
	}
	return fmt.Sprintf("%s: backend reported failure: %s", e.Action, reason)
}

// IsRecoverable reports whether err is a transport or backend failure that
// the next sync cycle may succeed at. A missing endpoint and caller
// cancellation are not recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoEndpoint) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
