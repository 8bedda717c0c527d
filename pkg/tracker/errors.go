package tracker

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrPermissionDenied wraps every 403 from the target so callers can
	// distinguish missing permissions from other client errors.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotFound wraps 404s on single-resource endpoints.
	ErrNotFound = errors.New("not found")
)

// APIError is an HTTP error status from the target, kept with enough
// context to diagnose the failing call.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsRetryable reports whether an HTTP status is worth retrying. 4xx are
// definitive answers from the server; 5xx and 429 are transient.
func IsRetryable(status int) bool {
	return status >= 500 || status == 429
}
