package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is returned by every source that fails to produce data.
type Error struct {
	Source string
	Op     string
	// Status is the upstream HTTP status, zero when no response was received
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d): %v", e.Source, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.Source, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether repeating the request may succeed. Client errors
// other than 408 and 429 are not worth repeating.
func (e *Error) Temporary() bool {
	switch {
	case e.Status == 0:
		return true
	case e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 400 && e.Status < 500:
		return false
	default:
		return true
	}
}

// IsTemporary reports whether err is a retryable fetch failure. Errors that
// are not *Error are treated as temporary.
func IsTemporary(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Temporary()
	}
	return err != nil
}
