package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by a PostingStore when no posting has the requested id.
var ErrNotFound = errors.New("posting not found")

// HTTPError carries the status of a non-2xx upstream response so retry logic
// can tell transient failures from permanent ones.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration // zero when the header is absent
	URL        string
	Err        error
}

func (e *HTTPError) Error() string {
	switch {
	case e.URL != "" && e.Err != nil:
		return fmt.Sprintf("HTTP %d from %s: %v", e.StatusCode, e.URL, e.Err)
	case e.URL != "":
		return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
	case e.Err != nil:
		return fmt.Sprintf("HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the status is worth retrying (429 or 5xx).
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
