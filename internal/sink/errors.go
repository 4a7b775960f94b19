package sink

import (
	"errors"
	"fmt"
	"net/http"
)

// RejectedError is a definitive refusal from the sink (4xx): malformed
// payload, constraint violation, unknown table or column. Retrying the
// same request would fail the same way.
type RejectedError struct {
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("sink rejected request (status %d): %s", e.Status, e.Body)
	}
	return fmt.Sprintf("sink rejected request (status %d)", e.Status)
}

// UnavailableError is a transient sink failure: 5xx, rate limiting, or a
// transport error. The request may succeed if retried.
type UnavailableError struct {
	Status int
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sink unavailable: %v", e.Err)
	}
	return fmt.Sprintf("sink unavailable (status %d)", e.Status)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsRejected reports whether err is a definitive sink refusal.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// IsUnavailable reports whether err is a transient sink failure.
func IsUnavailable(err error) bool {
	var unavailable *UnavailableError
	return errors.As(err, &unavailable)
}

// classifyStatus maps an HTTP status to the sink error taxonomy.
// 408 and 429 are transient despite being 4xx.
func classifyStatus(status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return &UnavailableError{Status: status}
	default:
		return &RejectedError{Status: status, Body: body}
	}
}
