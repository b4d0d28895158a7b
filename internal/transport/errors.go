package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// TransportError reports a network-level failure: connect, TLS, timeout, or reset.
// Params: Op names the call; Attempts counts tries made; Cause is the last failure.
// Returns: error value usable with errors.As.
type TransportError struct {
	Op       string
	Attempts int
	Cause    error
}

// Error renders the transport failure.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure after %d attempt(s): %v", e.Op, e.Attempts, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error { return e.Cause }

// RequestRejectedError reports a 4xx response; Body holds the raw remote response.
// Params: Op names the call; Status HTTP status; Body raw response; Attempts tries made.
// Returns: error value usable with errors.As.
type RequestRejectedError struct {
	Op       string
	Status   int
	Body     string
	Attempts int
}

// Error renders the rejection including the raw body.
func (e *RequestRejectedError) Error() string {
	return fmt.Sprintf("%s: request rejected with status %d after %d attempt(s): %s", e.Op, e.Status, e.Attempts, e.Body)
}

// RemoteServerError reports a 5xx response that persisted through the retry budget.
// Params: Op names the call; Status HTTP status; Body raw response; Attempts tries made.
// Returns: error value usable with errors.As.
type RemoteServerError struct {
	Op       string
	Status   int
	Body     string
	Attempts int
}

// Error renders the server failure including the raw body.
func (e *RemoteServerError) Error() string {
	return fmt.Sprintf("%s: remote server error status %d after %d attempt(s): %s", e.Op, e.Status, e.Attempts, e.Body)
}

// Retryable reports whether err is transient: transport failures, 5xx, and 429.
// Params: err classified error.
// Returns: true when another attempt may succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return !errors.Is(transportErr.Cause, context.Canceled)
	}
	var serverErr *RemoteServerError
	if errors.As(err, &serverErr) {
		return true
	}
	var rejected *RequestRejectedError
	if errors.As(err, &rejected) {
		return rejected.Status == http.StatusTooManyRequests
	}
	return false
}

// Attempts extracts the attempt count carried by a transport error.
// Params: err returned by Do.
// Returns: attempt count or 0 for foreign errors.
func Attempts(err error) int {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Attempts
	}
	var serverErr *RemoteServerError
	if errors.As(err, &serverErr) {
		return serverErr.Attempts
	}
	var rejected *RequestRejectedError
	if errors.As(err, &rejected) {
		return rejected.Attempts
	}
	return 0
}

// classify maps a completed response status to a typed error.
// Params: op call name; status HTTP status; body raw response; attempts so far.
// Returns: nil for 2xx, otherwise *RequestRejectedError or *RemoteServerError.
func classify(op string, status int, body []byte, attempts int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500:
		return &RemoteServerError{Op: op, Status: status, Body: string(body), Attempts: attempts}
	default:
		return &RequestRejectedError{Op: op, Status: status, Body: string(body), Attempts: attempts}
	}
}
