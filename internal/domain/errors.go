package domain

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned when an operation requires a valid
// credential and none is held.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrActivityNotFound is returned when an activity cannot be located.
var ErrActivityNotFound = errors.New("activity not found")

// ErrChallengeNotFound is returned when a challenge cannot be located.
var ErrChallengeNotFound = errors.New("challenge not found")

// TransportError wraps a network-level failure talking to the remote API.
// Transport errors are retryable: the caller may repeat the operation later
// without losing state.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError is a non-2xx response from the remote API. 4xx responses are
// terminal for the attempted operation.
type UpstreamError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream rejected with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Rejected reports whether the upstream answered with a 4xx, i.e. the request
// itself was refused rather than the transport failing.
func (e *UpstreamError) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsRetryable reports whether the error is transient and the operation may be
// repeated without re-authorizing.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode >= 500
	}
	return false
}

// IsUpstreamRejected reports whether the remote API refused the request with a
// 4xx status.
func IsUpstreamRejected(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Rejected()
}
