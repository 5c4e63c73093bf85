package centralizer

import (
	"errors"
	"fmt"
)

// ErrUnavailable means the circuit breaker refused the call and no request was sent.
var ErrUnavailable = errors.New("centralizer unavailable")

// TransportError means no usable answer came back: network failure, timeout,
// retryable status after the retry budget, or an open circuit breaker.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("centralizer %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("centralizer %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err is a call that never reached the centralizer.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

type retryableStatusError struct {
	status int
}

func (e *retryableStatusError) Error() string {
	return fmt.Sprintf("retryable status %d", e.status)
}
