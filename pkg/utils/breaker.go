package utils

import (
	"errors"
	"fmt"

	"github.com/sony/gobreaker"
)

// ErrBreakerRejected marks a call the breaker refused without running it.
var ErrBreakerRejected = errors.New("rejected by circuit breaker")

func ExecuteWithBreaker[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return *new(T), fmt.Errorf("%w: %w", ErrBreakerRejected, err)
		}
		return *new(T), err
	}

	return res.(T), nil
}

// BreakerOpen reports whether cb refuses every call right now.
func BreakerOpen(cb *gobreaker.CircuitBreaker) bool {
	return cb.State() == gobreaker.StateOpen
}
