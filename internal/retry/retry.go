// ABOUTME: Bounded retry helper returning the first success or an ExhaustedError
// ABOUTME: Used by transcription and any caller that needs a fixed attempt budget

package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy defines how many times an operation is attempted and the pause between attempts.
// A zero Delay retries immediately.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Do runs fn until it succeeds or the attempt budget is spent. The attempt number
// passed to fn starts at 1. Context cancellation stops retrying and returns ctx.Err().
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if fn == nil {
		return zero, errors.New("retry: nil func")
	}
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		last = err

		if attempt < attempts && p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return zero, &ExhaustedError{Attempts: attempts, Last: last}
}
