package goble

import (
	"context"
	"fmt"
)

// awaitValue runs a blocking go-ble call on its own goroutine and waits for it
// or for ctx, whichever comes first. go-ble calls take no context, so a call
// that outlives ctx keeps running; late, if set, receives its successful
// result so it can be released.
func awaitValue[T any](ctx context.Context, op string, fn func() (T, error), late func(T)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)

	go func() {
		v, err := fn()
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			var zero T
			return zero, NormalizeError(r.err)
		}
		return r.v, nil
	case <-ctx.Done():
		if late != nil {
			go func() {
				if r := <-done; r.err == nil {
					late(r.v)
				}
			}()
		}
		var zero T
		return zero, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// await is awaitValue for calls that only return an error.
func await(ctx context.Context, op string, fn func() error) error {
	_, err := awaitValue(ctx, op, func() (struct{}, error) {
		return struct{}{}, fn()
	}, nil)
	return err
}
