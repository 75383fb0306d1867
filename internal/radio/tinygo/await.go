package tinygoble

import (
	"context"
	"fmt"
)

// awaitValue runs a blocking tinygo call and waits for it or ctx.
func awaitValue[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
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
			return r.v, fmt.Errorf("%s: %w", op, r.err)
		}
		return r.v, nil
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

func await(ctx context.Context, op string, fn func() error) error {
	_, err := awaitValue(ctx, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
