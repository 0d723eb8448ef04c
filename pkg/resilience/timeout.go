package resilience

import (
	"context"
	"time"
)

type result[T any] struct {
	val T
	err error
}

// WithTimeout bounds fn by d even when fn ignores its context.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	resCH := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		resCH <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-resCH:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
