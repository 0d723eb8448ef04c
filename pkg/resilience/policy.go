package resilience

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
)

// Policy composes rate limit, retry, circuit breaker and per-attempt timeout,
// applied in that order from the outside in.
type Policy struct {
	Limiter     *Limiter
	Breaker     *Breaker
	Retry       RetryConfig
	Timeout     time.Duration
	IsTransient func(error) bool
	OnRejected  func(op string)
}

// IsTransientError retries only gateway-transient failures. Deadlines,
// cancellations, open circuits and declines are returned as they are.
func IsTransientError(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodeGatewayTransient)
}

// IsBreakerFailure counts transient failures and deadlines against the
// breaker. A caller cancelling its own context is not a provider failure.
func IsBreakerFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return IsTransientError(err) || errors.Is(err, context.DeadlineExceeded)
}

func Do[T any](ctx context.Context, p *Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.Limiter != nil && !p.Limiter.Allow(op) {
		if p.OnRejected != nil {
			p.OnRejected(op)
		}
		return zero, pkgerrors.NewRateLimitExceededError(op)
	}

	isTransient := p.IsTransient
	if isTransient == nil {
		isTransient = IsTransientError
	}

	attempt := func(ctx context.Context) (T, error) {
		call := func(ctx context.Context) (any, error) {
			v, err := WithTimeout(ctx, p.Timeout, fn)
			return v, err
		}
		if p.Breaker == nil {
			v, err := call(ctx)
			return castResult[T](v), err
		}
		v, err := p.Breaker.execute(ctx, call)
		return castResult[T](v), err
	}

	if p.Retry.MaxAttempts <= 1 {
		return attempt(ctx)
	}
	return Retry(ctx, p.Retry, isTransient, attempt)
}

func castResult[T any](v any) T {
	if v == nil {
		var zero T
		return zero
	}
	return v.(T)
}
