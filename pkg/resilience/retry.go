package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
}

var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	InitialInterval: 500 * time.Millisecond,
	Multiplier:      2,
}

func (c RetryConfig) backOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialInterval
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	retries := c.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Retry calls fn until it succeeds, returns an error that isTransient
// rejects, or the attempts run out. The last error is returned.
func Retry[T any](ctx context.Context, cfg RetryConfig, isTransient func(error) bool, fn func(ctx context.Context) (T, error)) (T, error) {
	var res T
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		res, err = fn(ctx)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		logrus.WithFields(logrus.Fields{
			"attempt": attempt,
			"max":     cfg.MaxAttempts,
		}).Warnf("RETRY:TRANSIENT %v", err)
		return err
	}, cfg.backOff(ctx))
	return res, err
}
