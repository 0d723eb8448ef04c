package idempotency

import (
	"context"
	"errors"
	"time"
)

const (
	ResultKeyPrefix = "idempotency:result:"
	LockKeyPrefix   = "idempotency:lock:"
)

var ErrLockNotHeld = errors.New("lock is not held by this owner")

// Store is a key/value cache with per-entry expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Locker grants mutual exclusion on a key for at most lease. TryLock blocks
// up to wait and reports ok=false when the lock stayed taken.
type Locker interface {
	TryLock(ctx context.Context, key string, wait, lease time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

type Backend interface {
	Store
	Locker
}

func ResultKey(key string) string {
	return ResultKeyPrefix + key
}

func LockKey(key string) string {
	return LockKeyPrefix + key
}

// waitTick sleeps for d unless ctx or the deadline ends first.
func waitTick(ctx context.Context, d time.Duration, deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}
	if d > remaining {
		d = remaining
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
