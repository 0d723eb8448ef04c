package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

type Config struct {
	ResultTTL time.Duration
	LockWait  time.Duration
	LockLease time.Duration
}

var DefaultConfig = Config{
	ResultTTL: 24 * time.Hour,
	LockWait:  10 * time.Second,
	LockLease: 30 * time.Second,
}

type Outcome string

const (
	Outcome_CacheHit   Outcome = "cache_hit"
	Outcome_LockedHit  Outcome = "locked_hit"
	Outcome_Shared     Outcome = "shared"
	Outcome_Executed   Outcome = "executed"
	Outcome_LockFailed Outcome = "lock_failed"
	Outcome_Error      Outcome = "error"
)

type Observer func(outcome Outcome)

type Coordinator struct {
	store    Store
	locker   Locker
	cfg      Config
	group    singleflight.Group
	observer Observer
}

func NewCoordinator(backend Backend, cfg Config) *Coordinator {
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultConfig.ResultTTL
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = DefaultConfig.LockWait
	}
	if cfg.LockLease <= 0 {
		cfg.LockLease = DefaultConfig.LockLease
	}
	return &Coordinator{
		store:    backend,
		locker:   backend,
		cfg:      cfg,
		observer: func(Outcome) {},
	}
}

func (c *Coordinator) WithObserver(o Observer) *Coordinator {
	if o != nil {
		c.observer = o
	}
	return c
}

type flightResult struct {
	value []byte
	dup   bool
}

// ExecuteRaw runs op at most once per key within the result TTL. The second
// return value is true when the caller received a result produced by an
// earlier or concurrent execution. Failed executions are not cached.
func (c *Coordinator) ExecuteRaw(ctx context.Context, key string, ttl time.Duration, op func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	if key == "" {
		return nil, false, pkgerrors.NewValidationError("idempotency key is required")
	}
	if ttl <= 0 {
		ttl = c.cfg.ResultTTL
	}

	cached, hit, err := c.store.Get(ctx, ResultKey(key))
	if err != nil {
		return nil, false, pkgerrors.NewInternalError("idempotency cache read failed", err)
	}
	if hit {
		c.observer(Outcome_CacheHit)
		return cached, true, nil
	}

	ranHere := false
	v, err, _ := c.group.Do(key, func() (any, error) {
		ranHere = true
		return c.executeLocked(ctx, key, ttl, op)
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(*flightResult)
	if !ranHere {
		c.observer(Outcome_Shared)
		return res.value, true, nil
	}
	return res.value, res.dup, nil
}

func (c *Coordinator) executeLocked(ctx context.Context, key string, ttl time.Duration, op func(ctx context.Context) ([]byte, error)) (*flightResult, error) {
	unlock, err := c.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cached, hit, err := c.store.Get(ctx, ResultKey(key))
	if err != nil {
		return nil, pkgerrors.NewInternalError("idempotency cache read failed", err)
	}
	if hit {
		c.observer(Outcome_LockedHit)
		return &flightResult{value: cached, dup: true}, nil
	}

	value, err := op(ctx)
	if err != nil {
		c.observer(Outcome_Error)
		return nil, err
	}

	setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.store.Set(setCtx, ResultKey(key), value, ttl); err != nil {
		logrus.WithField("idempotencyKey", key).Errorf("IDEMPOTENCY:CACHE:FAILED %v", err)
	}
	c.observer(Outcome_Executed)
	return &flightResult{value: value}, nil
}

// WithLock runs fn while holding the lock for key without caching anything.
// Callers use it to serialize work whose result must be re-derived from
// current state on every call.
func (c *Coordinator) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if key == "" {
		return pkgerrors.NewValidationError("lock key is required")
	}
	unlock, err := c.lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

func (c *Coordinator) lock(ctx context.Context, key string) (func(), error) {
	lockKey := LockKey(key)
	token, ok, err := c.locker.TryLock(ctx, lockKey, c.cfg.LockWait, c.cfg.LockLease)
	if err != nil || !ok {
		c.observer(Outcome_LockFailed)
		return nil, pkgerrors.NewLockAcquisitionError(key, err)
	}
	return func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := c.locker.Unlock(unlockCtx, lockKey, token); err != nil {
			logrus.WithFields(logrus.Fields{
				"idempotencyKey": key,
				"lockExpired":    errors.Is(err, ErrLockNotHeld),
			}).Warnf("IDEMPOTENCY:UNLOCK:FAILED %v", err)
		}
	}, nil
}

// Execute is the typed form of ExecuteRaw. Every caller, including the one
// that ran op, receives the value decoded from its stored JSON form.
func Execute[T any](ctx context.Context, c *Coordinator, key string, ttl time.Duration, op func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T
	raw, dup, err := c.ExecuteRaw(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		res, err := op(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	})
	if err != nil {
		return zero, false, err
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, dup, pkgerrors.NewJSONParsingError(err)
	}
	return out, dup, nil
}
