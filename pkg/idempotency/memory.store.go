package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

type memLock struct {
	owner     string
	expiresAt time.Time
}

type MemoryStore struct {
	results       map[string]memEntry
	locks         map[string]memLock
	mu            *sync.Mutex
	pollInterval  time.Duration
	cleanUpTicker *time.Ticker
	ctx           context.Context
}

func NewMemoryStore(ctx context.Context) *MemoryStore {
	s := &MemoryStore{
		results:       make(map[string]memEntry),
		locks:         make(map[string]memLock),
		mu:            new(sync.Mutex),
		pollInterval:  10 * time.Millisecond,
		cleanUpTicker: time.NewTicker(time.Minute),
		ctx:           ctx,
	}

	go s.cleanUp()
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.results[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(s.results, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	v := make([]byte, len(value))
	copy(v, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[key] = memEntry{value: v, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) TryLock(ctx context.Context, key string, wait, lease time.Duration) (string, bool, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		if s.tryAcquire(key, token, lease) {
			return token, true, nil
		}
		if !waitTick(ctx, s.pollInterval, deadline) {
			if err := ctx.Err(); err != nil {
				return "", false, err
			}
			return "", false, nil
		}
	}
}

func (s *MemoryStore) tryAcquire(key, token string, lease time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if l, held := s.locks[key]; held && now.Before(l.expiresAt) {
		return false
	}
	s.locks[key] = memLock{owner: token, expiresAt: now.Add(lease)}
	return true
}

func (s *MemoryStore) Unlock(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, held := s.locks[key]
	if !held || l.owner != token {
		return ErrLockNotHeld
	}
	delete(s.locks, key)
	return nil
}

func (s *MemoryStore) cleanUp() {
	defer s.cleanUpTicker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.cleanUpTicker.C:
			s.evictExpired(time.Now())
		}
	}
}

func (s *MemoryStore) evictExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, e := range s.results {
		if now.After(e.expiresAt) {
			delete(s.results, k)
		}
	}
	for k, l := range s.locks {
		if now.After(l.expiresAt) {
			delete(s.locks, k)
		}
	}
}
