package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Limit struct {
	Events int
	Per    time.Duration
}

// Limiter holds one token bucket per operation name. Operations without a
// configured limit are always allowed.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       *sync.RWMutex
}

func NewLimiter(limits map[string]Limit) *Limiter {
	l := &Limiter{
		limiters: make(map[string]*rate.Limiter),
		mu:       new(sync.RWMutex),
	}
	for op, lim := range limits {
		l.Set(op, lim)
	}
	return l
}

func (l *Limiter) Set(op string, lim Limit) {
	if lim.Events <= 0 || lim.Per <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters[op] = rate.NewLimiter(rate.Every(lim.Per/time.Duration(lim.Events)), lim.Events)
}

func (l *Limiter) Allow(op string) bool {
	l.mu.RLock()
	rl, ok := l.limiters[op]
	l.mu.RUnlock()
	if !ok {
		return true
	}
	return rl.Allow()
}
