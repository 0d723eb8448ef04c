package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

type BreakerConfig struct {
	Name              string
	WindowSize        int
	FailureRatio      float64
	SlowCallRatio     float64
	SlowCallThreshold time.Duration
	OpenTimeout       time.Duration
	HalfOpenMaxCalls  uint32
}

var DefaultBreakerConfig = BreakerConfig{
	Name:              "gateway",
	WindowSize:        10,
	FailureRatio:      0.5,
	SlowCallRatio:     0.5,
	SlowCallThreshold: 5 * time.Second,
	OpenTimeout:       30 * time.Second,
	HalfOpenMaxCalls:  3,
}

type callOutcome int8

const (
	outcome_Ok callOutcome = iota
	outcome_Failed
	outcome_Slow
)

// window keeps the outcomes of the last N calls seen in the closed state.
type window struct {
	mu       sync.Mutex
	outcomes []callOutcome
	next     int
	filled   int
}

func newWindow(size int) *window {
	return &window{outcomes: make([]callOutcome, size)}
}

func (w *window) add(o callOutcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outcomes[w.next] = o
	w.next = (w.next + 1) % len(w.outcomes)
	if w.filled < len(w.outcomes) {
		w.filled++
	}
}

func (w *window) ratios() (failed, slow float64, full bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled < len(w.outcomes) {
		return 0, 0, false
	}
	var f, s int
	for _, o := range w.outcomes {
		switch o {
		case outcome_Failed:
			f++
		case outcome_Slow:
			s++
		}
	}
	n := float64(len(w.outcomes))
	return float64(f) / n, float64(s) / n, true
}

func (w *window) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next = 0
	w.filled = 0
}

var errSlowCall = errors.New("call exceeded slow threshold")

type slowCallError struct {
	res any
	err error
}

func (e *slowCallError) Error() string { return errSlowCall.Error() }
func (e *slowCallError) Unwrap() error { return errSlowCall }

// Breaker wraps gobreaker with a count-based window over the last calls.
// Slow calls that succeeded still return their result to the caller.
type Breaker struct {
	cb            *gobreaker.CircuitBreaker
	cfg           BreakerConfig
	win           *window
	isFailure     func(error) bool
	onStateChange func(name string, from, to gobreaker.State)
}

func NewBreaker(cfg BreakerConfig, isFailure func(error) bool, onStateChange func(name string, from, to gobreaker.State)) *Breaker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultBreakerConfig.WindowSize
	}
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}
	b := &Breaker{
		cfg:           cfg,
		win:           newWindow(cfg.WindowSize),
		isFailure:     isFailure,
		onStateChange: onStateChange,
	}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(gobreaker.Counts) bool {
			failed, slow, full := b.win.ratios()
			return full && (failed >= cfg.FailureRatio || slow >= cfg.SlowCallRatio)
		},
		IsSuccessful: func(err error) bool {
			if errors.Is(err, errSlowCall) {
				return false
			}
			return !b.isFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.win.reset()
			logrus.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("BREAKER:STATE")
			if b.onStateChange != nil {
				b.onStateChange(name, from, to)
			}
		},
	})
	return b
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) execute(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	closed := b.cb.State() == gobreaker.StateClosed
	res, err := b.cb.Execute(func() (any, error) {
		start := time.Now()
		res, err := fn(ctx)
		outcome := outcome_Ok
		switch {
		case err != nil && b.isFailure(err):
			outcome = outcome_Failed
		case b.cfg.SlowCallThreshold > 0 && time.Since(start) > b.cfg.SlowCallThreshold:
			outcome = outcome_Slow
		}
		if closed {
			b.win.add(outcome)
		}
		if outcome == outcome_Slow {
			return nil, &slowCallError{res: res, err: err}
		}
		return res, err
	})

	var slow *slowCallError
	if errors.As(err, &slow) {
		return slow.res, slow.err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, pkgerrors.NewCircuitOpenError(err)
	}
	return res, err
}
