package gateway

import (
	"context"
	"time"

	"github.com/k-code-yt/payment-saga/internal/payment/domain"
	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
	"github.com/k-code-yt/payment-saga/pkg/metrics"
	"github.com/k-code-yt/payment-saga/pkg/resilience"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

type ResilientConfig struct {
	Breaker resilience.BreakerConfig
	Retry   resilience.RetryConfig
	Timeout time.Duration
	Limits  map[string]resilience.Limit
}

func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Breaker: resilience.DefaultBreakerConfig,
		Retry:   resilience.DefaultRetryConfig,
		Timeout: 10 * time.Second,
		Limits: map[string]resilience.Limit{
			Operation_Charge: {Events: 10, Per: time.Minute},
			Operation_Refund: {Events: 5, Per: time.Minute},
		},
	}
}

// ResilientGateway shares one breaker across all operations of a provider.
// Charge and refund are admitted up front through Admit so rejections happen
// before the payment is touched; status checks are limited inline.
type ResilientGateway struct {
	inner    domain.Gateway
	breaker  *resilience.Breaker
	limiter  *resilience.Limiter
	calls    *resilience.Policy
	statuses *resilience.Policy
	metrics  *metrics.Metrics
}

func NewResilientGateway(inner domain.Gateway, cfg ResilientConfig, m *metrics.Metrics) *ResilientGateway {
	g := &ResilientGateway{
		inner:   inner,
		limiter: resilience.NewLimiter(cfg.Limits),
		metrics: m,
	}
	g.breaker = resilience.NewBreaker(cfg.Breaker, resilience.IsBreakerFailure, func(name string, _, to gobreaker.State) {
		m.BreakerState.WithLabelValues(name).Set(float64(to))
	})
	m.BreakerState.WithLabelValues(cfg.Breaker.Name).Set(float64(gobreaker.StateClosed))

	g.calls = &resilience.Policy{
		Breaker: g.breaker,
		Retry:   cfg.Retry,
		Timeout: cfg.Timeout,
	}
	g.statuses = &resilience.Policy{
		Limiter:    g.limiter,
		Breaker:    g.breaker,
		Retry:      cfg.Retry,
		Timeout:    cfg.Timeout,
		OnRejected: g.rejected,
	}
	return g
}

// Admit fails fast when the breaker is open or op is over its rate limit.
// A successful Admit consumes one token for op.
func (g *ResilientGateway) Admit(op string) error {
	if g.breaker.State() == gobreaker.StateOpen {
		return pkgerrors.NewCircuitOpenError(gobreaker.ErrOpenState)
	}
	if !g.limiter.Allow(op) {
		g.rejected(op)
		return pkgerrors.NewRateLimitExceededError(op)
	}
	return nil
}

func (g *ResilientGateway) BreakerState() gobreaker.State {
	return g.breaker.State()
}

func (g *ResilientGateway) rejected(op string) {
	g.metrics.RateLimited.WithLabelValues(op).Inc()
	logrus.WithField("operation", op).Warn("GATEWAY:RATE_LIMITED")
}

func (g *ResilientGateway) Charge(ctx context.Context, req *domain.ChargeRequest) (*domain.GatewayResponse, error) {
	return g.do(ctx, g.calls, Operation_Charge, func(ctx context.Context) (*domain.GatewayResponse, error) {
		return g.inner.Charge(ctx, req)
	})
}

func (g *ResilientGateway) Refund(ctx context.Context, req *domain.RefundRequest) (*domain.GatewayResponse, error) {
	return g.do(ctx, g.calls, Operation_Refund, func(ctx context.Context) (*domain.GatewayResponse, error) {
		return g.inner.Refund(ctx, req)
	})
}

func (g *ResilientGateway) GetStatus(ctx context.Context, txnID string) (*domain.GatewayResponse, error) {
	return g.do(ctx, g.statuses, Operation_Status, func(ctx context.Context) (*domain.GatewayResponse, error) {
		return g.inner.GetStatus(ctx, txnID)
	})
}

func (g *ResilientGateway) do(ctx context.Context, p *resilience.Policy, op string, fn func(ctx context.Context) (*domain.GatewayResponse, error)) (*domain.GatewayResponse, error) {
	start := time.Now()
	resp, err := resilience.Do(ctx, p, op, fn)
	g.metrics.GatewayDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	var result string
	if err != nil {
		result = string(pkgerrors.GetErrorCode(err))
		logrus.WithFields(logrus.Fields{
			"operation": op,
			"elapsed":   time.Since(start).String(),
		}).Warnf("GATEWAY:CALL:FAILED %v", err)
	} else {
		result = string(resp.Status)
	}
	g.metrics.GatewayCalls.WithLabelValues(op, result).Inc()
	return resp, err
}
