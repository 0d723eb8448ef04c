package application

import (
	"context"
	"testing"
	"time"

	"github.com/k-code-yt/payment-saga/internal/payment/domain"
	"github.com/k-code-yt/payment-saga/internal/payment/infra/gateway"
	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPurger struct {
	calls int
}

func (p *countingPurger) PurgeExpired(context.Context) (int64, error) {
	p.calls++
	return 3, nil
}

func newTestSweeper(f *fixture, at time.Time) *Sweeper {
	s := NewSweeper(f.repo, f.svc, f.metrics, SweeperConfig{
		Interval:     time.Minute,
		StuckAfter:   10 * time.Minute,
		RetryBackoff: time.Minute,
	})
	s.now = func() time.Time { return at }
	return s
}

func TestSweeperTimesOutStuckPayments(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.CreatePayment(ctx, createCmd("W1", "15.00", gateway.Token_Hang))
	require.ErrorIs(t, err, pkgerrors.ErrGatewayTransient)

	report, err := newTestSweeper(f, time.Now()).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.TimedOut)

	report, err = newTestSweeper(f, time.Now().Add(time.Hour)).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TimedOut)

	p, err := f.repo.FindByIdempotencyKey(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatus_Failed, p.Status)
	assert.Equal(t, domain.ErrorCode_Timeout, p.ErrorCode)
	assert.False(t, p.Retryable)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SweeperActions.WithLabelValues("timed_out")))
}

func TestSweeperRetriesAfterBackoff(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.CreatePayment(ctx, createCmd("W2", "15.00", gateway.Token_Unavailable))
	require.NoError(t, err)
	require.True(t, res.Payment.Retryable)

	report, err := newTestSweeper(f, time.Now().Add(30*time.Second)).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Retried)

	report, err = newTestSweeper(f, time.Now().Add(2*time.Minute)).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)

	p, err := f.repo.FindByID(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.AttemptCount)
	assert.Equal(t, domain.PaymentStatus_Failed, p.Status)

	// second failure waits twice as long
	report, err = newTestSweeper(f, time.Now().Add(90*time.Second)).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Retried)
}

func TestSweeperSkipsManuallyRetriedPayments(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.CreatePayment(ctx, createCmd("W3", "15.00", gateway.Token_Timeout))
	require.NoError(t, err)

	_, err = f.svc.RetryPayment(ctx, RetryPaymentCommand{PaymentID: res.Payment.ID, GatewayToken: gateway.Token_Success})
	require.NoError(t, err)
	calls := f.sim.Calls(gateway.Operation_Charge)

	report, err := newTestSweeper(f, time.Now().Add(time.Hour)).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Retried)
	assert.Equal(t, calls, f.sim.Calls(gateway.Operation_Charge))
}

func TestSweeperPurgesIdempotencyStore(t *testing.T) {
	f := newFixture(t, nil)
	purger := &countingPurger{}

	report, err := newTestSweeper(f, time.Now()).WithPurger(purger).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, purger.calls)
	assert.Equal(t, int64(3), report.Purged)
}
