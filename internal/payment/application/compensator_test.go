package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/k-code-yt/payment-saga/internal/payment/domain"
	"github.com/k-code-yt/payment-saga/internal/payment/infra/gateway"
	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func orderEvent(t domain.OrderEventType, orderID string) *domain.OrderEvent {
	return &domain.OrderEvent{
		EventID:    "evt-" + orderID,
		EventType:  t,
		OrderID:    orderID,
		Reason:     "customer cancelled",
		OccurredAt: time.Now().UTC(),
	}
}

func TestCompensatorRefundsOnceOnDoubleDelivery(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	comp := NewCompensator(f.svc)

	res, err := f.svc.CreatePayment(ctx, createCmd("S1", "42.00", gateway.Token_Success))
	require.NoError(t, err)

	evt := orderEvent(domain.OrderEventType_Cancelled, res.Payment.OrderID)
	require.NoError(t, comp.HandleOrderEvent(ctx, evt))
	require.NoError(t, comp.HandleOrderEvent(ctx, evt))

	p, err := f.repo.FindByID(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatus_Refunded, p.Status)
	assert.Equal(t, "42.00", p.RefundAmount.Decimal.StringFixed(2))
	assert.Contains(t, p.RefundReason, "customer cancelled")
	assert.Equal(t, 1, f.sim.Calls(gateway.Operation_Refund))

	refunded := 0
	for _, e := range f.repo.Outbox() {
		if e.EventType == domain.EventType_PaymentRefunded {
			refunded++
		}
	}
	assert.Equal(t, 1, refunded)
}

func TestCompensatorNoOps(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	comp := NewCompensator(f.svc)

	require.NoError(t, comp.HandleOrderEvent(ctx, orderEvent(domain.OrderEventType_Failed, "no-payments")))

	declined, err := f.svc.CreatePayment(ctx, createCmd("S2", "10.00", gateway.Token_Decline))
	require.NoError(t, err)
	require.NoError(t, comp.HandleOrderEvent(ctx, orderEvent(domain.OrderEventType_Cancelled, declined.Payment.OrderID)))

	require.NoError(t, comp.HandleOrderEvent(ctx, orderEvent(domain.OrderEventType_Created, "o-created")))
	require.NoError(t, comp.HandleOrderEvent(ctx, orderEvent("ORDER_SHIPPED", "o-shipped")))

	assert.Zero(t, f.sim.Calls(gateway.Operation_Refund))
}

func TestCompensatorAlreadyRefunded(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	comp := NewCompensator(f.svc)

	res, err := f.svc.CreatePayment(ctx, createCmd("S3", "10.00", gateway.Token_Success))
	require.NoError(t, err)
	_, err = f.svc.RefundPayment(ctx, RefundPaymentCommand{PaymentID: res.Payment.ID})
	require.NoError(t, err)

	require.NoError(t, comp.HandleOrderEvent(ctx, orderEvent(domain.OrderEventType_Cancelled, res.Payment.OrderID)))
	assert.Equal(t, 1, f.sim.Calls(gateway.Operation_Refund))
}

func TestCompensatorDefersWhileProcessing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	comp := NewCompensator(f.svc)

	res, err := f.svc.CreatePayment(ctx, createCmd("S4", "10.00", gateway.Token_3DS))
	require.NoError(t, err)
	evt := orderEvent(domain.OrderEventType_Cancelled, res.Payment.OrderID)

	err = comp.HandleOrderEvent(ctx, evt)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsRetryable(err), "%v", err)
	assert.Equal(t, pkgerrors.CodeRefundFailed, pkgerrors.GetErrorCode(err))
	assert.Zero(t, f.sim.Calls(gateway.Operation_Refund))

	_, err = f.svc.ResolvePending(ctx, res.Payment.ID)
	require.NoError(t, err)

	require.NoError(t, comp.HandleOrderEvent(ctx, evt))
	p, err := f.repo.FindByID(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatus_Refunded, p.Status)
	assert.Equal(t, 1, f.sim.Calls(gateway.Operation_Refund))
}

func TestCompensatorAfterManualRefundIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	comp := NewCompensator(f.svc)

	res, err := f.svc.CreatePayment(ctx, createCmd("S5", "10.00", gateway.Token_Success))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var manualErr, sagaErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, manualErr = f.svc.RefundPayment(ctx, RefundPaymentCommand{PaymentID: res.Payment.ID, IdempotencyKey: "manual"})
	}()
	go func() {
		defer wg.Done()
		sagaErr = comp.HandleOrderEvent(ctx, orderEvent(domain.OrderEventType_Cancelled, res.Payment.OrderID))
	}()
	wg.Wait()

	require.NoError(t, sagaErr)
	if manualErr != nil {
		assert.ErrorIs(t, manualErr, pkgerrors.ErrInvalidStateTransition)
	}
	assert.Equal(t, 1, f.sim.Calls(gateway.Operation_Refund))
}

type mockRefunder struct {
	mock.Mock
}

func (m *mockRefunder) RefundForOrder(ctx context.Context, orderID, reason string) (*OrderRefundResult, error) {
	args := m.Called(ctx, orderID, reason)
	res, _ := args.Get(0).(*OrderRefundResult)
	return res, args.Error(1)
}

func TestCompensatorPropagatesFailures(t *testing.T) {
	refunder := new(mockRefunder)
	boom := errors.New("gateway down")
	refunder.On("RefundForOrder", mock.Anything, "o-1", "order ORDER_FAILED: customer cancelled").Return(nil, boom)

	err := NewCompensator(refunder).HandleOrderEvent(context.Background(), orderEvent(domain.OrderEventType_Failed, "o-1"))
	assert.ErrorIs(t, err, boom)
	refunder.AssertExpectations(t)
}
