package domain

import (
	"testing"

	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPayment(t *testing.T, amount string) *Payment {
	t.Helper()
	p, err := NewPayment(NewPaymentParams{
		OrderID:        "order-1",
		CustomerID:     "cust-1",
		IdempotencyKey: "key-1",
		Amount:         decimal.RequireFromString(amount),
		Currency:       "usd",
	})
	require.NoError(t, err)
	return p
}

func TestNewPayment(t *testing.T) {
	p := newTestPayment(t, "36.74")

	assert.Equal(t, PaymentStatus_Created, p.Status)
	assert.Equal(t, "USD", p.Currency)
	assert.NotEmpty(t, p.ID)
	assert.NotEmpty(t, p.CorrelationID)
	assert.Equal(t, 0, p.AttemptCount)

	events := p.PullEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventType_PaymentCreated, events[0].EventType)
	assert.Empty(t, p.PullEvents())
}

func TestNewPaymentValidation(t *testing.T) {
	base := NewPaymentParams{
		OrderID:        "o",
		CustomerID:     "c",
		IdempotencyKey: "k",
		Amount:         decimal.RequireFromString("10.00"),
		Currency:       "EUR",
	}
	cases := map[string]func(p *NewPaymentParams){
		"zero amount":     func(p *NewPaymentParams) { p.Amount = decimal.Zero },
		"negative amount": func(p *NewPaymentParams) { p.Amount = decimal.RequireFromString("-1") },
		"three decimals":  func(p *NewPaymentParams) { p.Amount = decimal.RequireFromString("1.001") },
		"bad currency":    func(p *NewPaymentParams) { p.Currency = "US" },
		"digit currency":  func(p *NewPaymentParams) { p.Currency = "U1D" },
		"missing order":   func(p *NewPaymentParams) { p.OrderID = " " },
		"missing key":     func(p *NewPaymentParams) { p.IdempotencyKey = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			params := base
			mutate(&params)
			_, err := NewPayment(params)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "%v", err)
		})
	}
}

func TestValidateTokenRejectsPAN(t *testing.T) {
	assert.NoError(t, ValidateToken("tok_success"))
	assert.Error(t, ValidateToken(""))
	assert.Error(t, ValidateToken("4242424242424242"))
	assert.Error(t, ValidateToken("4242 4242 4242 4242"))
}

func TestSuccessPath(t *testing.T) {
	p := newTestPayment(t, "36.74")
	require.NoError(t, p.Initiate("card", "tok_success"))
	assert.Equal(t, PaymentStatus_Processing, p.Status)
	assert.Equal(t, 1, p.AttemptCount)
	assert.NotNil(t, p.ProcessedAt)

	require.NoError(t, p.MarkSuccess("txn_1", "00", "4242", "VISA"))
	assert.Equal(t, PaymentStatus_Success, p.Status)
	assert.Equal(t, "txn_1", p.GatewayTransactionID)
	assert.NotNil(t, p.CompletedAt)

	err := p.Initiate("card", "tok_success")
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidStateTransition)
}

func TestDeclinedIsNotRetryable(t *testing.T) {
	p := newTestPayment(t, "10.00")
	require.NoError(t, p.Initiate("card", "tok_decline"))
	require.NoError(t, p.MarkFailed(ErrorCode_CardDeclined, "declined"))

	assert.False(t, p.Retryable)
	assert.False(t, p.CanRetry())
	err := p.Retry("")
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidStateTransition)
	assert.Equal(t, PaymentStatus_Failed, p.Status)
	assert.Equal(t, 1, p.AttemptCount)
}

func TestRetryCeiling(t *testing.T) {
	p := newTestPayment(t, "10.00")
	require.NoError(t, p.Initiate("card", "tok_timeout"))

	for attempt := 1; attempt < MaxAttempts; attempt++ {
		require.NoError(t, p.MarkFailed(ErrorCode_GatewayTimeout, "timeout"))
		require.True(t, p.CanRetry())
		require.NoError(t, p.Retry(""))
	}
	assert.Equal(t, MaxAttempts, p.AttemptCount)
	require.NoError(t, p.MarkFailed(ErrorCode_GatewayTimeout, "timeout"))

	assert.False(t, p.CanRetry())
	err := p.Retry("")
	assert.ErrorIs(t, err, pkgerrors.ErrMaxRetriesExceeded)
	assert.Equal(t, MaxAttempts, p.AttemptCount)
}

func TestSuccessClearsError(t *testing.T) {
	p := newTestPayment(t, "10.00")
	require.NoError(t, p.Initiate("card", "tok_timeout"))
	require.NoError(t, p.MarkFailed(ErrorCode_GatewayUnavailable, "down"))
	require.NoError(t, p.Retry("tok_success"))
	require.NoError(t, p.MarkSuccess("txn", "00", "4242", "VISA"))

	assert.Empty(t, p.ErrorCode)
	assert.Empty(t, p.ErrorMessage)
	assert.Equal(t, "tok_success", p.GatewayToken)
}

func TestMarkTimedOut(t *testing.T) {
	p := newTestPayment(t, "10.00")
	require.NoError(t, p.Initiate("card", "tok_timeout"))
	require.NoError(t, p.MarkTimedOut())

	assert.Equal(t, PaymentStatus_Failed, p.Status)
	assert.Equal(t, ErrorCode_Timeout, p.ErrorCode)
	assert.False(t, p.Retryable)
}

func TestRefund(t *testing.T) {
	p := newTestPayment(t, "50.00")

	_, err := p.RefundableAmount(nil)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidStateTransition)

	require.NoError(t, p.Initiate("card", "tok_success"))
	require.NoError(t, p.MarkSuccess("txn", "00", "4242", "VISA"))

	tooMuch := decimal.RequireFromString("50.01")
	_, err = p.RefundableAmount(&tooMuch)
	assert.ErrorIs(t, err, pkgerrors.ErrValidation)

	amount, err := p.RefundableAmount(nil)
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.RequireFromString("50.00")))

	p.PullEvents()
	require.NoError(t, p.MarkRefunded("ref_1", amount, "customer request"))
	assert.Equal(t, PaymentStatus_Refunded, p.Status)
	assert.True(t, p.RefundAmount.Valid)
	assert.True(t, p.RefundAmount.Decimal.Equal(p.Amount))
	assert.NotNil(t, p.RefundedAt)

	events := p.PullEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventType_PaymentRefunded, events[0].EventType)
	require.NotNil(t, events[0].RefundAmount)

	_, err = p.RefundableAmount(nil)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidStateTransition)
}

func TestPartialRefund(t *testing.T) {
	p := newTestPayment(t, "50.00")
	require.NoError(t, p.Initiate("card", "tok_success"))
	require.NoError(t, p.MarkSuccess("txn", "00", "4242", "VISA"))

	partial := decimal.RequireFromString("20.00")
	amount, err := p.RefundableAmount(&partial)
	require.NoError(t, err)
	assert.True(t, amount.Equal(partial))
}

func paymentInState(t *testing.T, status PaymentStatus) *Payment {
	t.Helper()
	p := newTestPayment(t, "50.00")
	p.PullEvents()
	p.Status = status
	p.AttemptCount = 1
	p.Retryable = status == PaymentStatus_Failed
	return p
}

func TestOperationsRejectInvalidStates(t *testing.T) {
	full := decimal.RequireFromString("50.00")
	over := decimal.RequireFromString("50.01")

	ops := []struct {
		name    string
		allowed PaymentStatus
		run     func(p *Payment) error
	}{
		{"initiate", PaymentStatus_Created, func(p *Payment) error { return p.Initiate("card", "tok_success") }},
		{"markSuccess", PaymentStatus_Processing, func(p *Payment) error { return p.MarkSuccess("txn", "00", "4242", "VISA") }},
		{"markFailed", PaymentStatus_Processing, func(p *Payment) error { return p.MarkFailed(ErrorCode_CardDeclined, "declined") }},
		{"markTimedOut", PaymentStatus_Processing, func(p *Payment) error { return p.MarkTimedOut() }},
		{"retry", PaymentStatus_Failed, func(p *Payment) error { return p.Retry("") }},
		{"refundableAmount", PaymentStatus_Success, func(p *Payment) error {
			_, err := p.RefundableAmount(nil)
			return err
		}},
		{"markRefunded", PaymentStatus_Success, func(p *Payment) error { return p.MarkRefunded("ref", full, "r") }},
	}

	for _, op := range ops {
		for _, status := range AllStatuses {
			t.Run(op.name+"/"+string(status), func(t *testing.T) {
				p := paymentInState(t, status)
				err := op.run(p)
				if status == op.allowed {
					assert.NoError(t, err)
					return
				}
				assert.ErrorIs(t, err, pkgerrors.ErrInvalidStateTransition)
				assert.Equal(t, status, p.Status)
				assert.Empty(t, p.PullEvents())
			})
		}
	}

	for _, status := range AllStatuses {
		p := paymentInState(t, status)
		err := p.MarkRefunded("ref", over, "r")
		if status == PaymentStatus_Success {
			assert.ErrorIs(t, err, pkgerrors.ErrValidation)
		} else {
			assert.ErrorIs(t, err, pkgerrors.ErrInvalidStateTransition, string(status))
		}
		assert.Equal(t, status, p.Status)
	}
}

func TestCloneDropsEvents(t *testing.T) {
	p := newTestPayment(t, "10.00")
	require.NoError(t, p.Initiate("card", "tok_success"))

	c := p.Clone()
	assert.Empty(t, c.PullEvents())
	*c.ProcessedAt = c.ProcessedAt.Add(1)
	assert.NotEqual(t, *p.ProcessedAt, *c.ProcessedAt)
}

func TestOutboxEventRoundTrip(t *testing.T) {
	p := newTestPayment(t, "10.00")
	e := p.PullEvents()[0]

	o, err := NewOutboxEvent(e)
	require.NoError(t, err)
	assert.Equal(t, p.OrderID, o.PartitionKey)
	assert.Equal(t, OutboxStatus_Pending, o.Status)

	decoded, err := o.Decode()
	require.NoError(t, err)
	assert.Equal(t, e.EventID, decoded.EventID)
	assert.True(t, e.Amount.Equal(decoded.Amount))

	m := e.ToMap()
	assert.Equal(t, "10.00", m["amount"])
	assert.Equal(t, "", m["refundAmount"])
}
