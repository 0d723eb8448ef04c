package repo

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/k-code-yt/payment-saga/internal/payment/domain"
	"github.com/k-code-yt/payment-saga/pkg/db/postgres"
	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests expect a database migrated with migrations/payment.
func newPostgresRepo(t *testing.T) *PaymentRepo {
	t.Helper()
	dsn := os.Getenv("PAYMENT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PAYMENT_TEST_POSTGRES_DSN not set")
	}
	db, err := postgres.NewDBConnFromDSN(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPaymentRepo(db)
}

func TestPaymentRepoRoundTrip(t *testing.T) {
	r := newPostgresRepo(t)
	ctx := context.Background()

	p := newTestPayment(t, uuid.NewString())
	require.NoError(t, r.Insert(ctx, p, p.PullEvents()...))

	require.NoError(t, p.Initiate("card", "tok_success"))
	require.NoError(t, r.Update(ctx, p))
	require.NoError(t, p.MarkSuccess("txn_1", "00", "4242", "VISA"))
	require.NoError(t, r.Update(ctx, p, p.PullEvents()...))

	found, err := r.FindByIdempotencyKey(ctx, p.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatus_Success, found.Status)
	assert.True(t, found.Amount.Equal(decimal.RequireFromString("99.99")))
	assert.Equal(t, int64(3), found.Version)
	assert.Equal(t, "txn_1", found.GatewayTransactionID)
	assert.False(t, found.RefundAmount.Valid)

	byOrder, err := r.FindByOrderID(ctx, p.OrderID)
	require.NoError(t, err)
	require.Len(t, byOrder, 1)
}

func TestPaymentRepoDuplicateAndConflict(t *testing.T) {
	r := newPostgresRepo(t)
	ctx := context.Background()
	key := uuid.NewString()

	p := newTestPayment(t, key)
	require.NoError(t, r.Insert(ctx, p))

	err := r.Insert(ctx, newTestPayment(t, key))
	assert.ErrorIs(t, err, pkgerrors.ErrDuplicateKey)

	stale, err := r.FindByID(ctx, p.ID)
	require.NoError(t, err)

	require.NoError(t, p.Initiate("card", "tok_success"))
	require.NoError(t, r.Update(ctx, p))

	require.NoError(t, stale.Initiate("card", "tok_success"))
	assert.ErrorIs(t, r.Update(ctx, stale), pkgerrors.ErrVersionConflict)
}

func TestOutboxRepoProcessPending(t *testing.T) {
	r := newPostgresRepo(t)
	ctx := context.Background()

	p := newTestPayment(t, uuid.NewString())
	require.NoError(t, r.Insert(ctx, p, p.PullEvents()...))

	seen := false
	_, err := r.Outbox().ProcessPending(ctx, 1000, func(_ context.Context, events []*domain.OutboxEvent) ([]int64, error) {
		produced := make([]int64, 0, len(events))
		for _, e := range events {
			if e.AggregateID == p.ID {
				seen = true
				decoded, err := e.Decode()
				require.NoError(t, err)
				assert.Equal(t, domain.EventType_PaymentCreated, decoded.EventType)
			}
			produced = append(produced, e.Seq)
		}
		return produced, nil
	})
	require.NoError(t, err)
	assert.True(t, seen)
}
