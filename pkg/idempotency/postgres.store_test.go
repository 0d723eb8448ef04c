package idempotency

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("PAYMENT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PAYMENT_TEST_POSTGRES_DSN not set")
	}
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db)
}

func TestPostgresStoreResults(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	key := ResultKey("it-" + time.Now().Format(time.RFC3339Nano))

	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, key, []byte(`{"a":1}`), time.Minute))
	v, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(v))
}

func TestPostgresStoreLocks(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	key := LockKey("it-" + time.Now().Format(time.RFC3339Nano))

	token, ok, err := s.TryLock(ctx, key, time.Second, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.TryLock(ctx, key, 100*time.Millisecond, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Unlock(ctx, key, token))
	assert.ErrorIs(t, s.Unlock(ctx, key, token), ErrLockNotHeld)
}

func TestPostgresCoordinator(t *testing.T) {
	s := newPostgresStore(t)
	c := NewCoordinator(s, DefaultConfig)
	key := "it-coord-" + time.Now().Format(time.RFC3339Nano)

	calls := 0
	op := func(ctx context.Context) (chargeResult, error) {
		calls++
		return chargeResult{PaymentID: "p"}, nil
	}
	_, dup, err := Execute(context.Background(), c, key, time.Minute, op)
	require.NoError(t, err)
	assert.False(t, dup)
	_, dup, err = Execute(context.Background(), c, key, time.Minute, op)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, 1, calls)
}
