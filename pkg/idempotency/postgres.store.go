package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	DBTableName_Results = "idempotency_results"
	DBTableName_Locks   = "idempotency_locks"
)

// PostgresStore shares results and locks between processes through two tables.
// Lock expiry is evaluated with the database clock.
type PostgresStore struct {
	repo         *sqlx.DB
	resultsTable string
	locksTable   string
	pollInterval time.Duration
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		repo:         db,
		resultsTable: DBTableName_Results,
		locksTable:   DBTableName_Locks,
		pollInterval: 50 * time.Millisecond,
	}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	q := fmt.Sprintf("SELECT value FROM %s WHERE key = $1 AND expires_at > now()", s.resultsTable)
	err := s.repo.GetContext(ctx, &value, q, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	q := fmt.Sprintf(`INSERT INTO %s (key, value, expires_at) VALUES ($1, $2, now() + $3 * interval '1 millisecond')
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`, s.resultsTable)
	_, err := s.repo.ExecContext(ctx, q, key, value, ttl.Milliseconds())
	return err
}

func (s *PostgresStore) TryLock(ctx context.Context, key string, wait, lease time.Duration) (string, bool, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		ok, err := s.tryAcquire(ctx, key, token, lease)
		if err != nil {
			return "", false, err
		}
		if ok {
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

func (s *PostgresStore) tryAcquire(ctx context.Context, key, token string, lease time.Duration) (bool, error) {
	q := fmt.Sprintf(`INSERT INTO %[1]s (key, owner, expires_at) VALUES ($1, $2, now() + $3 * interval '1 millisecond')
		ON CONFLICT (key) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE %[1]s.expires_at < now()`, s.locksTable)
	res, err := s.repo.ExecContext(ctx, q, key, token, lease.Milliseconds())
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *PostgresStore) Unlock(ctx context.Context, key, token string) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE key = $1 AND owner = $2", s.locksTable)
	res, err := s.repo.ExecContext(ctx, q, key, token)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// PurgeExpired deletes expired results and stale locks.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	var total int64
	for _, table := range []string{s.resultsTable, s.locksTable} {
		res, err := s.repo.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE expires_at < now()", table))
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
