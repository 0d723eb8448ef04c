package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
	"github.com/sirupsen/logrus"
)

// TxClosure runs fn in a read-committed transaction and commits when fn
// succeeds. Every returned error is an AppError: ones raised by fn pass
// through, driver errors are classified by mapTxError.
func TxClosure[T any](ctx context.Context, db *sqlx.DB, op string, fn func(ctx context.Context, tx *sqlx.Tx) (T, error)) (res T, err error) {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return res, mapTxError(op+": begin", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}

		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logrus.WithField("op", op).Errorf("TX:ROLLBACK:FAILED %v", rbErr)
			}
			err = mapTxError(op, err)
			return
		}

		if cErr := tx.Commit(); cErr != nil {
			err = mapTxError(op+": commit", cErr)
		}
	}()

	res, err = fn(ctx, tx)
	return res, err
}

func mapTxError(op string, err error) error {
	var appErr *pkgerrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case IsDuplicateKeyErr(err):
		return pkgerrors.NewDuplicateKeyError(err)
	case IsSerializationErr(err):
		return &pkgerrors.AppError{
			Code:      pkgerrors.CodeVersionConflict,
			Message:   op + ": serialization failure",
			Retryable: true,
			Err:       err,
		}
	default:
		return pkgerrors.NewInternalError(op, err)
	}
}
