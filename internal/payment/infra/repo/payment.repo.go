package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/k-code-yt/payment-saga/internal/payment/domain"
	"github.com/k-code-yt/payment-saga/pkg/db/postgres"
	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
)

const (
	DBTableName_Payment = "payments"
	DBTableName_Outbox  = "payment_events"
)

var paymentColumns = []string{
	"id", "order_id", "customer_id", "idempotency_key", "amount", "currency", "status",
	"payment_method", "gateway_token", "gateway_transaction_id", "card_last_four", "card_brand", "response_code",
	"attempt_count", "error_code", "error_message", "retryable",
	"refund_id", "refund_amount", "refund_reason", "refunded_at",
	"created_at", "processed_at", "completed_at", "updated_at", "version", "correlation_id",
}

type PaymentRepo struct {
	repo      *sqlx.DB
	tableName string
	outbox    *OutboxRepo
}

func NewPaymentRepo(db *sqlx.DB) *PaymentRepo {
	return &PaymentRepo{
		repo:      db,
		tableName: DBTableName_Payment,
		outbox:    NewOutboxRepo(db),
	}
}

func (r *PaymentRepo) Outbox() *OutboxRepo {
	return r.outbox
}

func (r *PaymentRepo) Insert(ctx context.Context, p *domain.Payment, events ...*domain.PaymentEvent) error {
	rows, err := toOutbox(events)
	if err != nil {
		return err
	}

	_, err = postgres.TxClosure(ctx, r.repo, "insert payment", func(ctx context.Context, tx *sqlx.Tx) (struct{}, error) {
		p.Version = 1
		named := make([]string, len(paymentColumns))
		for i, c := range paymentColumns {
			named[i] = ":" + c
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", r.tableName, strings.Join(paymentColumns, ", "), strings.Join(named, ", "))
		if _, err := tx.NamedExecContext(ctx, q, p); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, r.outbox.insert(ctx, tx, rows)
	})
	return err
}

func (r *PaymentRepo) Update(ctx context.Context, p *domain.Payment, events ...*domain.PaymentEvent) error {
	rows, err := toOutbox(events)
	if err != nil {
		return err
	}

	_, err = postgres.TxClosure(ctx, r.repo, "update payment", func(ctx context.Context, tx *sqlx.Tx) (struct{}, error) {
		q := fmt.Sprintf(`UPDATE %s SET
			status = $3, payment_method = $4, gateway_token = $5, gateway_transaction_id = $6,
			card_last_four = $7, card_brand = $8, response_code = $9, attempt_count = $10,
			error_code = $11, error_message = $12, retryable = $13, refund_id = $14,
			refund_amount = $15, refund_reason = $16, refunded_at = $17, processed_at = $18,
			completed_at = $19, updated_at = $20, version = version + 1
			WHERE id = $1 AND version = $2`, r.tableName)
		res, err := tx.ExecContext(ctx, q,
			p.ID, p.Version,
			p.Status, p.PaymentMethod, p.GatewayToken, p.GatewayTransactionID,
			p.CardLastFour, p.CardBrand, p.ResponseCode, p.AttemptCount,
			p.ErrorCode, p.ErrorMessage, p.Retryable, p.RefundID,
			p.RefundAmount, p.RefundReason, p.RefundedAt, p.ProcessedAt,
			p.CompletedAt, p.UpdatedAt,
		)
		if err != nil {
			return struct{}{}, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return struct{}{}, err
		}
		if affected == 0 {
			var exists bool
			existsQ := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", r.tableName)
			if err := tx.GetContext(ctx, &exists, existsQ, p.ID); err != nil {
				return struct{}{}, err
			}
			if !exists {
				return struct{}{}, pkgerrors.NewNotFoundError("payment %s", p.ID)
			}
			return struct{}{}, pkgerrors.NewVersionConflictError(p.ID, p.Version)
		}
		return struct{}{}, r.outbox.insert(ctx, tx, rows)
	})
	if err != nil {
		return err
	}
	p.Version++
	return nil
}

func (r *PaymentRepo) FindByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.getOne(ctx, "id", id)
}

func (r *PaymentRepo) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	return r.getOne(ctx, "idempotency_key", key)
}

func (r *PaymentRepo) getOne(ctx context.Context, column, value string) (*domain.Payment, error) {
	p := &domain.Payment{}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", strings.Join(paymentColumns, ", "), r.tableName, column)
	err := r.repo.GetContext(ctx, p, q, value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pkgerrors.NewNotFoundError("payment with %s %s", column, value)
		}
		return nil, pkgerrors.NewInternalError("select payment", err)
	}
	return p, nil
}

func (r *PaymentRepo) FindByOrderID(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE order_id = $1 ORDER BY created_at", strings.Join(paymentColumns, ", "), r.tableName)
	return r.selectMany(ctx, q, orderID)
}

func (r *PaymentRepo) FindStuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Payment, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE status = $1 AND processed_at < $2 ORDER BY processed_at LIMIT $3", strings.Join(paymentColumns, ", "), r.tableName)
	return r.selectMany(ctx, q, domain.PaymentStatus_Processing, olderThan, limit)
}

func (r *PaymentRepo) FindRetryableFailed(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]*domain.Payment, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s
		WHERE status = $1 AND retryable AND attempt_count < $2 AND updated_at < $3
		ORDER BY updated_at LIMIT $4`, strings.Join(paymentColumns, ", "), r.tableName)
	return r.selectMany(ctx, q, domain.PaymentStatus_Failed, maxAttempts, olderThan, limit)
}

func (r *PaymentRepo) selectMany(ctx context.Context, q string, args ...any) ([]*domain.Payment, error) {
	out := []*domain.Payment{}
	if err := r.repo.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, pkgerrors.NewInternalError("select payments", err)
	}
	return out, nil
}
