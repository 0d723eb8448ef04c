package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/k-code-yt/payment-saga/internal/payment/domain"
	"github.com/k-code-yt/payment-saga/pkg/db/postgres"
	"github.com/lib/pq"
)

// relayLockID is the advisory lock key held by the single active relay.
const relayLockID int64 = 0x7061796d656e74

type OutboxRepo struct {
	repo      *sqlx.DB
	tableName string
}

func NewOutboxRepo(db *sqlx.DB) *OutboxRepo {
	return &OutboxRepo{
		repo:      db,
		tableName: DBTableName_Outbox,
	}
}

func (r *OutboxRepo) insert(ctx context.Context, tx *sqlx.Tx, rows []*domain.OutboxEvent) error {
	if len(rows) == 0 {
		return nil
	}
	q := fmt.Sprintf(`INSERT INTO %s (event_id, event_type, aggregate_id, partition_key, correlation_id, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8) RETURNING seq`, r.tableName)
	for _, row := range rows {
		err := tx.GetContext(ctx, &row.Seq, q,
			row.EventID, row.EventType, row.AggregateID, row.PartitionKey, row.CorrelationID,
			string(row.Payload), row.Status, row.CreatedAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// ProcessPending runs inside one transaction. A second relay that cannot take
// the advisory lock gets zero events.
func (r *OutboxRepo) ProcessPending(ctx context.Context, limit int, fn domain.PublishFunc) (int, error) {
	var publishErr error
	marked, err := postgres.TxClosure(ctx, r.repo, "process outbox", func(ctx context.Context, tx *sqlx.Tx) (int, error) {
		var locked bool
		if err := tx.GetContext(ctx, &locked, "SELECT pg_try_advisory_xact_lock($1)", relayLockID); err != nil {
			return 0, err
		}
		if !locked {
			return 0, nil
		}

		scanned := []outboxRow{}
		q := fmt.Sprintf(`SELECT seq, event_id, event_type, aggregate_id, partition_key, correlation_id, payload::text AS payload, status, created_at, produced_at
			FROM %s WHERE status = $1 ORDER BY seq LIMIT $2 FOR UPDATE`, r.tableName)
		if err := tx.SelectContext(ctx, &scanned, q, domain.OutboxStatus_Pending, limit); err != nil {
			return 0, err
		}
		if len(scanned) == 0 {
			return 0, nil
		}
		pending := make([]*domain.OutboxEvent, len(scanned))
		for i := range scanned {
			pending[i] = scanned[i].toDomain()
		}

		produced, err := fn(ctx, pending)
		publishErr = err
		if len(produced) == 0 {
			return 0, nil
		}

		upd := fmt.Sprintf("UPDATE %s SET status = $1, produced_at = now() WHERE seq = ANY($2)", r.tableName)
		res, err := tx.ExecContext(ctx, upd, domain.OutboxStatus_Produced, pq.Array(produced))
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		return int(n), err
	})
	if err != nil {
		return 0, err
	}
	return marked, publishErr
}

type outboxRow struct {
	Seq           int64               `db:"seq"`
	EventID       string              `db:"event_id"`
	EventType     domain.EventType    `db:"event_type"`
	AggregateID   string              `db:"aggregate_id"`
	PartitionKey  string              `db:"partition_key"`
	CorrelationID string              `db:"correlation_id"`
	Payload       string              `db:"payload"`
	Status        domain.OutboxStatus `db:"status"`
	CreatedAt     time.Time           `db:"created_at"`
	ProducedAt    *time.Time          `db:"produced_at"`
}

func (o outboxRow) toDomain() *domain.OutboxEvent {
	return &domain.OutboxEvent{
		Seq:           o.Seq,
		EventID:       o.EventID,
		EventType:     o.EventType,
		AggregateID:   o.AggregateID,
		PartitionKey:  o.PartitionKey,
		CorrelationID: o.CorrelationID,
		Payload:       []byte(o.Payload),
		Status:        o.Status,
		CreatedAt:     o.CreatedAt,
		ProducedAt:    o.ProducedAt,
	}
}
