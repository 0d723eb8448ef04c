package repo

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/k-code-yt/payment-saga/internal/payment/domain"
	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
)

// MemoryRepo keeps payments and their outbox in process. It has the same
// uniqueness and version semantics as the Postgres repository.
type MemoryRepo struct {
	mu       *sync.RWMutex
	relayMu  *sync.Mutex
	payments map[string]*domain.Payment
	byKey    map[string]string
	byOrder  map[string][]string
	outbox   []*domain.OutboxEvent
	seq      int64
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		mu:       new(sync.RWMutex),
		relayMu:  new(sync.Mutex),
		payments: make(map[string]*domain.Payment),
		byKey:    make(map[string]string),
		byOrder:  make(map[string][]string),
	}
}

func (r *MemoryRepo) Insert(_ context.Context, p *domain.Payment, events ...*domain.PaymentEvent) error {
	rows, err := toOutbox(events)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[p.IdempotencyKey]; exists {
		return pkgerrors.NewDuplicateKeyError(nil)
	}
	if _, exists := r.payments[p.ID]; exists {
		return pkgerrors.NewDuplicateKeyError(nil)
	}

	p.Version = 1
	r.payments[p.ID] = p.Clone()
	r.byKey[p.IdempotencyKey] = p.ID
	r.byOrder[p.OrderID] = append(r.byOrder[p.OrderID], p.ID)
	r.appendOutbox(rows)
	return nil
}

func (r *MemoryRepo) Update(_ context.Context, p *domain.Payment, events ...*domain.PaymentEvent) error {
	rows, err := toOutbox(events)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.payments[p.ID]
	if !ok {
		return pkgerrors.NewNotFoundError("payment %s", p.ID)
	}
	if stored.Version != p.Version {
		return pkgerrors.NewVersionConflictError(p.ID, p.Version)
	}

	p.Version++
	r.payments[p.ID] = p.Clone()
	r.appendOutbox(rows)
	return nil
}

func (r *MemoryRepo) appendOutbox(rows []*domain.OutboxEvent) {
	for _, row := range rows {
		r.seq++
		row.Seq = r.seq
		r.outbox = append(r.outbox, row)
	}
}

func (r *MemoryRepo) FindByID(_ context.Context, id string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payments[id]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("payment %s", id)
	}
	return p.Clone(), nil
}

func (r *MemoryRepo) FindByIdempotencyKey(_ context.Context, key string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[key]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("payment with idempotency key %s", key)
	}
	return r.payments[id].Clone(), nil
}

func (r *MemoryRepo) FindByOrderID(_ context.Context, orderID string) ([]*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byOrder[orderID]
	out := make([]*domain.Payment, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.payments[id].Clone())
	}
	return out, nil
}

func (r *MemoryRepo) FindStuckProcessing(_ context.Context, olderThan time.Time, limit int) ([]*domain.Payment, error) {
	processedAt := func(p *domain.Payment) time.Time {
		if p.ProcessedAt == nil {
			return time.Time{}
		}
		return *p.ProcessedAt
	}
	return r.filter(limit, processedAt, func(p *domain.Payment) bool {
		return p.Status == domain.PaymentStatus_Processing && p.ProcessedAt != nil && p.ProcessedAt.Before(olderThan)
	}), nil
}

func (r *MemoryRepo) FindRetryableFailed(_ context.Context, olderThan time.Time, maxAttempts, limit int) ([]*domain.Payment, error) {
	updatedAt := func(p *domain.Payment) time.Time { return p.UpdatedAt }
	return r.filter(limit, updatedAt, func(p *domain.Payment) bool {
		return p.Status == domain.PaymentStatus_Failed && p.Retryable && p.AttemptCount < maxAttempts && p.UpdatedAt.Before(olderThan)
	}), nil
}

func (r *MemoryRepo) filter(limit int, orderBy func(p *domain.Payment) time.Time, match func(p *domain.Payment) bool) []*domain.Payment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*domain.Payment{}
	for _, p := range r.payments {
		if match(p) {
			out = append(out, p.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *domain.Payment) int {
		return orderBy(a).Compare(orderBy(b))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ProcessPending publishes outside the repository lock so payment reads and
// writes are not held up by the broker. relayMu keeps a single relay active.
func (r *MemoryRepo) ProcessPending(ctx context.Context, limit int, fn domain.PublishFunc) (int, error) {
	r.relayMu.Lock()
	defer r.relayMu.Unlock()

	pending := r.pending(limit)
	if len(pending) == 0 {
		return 0, nil
	}

	produced, err := fn(ctx, pending)
	if len(produced) == 0 {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	marked := 0
	for _, e := range r.outbox {
		if slices.Contains(produced, e.Seq) && e.Status == domain.OutboxStatus_Pending {
			e.Status = domain.OutboxStatus_Produced
			e.ProducedAt = &now
			marked++
		}
	}
	return marked, err
}

func (r *MemoryRepo) pending(limit int) []*domain.OutboxEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*domain.OutboxEvent{}
	for _, e := range r.outbox {
		if e.Status != domain.OutboxStatus_Pending {
			continue
		}
		c := *e
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Outbox returns a copy of every outbox row in sequence order.
func (r *MemoryRepo) Outbox() []domain.OutboxEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.OutboxEvent, 0, len(r.outbox))
	for _, e := range r.outbox {
		out = append(out, *e)
	}
	return out
}

func toOutbox(events []*domain.PaymentEvent) ([]*domain.OutboxEvent, error) {
	rows := make([]*domain.OutboxEvent, 0, len(events))
	for _, e := range events {
		row, err := domain.NewOutboxEvent(e)
		if err != nil {
			return nil, pkgerrors.NewJSONParsingError(err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
