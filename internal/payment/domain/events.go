package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventType_PaymentCreated   EventType = "PAYMENT_CREATED"
	EventType_PaymentCompleted EventType = "PAYMENT_COMPLETED"
	EventType_PaymentFailed    EventType = "PAYMENT_FAILED"
	EventType_PaymentRefunded  EventType = "PAYMENT_REFUNDED"
)

type PaymentEvent struct {
	EventID       string           `json:"eventId"`
	EventType     EventType        `json:"eventType"`
	PaymentID     string           `json:"paymentId"`
	OrderID       string           `json:"orderId"`
	CustomerID    string           `json:"customerId"`
	Status        PaymentStatus    `json:"status"`
	Amount        decimal.Decimal  `json:"amount"`
	Currency      string           `json:"currency"`
	AttemptCount  int              `json:"attemptCount"`
	ErrorCode     ErrorCode        `json:"errorCode,omitempty"`
	RefundAmount  *decimal.Decimal `json:"refundAmount,omitempty"`
	CorrelationID string           `json:"correlationId"`
	OccurredAt    time.Time        `json:"occurredAt"`
}

func NewPaymentEvent(eventType EventType, p *Payment) *PaymentEvent {
	e := &PaymentEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		CustomerID:    p.CustomerID,
		Status:        p.Status,
		Amount:        p.Amount,
		Currency:      p.Currency,
		AttemptCount:  p.AttemptCount,
		ErrorCode:     p.ErrorCode,
		CorrelationID: p.CorrelationID,
		OccurredAt:    p.UpdatedAt,
	}
	if p.RefundAmount.Valid {
		amount := p.RefundAmount.Decimal
		e.RefundAmount = &amount
	}
	return e
}

// ToMap flattens the event for schema-driven encoders.
func (e *PaymentEvent) ToMap() map[string]any {
	m := map[string]any{
		"eventId":       e.EventID,
		"eventType":     string(e.EventType),
		"paymentId":     e.PaymentID,
		"orderId":       e.OrderID,
		"customerId":    e.CustomerID,
		"status":        string(e.Status),
		"amount":        e.Amount.StringFixed(2),
		"currency":      e.Currency,
		"attemptCount":  e.AttemptCount,
		"errorCode":     string(e.ErrorCode),
		"refundAmount":  "",
		"correlationId": e.CorrelationID,
		"occurredAt":    e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if e.RefundAmount != nil {
		m["refundAmount"] = e.RefundAmount.StringFixed(2)
	}
	return m
}

type OutboxStatus string

const (
	OutboxStatus_Pending  OutboxStatus = "pending"
	OutboxStatus_Produced OutboxStatus = "produced"
)

// OutboxEvent is a PaymentEvent persisted in the same transaction as the
// payment row. Seq orders events for the relay.
type OutboxEvent struct {
	Seq           int64           `db:"seq"`
	EventID       string          `db:"event_id"`
	EventType     EventType       `db:"event_type"`
	AggregateID   string          `db:"aggregate_id"`
	PartitionKey  string          `db:"partition_key"`
	CorrelationID string          `db:"correlation_id"`
	Payload       json.RawMessage `db:"payload"`
	Status        OutboxStatus    `db:"status"`
	CreatedAt     time.Time       `db:"created_at"`
	ProducedAt    *time.Time      `db:"produced_at"`
}

func NewOutboxEvent(e *PaymentEvent) (*OutboxEvent, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &OutboxEvent{
		EventID:       e.EventID,
		EventType:     e.EventType,
		AggregateID:   e.PaymentID,
		PartitionKey:  e.OrderID,
		CorrelationID: e.CorrelationID,
		Payload:       payload,
		Status:        OutboxStatus_Pending,
		CreatedAt:     e.OccurredAt,
	}, nil
}

func (o *OutboxEvent) Decode() (*PaymentEvent, error) {
	e := &PaymentEvent{}
	if err := json.Unmarshal(o.Payload, e); err != nil {
		return nil, err
	}
	return e, nil
}

type OrderEventType string

const (
	OrderEventType_Created   OrderEventType = "ORDER_CREATED"
	OrderEventType_Cancelled OrderEventType = "ORDER_CANCELLED"
	OrderEventType_Failed    OrderEventType = "ORDER_FAILED"
)

type OrderEvent struct {
	EventID       string         `json:"eventId"`
	EventType     OrderEventType `json:"eventType"`
	OrderID       string         `json:"orderId"`
	CustomerID    string         `json:"customerId,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
}

func (e *OrderEvent) ToMap() map[string]any {
	return map[string]any{
		"eventId":       e.EventID,
		"eventType":     string(e.EventType),
		"orderId":       e.OrderID,
		"customerId":    e.CustomerID,
		"reason":        e.Reason,
		"correlationId": e.CorrelationID,
		"occurredAt":    e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}
