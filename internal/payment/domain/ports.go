package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Repository interface {
	// Insert stores a new payment and its events atomically.
	Insert(ctx context.Context, p *Payment, events ...*PaymentEvent) error
	// Update writes p if the stored version still equals p.Version and bumps
	// p.Version. A stale version fails with VERSION_CONFLICT.
	Update(ctx context.Context, p *Payment, events ...*PaymentEvent) error
	FindByID(ctx context.Context, id string) (*Payment, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Payment, error)
	FindByOrderID(ctx context.Context, orderID string) ([]*Payment, error)
	FindStuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*Payment, error)
	FindRetryableFailed(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]*Payment, error)
}

type PublishFunc func(ctx context.Context, events []*OutboxEvent) (produced []int64, err error)

type Outbox interface {
	// ProcessPending hands up to limit pending events, oldest first, to fn and
	// marks the sequence numbers fn returns as produced. Produced events are
	// kept even when fn also returns an error.
	ProcessPending(ctx context.Context, limit int, fn PublishFunc) (int, error)
}

type GatewayStatus string

const (
	GatewayStatus_Approved       GatewayStatus = "APPROVED"
	GatewayStatus_Declined       GatewayStatus = "DECLINED"
	GatewayStatus_Pending        GatewayStatus = "PENDING"
	GatewayStatus_RequiresAction GatewayStatus = "REQUIRES_ACTION"
	GatewayStatus_Refunded       GatewayStatus = "REFUNDED"
)

type ChargeRequest struct {
	PaymentID      string          `json:"paymentId"`
	OrderID        string          `json:"orderId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	PaymentMethod  string          `json:"paymentMethod"`
	GatewayToken   string          `json:"-"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

type RefundRequest struct {
	PaymentID      string          `json:"paymentId"`
	TransactionID  string          `json:"transactionId"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

type RequiredAction struct {
	Type        string `json:"type"`
	RedirectURL string `json:"redirectUrl"`
}

type GatewayResponse struct {
	Success        bool            `json:"success"`
	TransactionID  string          `json:"transactionId"`
	Status         GatewayStatus   `json:"status"`
	ResponseCode   string          `json:"responseCode,omitempty"`
	ErrorCode      ErrorCode       `json:"errorCode,omitempty"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	CardLastFour   string          `json:"cardLastFour,omitempty"`
	CardBrand      string          `json:"cardBrand,omitempty"`
	RequiresAction *RequiredAction `json:"requiresAction,omitempty"`
}

// Gateway returns a response for every outcome the provider declared,
// including declines. Errors mean the outcome is unknown or the call was
// never made.
type Gateway interface {
	Charge(ctx context.Context, req *ChargeRequest) (*GatewayResponse, error)
	Refund(ctx context.Context, req *RefundRequest) (*GatewayResponse, error)
	GetStatus(ctx context.Context, txnID string) (*GatewayResponse, error)
}
