package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
	"github.com/shopspring/decimal"
)

const MaxAttempts = 3

type Payment struct {
	ID             string          `db:"id" json:"id"`
	OrderID        string          `db:"order_id" json:"orderId"`
	CustomerID     string          `db:"customer_id" json:"customerId"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotencyKey"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Currency       string          `db:"currency" json:"currency"`
	Status         PaymentStatus   `db:"status" json:"status"`

	PaymentMethod        string `db:"payment_method" json:"paymentMethod"`
	GatewayToken         string `db:"gateway_token" json:"-"`
	GatewayTransactionID string `db:"gateway_transaction_id" json:"gatewayTransactionId,omitempty"`
	CardLastFour         string `db:"card_last_four" json:"cardLastFour,omitempty"`
	CardBrand            string `db:"card_brand" json:"cardBrand,omitempty"`
	ResponseCode         string `db:"response_code" json:"responseCode,omitempty"`

	AttemptCount int       `db:"attempt_count" json:"attemptCount"`
	ErrorCode    ErrorCode `db:"error_code" json:"errorCode,omitempty"`
	ErrorMessage string    `db:"error_message" json:"errorMessage,omitempty"`
	Retryable    bool      `db:"retryable" json:"retryable"`

	RefundID     string              `db:"refund_id" json:"refundId,omitempty"`
	RefundAmount decimal.NullDecimal `db:"refund_amount" json:"refundAmount"`
	RefundReason string              `db:"refund_reason" json:"refundReason,omitempty"`
	RefundedAt   *time.Time          `db:"refunded_at" json:"refundedAt,omitempty"`

	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	ProcessedAt   *time.Time `db:"processed_at" json:"processedAt,omitempty"`
	CompletedAt   *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updatedAt"`
	Version       int64      `db:"version" json:"version"`
	CorrelationID string     `db:"correlation_id" json:"correlationId,omitempty"`

	events []*PaymentEvent
}

type NewPaymentParams struct {
	OrderID        string
	CustomerID     string
	IdempotencyKey string
	Amount         decimal.Decimal
	Currency       string
	CorrelationID  string
}

func NewPayment(params NewPaymentParams) (*Payment, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	p := &Payment{
		ID:             uuid.NewString(),
		OrderID:        params.OrderID,
		CustomerID:     params.CustomerID,
		IdempotencyKey: params.IdempotencyKey,
		Amount:         params.Amount,
		Currency:       strings.ToUpper(params.Currency),
		Status:         PaymentStatus_Created,
		CreatedAt:      now,
		UpdatedAt:      now,
		CorrelationID:  params.CorrelationID,
	}
	if p.CorrelationID == "" {
		p.CorrelationID = uuid.NewString()
	}
	p.record(EventType_PaymentCreated)
	return p, nil
}

func (p NewPaymentParams) Validate() error {
	switch {
	case strings.TrimSpace(p.OrderID) == "":
		return pkgerrors.NewValidationError("orderId is required")
	case strings.TrimSpace(p.CustomerID) == "":
		return pkgerrors.NewValidationError("customerId is required")
	case strings.TrimSpace(p.IdempotencyKey) == "":
		return pkgerrors.NewValidationError("idempotency key is required")
	}
	if err := ValidateAmount(p.Amount); err != nil {
		return err
	}
	return ValidateCurrency(p.Currency)
}

func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return pkgerrors.NewValidationError("amount must be positive, got %s", amount.String())
	}
	if !amount.Equal(amount.Round(2)) {
		return pkgerrors.NewValidationError("amount %s has more than 2 decimal places", amount.String())
	}
	return nil
}

func ValidateCurrency(currency string) error {
	if len(currency) != 3 {
		return pkgerrors.NewValidationError("currency must be a 3-letter ISO code, got %q", currency)
	}
	for _, r := range strings.ToUpper(currency) {
		if r < 'A' || r > 'Z' {
			return pkgerrors.NewValidationError("currency must be a 3-letter ISO code, got %q", currency)
		}
	}
	return nil
}

// ValidateToken rejects empty tokens and anything that looks like a raw card number.
func ValidateToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return pkgerrors.NewValidationError("gateway token is required")
	}
	digits := 0
	for _, r := range token {
		if r >= '0' && r <= '9' {
			digits++
			continue
		}
		if r != ' ' && r != '-' {
			return nil
		}
	}
	if digits >= 12 && digits <= 19 {
		return pkgerrors.NewValidationError("gateway token must not be a card number")
	}
	return nil
}

func (p *Payment) CanTransitionTo(target PaymentStatus) bool {
	return p.Status.CanTransitionTo(target)
}

func (p *Payment) transition(target PaymentStatus) error {
	if !p.Status.CanTransitionTo(target) {
		return pkgerrors.NewInvalidStateTransitionError(p.Status.String(), target.String())
	}
	p.Status = target
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Initiate moves a new payment into PROCESSING and counts the first gateway attempt.
func (p *Payment) Initiate(method, token string) error {
	if p.Status != PaymentStatus_Created {
		return pkgerrors.NewInvalidStateTransitionError(p.Status.String(), PaymentStatus_Processing.String())
	}
	if err := ValidateToken(token); err != nil {
		return err
	}
	if err := p.transition(PaymentStatus_Processing); err != nil {
		return err
	}
	p.PaymentMethod = method
	p.GatewayToken = token
	p.AttemptCount++
	processedAt := p.UpdatedAt
	p.ProcessedAt = &processedAt
	return nil
}

func (p *Payment) MarkSuccess(txnID, responseCode, lastFour, brand string) error {
	if err := p.transition(PaymentStatus_Success); err != nil {
		return err
	}
	p.GatewayTransactionID = txnID
	p.ResponseCode = responseCode
	p.CardLastFour = lastFour
	p.CardBrand = brand
	p.ErrorCode = ""
	p.ErrorMessage = ""
	p.Retryable = false
	completedAt := p.UpdatedAt
	p.CompletedAt = &completedAt
	p.record(EventType_PaymentCompleted)
	return nil
}

func (p *Payment) MarkFailed(code ErrorCode, msg string) error {
	return p.markFailed(code, msg, code.IsRetryable())
}

// MarkTimedOut fails a payment whose gateway outcome never arrived.
// The outcome is unknown so it must not be retried automatically.
func (p *Payment) MarkTimedOut() error {
	return p.markFailed(ErrorCode_Timeout, "payment stuck in PROCESSING", false)
}

func (p *Payment) markFailed(code ErrorCode, msg string, retryable bool) error {
	if err := p.transition(PaymentStatus_Failed); err != nil {
		return err
	}
	p.ErrorCode = code
	p.ErrorMessage = msg
	p.Retryable = retryable
	p.record(EventType_PaymentFailed)
	return nil
}

func (p *Payment) CanRetry() bool {
	return p.Status == PaymentStatus_Failed && p.Retryable && p.AttemptCount < MaxAttempts
}

// Retry puts a FAILED payment back into PROCESSING. An empty token keeps the
// previous one.
func (p *Payment) Retry(token string) error {
	if p.Status != PaymentStatus_Failed || !p.Retryable {
		return pkgerrors.NewInvalidStateTransitionError(p.Status.String(), PaymentStatus_Processing.String())
	}
	if p.AttemptCount >= MaxAttempts {
		return pkgerrors.NewMaxRetriesExceededError(p.AttemptCount)
	}
	if token != "" {
		if err := ValidateToken(token); err != nil {
			return err
		}
	}
	if err := p.transition(PaymentStatus_Processing); err != nil {
		return err
	}
	if token != "" {
		p.GatewayToken = token
	}
	p.AttemptCount++
	processedAt := p.UpdatedAt
	p.ProcessedAt = &processedAt
	return nil
}

// RefundableAmount validates a refund request before any gateway call and
// resolves the amount to refund. A nil amount means the full payment.
func (p *Payment) RefundableAmount(amount *decimal.Decimal) (decimal.Decimal, error) {
	if !p.Status.CanTransitionTo(PaymentStatus_Refunded) {
		return decimal.Zero, pkgerrors.NewInvalidStateTransitionError(p.Status.String(), PaymentStatus_Refunded.String())
	}
	if amount == nil {
		return p.Amount, nil
	}
	if err := ValidateAmount(*amount); err != nil {
		return decimal.Zero, err
	}
	if amount.GreaterThan(p.Amount) {
		return decimal.Zero, pkgerrors.NewValidationError("refund amount %s exceeds payment amount %s", amount.String(), p.Amount.String())
	}
	return *amount, nil
}

func (p *Payment) MarkRefunded(refundID string, amount decimal.Decimal, reason string) error {
	if !p.Status.CanTransitionTo(PaymentStatus_Refunded) {
		return pkgerrors.NewInvalidStateTransitionError(p.Status.String(), PaymentStatus_Refunded.String())
	}
	if amount.GreaterThan(p.Amount) || !amount.IsPositive() {
		return pkgerrors.NewValidationError("refund amount %s outside (0, %s]", amount.String(), p.Amount.String())
	}
	if err := p.transition(PaymentStatus_Refunded); err != nil {
		return err
	}
	p.RefundID = refundID
	p.RefundAmount = decimal.NullDecimal{Decimal: amount, Valid: true}
	p.RefundReason = reason
	refundedAt := p.UpdatedAt
	p.RefundedAt = &refundedAt
	p.record(EventType_PaymentRefunded)
	return nil
}

func (p *Payment) record(eventType EventType) {
	p.events = append(p.events, NewPaymentEvent(eventType, p))
}

// PullEvents returns the events recorded since the last call and clears them.
func (p *Payment) PullEvents() []*PaymentEvent {
	events := p.events
	p.events = nil
	return events
}

// Clone returns a copy without pending events.
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	c.events = nil
	c.ProcessedAt = copyTime(p.ProcessedAt)
	c.CompletedAt = copyTime(p.CompletedAt)
	c.RefundedAt = copyTime(p.RefundedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
