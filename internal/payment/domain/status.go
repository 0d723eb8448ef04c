package domain

import (
	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
)

type PaymentStatus string

const (
	PaymentStatus_Created    PaymentStatus = "CREATED"
	PaymentStatus_Processing PaymentStatus = "PROCESSING"
	PaymentStatus_Success    PaymentStatus = "SUCCESS"
	PaymentStatus_Failed     PaymentStatus = "FAILED"
	PaymentStatus_Refunded   PaymentStatus = "REFUNDED"
)

var AllStatuses = []PaymentStatus{
	PaymentStatus_Created,
	PaymentStatus_Processing,
	PaymentStatus_Success,
	PaymentStatus_Failed,
	PaymentStatus_Refunded,
}

func ParseStatus(raw string) (PaymentStatus, error) {
	s := PaymentStatus(raw)
	switch s {
	case PaymentStatus_Created, PaymentStatus_Processing, PaymentStatus_Success, PaymentStatus_Failed, PaymentStatus_Refunded:
		return s, nil
	default:
		return "", pkgerrors.NewValidationError("unknown payment status %q", raw)
	}
}

// CanTransitionTo is the whole transition table. FAILED -> PROCESSING is
// only the structural edge; retry eligibility is checked by Payment.Retry.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	switch s {
	case PaymentStatus_Created:
		return target == PaymentStatus_Processing
	case PaymentStatus_Processing:
		return target == PaymentStatus_Success || target == PaymentStatus_Failed
	case PaymentStatus_Failed:
		return target == PaymentStatus_Processing
	case PaymentStatus_Success:
		return target == PaymentStatus_Refunded
	case PaymentStatus_Refunded:
		return false
	default:
		return false
	}
}

func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatus_Refunded:
		return true
	case PaymentStatus_Created, PaymentStatus_Processing, PaymentStatus_Success, PaymentStatus_Failed:
		return false
	default:
		return false
	}
}

func (s PaymentStatus) String() string {
	return string(s)
}
