package application

import (
	"context"

	"github.com/k-code-yt/payment-saga/internal/payment/domain"
	"github.com/sirupsen/logrus"
)

type OrderRefunder interface {
	RefundForOrder(ctx context.Context, orderID, reason string) (*OrderRefundResult, error)
}

// Compensator is the payment side of the order saga. Handlers must be safe
// to run more than once for the same event.
type Compensator struct {
	refunder OrderRefunder
}

func NewCompensator(refunder OrderRefunder) *Compensator {
	return &Compensator{refunder: refunder}
}

func (c *Compensator) HandleOrderEvent(ctx context.Context, e *domain.OrderEvent) error {
	log := logrus.WithFields(logrus.Fields{
		"eventID":       e.EventID,
		"eventType":     e.EventType,
		"orderID":       e.OrderID,
		"correlationID": e.CorrelationID,
	})

	switch e.EventType {
	case domain.OrderEventType_Created:
		log.Info("SAGA:ORDER_CREATED")
		return nil
	case domain.OrderEventType_Cancelled, domain.OrderEventType_Failed:
		res, err := c.refunder.RefundForOrder(ctx, e.OrderID, refundReason(e))
		if err != nil {
			log.Errorf("SAGA:COMPENSATION:FAILED %v", err)
			return err
		}
		if res.Refunded {
			log.WithField("paymentID", res.Payment.ID).Info("SAGA:COMPENSATED")
		} else {
			log.Info("SAGA:NOTHING_TO_COMPENSATE")
		}
		return nil
	default:
		log.Warn("SAGA:UNKNOWN_EVENT")
		return nil
	}
}

func refundReason(e *domain.OrderEvent) string {
	reason := "order " + string(e.EventType)
	if e.Reason != "" {
		reason += ": " + e.Reason
	}
	return reason
}
