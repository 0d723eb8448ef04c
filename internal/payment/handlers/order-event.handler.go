package handlers

import (
	"context"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/k-code-yt/payment-saga/internal/payment/domain"
	"github.com/sirupsen/logrus"
)

type OrderEventCompensator interface {
	HandleOrderEvent(ctx context.Context, e *domain.OrderEvent) error
}

func NewOrderEventHandler(c OrderEventCompensator) Handler {
	return func(ctx context.Context, event *domain.OrderEvent, metadata *kafka.TopicPartition) error {
		logrus.WithFields(logrus.Fields{
			"eventType": event.EventType,
			"orderID":   event.OrderID,
			"PRTN":      metadata.Partition,
			"OFFSET":    metadata.Offset,
		}).Debug("ROUTER:ORDER_EVENT")
		return c.HandleOrderEvent(ctx, event)
	}
}

// Register binds every order event the payment saga reacts to.
func Register(r *MsgRouter, c OrderEventCompensator) {
	r.AddHandler(NewOrderEventHandler(c),
		domain.OrderEventType_Created,
		domain.OrderEventType_Cancelled,
		domain.OrderEventType_Failed,
	)
}
