package handlers

import (
	"context"
	"strings"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/k-code-yt/payment-saga/internal/payment/domain"
	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
	pkgkafka "github.com/k-code-yt/payment-saga/pkg/kafka"
	"github.com/k-code-yt/payment-saga/pkg/metrics"
	"github.com/sirupsen/logrus"
)

type Handler func(ctx context.Context, event *domain.OrderEvent, metadata *kafka.TopicPartition) error

// MsgRouter decodes order events and dispatches them by event type. Events
// without a handler are acknowledged and dropped.
type MsgRouter struct {
	handlers map[domain.OrderEventType]Handler
	mu       *sync.RWMutex
	encoder  pkgkafka.MsgEncoder
	metrics  *metrics.Metrics
}

func NewMsgRouter(encoder pkgkafka.MsgEncoder, m *metrics.Metrics) *MsgRouter {
	return &MsgRouter{
		handlers: make(map[domain.OrderEventType]Handler),
		mu:       new(sync.RWMutex),
		encoder:  encoder,
		metrics:  m,
	}
}

func (r *MsgRouter) AddHandler(h Handler, events ...domain.OrderEventType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range events {
		r.handlers[e] = h
	}
}

// Route has the pkgkafka.MsgHandler signature.
func (r *MsgRouter) Route(ctx context.Context, msg *kafka.Message) error {
	event := &domain.OrderEvent{}
	if err := r.encoder.Decoder(&msg.TopicPartition, msg.Value, event); err != nil {
		r.observe("UNKNOWN", "decode_error")
		return pkgerrors.NewJSONParsingError(err)
	}
	if header := pkgkafka.HeaderValue(msg, pkgkafka.Header_EventType); header != "" && event.EventType == "" {
		event.EventType = domain.OrderEventType(header)
	}
	if event.CorrelationID == "" {
		event.CorrelationID = pkgkafka.HeaderValue(msg, pkgkafka.Header_CorrelationID)
	}
	if strings.TrimSpace(event.OrderID) == "" {
		r.observe(string(event.EventType), "invalid")
		return pkgerrors.NewValidationError("order event %s has no orderId", event.EventID)
	}

	handler, ok := r.getHandler(event.EventType)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"eventType": event.EventType,
			"orderID":   event.OrderID,
		}).Debug("ROUTER:NO_HANDLER")
		r.observe(string(event.EventType), "ignored")
		return nil
	}

	if err := handler(ctx, event, &msg.TopicPartition); err != nil {
		r.observe(string(event.EventType), "error")
		return err
	}
	r.observe(string(event.EventType), "ok")
	return nil
}

func (r *MsgRouter) getHandler(eventType domain.OrderEventType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[eventType]
	return h, ok
}

func (r *MsgRouter) observe(eventType, result string) {
	r.metrics.ConsumerHandled.WithLabelValues(eventType, result).Inc()
}
