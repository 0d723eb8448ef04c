package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/k-code-yt/payment-saga/internal/payment/domain"
	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
	pkgkafka "github.com/k-code-yt/payment-saga/pkg/kafka"
	"github.com/k-code-yt/payment-saga/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCompensator struct {
	mock.Mock
}

func (m *mockCompensator) HandleOrderEvent(ctx context.Context, e *domain.OrderEvent) error {
	return m.Called(ctx, e).Error(0)
}

func kafkaMsg(t *testing.T, value []byte, headers ...kafka.Header) *kafka.Message {
	t.Helper()
	topic := "order-events"
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 1, Offset: 7},
		Value:          value,
		Headers:        headers,
	}
}

func TestRouterDispatchesOrderEvents(t *testing.T) {
	m := metrics.New()
	r := NewMsgRouter(pkgkafka.NewJsonEncoder(), m)
	comp := new(mockCompensator)
	Register(r, comp)

	comp.On("HandleOrderEvent", mock.Anything, mock.MatchedBy(func(e *domain.OrderEvent) bool {
		return e.OrderID == "o-1" && e.EventType == domain.OrderEventType_Cancelled && e.CorrelationID == "corr-1"
	})).Return(nil).Once()

	payload, err := json.Marshal(&domain.OrderEvent{
		EventID:    "e-1",
		EventType:  domain.OrderEventType_Cancelled,
		OrderID:    "o-1",
		OccurredAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	err = r.Route(context.Background(), kafkaMsg(t, payload, kafka.Header{Key: pkgkafka.Header_CorrelationID, Value: []byte("corr-1")}))
	require.NoError(t, err)
	comp.AssertExpectations(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConsumerHandled.WithLabelValues("ORDER_CANCELLED", "ok")))
}

func TestRouterUsesHeaderEventType(t *testing.T) {
	r := NewMsgRouter(pkgkafka.NewJsonEncoder(), metrics.New())
	comp := new(mockCompensator)
	Register(r, comp)
	comp.On("HandleOrderEvent", mock.Anything, mock.MatchedBy(func(e *domain.OrderEvent) bool {
		return e.EventType == domain.OrderEventType_Failed
	})).Return(nil).Once()

	msg := kafkaMsg(t, []byte(`{"orderId":"o-2"}`), kafka.Header{Key: pkgkafka.Header_EventType, Value: []byte("ORDER_FAILED")})
	require.NoError(t, r.Route(context.Background(), msg))
	comp.AssertExpectations(t)
}

func TestRouterRejectsBadMessages(t *testing.T) {
	r := NewMsgRouter(pkgkafka.NewJsonEncoder(), metrics.New())
	comp := new(mockCompensator)
	Register(r, comp)

	err := r.Route(context.Background(), kafkaMsg(t, []byte(`{not json`)))
	assert.ErrorIs(t, err, pkgerrors.ErrJSONParsing)

	err = r.Route(context.Background(), kafkaMsg(t, []byte(`{"eventType":"ORDER_CANCELLED"}`)))
	assert.ErrorIs(t, err, pkgerrors.ErrValidation)
	comp.AssertNotCalled(t, "HandleOrderEvent", mock.Anything, mock.Anything)
}

func TestRouterIgnoresUnknownEvents(t *testing.T) {
	m := metrics.New()
	r := NewMsgRouter(pkgkafka.NewJsonEncoder(), m)
	Register(r, new(mockCompensator))

	err := r.Route(context.Background(), kafkaMsg(t, []byte(`{"eventType":"ORDER_SHIPPED","orderId":"o-3"}`)))
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConsumerHandled.WithLabelValues("ORDER_SHIPPED", "ignored")))
}
