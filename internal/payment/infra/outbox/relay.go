package outbox

import (
	"context"
	"time"

	"github.com/k-code-yt/payment-saga/internal/payment/domain"
	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
	pkgkafka "github.com/k-code-yt/payment-saga/pkg/kafka"
	"github.com/k-code-yt/payment-saga/pkg/metrics"
	"github.com/sirupsen/logrus"
)

type RelayConfig struct {
	Topic     string
	Interval  time.Duration
	BatchSize int
}

var DefaultRelayConfig = RelayConfig{
	Topic:     "payment-events",
	Interval:  time.Second,
	BatchSize: 100,
}

// Relay moves committed outbox rows to the broker. Delivery is at least once:
// a crash between publish and mark re-sends the batch.
type Relay struct {
	outbox    domain.Outbox
	publisher pkgkafka.Publisher
	encoder   pkgkafka.MsgEncoder
	metrics   *metrics.Metrics
	cfg       RelayConfig
}

func NewRelay(outbox domain.Outbox, publisher pkgkafka.Publisher, encoder pkgkafka.MsgEncoder, m *metrics.Metrics, cfg RelayConfig) *Relay {
	if cfg.Topic == "" {
		cfg.Topic = DefaultRelayConfig.Topic
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRelayConfig.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultRelayConfig.BatchSize
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		encoder:   encoder,
		metrics:   m,
		cfg:       cfg,
	}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("OUTBOX:RELAY:EXIT")
			return
		case <-ticker.C:
			n, err := r.RelayOnce(ctx)
			if err != nil {
				logrus.WithField("produced", n).Errorf("OUTBOX:RELAY:FAILED %v", err)
				continue
			}
			if n > 0 {
				logrus.WithField("produced", n).Debug("OUTBOX:RELAY:BATCH")
			}
		}
	}
}

func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	return r.outbox.ProcessPending(ctx, r.cfg.BatchSize, r.publish)
}

// publish stops at the first failure so later events of the same order are
// never delivered ahead of an earlier one.
func (r *Relay) publish(ctx context.Context, events []*domain.OutboxEvent) ([]int64, error) {
	produced := make([]int64, 0, len(events))
	for _, e := range events {
		msg, err := r.toMessage(e)
		if err != nil {
			r.metrics.OutboxFailed.Inc()
			return produced, err
		}
		if err := r.publisher.Publish(ctx, msg); err != nil {
			r.metrics.OutboxFailed.Inc()
			logrus.WithFields(logrus.Fields{
				"eventID":   e.EventID,
				"eventType": e.EventType,
				"orderID":   e.PartitionKey,
				"seq":       e.Seq,
			}).Errorf("OUTBOX:PUBLISH:FAILED %v", err)
			return produced, err
		}
		r.metrics.OutboxProduced.Inc()
		produced = append(produced, e.Seq)
	}
	return produced, nil
}

func (r *Relay) toMessage(e *domain.OutboxEvent) (*pkgkafka.OutboundMessage, error) {
	event, err := e.Decode()
	if err != nil {
		return nil, pkgerrors.NewJSONParsingError(err)
	}
	value, err := r.encoder.Encode(r.cfg.Topic, event)
	if err != nil {
		return nil, pkgerrors.NewInternalError("encode payment event", err)
	}
	return &pkgkafka.OutboundMessage{
		Topic: r.cfg.Topic,
		Key:   e.PartitionKey,
		Value: value,
		Headers: map[string]string{
			pkgkafka.Header_EventType:     string(e.EventType),
			pkgkafka.Header_CorrelationID: e.CorrelationID,
			pkgkafka.Header_Timestamp:     e.CreatedAt.UTC().Format(time.RFC3339Nano),
			pkgkafka.Header_ContentType:   r.encoder.ContentType(),
		},
	}, nil
}
