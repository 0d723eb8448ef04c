package pkgkafka

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"
)

type KafkaProducer struct {
	producer *kafka.Producer
}

// NewKafkaProducer creates an idempotent producer. Publish waits for the
// broker acknowledgement of every message.
func NewKafkaProducer(cfg *KafkaConfig) (*KafkaProducer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Host,
		"enable.idempotence": true,
		"acks":               "all",
		"linger.ms":          5,
	})
	if err != nil {
		return nil, err
	}

	go func() {
		for e := range p.Events() {
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					logrus.WithFields(logrus.Fields{
						"TOPIC_PRTN": ev.TopicPartition,
					}).Error("Delivery failed")
				}
			case kafka.Error:
				logrus.WithField("code", ev.Code()).Errorf("PRODUCER:ERROR %v", ev)
			}
		}
	}()

	return &KafkaProducer{
		producer: p,
	}, nil
}

func (p *KafkaProducer) Publish(ctx context.Context, msg *OutboundMessage) error {
	deliveryCH := make(chan kafka.Event, 1)
	err := p.producer.Produce(msg.toKafka(), deliveryCH)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-deliveryCH:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %T", e)
		}
		if m.TopicPartition.Error != nil {
			return m.TopicPartition.Error
		}
		logrus.WithFields(logrus.Fields{
			"TOPIC":  msg.Topic,
			"KEY":    msg.Key,
			"PRTN":   m.TopicPartition.Partition,
			"OFFSET": m.TopicPartition.Offset,
		}).Debug("Delivery success")
		return nil
	}
}

func (p *KafkaProducer) Close() {
	remaining := p.producer.Flush(5000)
	if remaining > 0 {
		logrus.WithField("remaining", remaining).Warn("PRODUCER:FLUSH:INCOMPLETE")
	}
	p.producer.Close()
}
