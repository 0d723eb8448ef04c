package pkgkafka

import (
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

type MsgState = int32

const (
	MsgState_Pending      MsgState = iota
	MsgState_Success      MsgState = iota
	MsgState_Error        MsgState = iota
	MsgState_DeadLettered MsgState = iota
)

func isCommittable(s MsgState) bool {
	return s == MsgState_Success || s == MsgState_DeadLettered
}

type OutboundMessage struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

func (m *OutboundMessage) toKafka() *kafka.Message {
	topic := m.Topic
	km := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          m.Value,
	}
	if m.Key != "" {
		km.Key = []byte(m.Key)
	}
	for k, v := range m.Headers {
		km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return km
}

func HeaderValue(msg *kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
