package pkgkafka

import (
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

type KafkaEncoder string

const (
	KafkaEncoder_JSON  KafkaEncoder = "json"
	KafkaEncoder_AVRO  KafkaEncoder = "avro"
	KafkaEncoder_PROTO KafkaEncoder = "proto"
)

type Decoder func(metadata *kafka.TopicPartition, data []byte, target any) error

// Mappable values can be turned into the generic form used by the Avro and
// Proto encoders.
type Mappable interface {
	ToMap() map[string]any
}

type MsgEncoder interface {
	Encode(topic string, payload any) ([]byte, error)
	Decoder(metadata *kafka.TopicPartition, data []byte, target any) error
	GetType() KafkaEncoder
	ContentType() string
}

type EncoderConfig struct {
	EncoderType KafkaEncoder
	// AvroSchemas maps a topic to its value schema.
	AvroSchemas map[string]string
}

func ParseEncoderType(raw string) (KafkaEncoder, error) {
	switch KafkaEncoder(raw) {
	case KafkaEncoder_JSON, "":
		return KafkaEncoder_JSON, nil
	case KafkaEncoder_AVRO:
		return KafkaEncoder_AVRO, nil
	case KafkaEncoder_PROTO:
		return KafkaEncoder_PROTO, nil
	default:
		return "", fmt.Errorf("unknown encoder %q", raw)
	}
}

func NewMsgEncoder(cfg *EncoderConfig) (MsgEncoder, error) {
	if cfg == nil {
		return NewJsonEncoder(), nil
	}

	switch cfg.EncoderType {
	case KafkaEncoder_AVRO:
		return NewAvroEncoder(cfg.AvroSchemas)
	case KafkaEncoder_PROTO:
		return NewProtoEncoder(), nil
	default:
		return NewJsonEncoder(), nil
	}
}

type JsonEncoder struct {
	msgEncoderType KafkaEncoder
}

func NewJsonEncoder() *JsonEncoder {
	return &JsonEncoder{
		msgEncoderType: KafkaEncoder_JSON,
	}
}

func (e *JsonEncoder) Encode(_ string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return b, nil
}

func (e *JsonEncoder) Decoder(metadata *kafka.TopicPartition, data []byte, target any) error {
	err := json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return nil
}

func (e *JsonEncoder) GetType() KafkaEncoder {
	return e.msgEncoderType
}

func (e *JsonEncoder) ContentType() string {
	return "application/json"
}

func toNative(payload any) (map[string]any, error) {
	switch v := payload.(type) {
	case Mappable:
		return v.ToMap(), nil
	case map[string]any:
		return v, nil
	default:
		return nil, fmt.Errorf("payload %T cannot be converted to a generic record", payload)
	}
}

// fromNative copies a decoded generic record into target through JSON.
// Empty strings are dropped so optional typed fields stay at their zero value.
func fromNative(native map[string]any, target any) error {
	clean := make(map[string]any, len(native))
	for k, v := range native {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		clean[k] = v
	}
	b, err := json.Marshal(clean)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, target)
}
