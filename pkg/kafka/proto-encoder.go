package pkgkafka

import (
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoEncoder writes records as google.protobuf.Struct messages.
type ProtoEncoder struct {
	msgEncoderType KafkaEncoder
}

func NewProtoEncoder() *ProtoEncoder {
	return &ProtoEncoder{
		msgEncoderType: KafkaEncoder_PROTO,
	}
}

func (e *ProtoEncoder) Encode(_ string, payload any) ([]byte, error) {
	native, err := toNative(payload)
	if err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(native)
	if err != nil {
		return nil, fmt.Errorf("proto conversion error: %w", err)
	}
	return proto.Marshal(s)
}

func (e *ProtoEncoder) Decoder(metadata *kafka.TopicPartition, data []byte, target any) error {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return fmt.Errorf("Deserialization error: %w", err)
	}
	return fromNative(s.AsMap(), target)
}

func (e *ProtoEncoder) GetType() KafkaEncoder {
	return e.msgEncoderType
}

func (e *ProtoEncoder) ContentType() string {
	return "application/x-protobuf"
}
