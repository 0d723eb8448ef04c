package pkgkafka

import (
	"fmt"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	goavro "github.com/linkedin/goavro/v2"
)

type AvroSchemaCache struct {
	mu     *sync.RWMutex
	codecs map[string]*goavro.Codec
}

func NewAvroSchemaCache() *AvroSchemaCache {
	return &AvroSchemaCache{
		mu:     new(sync.RWMutex),
		codecs: make(map[string]*goavro.Codec),
	}
}

func (sc *AvroSchemaCache) Register(topic, schema string) error {
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return fmt.Errorf("invalid avro schema for %s: %w", topic, err)
	}
	sc.mu.Lock()
	sc.codecs[topic] = codec
	sc.mu.Unlock()
	return nil
}

func (sc *AvroSchemaCache) GetCodec(topic string) (*goavro.Codec, error) {
	sc.mu.RLock()
	codec, ok := sc.codecs[topic]
	sc.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no avro schema registered for topic %s", topic)
	}
	return codec, nil
}

type AvroEncoder struct {
	msgEncoderType KafkaEncoder
	schemaCache    *AvroSchemaCache
}

func NewAvroEncoder(schemas map[string]string) (*AvroEncoder, error) {
	encoder := &AvroEncoder{
		msgEncoderType: KafkaEncoder_AVRO,
		schemaCache:    NewAvroSchemaCache(),
	}
	for topic, schema := range schemas {
		if err := encoder.schemaCache.Register(topic, schema); err != nil {
			return nil, err
		}
	}
	return encoder, nil
}

func (e *AvroEncoder) Encode(topic string, payload any) ([]byte, error) {
	codec, err := e.schemaCache.GetCodec(topic)
	if err != nil {
		return nil, err
	}
	native, err := toNative(payload)
	if err != nil {
		return nil, err
	}
	b, err := codec.BinaryFromNative(nil, native)
	if err != nil {
		return nil, fmt.Errorf("avro serialization error: %w", err)
	}
	return b, nil
}

func (e *AvroEncoder) Decoder(metadata *kafka.TopicPartition, data []byte, target any) error {
	if metadata == nil || metadata.Topic == nil {
		return fmt.Errorf("avro decoding needs the source topic")
	}
	codec, err := e.schemaCache.GetCodec(*metadata.Topic)
	if err != nil {
		return err
	}
	native, _, err := codec.NativeFromBinary(data)
	if err != nil {
		return fmt.Errorf("Deserialization error: %w", err)
	}
	record, ok := native.(map[string]any)
	if !ok {
		return fmt.Errorf("Deserialization error: expected record, got %T", native)
	}
	return fromNative(record, target)
}

func (e *AvroEncoder) GetType() KafkaEncoder {
	return e.msgEncoderType
}

func (e *AvroEncoder) ContentType() string {
	return "application/avro"
}
