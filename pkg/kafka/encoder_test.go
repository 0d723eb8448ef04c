package pkgkafka

import (
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
	"type": "record",
	"name": "OrderEvent",
	"fields": [
		{"name": "eventType", "type": "string"},
		{"name": "orderId", "type": "string"},
		{"name": "reason", "type": "string"},
		{"name": "attempt", "type": "int"}
	]
}`

type testEvent struct {
	EventType string `json:"eventType"`
	OrderID   string `json:"orderId"`
	Reason    string `json:"reason,omitempty"`
	Attempt   int    `json:"attempt"`
}

func (e testEvent) ToMap() map[string]any {
	return map[string]any{
		"eventType": e.EventType,
		"orderId":   e.OrderID,
		"reason":    e.Reason,
		"attempt":   e.Attempt,
	}
}

func TestEncodersRoundTrip(t *testing.T) {
	topic := "order-events"
	in := testEvent{EventType: "ORDER_CANCELLED", OrderID: "o-1", Attempt: 2}

	for _, kind := range []KafkaEncoder{KafkaEncoder_JSON, KafkaEncoder_AVRO, KafkaEncoder_PROTO} {
		t.Run(string(kind), func(t *testing.T) {
			enc, err := NewMsgEncoder(&EncoderConfig{EncoderType: kind, AvroSchemas: map[string]string{topic: testSchema}})
			require.NoError(t, err)
			assert.Equal(t, kind, enc.GetType())

			b, err := enc.Encode(topic, in)
			require.NoError(t, err)

			out := testEvent{}
			require.NoError(t, enc.Decoder(&kafka.TopicPartition{Topic: &topic}, b, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestAvroUnknownTopic(t *testing.T) {
	enc, err := NewAvroEncoder(nil)
	require.NoError(t, err)
	_, err = enc.Encode("missing", testEvent{})
	assert.Error(t, err)
}

func TestInvalidAvroSchema(t *testing.T) {
	_, err := NewAvroEncoder(map[string]string{"t": "{not json"})
	assert.Error(t, err)
}

func TestParseEncoderType(t *testing.T) {
	e, err := ParseEncoderType("")
	require.NoError(t, err)
	assert.Equal(t, KafkaEncoder_JSON, e)
	_, err = ParseEncoderType("xml")
	assert.Error(t, err)
}
