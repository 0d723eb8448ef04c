package outbox

const PaymentEventSchema = `{
	"type": "record",
	"name": "PaymentEvent",
	"namespace": "payment.v1",
	"fields": [
		{"name": "eventId", "type": "string"},
		{"name": "eventType", "type": "string"},
		{"name": "paymentId", "type": "string"},
		{"name": "orderId", "type": "string"},
		{"name": "customerId", "type": "string"},
		{"name": "status", "type": "string"},
		{"name": "amount", "type": "string"},
		{"name": "currency", "type": "string"},
		{"name": "attemptCount", "type": "int"},
		{"name": "errorCode", "type": "string", "default": ""},
		{"name": "refundAmount", "type": "string", "default": ""},
		{"name": "correlationId", "type": "string"},
		{"name": "occurredAt", "type": "string"}
	]
}`

const OrderEventSchema = `{
	"type": "record",
	"name": "OrderEvent",
	"namespace": "order.v1",
	"fields": [
		{"name": "eventId", "type": "string"},
		{"name": "eventType", "type": "string"},
		{"name": "orderId", "type": "string"},
		{"name": "customerId", "type": "string", "default": ""},
		{"name": "reason", "type": "string", "default": ""},
		{"name": "correlationId", "type": "string", "default": ""},
		{"name": "occurredAt", "type": "string"}
	]
}`

// AvroSchemas maps the service topics to their value schemas. The dead-letter
// topic carries the original order event bytes.
func AvroSchemas(paymentTopic, orderTopic, dlqTopic string) map[string]string {
	schemas := map[string]string{
		paymentTopic: PaymentEventSchema,
		orderTopic:   OrderEventSchema,
	}
	if dlqTopic != "" {
		schemas[dlqTopic] = OrderEventSchema
	}
	return schemas
}
