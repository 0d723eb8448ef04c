package pkgkafka

import (
	"time"
)

type KafkaConfig struct {
	Host                     string
	ConsumerGroup            string
	ParititionAssignStrategy string
	NumPartitions            int
	ReplicationFactor        int
	CommitInterval           time.Duration
	PartitionBuffer          int
	Encoder                  EncoderConfig
}

func NewKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		ParititionAssignStrategy: "cooperative-sticky",
		Host:                     "localhost",
		ConsumerGroup:            "payment_service",
		NumPartitions:            4,
		ReplicationFactor:        1,
		CommitInterval:           5 * time.Second,
		PartitionBuffer:          256,
		Encoder: EncoderConfig{
			EncoderType: KafkaEncoder_JSON,
		},
	}
}

const (
	Header_EventType     = "eventType"
	Header_CorrelationID = "correlationId"
	Header_Timestamp     = "timestamp"
	Header_ContentType   = "contentType"
	Header_Error         = "error"
	Header_OriginTopic   = "originTopic"
	Header_OriginPrtn    = "originPartition"
	Header_OriginOffset  = "originOffset"
)
