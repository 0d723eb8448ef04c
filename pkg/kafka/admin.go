package pkgkafka

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"
)

// EnsureTopics creates missing topics and waits until every partition has a leader.
func EnsureTopics(ctx context.Context, cfg *KafkaConfig, topics ...string) error {
	adminClient, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Host,
	})
	if err != nil {
		return err
	}
	defer adminClient.Close()

	specs := make([]kafka.TopicSpecification, 0, len(topics))
	for _, t := range topics {
		specs = append(specs, kafka.TopicSpecification{
			Topic:             t,
			NumPartitions:     cfg.NumPartitions,
			ReplicationFactor: cfg.ReplicationFactor,
		})
	}

	createCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	results, err := adminClient.CreateTopics(createCtx, specs)
	if err != nil {
		return err
	}

	for _, result := range results {
		if result.Error.Code() == kafka.ErrTopicAlreadyExists {
			logrus.WithField("topic", result.Topic).Info("Topic already exists")
			continue
		}
		if result.Error.Code() != kafka.ErrNoError {
			return fmt.Errorf("failed to create topic %s: %v", result.Topic, result.Error)
		}
		logrus.WithField("topic", result.Topic).Info("Topic created")
	}

	for _, t := range topics {
		if err := waitForTopicReady(ctx, adminClient, t); err != nil {
			return err
		}
	}
	return nil
}

func waitForTopicReady(ctx context.Context, adminClient *kafka.AdminClient, topicName string) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		metadata, err := adminClient.GetMetadata(&topicName, false, 5000)
		if err != nil {
			logrus.Errorf("Metadata fetch failed %v", err)
			continue
		}

		topicMeta, exists := metadata.Topics[topicName]
		if !exists || len(topicMeta.Partitions) == 0 {
			continue
		}

		allPartitionsReady := true
		for _, partition := range topicMeta.Partitions {
			if partition.Error.Code() != kafka.ErrNoError || partition.Leader == -1 {
				allPartitionsReady = false
				break
			}
		}

		logrus.WithFields(logrus.Fields{
			"topic":          topicName,
			"IS_INITIALIZED": allPartitionsReady,
		}).Info("Topic status")

		if allPartitionsReady {
			return nil
		}
	}
}
