package pkgkafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	pkgerrors "github.com/k-code-yt/payment-saga/pkg/errors"
	"github.com/k-code-yt/payment-saga/pkg/resilience"
	"github.com/sirupsen/logrus"
)

type MsgHandler func(ctx context.Context, msg *kafka.Message) error

type Publisher interface {
	Publish(ctx context.Context, msg *OutboundMessage) error
}

type ConsumerOptions struct {
	Topics []string
	Retry  resilience.RetryConfig
	// DLQTopic receives messages that still fail after Retry. Without it a
	// failed offset is never committed.
	DLQTopic string
	DLQ      Publisher
	// IsPermanent marks errors that skip retries and go straight to the DLQ.
	IsPermanent func(error) bool
	OnResult    func(msg *kafka.Message, state MsgState)
}

func DefaultIsPermanent(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodeValidation) || pkgerrors.IsCode(err, pkgerrors.CodeJSONParsing)
}

type KafkaConsumer struct {
	ID           string
	consumer     *kafka.Consumer
	cfg          *KafkaConfig
	opts         ConsumerOptions
	handler      MsgHandler
	msgsStateMap map[int32]*PartitionState
	Mu           *sync.RWMutex
	ctx          context.Context
}

func NewKafkaConsumer(cfg *KafkaConfig, handler MsgHandler, opts ConsumerOptions) (*KafkaConsumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":               cfg.Host,
		"group.id":                        cfg.ConsumerGroup,
		"enable.auto.commit":              false,
		"auto.offset.reset":               "earliest",
		"go.application.rebalance.enable": true,
		"partition.assignment.strategy":   cfg.ParititionAssignStrategy,
	})
	if err != nil {
		return nil, err
	}
	if opts.IsPermanent == nil {
		opts.IsPermanent = DefaultIsPermanent
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = resilience.DefaultRetryConfig
	}

	consumer := &KafkaConsumer{
		ID:           uuid.NewString(),
		consumer:     c,
		cfg:          cfg,
		opts:         opts,
		handler:      handler,
		msgsStateMap: map[int32]*PartitionState{},
		Mu:           new(sync.RWMutex),
		ctx:          context.Background(),
	}

	err = c.SubscribeTopics(opts.Topics, consumer.rebalanceCB)
	if err != nil {
		c.Close()
		return nil, err
	}
	return consumer, nil
}

// Run polls until ctx is cancelled, then drains partition workers, commits
// what was processed and closes the consumer.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	c.ctx = ctx
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, err := c.consumer.ReadMessage(time.Second)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.IsTimeout() {
				continue
			}
			logrus.WithField("consumer", c.ID).Errorf("Consumer error: %v", err)
			if errors.As(err, &kerr) && kerr.IsFatal() {
				return err
			}
			continue
		}
		if msg == nil {
			continue
		}

		c.Mu.RLock()
		prtnState := c.msgsStateMap[msg.TopicPartition.Partition]
		c.Mu.RUnlock()
		if prtnState == nil {
			logrus.Errorf("State is missing for PRTN %d", msg.TopicPartition.Partition)
			continue
		}
		prtnState.Enqueue(ctx, msg)
	}
}

func (c *KafkaConsumer) IsReady() bool {
	assignment, err := c.consumer.Assignment()
	if err != nil {
		return false
	}
	return len(assignment) > 0
}

func (c *KafkaConsumer) shutdown() {
	c.Mu.Lock()
	toCommit := []kafka.TopicPartition{}
	for id, ps := range c.msgsStateMap {
		ps.Stop()
		if tp, err := ps.FindLatestToCommit(); err == nil {
			toCommit = append(toCommit, *tp)
		}
		delete(c.msgsStateMap, id)
	}
	c.Mu.Unlock()

	if len(toCommit) > 0 {
		if _, err := c.consumer.CommitOffsets(toCommit); err != nil {
			logrus.Errorf("Failed to commit on shutdown: %v", err)
		}
	}
	if err := c.consumer.Close(); err != nil {
		logrus.Errorf("Failed to close consumer: %v", err)
	}
	logrus.WithField("consumer", c.ID).Info("CONSUMER:CLOSED")
}

func (c *KafkaConsumer) process(ctx context.Context, msg *kafka.Message) MsgState {
	_, err := resilience.Retry(ctx, c.opts.Retry, func(err error) bool { return !c.opts.IsPermanent(err) }, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.handler(ctx, msg)
	})
	state := c.resolveState(ctx, msg, err)
	if c.opts.OnResult != nil {
		c.opts.OnResult(msg, state)
	}
	return state
}

func (c *KafkaConsumer) resolveState(ctx context.Context, msg *kafka.Message, err error) MsgState {
	if err == nil {
		return MsgState_Success
	}
	if ctx.Err() != nil {
		return MsgState_Pending
	}

	fields := logrus.Fields{
		"PRTN":   msg.TopicPartition.Partition,
		"OFFSET": msg.TopicPartition.Offset,
		"KEY":    string(msg.Key),
	}
	if c.opts.DLQ == nil || c.opts.DLQTopic == "" {
		logrus.WithFields(fields).Errorf("MSG:FAILED %v", err)
		return MsgState_Error
	}

	dlqErr := c.opts.DLQ.Publish(ctx, deadLetter(c.opts.DLQTopic, msg, err))
	if dlqErr != nil {
		logrus.WithFields(fields).Errorf("MSG:DLQ:FAILED %v (handler err: %v)", dlqErr, err)
		return MsgState_Error
	}
	logrus.WithFields(fields).Warnf("MSG:DEAD_LETTERED %v", err)
	return MsgState_DeadLettered
}

func deadLetter(topic string, msg *kafka.Message, cause error) *OutboundMessage {
	headers := make(map[string]string, len(msg.Headers)+4)
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	headers[Header_Error] = cause.Error()
	if msg.TopicPartition.Topic != nil {
		headers[Header_OriginTopic] = *msg.TopicPartition.Topic
	}
	headers[Header_OriginPrtn] = strconv.Itoa(int(msg.TopicPartition.Partition))
	headers[Header_OriginOffset] = msg.TopicPartition.Offset.String()
	return &OutboundMessage{
		Topic:   topic,
		Key:     string(msg.Key),
		Value:   msg.Value,
		Headers: headers,
	}
}

func (c *KafkaConsumer) assignPrntCB(ev *kafka.AssignedPartitions) error {
	committed, err := c.consumer.Committed(ev.Partitions, 5000)
	if err != nil {
		logrus.Errorf("Failed to get committed offsets: %v", err)
		committed = ev.Partitions
	}

	c.Mu.Lock()
	for _, tp := range committed {
		logrus.WithFields(logrus.Fields{
			"PRTN":         tp.Partition,
			"START_OFFSET": tp.Offset,
		}).Info("Assigned partition")

		tpCopy := kafka.TopicPartition{
			Topic:     tp.Topic,
			Partition: tp.Partition,
			Offset:    tp.Offset,
		}
		commitFunc := func(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error) {
			return c.consumer.CommitOffsets(offsets)
		}
		if oldPS, exists := c.msgsStateMap[tp.Partition]; exists {
			oldPS.Stop()
		}
		prtnState := NewPartitionState(c.ctx, &tpCopy, commitFunc, c.cfg.PartitionBuffer)
		c.msgsStateMap[tp.Partition] = prtnState
		prtnState.Start(c.cfg.CommitInterval, c.process)
	}
	c.Mu.Unlock()

	if c.cfg.ParititionAssignStrategy == "cooperative-sticky" {
		err = c.consumer.IncrementalAssign(ev.Partitions)
	} else {
		err = c.consumer.Assign(ev.Partitions)
	}
	if err != nil {
		logrus.Errorf("Failed to assign partitions: %v", err)
		return err
	}

	logrus.WithFields(logrus.Fields{
		"count":      len(ev.Partitions),
		"partitions": formatPartitions(ev.Partitions),
	}).Info("Successfully assigned partitions")
	return nil
}

func (c *KafkaConsumer) revokePrtnCB(ev *kafka.RevokedPartitions) error {
	var toCommit []kafka.TopicPartition
	for _, tp := range ev.Partitions {
		logrus.WithField("PRTN", tp.Partition).Info("Revoking partition")

		c.Mu.Lock()
		partitionState, exists := c.msgsStateMap[tp.Partition]
		delete(c.msgsStateMap, tp.Partition)
		c.Mu.Unlock()
		if !exists {
			continue
		}
		partitionState.Stop()

		latestToCommit, err := partitionState.FindLatestToCommit()
		if err != nil {
			continue
		}
		toCommit = append(toCommit, *latestToCommit)
	}

	if len(toCommit) > 0 {
		_, err := c.consumer.CommitOffsets(toCommit)
		if err != nil {
			logrus.Errorf("Failed to commit on revoke: %v", err)
		} else {
			logrus.WithField("partitions", formatPartitions(toCommit)).Info("Committed before revoke")
		}
	}

	var err error
	if c.cfg.ParititionAssignStrategy == "cooperative-sticky" {
		err = c.consumer.IncrementalUnassign(ev.Partitions)
	} else {
		err = c.consumer.Unassign()
	}
	if err != nil {
		logrus.Errorf("Failed to unassign partitions: %v", err)
		return err
	}

	logrus.Infof("Successfully revoked %d partitions", len(ev.Partitions))
	return nil
}

func (c *KafkaConsumer) rebalanceCB(_ *kafka.Consumer, event kafka.Event) error {
	switch ev := event.(type) {
	case kafka.AssignedPartitions:
		return c.assignPrntCB(&ev)
	case kafka.RevokedPartitions:
		return c.revokePrtnCB(&ev)
	default:
		logrus.Warnf("Unexpected event type: %T", ev)
	}
	return nil
}

func formatPartitions(partitions []kafka.TopicPartition) string {
	parts := make([]string, len(partitions))
	for i, p := range partitions {
		parts[i] = fmt.Sprintf("%d@%d", p.Partition, p.Offset)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
