package pkgkafka

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"
)

var errNothingToCommit = errors.New("nothing to commit")

type CommitFunc func([]kafka.TopicPartition) ([]kafka.TopicPartition, error)

type ProcessFunc func(ctx context.Context, msg *kafka.Message) MsgState

// PartitionState tracks every received offset of one partition and owns the
// worker that processes the partition's messages in order.
type PartitionState struct {
	ID           int32
	Topic        *string
	State        map[kafka.Offset]MsgState
	MaxReceived  *kafka.TopicPartition
	Mu           *sync.RWMutex
	LastCommited kafka.Offset
	nextCommit   kafka.Offset
	commitFunc   CommitFunc
	msgCH        chan *kafka.Message

	ctx          context.Context
	Cancel       context.CancelFunc
	ExitCH       chan struct{}
	workerExitCH chan struct{}
	startOnce    sync.Once
	stopOnce     sync.Once
	started      bool
}

func NewPartitionState(parent context.Context, tp *kafka.TopicPartition, commitFunc CommitFunc, buffer int) *PartitionState {
	ctx, cancel := context.WithCancel(parent)
	lastCommited := tp.Offset
	if lastCommited < 0 {
		lastCommited = kafka.OffsetInvalid
	}
	if buffer <= 0 {
		buffer = 1
	}
	return &PartitionState{
		ID:           tp.Partition,
		Topic:        tp.Topic,
		Mu:           &sync.RWMutex{},
		State:        map[kafka.Offset]MsgState{},
		MaxReceived:  nil,
		LastCommited: lastCommited,
		nextCommit:   lastCommited,
		commitFunc:   commitFunc,
		msgCH:        make(chan *kafka.Message, buffer),

		ctx:          ctx,
		Cancel:       cancel,
		ExitCH:       make(chan struct{}),
		workerExitCH: make(chan struct{}),
	}
}

func (ps *PartitionState) Start(commitDur time.Duration, process ProcessFunc) {
	ps.startOnce.Do(func() {
		ps.started = true
		go ps.commitOffsetLoop(commitDur)
		go ps.processLoop(process)
	})
}

// Stop halts the worker after the message in flight and waits for both loops.
func (ps *PartitionState) Stop() {
	ps.stopOnce.Do(func() {
		ps.Cancel()
		if ps.started {
			<-ps.workerExitCH
			<-ps.ExitCH
		}
	})
}

// Enqueue records msg as pending and hands it to the partition worker.
func (ps *PartitionState) Enqueue(ctx context.Context, msg *kafka.Message) bool {
	ps.Track(msg.TopicPartition.Offset)
	select {
	case ps.msgCH <- msg:
		return true
	case <-ps.ctx.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

func (ps *PartitionState) Track(offset kafka.Offset) {
	ps.Mu.Lock()
	defer ps.Mu.Unlock()
	ps.State[offset] = MsgState_Pending
	if ps.MaxReceived == nil || ps.MaxReceived.Offset < offset {
		ps.MaxReceived = &kafka.TopicPartition{
			Topic:     ps.Topic,
			Partition: ps.ID,
			Offset:    offset,
		}
	}
}

func (ps *PartitionState) UpdateState(offset kafka.Offset, newState MsgState) {
	ps.Mu.Lock()
	defer ps.Mu.Unlock()
	if _, ok := ps.State[offset]; !ok {
		return
	}
	ps.State[offset] = newState
}

func (ps *PartitionState) ReadOffset(offset kafka.Offset) (MsgState, bool) {
	ps.Mu.RLock()
	defer ps.Mu.RUnlock()

	state, exists := ps.State[offset]
	return state, exists
}

func (ps *PartitionState) processLoop(process ProcessFunc) {
	defer close(ps.workerExitCH)
	for {
		select {
		case <-ps.ctx.Done():
			return
		case msg := <-ps.msgCH:
			state := process(ps.ctx, msg)
			ps.UpdateState(msg.TopicPartition.Offset, state)
		}
	}
}

func (ps *PartitionState) commitOffsetLoop(commitDur time.Duration) {
	ticker := time.NewTicker(commitDur)
	defer func() {
		close(ps.ExitCH)
		ticker.Stop()
	}()
	for {
		select {
		case <-ticker.C:
			if err := ps.Commit(); err != nil && !errors.Is(err, errNothingToCommit) {
				logrus.WithField("PRTN", ps.ID).Errorf("COMMIT:FAILED %v", err)
			}
		case <-ps.ctx.Done():
			return
		}
	}
}

// Commit commits the highest contiguous processed offset, if any.
func (ps *PartitionState) Commit() error {
	latestToCommit, err := ps.FindLatestToCommit()
	if err != nil {
		return err
	}
	_, err = ps.commitFunc([]kafka.TopicPartition{*latestToCommit})
	if err != nil {
		return err
	}

	ps.Mu.Lock()
	if latestToCommit.Offset > ps.LastCommited {
		ps.LastCommited = latestToCommit.Offset
	}
	ps.Mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"COMMITED_OFFSET": latestToCommit.Offset,
		"PRTN":            ps.ID,
	}).Debug("Commited")
	return nil
}

// FindLatestToCommit walks received offsets in order, dropping processed ones,
// and stops at the first offset still pending or failed. The returned offset
// is the next one to consume, as Kafka expects.
func (ps *PartitionState) FindLatestToCommit() (*kafka.TopicPartition, error) {
	ps.Mu.Lock()
	defer ps.Mu.Unlock()

	if ps.MaxReceived == nil {
		return nil, errNothingToCommit
	}

	offsets := make([]kafka.Offset, 0, len(ps.State))
	for o := range ps.State {
		offsets = append(offsets, o)
	}
	slices.Sort(offsets)

	for _, offset := range offsets {
		if !isCommittable(ps.State[offset]) {
			break
		}
		delete(ps.State, offset)
		ps.nextCommit = offset + 1
	}

	commitTo := max(ps.nextCommit, ps.LastCommited)

	if commitTo <= ps.LastCommited || commitTo < 0 {
		return nil, errNothingToCommit
	}
	return &kafka.TopicPartition{
		Topic:     ps.Topic,
		Partition: ps.ID,
		Offset:    commitTo,
	}, nil
}
