package pkgkafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type commitRecorder struct {
	mu      sync.Mutex
	commits []kafka.Offset
}

func (r *commitRecorder) commit(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range offsets {
		r.commits = append(r.commits, o.Offset)
	}
	return offsets, nil
}

func (r *commitRecorder) last() kafka.Offset {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.commits) == 0 {
		return kafka.OffsetInvalid
	}
	return r.commits[len(r.commits)-1]
}

func newState(t *testing.T, start kafka.Offset) (*PartitionState, *commitRecorder) {
	t.Helper()
	topic := "order-events"
	rec := &commitRecorder{}
	ps := NewPartitionState(context.Background(), &kafka.TopicPartition{Topic: &topic, Partition: 0, Offset: start}, rec.commit, 8)
	return ps, rec
}

func TestFindLatestToCommitStopsAtPending(t *testing.T) {
	ps, _ := newState(t, kafka.OffsetBeginning)
	for o := kafka.Offset(0); o < 5; o++ {
		ps.Track(o)
	}
	ps.UpdateState(0, MsgState_Success)
	ps.UpdateState(1, MsgState_Success)
	ps.UpdateState(3, MsgState_Success)

	tp, err := ps.FindLatestToCommit()
	require.NoError(t, err)
	assert.Equal(t, kafka.Offset(2), tp.Offset)

	_, pending := ps.ReadOffset(2)
	assert.True(t, pending)
	_, kept := ps.ReadOffset(3)
	assert.True(t, kept)
}

func TestFindLatestToCommitBlocksOnError(t *testing.T) {
	ps, _ := newState(t, 10)
	ps.Track(10)
	ps.Track(11)
	ps.UpdateState(10, MsgState_Error)
	ps.UpdateState(11, MsgState_Success)

	_, err := ps.FindLatestToCommit()
	assert.ErrorIs(t, err, errNothingToCommit)
}

func TestDeadLetteredIsCommittable(t *testing.T) {
	ps, rec := newState(t, 10)
	ps.Track(10)
	ps.Track(12)
	ps.UpdateState(10, MsgState_DeadLettered)
	ps.UpdateState(12, MsgState_Success)

	require.NoError(t, ps.Commit())
	assert.Equal(t, kafka.Offset(13), rec.last())
	assert.Equal(t, kafka.Offset(13), ps.LastCommited)

	assert.ErrorIs(t, ps.Commit(), errNothingToCommit)
}

func TestCommitRetainsProgressAfterFailure(t *testing.T) {
	topic := "order-events"
	fail := true
	var committed kafka.Offset
	ps := NewPartitionState(context.Background(), &kafka.TopicPartition{Topic: &topic, Offset: 0}, func(o []kafka.TopicPartition) ([]kafka.TopicPartition, error) {
		if fail {
			return nil, kafka.NewError(kafka.ErrTransport, "down", false)
		}
		committed = o[0].Offset
		return o, nil
	}, 1)
	ps.Track(0)
	ps.UpdateState(0, MsgState_Success)

	assert.Error(t, ps.Commit())
	fail = false
	require.NoError(t, ps.Commit())
	assert.Equal(t, kafka.Offset(1), committed)
}

func TestWorkerProcessesInOrder(t *testing.T) {
	ps, rec := newState(t, 0)
	topic := "order-events"

	mu := sync.Mutex{}
	seen := []kafka.Offset{}
	ps.Start(10*time.Millisecond, func(ctx context.Context, msg *kafka.Message) MsgState {
		mu.Lock()
		seen = append(seen, msg.TopicPartition.Offset)
		mu.Unlock()
		return MsgState_Success
	})

	for o := kafka.Offset(0); o < 5; o++ {
		ok := ps.Enqueue(context.Background(), &kafka.Message{TopicPartition: kafka.TopicPartition{Topic: &topic, Offset: o}})
		require.True(t, ok)
	}

	assert.Eventually(t, func() bool { return rec.last() == 5 }, time.Second, 5*time.Millisecond)
	ps.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []kafka.Offset{0, 1, 2, 3, 4}, seen)
}

func TestDeadLetterHeaders(t *testing.T) {
	topic := "order-events"
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 2, Offset: 7},
		Key:            []byte("order-1"),
		Value:          []byte("{}"),
		Headers:        []kafka.Header{{Key: Header_EventType, Value: []byte("ORDER_CANCELLED")}},
	}
	out := deadLetter("order-events.dlq", msg, assert.AnError)

	assert.Equal(t, "order-events.dlq", out.Topic)
	assert.Equal(t, "order-1", out.Key)
	assert.Equal(t, "ORDER_CANCELLED", out.Headers[Header_EventType])
	assert.Equal(t, "order-events", out.Headers[Header_OriginTopic])
	assert.Equal(t, "2", out.Headers[Header_OriginPrtn])
	assert.Equal(t, "7", out.Headers[Header_OriginOffset])
	assert.Equal(t, assert.AnError.Error(), out.Headers[Header_Error])

	km := out.toKafka()
	assert.Equal(t, "ORDER_CANCELLED", HeaderValue(km, Header_EventType))
	assert.Equal(t, kafka.PartitionAny, km.TopicPartition.Partition)
}
