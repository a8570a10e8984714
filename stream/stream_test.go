package stream

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vx-labs/perch/commitlog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPartitionFor(t *testing.T) {
	require.Equal(t, uint32(1), PartitionFor([]byte("test"), 2))
	require.Equal(t, uint32(0), PartitionFor([]byte("testa"), 2))
}

func openPartition(t *testing.T, count int) commitlog.Partition {
	config := commitlog.DefaultConfig()
	config.SegmentMaxMessages = 8
	p, err := commitlog.Open(t.TempDir(), 0, config, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	for idx := 0; idx < count; idx++ {
		_, err := p.Append([]*commitlog.Message{commitlog.NewMessage([]byte(fmt.Sprintf("%d", idx)))})
		require.NoError(t, err)
	}
	return p
}

type memoryCommitter struct {
	offsets []uint64
}

func (m *memoryCommitter) Commit(ctx context.Context, next uint64) error {
	m.offsets = append(m.offsets, next)
	return nil
}

func TestConsumer(t *testing.T) {
	p := openPartition(t, 25)
	ctx := context.Background()

	t.Run("should consume the whole source", func(t *testing.T) {
		committer := &memoryCommitter{}
		count := 0
		err := NewConsumer(WithEOFBehaviour(EOFBehaviourExit), WithMaxBatchSize(10), WithCommitter(committer),
			WithPerformanceLogging(WallClock(), zap.NewNop()), WithName("test")).
			Consume(ctx, p, func(_ context.Context, batch Batch) error {
				require.Equal(t, uint64(count), batch.FirstOffset)
				require.Equal(t, fmt.Sprintf("%d", count), string(batch.Records[0].Payload))
				count += len(batch.Records)
				return nil
			})
		require.NoError(t, err)
		require.Equal(t, 25, count)
		require.Equal(t, []uint64{10, 20, 25}, committer.offsets)
	})
	t.Run("should start relatively to the end", func(t *testing.T) {
		records := []string{}
		err := NewConsumer(WithEOFBehaviour(EOFBehaviourExit), FromOffset(-3)).
			Consume(ctx, p, func(_ context.Context, batch Batch) error {
				for _, record := range batch.Records {
					records = append(records, string(record.Payload))
				}
				return nil
			})
		require.NoError(t, err)
		require.Equal(t, []string{"22", "23", "24"}, records)
	})
	t.Run("should stop after the requested record count", func(t *testing.T) {
		count := 0
		err := NewConsumer(FromOffset(5), WithMaxRecordCount(12), WithMaxBatchSize(5)).
			Consume(ctx, p, func(_ context.Context, batch Batch) error {
				count += len(batch.Records)
				return nil
			})
		require.NoError(t, err)
		require.Equal(t, 12, count)
	})
	t.Run("should return processor errors", func(t *testing.T) {
		failure := errors.New("failure")
		err := NewConsumer(WithEOFBehaviour(EOFBehaviourExit)).
			Consume(ctx, p, func(_ context.Context, batch Batch) error {
				return failure
			})
		require.Equal(t, failure, err)
	})
	t.Run("should poll for new records", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		received := make(chan string, 1)
		done := make(chan error)
		go func() {
			done <- NewConsumer(FromOffset(25), WithPollInterval(10*time.Millisecond)).
				Consume(ctx, p, func(_ context.Context, batch Batch) error {
					received <- string(batch.Records[0].Payload)
					cancel()
					return nil
				})
		}()
		_, err := p.Append([]*commitlog.Message{commitlog.NewMessage([]byte("late"))})
		require.NoError(t, err)
		require.Equal(t, "late", <-received)
		require.NoError(t, <-done)
	})
}

func TestPerformanceLogging(t *testing.T) {
	p := openPartition(t, 5)
	core, logs := observer.New(zapcore.DebugLevel)
	consumer := NewConsumer(WithEOFBehaviour(EOFBehaviourExit), FromOffset(0), WithMaxBatchSize(10),
		WithName("test"), WithPerformanceLogging(WallClock(), zap.New(core)))
	for i := 0; i < 3; i++ {
		require.NoError(t, consumer.Consume(context.Background(), p, func(_ context.Context, batch Batch) error {
			return nil
		}))
	}
	entries := logs.FilterMessage("stream processed").All()
	require.Len(t, entries, 3)
	for _, entry := range entries {
		names := 0
		for _, field := range entry.Context {
			if field.Key == "consumer_name" {
				names++
			}
		}
		require.Equal(t, 1, names)
	}
}

func TestLateness(t *testing.T) {
	require.Equal(t, time.Duration(0), lateness(10, 20))
	require.Equal(t, 5*time.Microsecond, lateness(25, 20))
}
