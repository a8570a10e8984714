package stream

import (
	"context"
	"time"

	"github.com/vx-labs/perch/commitlog"
)

type eofBehaviour int

const (
	// EOFBehaviourPoll will make the consumer poll for new records once it caught up with the source
	EOFBehaviourPoll eofBehaviour = 1 << iota
	// EOFBehaviourExit will make the consumer exit once it caught up with the source
	EOFBehaviourExit eofBehaviour = 1 << iota
)

// Source is a partition the consumer reads records from.
type Source interface {
	Read(offset uint64, limit int) ([]*commitlog.Message, error)
	NextOffset() uint64
}

// ConsumerOpts describes consumer preferences
type ConsumerOpts struct {
	Name         string
	MaxBatchSize int
	// FromOffset is relative to the end of the source when negative.
	FromOffset     int64
	MaxRecordCount int64
	EOFBehaviour   eofBehaviour
	PollInterval   time.Duration
	Middleware     []func(Processor, ConsumerOpts) Processor
}

type Batch struct {
	FirstOffset   uint64
	LastTimestamp uint64
	Records       []*commitlog.Message
}

// NextOffset returns the offset following the last record of the batch.
func (b Batch) NextOffset() uint64 {
	return b.FirstOffset + uint64(len(b.Records))
}

type poller struct {
	offset uint64
	ch     chan Batch
	err    error
}

type Poller interface {
	Ready() <-chan Batch
	Error() error
}

func startOffset(source Source, from int64) uint64 {
	if from >= 0 {
		return uint64(from)
	}
	next := source.NextOffset()
	if uint64(-from) > next {
		return 0
	}
	return next - uint64(-from)
}

func newPoller(ctx context.Context, source Source, opts ConsumerOpts) Poller {
	s := &poller{
		ch:     make(chan Batch),
		offset: startOffset(source, opts.FromOffset),
	}
	go s.run(ctx, source, opts)
	return s
}

// Error returns the error that stopped the poller. It must only be called once Ready is closed.
func (s *poller) Error() error {
	return s.err
}
func (s *poller) Ready() <-chan Batch {
	return s.ch
}
func (s *poller) run(ctx context.Context, source Source, opts ConsumerOpts) {
	defer close(s.ch)
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	var delivered int64
	for {
		count := opts.MaxBatchSize
		if opts.MaxRecordCount >= 0 {
			remaining := opts.MaxRecordCount - delivered
			if remaining <= 0 {
				return
			}
			if remaining < int64(count) {
				count = int(remaining)
			}
		}
		if s.offset >= source.NextOffset() {
			if opts.EOFBehaviour == EOFBehaviourExit {
				return
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
		records, err := source.Read(s.offset, count)
		if err != nil {
			s.err = err
			return
		}
		if len(records) == 0 {
			continue
		}
		batch := Batch{
			FirstOffset:   s.offset,
			LastTimestamp: records[len(records)-1].Timestamp,
			Records:       records,
		}
		select {
		case s.ch <- batch:
			s.offset = batch.NextOffset()
			delivered += int64(len(records))
		case <-ctx.Done():
			return
		}
	}
}
