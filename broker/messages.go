package broker

import (
	"context"
	"strings"
	"time"

	"github.com/vx-labs/perch/broker/stats"
	"github.com/vx-labs/perch/catalog"
	"github.com/vx-labs/perch/clients"
	"github.com/vx-labs/perch/commitlog"
	"go.uber.org/zap"
)

type Strategy int

const (
	// StrategyOffset reads from the requested offset.
	StrategyOffset Strategy = iota
	// StrategyTimestamp reads from the first message whose timestamp is not older than the requested one.
	StrategyTimestamp
	StrategyFirst
	// StrategyLast reads the last Count messages.
	StrategyLast
	// StrategyNext reads from the consumer group committed offset.
	StrategyNext
)

func (s Strategy) String() string {
	switch s {
	case StrategyOffset:
		return "offset"
	case StrategyTimestamp:
		return "timestamp"
	case StrategyFirst:
		return "first"
	case StrategyLast:
		return "last"
	case StrategyNext:
		return "next"
	default:
		return "unknown"
	}
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "offset":
		return StrategyOffset, nil
	case "timestamp":
		return StrategyTimestamp, nil
	case "first":
		return StrategyFirst, nil
	case "last":
		return StrategyLast, nil
	case "next":
		return StrategyNext, nil
	default:
		return 0, catalog.New(catalog.CodeInvalidCommand)
	}
}

// GroupConsumer identifies a client reading on behalf of a consumer group.
type GroupConsumer struct {
	ClientID uint32
	GroupID  uint32
}

type FetchRequest struct {
	StreamID    uint32
	TopicID     uint32
	PartitionID uint32
	Strategy    Strategy
	// Value is the offset or the timestamp, depending on Strategy.
	Value      uint64
	Consumer   *GroupConsumer
	Count      int
	AutoCommit bool
}

// Produce appends the batch to the partition and returns the offsets assigned to it.
func (b *Broker) Produce(ctx context.Context, streamID, topicID, partitionID uint32, batch []*commitlog.Message) (commitlog.Range, error) {
	if err := ctx.Err(); err != nil {
		return commitlog.Range{}, err
	}
	s, err := b.stream(streamID)
	if err != nil {
		return commitlog.Range{}, err
	}
	t, err := b.topic(streamID, topicID)
	if err != nil {
		return commitlog.Range{}, err
	}
	p, err := t.partition(partitionID)
	if err != nil {
		return commitlog.Range{}, err
	}
	started := time.Now()
	r, err := p.Append(batch)
	if err != nil {
		L(ctx).Debug("failed to append messages", zap.Uint32("stream_id", streamID), zap.Uint32("topic_id", topicID),
			zap.Uint32("partition_id", partitionID), zap.Error(err))
		return commitlog.Range{}, err
	}
	stats.Histogram("appendTime").Observe(stats.MilisecondsElapsed(started))
	var size int
	for _, m := range batch {
		size += len(m.Payload)
	}
	stats.CounterVec("messagesAppended").WithLabelValues(s.name, t.name).Add(float64(len(batch)))
	stats.CounterVec("bytesAppended").WithLabelValues(s.name, t.name).Add(float64(size))
	return r, nil
}

// Fetch reads messages from a partition. An empty result means the reader caught up with the partition.
func (b *Broker) Fetch(ctx context.Context, req FetchRequest) ([]*commitlog.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Count <= 0 || req.Count > b.config.MaxFetchMessages {
		return nil, catalog.InvalidMessagesCount()
	}
	t, err := b.topic(req.StreamID, req.TopicID)
	if err != nil {
		return nil, err
	}
	p, err := t.partition(req.PartitionID)
	if err != nil {
		return nil, err
	}
	var committed uint64
	if req.Consumer != nil {
		g, err := t.group(req.Consumer.GroupID)
		if err != nil {
			return nil, err
		}
		if err := g.CheckAssigned(req.Consumer.ClientID, req.PartitionID); err != nil {
			return nil, err
		}
		committed, _ = g.Offset(req.PartitionID)
	}
	next := p.NextOffset()
	var offset uint64
	switch req.Strategy {
	case StrategyOffset:
		offset = req.Value
	case StrategyTimestamp:
		offset, err = p.LookupTimestamp(req.Value)
		if err != nil {
			return nil, err
		}
	case StrategyFirst:
		if segments := p.Segments(); len(segments) > 0 {
			offset = segments[0].StartOffset
		}
	case StrategyLast:
		if next > uint64(req.Count) {
			offset = next - uint64(req.Count)
		}
	case StrategyNext:
		if req.Consumer == nil {
			return nil, catalog.New(catalog.CodeInvalidCommand)
		}
		offset = committed
	default:
		return nil, catalog.New(catalog.CodeInvalidCommand)
	}
	if offset >= next {
		return []*commitlog.Message{}, nil
	}
	started := time.Now()
	out, err := p.Read(offset, req.Count)
	if err != nil {
		if catalog.Is(err, catalog.CodeInvalidMessageChecksum) {
			stats.Counter("checksumFailures").Inc()
			L(ctx).Error("corrupted message found", zap.Uint32("stream_id", req.StreamID), zap.Uint32("topic_id", req.TopicID),
				zap.Uint32("partition_id", req.PartitionID), zap.Error(err))
		}
		return nil, err
	}
	stats.Histogram("fetchTime").Observe(stats.MilisecondsElapsed(started))
	if req.Consumer != nil && req.AutoCommit && len(out) > 0 {
		err := b.CommitOffset(ctx, req.StreamID, req.TopicID, req.Consumer.GroupID, req.PartitionID, out[len(out)-1].Offset+1, false)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// OnConnect registers a client connected from address, and returns its ID.
func (b *Broker) OnConnect(ctx context.Context, address string, transport clients.Transport) (uint32, error) {
	id, err := b.clients.Add(address, transport)
	if err != nil {
		L(ctx).Warn("failed to register client", zap.String("client_address", address), zap.Error(err))
		return 0, err
	}
	return id, nil
}

// OnDisconnect unregisters the client connected from address. It makes the client leave its consumer groups.
func (b *Broker) OnDisconnect(ctx context.Context, address string) {
	if client := b.clients.Remove(address); client != nil {
		L(ctx).Debug("client disconnected", zap.Uint32("client_id", client.ID()), zap.String("client_address", address))
	}
}

func (b *Broker) Clients() []clients.Description {
	return b.clients.Clients()
}
