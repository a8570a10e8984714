// Package broker exposes streams, topics, partitions and consumer groups stored on a single node.
package broker

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/vx-labs/perch/catalog"
	"github.com/vx-labs/perch/clients"
	"github.com/vx-labs/perch/commitlog"
	"github.com/vx-labs/perch/group"
	"github.com/vx-labs/perch/metadata"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Broker struct {
	config   Config
	mtx      sync.RWMutex
	streams  map[uint32]*stream
	metadata *metadata.Store
	clients  *clients.Registry
	logger   *zap.Logger
}

type stream struct {
	id        uint32
	name      string
	createdAt time.Time
	mtx       sync.RWMutex
	topics    map[uint32]*topic
}

type topic struct {
	streamID   uint32
	id         uint32
	name       string
	createdAt  time.Time
	partitions []commitlog.Partition
	mtx        sync.RWMutex
	groups     map[uint32]*group.ConsumerGroup
}

// NextOffset implements group.Bounds.
func (t *topic) NextOffset(partitionID uint32) (uint64, error) {
	p, err := t.partition(partitionID)
	if err != nil {
		return 0, err
	}
	return p.NextOffset(), nil
}

func (t *topic) partition(partitionID uint32) (commitlog.Partition, error) {
	if int(partitionID) >= len(t.partitions) {
		return nil, catalog.PartitionNotFound(partitionID, t.id, t.streamID)
	}
	return t.partitions[partitionID], nil
}

func (t *topic) partitionIDs() []uint32 {
	out := make([]uint32, len(t.partitions))
	for idx := range t.partitions {
		out[idx] = uint32(idx)
	}
	return out
}

func (t *topic) group(groupID uint32) (*group.ConsumerGroup, error) {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	g, ok := t.groups[groupID]
	if !ok {
		return nil, catalog.ConsumerGroupNotFound(groupID, t.id)
	}
	return g, nil
}

func partitionDir(datadir string, streamID, topicID, partitionID uint32) string {
	return path.Join(datadir, "streams", fmt.Sprintf("%d", streamID), "topics", fmt.Sprintf("%d", topicID),
		"partitions", fmt.Sprintf("%d", partitionID))
}

// Open opens the broker state stored in config.DataDir, reopening every partition and reloading
// consumer groups with their committed offsets.
func Open(ctx context.Context, config Config) (*Broker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := L(ctx)
	if err := os.MkdirAll(config.DataDir, 0750); err != nil {
		return nil, catalog.Wrap(err, catalog.CodeIOError)
	}
	store, err := metadata.Open(path.Join(config.DataDir, "metadata"), logger)
	if err != nil {
		return nil, err
	}
	b := &Broker{
		config:   config,
		streams:  map[uint32]*stream{},
		metadata: store,
		logger:   logger,
	}
	b.clients = clients.NewRegistry(&membershipHandler{b: b}, logger)
	if err := b.load(); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Broker) load() error {
	streams, err := b.metadata.Streams()
	if err != nil {
		return err
	}
	for _, record := range streams {
		s := &stream{id: record.ID, name: record.Name, createdAt: time.Unix(0, record.CreatedAt), topics: map[uint32]*topic{}}
		b.streams[s.id] = s
		topics, err := b.metadata.Topics(s.id)
		if err != nil {
			return err
		}
		for _, topicRecord := range topics {
			t, err := b.openTopic(topicRecord)
			if err != nil {
				return err
			}
			s.topics[t.id] = t
			groups, err := b.metadata.Groups(s.id, t.id)
			if err != nil {
				return err
			}
			for _, groupRecord := range groups {
				g, err := group.New(groupRecord.Key(), groupRecord.Name, t.partitionIDs(), t, b.metadata, b.logger)
				if err != nil {
					return err
				}
				t.groups[g.ID()] = g
			}
		}
		b.logger.Debug("stream loaded", zap.Uint32("stream_id", s.id), zap.Int("topic_count", len(s.topics)))
	}
	return nil
}

func (b *Broker) openTopic(record metadata.TopicRecord) (*topic, error) {
	t := &topic{
		streamID:   record.StreamID,
		id:         record.ID,
		name:       record.Name,
		createdAt:  time.Unix(0, record.CreatedAt),
		partitions: make([]commitlog.Partition, 0, record.Partitions),
		groups:     map[uint32]*group.ConsumerGroup{},
	}
	logger := b.logger.With(zap.Uint32("stream_id", t.streamID), zap.Uint32("topic_id", t.id))
	for partitionID := uint32(0); partitionID < record.Partitions; partitionID++ {
		p, err := commitlog.Open(partitionDir(b.config.DataDir, t.streamID, t.id, partitionID), partitionID, b.config.Log, logger)
		if err != nil {
			for _, opened := range t.partitions {
				opened.Close()
			}
			return nil, catalog.Wrap(err, catalog.CodeCannotCreatePartition, partitionID, t.streamID, t.id)
		}
		t.partitions = append(t.partitions, p)
	}
	return t, nil
}

func validName(name string) bool {
	return len(name) > 0 && len(name) <= maxNameLength
}

func (b *Broker) stream(streamID uint32) (*stream, error) {
	b.mtx.RLock()
	defer b.mtx.RUnlock()
	s, ok := b.streams[streamID]
	if !ok {
		return nil, catalog.StreamIDNotFound(streamID)
	}
	return s, nil
}

func (b *Broker) topic(streamID, topicID uint32) (*topic, error) {
	s, err := b.stream(streamID)
	if err != nil {
		return nil, err
	}
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	t, ok := s.topics[topicID]
	if !ok {
		return nil, catalog.TopicIDNotFound(topicID, streamID)
	}
	return t, nil
}

// Partition returns the partition of a topic.
func (b *Broker) Partition(streamID, topicID, partitionID uint32) (commitlog.Partition, error) {
	t, err := b.topic(streamID, topicID)
	if err != nil {
		return nil, err
	}
	return t.partition(partitionID)
}

func (b *Broker) CreateStream(ctx context.Context, streamID uint32, name string) error {
	if streamID == 0 {
		return catalog.InvalidStreamID()
	}
	if !validName(name) {
		return catalog.InvalidStreamName()
	}
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if _, ok := b.streams[streamID]; ok {
		return catalog.StreamIDAlreadyExists(streamID)
	}
	for _, s := range b.streams {
		if s.name == name {
			return catalog.StreamNameAlreadyExists(name)
		}
	}
	s := &stream{id: streamID, name: name, createdAt: time.Now(), topics: map[uint32]*topic{}}
	err := b.metadata.SaveStream(metadata.StreamRecord{ID: s.id, Name: s.name, CreatedAt: s.createdAt.UnixNano()})
	if err != nil {
		return catalog.Wrap(err, catalog.CodeIOError)
	}
	b.streams[streamID] = s
	L(ctx).Info("stream created", zap.Uint32("stream_id", streamID), zap.String("stream_name", name))
	return nil
}

func (b *Broker) CreateTopic(ctx context.Context, streamID, topicID uint32, name string, partitions uint32) error {
	s, err := b.stream(streamID)
	if err != nil {
		return err
	}
	if topicID == 0 {
		return catalog.InvalidTopicID()
	}
	if !validName(name) {
		return catalog.InvalidTopicName()
	}
	if partitions == 0 {
		return catalog.NoPartitions(topicID, streamID)
	}
	if partitions > b.config.MaxPartitions {
		return catalog.TooManyPartitions()
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.topics[topicID]; ok {
		return catalog.TopicIDAlreadyExists(topicID, streamID)
	}
	for _, t := range s.topics {
		if t.name == name {
			return catalog.TopicNameAlreadyExists(name, streamID)
		}
	}
	record := metadata.TopicRecord{StreamID: streamID, ID: topicID, Name: name, Partitions: partitions, CreatedAt: time.Now().UnixNano()}
	t, err := b.openTopic(record)
	if err != nil {
		return err
	}
	if err := b.metadata.SaveTopic(record); err != nil {
		for _, p := range t.partitions {
			p.Close()
		}
		return catalog.Wrap(err, catalog.CodeIOError)
	}
	s.topics[topicID] = t
	L(ctx).Info("topic created", zap.Uint32("stream_id", streamID), zap.Uint32("topic_id", topicID),
		zap.String("topic_name", name), zap.Uint32("partition_count", partitions))
	return nil
}

type PartitionDescription struct {
	ID         uint32                  `json:"id" yaml:"id"`
	Statistics commitlog.Statistics    `json:"statistics" yaml:"statistics"`
	Segments   []commitlog.SegmentInfo `json:"segments,omitempty" yaml:"segments,omitempty"`
}

type TopicDescription struct {
	ID         uint32                 `json:"id" yaml:"id"`
	Name       string                 `json:"name" yaml:"name"`
	CreatedAt  time.Time              `json:"created_at" yaml:"created-at"`
	Partitions []PartitionDescription `json:"partitions" yaml:"partitions"`
	Groups     []group.Description    `json:"groups" yaml:"groups"`
}

type StreamDescription struct {
	ID        uint32             `json:"id" yaml:"id"`
	Name      string             `json:"name" yaml:"name"`
	CreatedAt time.Time          `json:"created_at" yaml:"created-at"`
	Topics    []TopicDescription `json:"topics" yaml:"topics"`
}

// Streams describes every stream, sorted by ID.
func (b *Broker) Streams(withSegments bool) []StreamDescription {
	b.mtx.RLock()
	streams := make([]*stream, 0, len(b.streams))
	for _, s := range b.streams {
		streams = append(streams, s)
	}
	b.mtx.RUnlock()
	sort.Slice(streams, func(i, j int) bool { return streams[i].id < streams[j].id })

	out := make([]StreamDescription, len(streams))
	for idx, s := range streams {
		out[idx] = s.describe(withSegments)
	}
	return out
}

func (s *stream) describe(withSegments bool) StreamDescription {
	s.mtx.RLock()
	topics := make([]*topic, 0, len(s.topics))
	for _, t := range s.topics {
		topics = append(topics, t)
	}
	s.mtx.RUnlock()
	sort.Slice(topics, func(i, j int) bool { return topics[i].id < topics[j].id })
	d := StreamDescription{ID: s.id, Name: s.name, CreatedAt: s.createdAt, Topics: make([]TopicDescription, len(topics))}
	for idx, t := range topics {
		d.Topics[idx] = t.describe(withSegments)
	}
	return d
}

func (t *topic) describe(withSegments bool) TopicDescription {
	d := TopicDescription{ID: t.id, Name: t.name, CreatedAt: t.createdAt, Groups: []group.Description{}}
	for idx, p := range t.partitions {
		pd := PartitionDescription{ID: uint32(idx), Statistics: p.GetStatistics()}
		if withSegments {
			pd.Segments = p.Segments()
		}
		d.Partitions = append(d.Partitions, pd)
	}
	t.mtx.RLock()
	for _, g := range t.groups {
		d.Groups = append(d.Groups, g.Describe())
	}
	t.mtx.RUnlock()
	sort.Slice(d.Groups, func(i, j int) bool { return d.Groups[i].ID < d.Groups[j].ID })
	return d
}

// Close closes every partition and the metadata store.
func (b *Broker) Close() error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	var err error
	for _, s := range b.streams {
		s.mtx.RLock()
		for _, t := range s.topics {
			for _, p := range t.partitions {
				err = multierr.Append(err, p.Close())
			}
		}
		s.mtx.RUnlock()
	}
	b.streams = map[uint32]*stream{}
	return multierr.Append(err, b.metadata.Close())
}
