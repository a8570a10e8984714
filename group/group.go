// Package group tracks consumer group membership, partition assignment and committed offsets.
package group

import (
	"sort"
	"sync"

	"github.com/vx-labs/perch/broker/stats"
	"github.com/vx-labs/perch/catalog"
	"go.uber.org/zap"
)

type State int

const (
	StateEmpty State = iota
	StateActive
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateActive:
		return "active"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Bounds gives the next offset of the topic partitions.
type Bounds interface {
	NextOffset(partitionID uint32) (uint64, error)
}

type Description struct {
	ID         uint32            `json:"id" yaml:"id"`
	Name       string            `json:"name" yaml:"name"`
	State      string            `json:"state" yaml:"state"`
	Generation uint64            `json:"generation" yaml:"generation"`
	Members    []uint32          `json:"members" yaml:"members"`
	Assignment map[uint32]uint32 `json:"assignment" yaml:"assignment"`
	Offsets    map[uint32]uint64 `json:"offsets" yaml:"offsets"`
}

type ConsumerGroup struct {
	mtx        sync.RWMutex
	key        Key
	name       string
	state      State
	generation uint64
	partitions []uint32
	members    []uint32
	assignment map[uint32]uint32
	offsets    map[uint32]uint64
	bounds     Bounds
	store      OffsetStore
	logger     *zap.Logger
}

// New returns an empty consumer group over the given partitions, loading its committed offsets from store.
func New(key Key, name string, partitions []uint32, bounds Bounds, store OffsetStore, logger *zap.Logger) (*ConsumerGroup, error) {
	offsets, err := store.LoadOffsets(key)
	if err != nil {
		return nil, catalog.Wrap(err, catalog.CodeCannotReadConsumerOffsets, key.GroupID)
	}
	sorted := append([]uint32(nil), partitions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return &ConsumerGroup{
		key:        key,
		name:       name,
		state:      StateEmpty,
		partitions: sorted,
		assignment: map[uint32]uint32{},
		offsets:    offsets,
		bounds:     bounds,
		store:      store,
		logger: logger.With(zap.Uint32("stream_id", key.StreamID), zap.Uint32("topic_id", key.TopicID),
			zap.Uint32("group_id", key.GroupID)),
	}, nil
}

// ComputeAssignment assigns the i-th lowest partition to the (i mod n)-th lowest member.
// The result only depends on its inputs.
func ComputeAssignment(members, partitions []uint32) map[uint32]uint32 {
	out := make(map[uint32]uint32, len(partitions))
	if len(members) == 0 {
		return out
	}
	sortedMembers := append([]uint32(nil), members...)
	sort.Slice(sortedMembers, func(i, j int) bool { return sortedMembers[i] < sortedMembers[j] })
	sortedPartitions := append([]uint32(nil), partitions...)
	sort.Slice(sortedPartitions, func(i, j int) bool { return sortedPartitions[i] < sortedPartitions[j] })
	for idx, partitionID := range sortedPartitions {
		out[partitionID] = sortedMembers[idx%len(sortedMembers)]
	}
	return out
}

func (g *ConsumerGroup) Key() Key {
	return g.key
}
func (g *ConsumerGroup) ID() uint32 {
	return g.key.GroupID
}
func (g *ConsumerGroup) Name() string {
	return g.name
}
func (g *ConsumerGroup) State() State {
	g.mtx.RLock()
	defer g.mtx.RUnlock()
	return g.state
}

func (g *ConsumerGroup) notFound() error {
	return catalog.ConsumerGroupNotFound(g.key.GroupID, g.key.TopicID)
}

func (g *ConsumerGroup) memberIndex(memberID uint32) (int, bool) {
	idx := sort.Search(len(g.members), func(i int) bool { return g.members[i] >= memberID })
	return idx, idx < len(g.members) && g.members[idx] == memberID
}

func (g *ConsumerGroup) hasPartition(partitionID uint32) bool {
	idx := sort.Search(len(g.partitions), func(i int) bool { return g.partitions[i] >= partitionID })
	return idx < len(g.partitions) && g.partitions[idx] == partitionID
}

func (g *ConsumerGroup) rebalance() {
	g.assignment = ComputeAssignment(g.members, g.partitions)
	g.generation++
	if len(g.members) > 0 {
		g.state = StateActive
	} else {
		g.state = StateEmpty
	}
	stats.Counter("groupRebalances").Inc()
	g.logger.Info("consumer group rebalanced", zap.Int("member_count", len(g.members)),
		zap.Uint64("generation", g.generation))
}

// Join adds the member to the group. Joining twice is a no-op.
func (g *ConsumerGroup) Join(memberID uint32) error {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	if g.state == StateDeleted {
		return g.notFound()
	}
	idx, found := g.memberIndex(memberID)
	if found {
		return nil
	}
	g.members = append(g.members, 0)
	copy(g.members[idx+1:], g.members[idx:])
	g.members[idx] = memberID
	g.logger.Debug("member joined", zap.Uint32("member_id", memberID))
	g.rebalance()
	return nil
}

// Leave removes the member from the group. Leaving a group one is not part of is a no-op.
func (g *ConsumerGroup) Leave(memberID uint32) error {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	if g.state == StateDeleted {
		return g.notFound()
	}
	idx, found := g.memberIndex(memberID)
	if !found {
		return nil
	}
	g.members = append(g.members[:idx], g.members[idx+1:]...)
	g.logger.Debug("member left", zap.Uint32("member_id", memberID))
	g.rebalance()
	return nil
}

func (g *ConsumerGroup) Members() []uint32 {
	g.mtx.RLock()
	defer g.mtx.RUnlock()
	return append([]uint32(nil), g.members...)
}

func (g *ConsumerGroup) Assignment() map[uint32]uint32 {
	g.mtx.RLock()
	defer g.mtx.RUnlock()
	out := make(map[uint32]uint32, len(g.assignment))
	for partitionID, memberID := range g.assignment {
		out[partitionID] = memberID
	}
	return out
}

// AssignedPartitions returns the sorted partitions owned by the member.
func (g *ConsumerGroup) AssignedPartitions(memberID uint32) []uint32 {
	g.mtx.RLock()
	defer g.mtx.RUnlock()
	out := []uint32{}
	for _, partitionID := range g.partitions {
		if owner, ok := g.assignment[partitionID]; ok && owner == memberID {
			out = append(out, partitionID)
		}
	}
	return out
}

// CheckAssigned returns an error unless the partition is assigned to the member.
func (g *ConsumerGroup) CheckAssigned(memberID, partitionID uint32) error {
	g.mtx.RLock()
	defer g.mtx.RUnlock()
	if g.state == StateDeleted {
		return g.notFound()
	}
	if _, found := g.memberIndex(memberID); !found {
		return catalog.ConsumerGroupMemberNotFound(memberID, g.key.GroupID, g.key.TopicID)
	}
	if !g.hasPartition(partitionID) {
		return catalog.PartitionNotFound(partitionID, g.key.TopicID, g.key.StreamID)
	}
	if owner, ok := g.assignment[partitionID]; !ok || owner != memberID {
		return catalog.PartitionNotAssigned(partitionID, memberID, g.key.GroupID)
	}
	return nil
}

// CommitOffset stores the next offset the group will consume on the partition.
// Offsets beyond the partition end are refused, and so are regressions unless force is set.
func (g *ConsumerGroup) CommitOffset(partitionID uint32, offset uint64, force bool) error {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	if g.state == StateDeleted {
		return g.notFound()
	}
	if !g.hasPartition(partitionID) {
		return catalog.PartitionNotFound(partitionID, g.key.TopicID, g.key.StreamID)
	}
	next, err := g.bounds.NextOffset(partitionID)
	if err != nil {
		return err
	}
	if offset > next {
		return catalog.InvalidOffset(offset)
	}
	if current, ok := g.offsets[partitionID]; ok && offset < current && !force {
		return catalog.InvalidOffset(offset)
	}
	if err := g.store.SaveOffset(g.key, partitionID, offset); err != nil {
		return catalog.Wrap(err, catalog.CodeCannotSaveConsumerOffsets, partitionID)
	}
	g.offsets[partitionID] = offset
	return nil
}

// Offset returns the committed offset of the partition.
func (g *ConsumerGroup) Offset(partitionID uint32) (uint64, bool) {
	g.mtx.RLock()
	defer g.mtx.RUnlock()
	offset, ok := g.offsets[partitionID]
	return offset, ok
}

// Delete marks the group as deleted, drops its offsets and returns its former members.
func (g *ConsumerGroup) Delete() ([]uint32, error) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	if g.state == StateDeleted {
		return nil, g.notFound()
	}
	if err := g.store.DeleteOffsets(g.key); err != nil {
		return nil, catalog.Wrap(err, catalog.CodeCannotDeleteConsumerGroupInfo, g.key.GroupID, g.key.TopicID, g.key.StreamID)
	}
	members := g.members
	g.state = StateDeleted
	g.members = nil
	g.assignment = map[uint32]uint32{}
	g.offsets = map[uint32]uint64{}
	g.logger.Info("consumer group deleted")
	return members, nil
}

func (g *ConsumerGroup) Describe() Description {
	g.mtx.RLock()
	defer g.mtx.RUnlock()
	d := Description{
		ID:         g.key.GroupID,
		Name:       g.name,
		State:      g.state.String(),
		Generation: g.generation,
		Members:    append([]uint32{}, g.members...),
		Assignment: make(map[uint32]uint32, len(g.assignment)),
		Offsets:    make(map[uint32]uint64, len(g.offsets)),
	}
	for k, v := range g.assignment {
		d.Assignment[k] = v
	}
	for k, v := range g.offsets {
		d.Offsets[k] = v
	}
	return d
}
