package group

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/perch/catalog"
	"go.uber.org/zap"
)

type staticBounds map[uint32]uint64

func (b staticBounds) NextOffset(partitionID uint32) (uint64, error) {
	next, ok := b[partitionID]
	if !ok {
		return 0, catalog.PartitionNotFound(partitionID, 2, 1)
	}
	return next, nil
}

type failingStore struct {
	OffsetStore
}

func (failingStore) SaveOffset(Key, uint32, uint64) error {
	return errors.New("disk full")
}

var testKey = Key{StreamID: 1, TopicID: 2, GroupID: 3}

func newGroup(t *testing.T, store OffsetStore) *ConsumerGroup {
	g, err := New(testKey, "group", []uint32{3, 1, 2, 0}, staticBounds{0: 10, 1: 10, 2: 10, 3: 10}, store, zap.NewNop())
	require.NoError(t, err)
	return g
}

func TestComputeAssignment(t *testing.T) {
	t.Run("should assign partitions round robin over sorted members", func(t *testing.T) {
		require.Equal(t, map[uint32]uint32{0: 10, 1: 20, 2: 10, 3: 20},
			ComputeAssignment([]uint32{20, 10}, []uint32{3, 2, 1, 0}))
	})
	t.Run("should not depend on input order", func(t *testing.T) {
		require.Equal(t,
			ComputeAssignment([]uint32{5, 1, 3}, []uint32{0, 1, 2, 3, 4}),
			ComputeAssignment([]uint32{3, 5, 1}, []uint32{4, 3, 2, 1, 0}))
	})
	t.Run("should leave partitions unassigned without members", func(t *testing.T) {
		require.Empty(t, ComputeAssignment(nil, []uint32{0, 1}))
	})
	t.Run("should leave members without partitions when outnumbered", func(t *testing.T) {
		require.Equal(t, map[uint32]uint32{0: 1}, ComputeAssignment([]uint32{1, 2, 3}, []uint32{0}))
	})
}

func TestConsumerGroup(t *testing.T) {
	const a, b = uint32(1), uint32(2)
	g := newGroup(t, NewMemoryStore())
	require.Equal(t, StateEmpty, g.State())

	t.Run("should reassign partitions on join", func(t *testing.T) {
		require.NoError(t, g.Join(a))
		require.Equal(t, StateActive, g.State())
		require.Equal(t, map[uint32]uint32{0: a, 1: a, 2: a, 3: a}, g.Assignment())
		require.NoError(t, g.Join(b))
		require.Equal(t, map[uint32]uint32{0: a, 1: b, 2: a, 3: b}, g.Assignment())
		require.Equal(t, []uint32{1, 3}, g.AssignedPartitions(b))
	})
	t.Run("should ignore repeated joins", func(t *testing.T) {
		generation := g.Describe().Generation
		require.NoError(t, g.Join(b))
		require.Equal(t, generation, g.Describe().Generation)
		require.Equal(t, []uint32{a, b}, g.Members())
	})
	t.Run("should check partition ownership", func(t *testing.T) {
		require.NoError(t, g.CheckAssigned(b, 1))
		require.Equal(t, catalog.CodePartitionNotAssigned, catalog.CodeOf(g.CheckAssigned(b, 0)))
		require.Equal(t, catalog.CodeConsumerGroupMemberNotFound, catalog.CodeOf(g.CheckAssigned(7, 0)))
		require.Equal(t, catalog.CodePartitionNotFound, catalog.CodeOf(g.CheckAssigned(b, 9)))
	})
	t.Run("should reassign partitions on leave", func(t *testing.T) {
		require.NoError(t, g.Leave(b))
		require.Equal(t, map[uint32]uint32{0: a, 1: a, 2: a, 3: a}, g.Assignment())
		require.NoError(t, g.Leave(b))
		require.Equal(t, []uint32{a}, g.Members())
	})
	t.Run("should become empty when the last member leaves", func(t *testing.T) {
		require.NoError(t, g.Leave(a))
		require.Equal(t, StateEmpty, g.State())
		require.Empty(t, g.Assignment())
	})
}

func TestConsumerGroupJoinConcurrently(t *testing.T) {
	g := newGroup(t, NewMemoryStore())
	wg := sync.WaitGroup{}
	for i := uint32(0); i < 16; i++ {
		wg.Add(1)
		go func(memberID uint32) {
			defer wg.Done()
			g.Join(memberID)
		}(i)
	}
	wg.Wait()
	require.Len(t, g.Members(), 16)
	require.Equal(t, ComputeAssignment(g.Members(), []uint32{0, 1, 2, 3}), g.Assignment())
}

func TestCommitOffset(t *testing.T) {
	store := NewMemoryStore()
	g := newGroup(t, store)

	t.Run("should commit offsets", func(t *testing.T) {
		require.NoError(t, g.CommitOffset(0, 5, false))
		offset, ok := g.Offset(0)
		require.True(t, ok)
		require.Equal(t, uint64(5), offset)
		saved, err := store.LoadOffsets(testKey)
		require.NoError(t, err)
		require.Equal(t, map[uint32]uint64{0: 5}, saved)
	})
	t.Run("should accept the partition end", func(t *testing.T) {
		require.NoError(t, g.CommitOffset(1, 10, false))
	})
	t.Run("should refuse offsets beyond the partition end", func(t *testing.T) {
		require.Equal(t, catalog.CodeInvalidOffset, catalog.CodeOf(g.CommitOffset(0, 11, false)))
	})
	t.Run("should refuse regressions unless forced", func(t *testing.T) {
		require.Equal(t, catalog.CodeInvalidOffset, catalog.CodeOf(g.CommitOffset(0, 4, false)))
		require.NoError(t, g.CommitOffset(0, 4, true))
		offset, _ := g.Offset(0)
		require.Equal(t, uint64(4), offset)
	})
	t.Run("should refuse unknown partitions", func(t *testing.T) {
		require.Equal(t, catalog.CodePartitionNotFound, catalog.CodeOf(g.CommitOffset(8, 0, false)))
	})
	t.Run("should reload committed offsets", func(t *testing.T) {
		reloaded := newGroup(t, store)
		offset, ok := reloaded.Offset(0)
		require.True(t, ok)
		require.Equal(t, uint64(4), offset)
	})
	t.Run("should surface store failures", func(t *testing.T) {
		g := newGroup(t, failingStore{NewMemoryStore()})
		err := g.CommitOffset(0, 1, false)
		require.Equal(t, catalog.CodeCannotSaveConsumerOffsets, catalog.CodeOf(err))
		_, ok := g.Offset(0)
		require.False(t, ok)
	})
}

func TestDelete(t *testing.T) {
	store := NewMemoryStore()
	g := newGroup(t, store)
	require.NoError(t, g.Join(1))
	require.NoError(t, g.CommitOffset(0, 1, false))

	members, err := g.Delete()
	require.NoError(t, err)
	require.Equal(t, []uint32{1}, members)
	require.Equal(t, StateDeleted, g.State())
	saved, err := store.LoadOffsets(testKey)
	require.NoError(t, err)
	require.Empty(t, saved)

	t.Run("should refuse operations on a deleted group", func(t *testing.T) {
		require.Equal(t, catalog.CodeConsumerGroupNotFound, catalog.CodeOf(g.Join(1)))
		require.Equal(t, catalog.CodeConsumerGroupNotFound, catalog.CodeOf(g.Leave(1)))
		require.Equal(t, catalog.CodeConsumerGroupNotFound, catalog.CodeOf(g.CommitOffset(0, 1, false)))
		_, err := g.Delete()
		require.Equal(t, catalog.CodeConsumerGroupNotFound, catalog.CodeOf(err))
	})
}
