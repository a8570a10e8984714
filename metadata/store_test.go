package metadata

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vx-labs/perch/group"
	"go.uber.org/zap"
)

func TestStore(t *testing.T) {
	datadir := t.TempDir()
	s, err := Open(datadir, zap.NewNop())
	require.NoError(t, err)
	defer func() { s.Close() }()
	key := group.Key{StreamID: 1, TopicID: 2, GroupID: 3}

	t.Run("should save streams and topics", func(t *testing.T) {
		require.NoError(t, s.SaveStream(StreamRecord{ID: 10, Name: "b"}))
		require.NoError(t, s.SaveStream(StreamRecord{ID: 1, Name: "a"}))
		require.NoError(t, s.SaveTopic(TopicRecord{StreamID: 1, ID: 2, Name: "t", Partitions: 3}))
		require.NoError(t, s.SaveTopic(TopicRecord{StreamID: 10, ID: 1, Name: "other", Partitions: 1}))
		streams, err := s.Streams()
		require.NoError(t, err)
		require.Equal(t, []StreamRecord{{ID: 1, Name: "a"}, {ID: 10, Name: "b"}}, streams)
		topics, err := s.Topics(1)
		require.NoError(t, err)
		require.Equal(t, []TopicRecord{{StreamID: 1, ID: 2, Name: "t", Partitions: 3}}, topics)
		stream, found, err := s.Stream(10)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "b", stream.Name)
		_, found, err = s.Stream(11)
		require.NoError(t, err)
		require.False(t, found)
	})
	t.Run("should store offsets", func(t *testing.T) {
		require.NoError(t, s.SaveGroup(GroupRecord{StreamID: 1, TopicID: 2, ID: 3, Name: "g"}))
		require.NoError(t, s.SaveOffset(key, 0, 12))
		require.NoError(t, s.SaveOffset(key, 2, 3))
		require.NoError(t, s.SaveOffset(key, 0, 14))
		require.NoError(t, s.SaveOffset(group.Key{StreamID: 1, TopicID: 2, GroupID: 4}, 0, 1))
		offsets, err := s.LoadOffsets(key)
		require.NoError(t, err)
		require.Equal(t, map[uint32]uint64{0: 14, 2: 3}, offsets)
	})
	t.Run("should reload after a restart", func(t *testing.T) {
		require.NoError(t, s.Close())
		s, err = Open(datadir, zap.NewNop())
		require.NoError(t, err)
		groups, err := s.Groups(1, 2)
		require.NoError(t, err)
		require.Equal(t, []GroupRecord{{StreamID: 1, TopicID: 2, ID: 3, Name: "g"}}, groups)
		offsets, err := s.LoadOffsets(key)
		require.NoError(t, err)
		require.Equal(t, uint64(14), offsets[0])
	})
	t.Run("should delete groups with their offsets", func(t *testing.T) {
		require.NoError(t, s.DeleteGroup(key))
		groups, err := s.Groups(1, 2)
		require.NoError(t, err)
		require.Empty(t, groups)
		offsets, err := s.LoadOffsets(key)
		require.NoError(t, err)
		require.Empty(t, offsets)
		offsets, err = s.LoadOffsets(group.Key{StreamID: 1, TopicID: 2, GroupID: 4})
		require.NoError(t, err)
		require.Len(t, offsets, 1)
	})
}

func TestStoreIsAnOffsetStore(t *testing.T) {
	s, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	var store group.OffsetStore = s
	require.NoError(t, store.SaveOffset(group.Key{GroupID: 1}, 0, 1))
	require.NoError(t, store.DeleteOffsets(group.Key{GroupID: 1}))
	offsets, err := store.LoadOffsets(group.Key{GroupID: 1})
	require.NoError(t, err)
	require.Empty(t, offsets)
}
