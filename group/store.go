package group

import "sync"

// Key identifies a consumer group.
type Key struct {
	StreamID uint32 `json:"stream_id" yaml:"stream-id"`
	TopicID  uint32 `json:"topic_id" yaml:"topic-id"`
	GroupID  uint32 `json:"group_id" yaml:"group-id"`
}

// OffsetStore persists committed offsets.
type OffsetStore interface {
	SaveOffset(key Key, partitionID uint32, offset uint64) error
	LoadOffsets(key Key) (map[uint32]uint64, error)
	DeleteOffsets(key Key) error
}

type memoryStore struct {
	mtx     sync.Mutex
	offsets map[Key]map[uint32]uint64
}

// NewMemoryStore returns an OffsetStore keeping offsets in memory.
func NewMemoryStore() OffsetStore {
	return &memoryStore{offsets: map[Key]map[uint32]uint64{}}
}

func (s *memoryStore) SaveOffset(key Key, partitionID uint32, offset uint64) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.offsets[key] == nil {
		s.offsets[key] = map[uint32]uint64{}
	}
	s.offsets[key][partitionID] = offset
	return nil
}

func (s *memoryStore) LoadOffsets(key Key) (map[uint32]uint64, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	out := make(map[uint32]uint64, len(s.offsets[key]))
	for partitionID, offset := range s.offsets[key] {
		out[partitionID] = offset
	}
	return out, nil
}

func (s *memoryStore) DeleteOffsets(key Key) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.offsets, key)
	return nil
}
