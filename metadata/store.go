// Package metadata persists the broker catalogue (streams, topics and consumer groups) and
// the consumer group committed offsets in a badger database.
package metadata

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"
	"github.com/vx-labs/perch/group"
	"go.uber.org/zap"
)

var encoding = binary.BigEndian

type StreamRecord struct {
	ID        uint32 `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

type TopicRecord struct {
	StreamID   uint32 `json:"stream_id"`
	ID         uint32 `json:"id"`
	Name       string `json:"name"`
	Partitions uint32 `json:"partitions"`
	CreatedAt  int64  `json:"created_at"`
}

type GroupRecord struct {
	StreamID uint32 `json:"stream_id"`
	TopicID  uint32 `json:"topic_id"`
	ID       uint32 `json:"id"`
	Name     string `json:"name"`
}

func (g GroupRecord) Key() group.Key {
	return group.Key{StreamID: g.StreamID, TopicID: g.TopicID, GroupID: g.ID}
}

const (
	streamsPrefix = "streams/"
	topicsPrefix  = "topics/"
	groupsPrefix  = "groups/"
	offsetsPrefix = "offsets/"
)

func streamKey(streamID uint32) []byte {
	return []byte(fmt.Sprintf("%s%010d", streamsPrefix, streamID))
}
func topicPrefix(streamID uint32) []byte {
	return []byte(fmt.Sprintf("%s%010d/", topicsPrefix, streamID))
}
func topicKey(streamID, topicID uint32) []byte {
	return []byte(fmt.Sprintf("%s%010d", topicPrefix(streamID), topicID))
}
func groupPrefix(streamID, topicID uint32) []byte {
	return []byte(fmt.Sprintf("%s%010d/%010d/", groupsPrefix, streamID, topicID))
}
func groupKey(key group.Key) []byte {
	return []byte(fmt.Sprintf("%s%010d", groupPrefix(key.StreamID, key.TopicID), key.GroupID))
}
func offsetPrefix(key group.Key) []byte {
	return []byte(fmt.Sprintf("%s%010d/%010d/%010d/", offsetsPrefix, key.StreamID, key.TopicID, key.GroupID))
}
func offsetKey(key group.Key, partitionID uint32) []byte {
	return []byte(fmt.Sprintf("%s%010d", offsetPrefix(key), partitionID))
}

type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

type badgerLogger struct {
	l *zap.SugaredLogger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Errorf(strings.TrimSpace(format), args...)
}
func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warnf(strings.TrimSpace(format), args...)
}
func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debugf(strings.TrimSpace(format), args...)
}
func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debugf(strings.TrimSpace(format), args...)
}

// Open opens or creates the metadata database stored in datadir.
func Open(datadir string, logger *zap.Logger) (*Store, error) {
	opts := badger.DefaultOptions(datadir).
		WithLogger(badgerLogger{l: logger.With(zap.String("emitter", "badger")).Sugar()})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open metadata database")
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(key []byte, v interface{}) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

// list decodes every value stored under prefix, in key order.
func (s *Store) list(prefix []byte, fn func(value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(fn)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	keys := [][]byte{}
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SaveStream(stream StreamRecord) error {
	return s.put(streamKey(stream.ID), stream)
}

func (s *Store) Streams() ([]StreamRecord, error) {
	out := []StreamRecord{}
	err := s.list([]byte(streamsPrefix), func(value []byte) error {
		record := StreamRecord{}
		if err := json.Unmarshal(value, &record); err != nil {
			return err
		}
		out = append(out, record)
		return nil
	})
	return out, err
}

func (s *Store) SaveTopic(topic TopicRecord) error {
	return s.put(topicKey(topic.StreamID, topic.ID), topic)
}

func (s *Store) Topics(streamID uint32) ([]TopicRecord, error) {
	out := []TopicRecord{}
	err := s.list(topicPrefix(streamID), func(value []byte) error {
		record := TopicRecord{}
		if err := json.Unmarshal(value, &record); err != nil {
			return err
		}
		out = append(out, record)
		return nil
	})
	return out, err
}

func (s *Store) SaveGroup(g GroupRecord) error {
	return s.put(groupKey(g.Key()), g)
}

func (s *Store) Groups(streamID, topicID uint32) ([]GroupRecord, error) {
	out := []GroupRecord{}
	err := s.list(groupPrefix(streamID, topicID), func(value []byte) error {
		record := GroupRecord{}
		if err := json.Unmarshal(value, &record); err != nil {
			return err
		}
		out = append(out, record)
		return nil
	})
	return out, err
}

// DeleteGroup removes the consumer group definition and its committed offsets.
func (s *Store) DeleteGroup(key group.Key) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(groupKey(key)); err != nil {
			return err
		}
		return s.deletePrefix(txn, offsetPrefix(key))
	})
}

func (s *Store) SaveOffset(key group.Key, partitionID uint32, offset uint64) error {
	value := make([]byte, 8)
	encoding.PutUint64(value, offset)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(offsetKey(key, partitionID), value)
	})
}

func (s *Store) LoadOffsets(key group.Key) (map[uint32]uint64, error) {
	out := map[uint32]uint64{}
	prefix := offsetPrefix(key)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			partitionID, err := strconv.ParseUint(strings.TrimPrefix(string(item.Key()), string(prefix)), 10, 32)
			if err != nil {
				return errors.Wrapf(err, "invalid offset key %q", item.Key())
			}
			err = item.Value(func(val []byte) error {
				if len(val) != 8 {
					return errors.Errorf("invalid offset value for key %q", item.Key())
				}
				out[uint32(partitionID)] = encoding.Uint64(val)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) DeleteOffsets(key group.Key) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return s.deletePrefix(txn, offsetPrefix(key))
	})
}

// Stream returns the stream record, or false when it does not exist.
func (s *Store) Stream(streamID uint32) (StreamRecord, bool, error) {
	record := StreamRecord{}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(streamKey(streamID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if err == badger.ErrKeyNotFound {
		return record, false, nil
	}
	return record, err == nil, err
}
