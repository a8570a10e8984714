package commitlog

import (
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/pkg/errors"
	"github.com/vx-labs/perch/catalog"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/exp/mmap"
)

var (
	ErrSegmentAlreadyExists = errors.New("segment already exists")
	ErrSegmentDoesNotExist  = errors.New("segment does not exist")
)

// indexCursor tracks the last sampled index entries of a segment.
type indexCursor struct {
	position  uint64
	count     uint64
	timestamp uint64
}

type segment struct {
	mtx            sync.RWMutex
	partitionID    uint32
	startOffset    uint64
	count          uint64
	size           uint64
	closed         bool
	firstTimestamp uint64
	lastTimestamp  uint64
	cursor         indexCursor
	path           string
	fd             *os.File
	mapped         *mmap.ReaderAt
	index          *index
	timeIndex      *index
	config         Config
	logger         *zap.Logger
}

func segmentName(datadir string, startOffset uint64) string {
	return path.Join(datadir, fmt.Sprintf("%020d.log", startOffset))
}
func indexName(datadir string, startOffset uint64) string {
	return path.Join(datadir, fmt.Sprintf("%020d.index", startOffset))
}
func timeIndexName(datadir string, startOffset uint64) string {
	return path.Join(datadir, fmt.Sprintf("%020d.timeindex", startOffset))
}

func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

func indexCapacity(config Config) int {
	if config.IndexIntervalBytes == 0 {
		return minimumIndexCapacity
	}
	capacity := config.SegmentMaxSize/config.IndexIntervalBytes + 2
	if capacity > 1024 {
		capacity = 1024
	}
	return int(capacity)
}

func createSegment(datadir string, partitionID uint32, startOffset uint64, config Config, logger *zap.Logger) (*segment, error) {
	filename := segmentName(datadir, startOffset)
	if fileExists(filename) {
		return nil, catalog.Wrap(ErrSegmentAlreadyExists, catalog.CodeCannotCreateSegmentLogFile, filename)
	}
	fd, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0650)
	if err != nil {
		return nil, catalog.Wrap(err, catalog.CodeCannotCreateSegmentLogFile, filename)
	}
	idx, err := createIndex(indexName(datadir, startOffset), indexCapacity(config))
	if err != nil {
		fd.Close()
		os.Remove(filename)
		return nil, catalog.Wrap(err, catalog.CodeCannotCreateSegmentIndexFile, indexName(datadir, startOffset))
	}
	timeIdx, err := createIndex(timeIndexName(datadir, startOffset), indexCapacity(config))
	if err != nil {
		idx.Close()
		fd.Close()
		os.Remove(idx.FilePath())
		os.Remove(filename)
		return nil, catalog.Wrap(err, catalog.CodeCannotCreateSegmentTimeIndex, timeIndexName(datadir, startOffset))
	}
	return &segment{
		partitionID: partitionID,
		startOffset: startOffset,
		path:        filename,
		fd:          fd,
		index:       idx,
		timeIndex:   timeIdx,
		config:      config,
		logger:      logger.With(zap.Uint64("segment_start_offset", startOffset)),
	}, nil
}

// openSegment opens an existing segment and rebuilds its indexes by scanning the log file.
// A torn record at the end of the file is truncated. A complete record with an invalid
// checksum fails the open.
func openSegment(datadir string, partitionID uint32, startOffset uint64, config Config, logger *zap.Logger) (*segment, error) {
	filename := segmentName(datadir, startOffset)
	if !fileExists(filename) {
		return nil, ErrSegmentDoesNotExist
	}
	fd, err := os.OpenFile(filename, os.O_RDWR, 0650)
	if err != nil {
		return nil, catalog.Wrap(err, catalog.CodeCannotOpenPartitionLogFile)
	}
	idx, err := newIndex(indexName(datadir, startOffset), indexCapacity(config))
	if err != nil {
		fd.Close()
		return nil, catalog.Wrap(err, catalog.CodeCannotCreateSegmentIndexFile, indexName(datadir, startOffset))
	}
	timeIdx, err := newIndex(timeIndexName(datadir, startOffset), indexCapacity(config))
	if err != nil {
		idx.Close()
		fd.Close()
		return nil, catalog.Wrap(err, catalog.CodeCannotCreateSegmentTimeIndex, timeIndexName(datadir, startOffset))
	}
	s := &segment{
		partitionID: partitionID,
		startOffset: startOffset,
		path:        filename,
		fd:          fd,
		index:       idx,
		timeIndex:   timeIdx,
		config:      config,
		logger:      logger.With(zap.Uint64("segment_start_offset", startOffset)),
	}
	if err := s.recover(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *segment) recover() error {
	info, err := s.fd.Stat()
	if err != nil {
		return catalog.Wrap(err, catalog.CodeCannotOpenPartitionLogFile)
	}
	fileSize := uint64(info.Size())
	dec := &readerAt{pos: 0, limit: fileSize, r: s.fd}
	r := NewDecoder(dec).(*decoder)
	for {
		m, calculated, size, err := readMessage(r.r, r.headerBuf)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			s.logger.Warn("truncating torn record at the end of segment",
				zap.Uint64("position", s.size), zap.Uint64("file_size", fileSize))
			if err := s.fd.Truncate(int64(s.size)); err != nil {
				return catalog.Wrap(err, catalog.CodeCannotOpenPartitionLogFile)
			}
			break
		}
		if err != nil {
			return catalog.Wrap(errors.Wrapf(err, "at position %d", s.size), catalog.CodeCannotReadMessage)
		}
		if m.Offset != s.startOffset+s.count {
			return catalog.Wrap(errors.Wrapf(ErrCorruptedEntry, "expected offset %d, found %d", s.startOffset+s.count, m.Offset), catalog.CodeCannotReadMessage)
		}
		if calculated != m.Checksum {
			return catalog.InvalidMessageChecksum(m.Checksum, calculated, m.Offset)
		}
		if err := s.indexMessage(m, s.size, s.count); err != nil {
			return catalog.Wrap(err, catalog.CodeCannotSaveIndexToSegment)
		}
		if s.count == 0 {
			s.firstTimestamp = m.Timestamp
		}
		s.lastTimestamp = m.Timestamp
		s.count++
		s.size += size
	}
	return nil
}

func (s *segment) fits(count, size uint64) bool {
	if s.size+size > s.config.SegmentMaxSize {
		return false
	}
	return s.config.SegmentMaxMessages == 0 || s.count+count <= s.config.SegmentMaxMessages
}

func (s *segment) full() bool {
	if s.size >= s.config.SegmentMaxSize {
		return true
	}
	return s.config.SegmentMaxMessages > 0 && s.count >= s.config.SegmentMaxMessages
}

// seal closes the segment for writing. Closed segments are read through a read-only mapping.
func (s *segment) seal() {
	if s.closed {
		return
	}
	s.closed = true
	if err := multierr.Combine(s.fd.Sync(), s.index.Sync(), s.timeIndex.Sync()); err != nil {
		s.logger.Error("failed to sync closed segment", zap.Error(err))
	}
	if s.size > 0 {
		mapped, err := mmap.Open(s.path)
		if err != nil {
			s.logger.Warn("failed to map closed segment", zap.Error(err))
		} else {
			s.mapped = mapped
		}
	}
	s.logger.Debug("segment closed", zap.Uint64("messages_count", s.count), zap.Uint64("size", s.size))
}

func (s *segment) indexMessage(m *Message, position, relative uint64) error {
	sample := relative == 0 ||
		(s.config.IndexIntervalBytes > 0 && position-s.cursor.position >= s.config.IndexIntervalBytes) ||
		(s.config.IndexIntervalMessages > 0 && relative-s.cursor.count >= s.config.IndexIntervalMessages)
	if !sample {
		return nil
	}
	if err := s.index.append(m.Offset, position); err != nil {
		return err
	}
	s.cursor.position = position
	s.cursor.count = relative
	if s.timeIndex.Len() == 0 || m.Timestamp > s.cursor.timestamp {
		if err := s.timeIndex.append(m.Timestamp, m.Offset); err != nil {
			return err
		}
		s.cursor.timestamp = m.Timestamp
	}
	return nil
}

// Append writes the whole batch or nothing. Offsets and checksums of the batch messages are assigned here.
// Appends must be serialized by the caller: s.mtx only guards the state published to readers, and the
// bytes are written past the published size without holding it.
func (s *segment) Append(batch []*Message) (Range, error) {
	if s.Closed() {
		return Range{}, catalog.SegmentClosed(s.startOffset, s.partitionID)
	}
	var batchSize uint64
	for _, m := range batch {
		batchSize += m.Size()
	}
	if s.count > 0 && !s.fits(uint64(len(batch)), batchSize) {
		s.mtx.Lock()
		s.seal()
		s.mtx.Unlock()
		return Range{}, catalog.SegmentClosed(s.startOffset, s.partitionID)
	}

	buf := make([]byte, batchSize)
	positions := make([]uint64, len(batch))
	var pos uint64
	for idx, m := range batch {
		m.Offset = s.startOffset + s.count + uint64(idx)
		m.Checksum = checksum(m.ID, m.Timestamp, encodeHeaders(m.Headers), m.Payload)
		positions[idx] = s.size + pos
		pos += uint64(encodeMessage(m, buf[pos:]))
	}
	_, err := (&writerAt{pos: s.size, w: s.fd}).Write(buf)
	if err == nil && s.config.FsyncOnAppend {
		err = s.fd.Sync()
	}
	if err != nil {
		s.discardTail()
		return Range{}, catalog.Wrap(err, catalog.CodeCannotSaveMessagesToSegment)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	cursor := s.cursor
	indexMark, timeIndexMark := s.index.Len(), s.timeIndex.Len()
	for idx, m := range batch {
		if err := s.indexMessage(m, positions[idx], s.count+uint64(idx)); err != nil {
			s.cursor = cursor
			s.index.truncate(indexMark)
			s.timeIndex.truncate(timeIndexMark)
			s.discardTail()
			return Range{}, catalog.Wrap(err, catalog.CodeCannotSaveIndexToSegment)
		}
	}
	first := s.startOffset + s.count
	if s.count == 0 {
		s.firstTimestamp = batch[0].Timestamp
	}
	s.lastTimestamp = batch[len(batch)-1].Timestamp
	s.count += uint64(len(batch))
	s.size += batchSize
	if s.full() {
		s.seal()
	}
	return Range{First: first, Last: first + uint64(len(batch)) - 1}, nil
}

// discardTail drops the bytes written past the published size.
func (s *segment) discardTail() {
	if err := s.fd.Truncate(int64(s.size)); err != nil {
		s.logger.Error("failed to truncate segment after a failed write", zap.Error(err))
	}
}

func (s *segment) readerAt() io.ReaderAt {
	if s.mapped != nil {
		return s.mapped
	}
	return s.fd
}

// scan iterates over the messages of the segment starting at offset, verifying every checksum,
// until fn returns false. Messages appended after scan started are not visited.
func (s *segment) scan(offset uint64, fn func(m *Message) bool) error {
	s.mtx.RLock()
	if offset < s.startOffset || offset >= s.startOffset+s.count {
		s.mtx.RUnlock()
		return catalog.InvalidOffset(offset)
	}
	expected, position := s.startOffset, uint64(0)
	if entry := s.index.lookup(offset); entry >= 0 {
		expected, position = s.index.entry(entry)
	}
	r := NewDecoder(&readerAt{pos: position, limit: s.size, r: s.readerAt()}).(*decoder)
	s.mtx.RUnlock()

	for {
		m, calculated, _, err := readMessage(r.r, r.headerBuf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return catalog.Wrap(err, catalog.CodeCannotReadMessage)
		}
		if m.Offset != expected {
			return catalog.Wrap(errors.Wrapf(ErrCorruptedEntry, "expected offset %d, found %d", expected, m.Offset), catalog.CodeCannotReadMessage)
		}
		if calculated != m.Checksum {
			s.logger.Error("message checksum mismatch", zap.Uint64("offset", m.Offset),
				zap.Uint32("found", m.Checksum), zap.Uint32("expected", calculated))
			return catalog.InvalidMessageChecksum(m.Checksum, calculated, m.Offset)
		}
		expected++
		if m.Offset < offset {
			continue
		}
		if !fn(m) {
			return nil
		}
	}
}

// Read returns up to limit messages starting at offset.
func (s *segment) Read(offset uint64, limit int) ([]*Message, error) {
	out := []*Message{}
	err := s.scan(offset, func(m *Message) bool {
		out = append(out, m)
		return len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LookupTimestamp returns the offset of the first message whose timestamp is greater or equal to ts.
func (s *segment) LookupTimestamp(ts uint64) (uint64, bool, error) {
	s.mtx.RLock()
	if s.count == 0 {
		s.mtx.RUnlock()
		return 0, false, nil
	}
	from := s.startOffset
	if entry := s.timeIndex.lookupBefore(ts); entry >= 0 {
		_, from = s.timeIndex.entry(entry)
	}
	s.mtx.RUnlock()

	var found bool
	var offset uint64
	err := s.scan(from, func(m *Message) bool {
		if m.Timestamp >= ts {
			found = true
			offset = m.Offset
			return false
		}
		return true
	})
	return offset, found, err
}

func (s *segment) StartOffset() uint64 {
	return s.startOffset
}
func (s *segment) NextOffset() uint64 {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.startOffset + s.count
}
func (s *segment) Size() uint64 {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.size
}
func (s *segment) Closed() bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.closed
}
func (s *segment) FirstTimestamp() uint64 {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.firstTimestamp
}
func (s *segment) FilePath() string {
	return s.path
}

func (s *segment) Info() SegmentInfo {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return SegmentInfo{
		StartOffset:      s.startOffset,
		MessagesCount:    s.count,
		Size:             s.size,
		MaxSize:          s.config.SegmentMaxSize,
		Closed:           s.closed,
		FirstTimestamp:   s.firstTimestamp,
		LastTimestamp:    s.lastTimestamp,
		IndexEntries:     s.index.Len(),
		TimeIndexEntries: s.timeIndex.Len(),
		Path:             s.path,
	}
}

func (s *segment) Sync() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return multierr.Combine(s.fd.Sync(), s.index.Sync(), s.timeIndex.Sync())
}

func (s *segment) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	var err error
	if s.mapped != nil {
		err = multierr.Append(err, s.mapped.Close())
		s.mapped = nil
	}
	return multierr.Combine(err, s.index.Close(), s.timeIndex.Close(), s.fd.Close())
}

func (s *segment) Delete() error {
	s.Close()
	return multierr.Combine(
		os.Remove(s.index.FilePath()),
		os.Remove(s.timeIndex.FilePath()),
		os.Remove(s.path),
	)
}
