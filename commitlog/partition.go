package commitlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vx-labs/perch/catalog"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrCorruptedLog = errors.New("corrupted commitlog")
)

// Range is an inclusive range of offsets.
type Range struct {
	First uint64 `json:"first" yaml:"first"`
	Last  uint64 `json:"last" yaml:"last"`
}

func (r Range) Count() uint64 {
	return r.Last - r.First + 1
}

// Partition is an ordered, append-only log of messages stored in segments.
type Partition interface {
	io.Closer
	ID() uint32
	Datadir() string
	Append(batch []*Message) (Range, error)
	Read(offset uint64, limit int) ([]*Message, error)
	LookupTimestamp(ts uint64) (uint64, error)
	NextOffset() uint64
	SegmentsCount() int
	Size() uint64
	Segments() []SegmentInfo
	GetStatistics() Statistics
	Cursor(from uint64) Cursor
	Dump(w io.Writer, fromOffset, lastOffset uint64) error
	Load(r io.Reader) error
	Sync() error
	Delete() error
}

type partition struct {
	id      uint32
	datadir string
	config  Config
	ids     IDGenerator
	logger  *zap.Logger
	now     func() time.Time

	// writeMtx serializes appends.
	writeMtx      sync.Mutex
	lastTimestamp uint64

	// mtx protects segments and nextOffset.
	mtx        sync.RWMutex
	segments   []*segment
	nextOffset uint64
}

func logFiles(datadir string) []uint64 {
	matches, err := filepath.Glob(fmt.Sprintf("%s/*.log", datadir))
	if err != nil {
		return nil
	}
	out := make([]uint64, 0)
	for idx := range matches {
		offsetStr := strings.TrimSuffix(filepath.Base(matches[idx]), ".log")
		offset, err := strconv.ParseUint(offsetStr, 10, 64)
		if err == nil {
			out = append(out, offset)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Open opens the partition stored in datadir, creating it when needed.
// Existing segments are scanned to rebuild their indexes.
func Open(datadir string, id uint32, config Config, logger *zap.Logger) (Partition, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	ids, err := NewIDGenerator(config.IDGenerator)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(datadir, 0750); err != nil {
		return nil, catalog.Wrap(err, catalog.CodeCannotCreatePartitionDirectory, id, 0, 0)
	}
	p := &partition{
		id:      id,
		datadir: datadir,
		config:  config,
		ids:     ids,
		now:     time.Now,
		logger:  logger.With(zap.Uint32("partition_id", id)),
	}
	files := logFiles(datadir)
	for idx, startOffset := range files {
		s, err := openSegment(datadir, id, startOffset, config, p.logger)
		if err != nil {
			p.Close()
			return nil, err
		}
		if s.startOffset != p.nextOffset && idx > 0 {
			s.Close()
			p.Close()
			return nil, errors.Wrapf(ErrCorruptedLog, "segment %d does not follow offset %d", s.startOffset, p.nextOffset)
		}
		if idx < len(files)-1 || s.full() {
			s.seal()
		}
		p.segments = append(p.segments, s)
		p.nextOffset = s.startOffset + s.count
		if s.count > 0 {
			p.lastTimestamp = s.lastTimestamp
		}
	}
	if len(files) > 0 {
		p.logger.Debug("partition opened", zap.Int("segments_count", len(p.segments)), zap.Uint64("next_offset", p.nextOffset))
	}
	return p, nil
}

func (p *partition) ID() uint32 {
	return p.id
}
func (p *partition) Datadir() string {
	return p.datadir
}

func (p *partition) NextOffset() uint64 {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return p.nextOffset
}

func (p *partition) SegmentsCount() int {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return len(p.segments)
}

func (p *partition) Size() uint64 {
	var size uint64
	for _, s := range p.snapshot() {
		size += s.Size()
	}
	return size
}

func (p *partition) snapshot() []*segment {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return p.segments
}

func (p *partition) activeSegment() *segment {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	if len(p.segments) == 0 {
		return nil
	}
	return p.segments[len(p.segments)-1]
}

// appendSegment creates a new segment starting at the next offset. Must be called with writeMtx held.
func (p *partition) appendSegment() (*segment, error) {
	// nextOffset is only written by the goroutine holding writeMtx.
	s, err := createSegment(p.datadir, p.id, p.nextOffset, p.config, p.logger)
	if err != nil {
		return nil, err
	}
	p.mtx.Lock()
	p.segments = append(p.segments, s)
	p.mtx.Unlock()
	p.logger.Debug("segment created", zap.Uint64("segment_start_offset", s.startOffset))
	return s, nil
}

func (p *partition) stamp(batch []*Message) {
	now := uint64(p.now().UnixNano() / int64(time.Microsecond))
	for _, m := range batch {
		if m.ID.IsZero() {
			m.ID = p.ids.NewID()
		}
		if m.Timestamp == 0 {
			m.Timestamp = now
		}
		if m.Timestamp < p.lastTimestamp {
			p.logger.Debug("message timestamp is older than the last appended one",
				zap.Uint64("timestamp", m.Timestamp), zap.Uint64("last_timestamp", p.lastTimestamp))
		} else {
			p.lastTimestamp = m.Timestamp
		}
	}
}

// Append stores the batch, and returns the offset range assigned to it.
// Messages without ID or timestamp get one assigned.
func (p *partition) Append(batch []*Message) (Range, error) {
	if err := validateBatch(batch, p.config); err != nil {
		return Range{}, err
	}
	p.writeMtx.Lock()
	defer p.writeMtx.Unlock()
	p.stamp(batch)

	active := p.activeSegment()
	for attempt := 0; attempt < 2; attempt++ {
		if active == nil || active.Closed() {
			var err error
			active, err = p.appendSegment()
			if err != nil {
				return Range{}, err
			}
		}
		r, err := active.Append(batch)
		if catalog.Is(err, catalog.CodeSegmentClosed) {
			active = nil
			continue
		}
		if err != nil {
			return Range{}, err
		}
		p.mtx.Lock()
		p.nextOffset = r.Last + 1
		p.mtx.Unlock()
		return r, nil
	}
	return Range{}, catalog.SegmentClosed(p.nextOffset, p.id)
}

// Read returns up to limit messages starting at offset, crossing segment boundaries when needed.
// Messages appended after Read started are never returned.
func (p *partition) Read(offset uint64, limit int) ([]*Message, error) {
	if limit <= 0 {
		return nil, catalog.InvalidMessagesCount()
	}
	p.mtx.RLock()
	next := p.nextOffset
	segments := p.segments
	p.mtx.RUnlock()

	if len(segments) == 0 || offset >= next || offset < segments[0].startOffset {
		return nil, catalog.SegmentNotFound()
	}
	idx := sort.Search(len(segments), func(i int) bool {
		return segments[i].startOffset > offset
	}) - 1

	if remaining := next - offset; uint64(limit) > remaining {
		limit = int(remaining)
	}
	out := make([]*Message, 0, limit)
	for idx < len(segments) && len(out) < limit {
		batch, err := segments[idx].Read(offset, limit-len(out))
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		offset += uint64(len(batch))
		idx++
	}
	return out, nil
}

// LookupTimestamp returns the offset of the first message whose timestamp is greater or equal to ts,
// or the next offset if there is none.
func (p *partition) LookupTimestamp(ts uint64) (uint64, error) {
	p.mtx.RLock()
	next := p.nextOffset
	all := p.segments
	p.mtx.RUnlock()

	// Empty segments have no first timestamp and would break the ordering searched below.
	segments := make([]*segment, 0, len(all))
	for _, s := range all {
		if s.NextOffset() > s.StartOffset() {
			segments = append(segments, s)
		}
	}
	count := len(segments)
	idx := sort.Search(count, func(i int) bool {
		return segments[i].FirstTimestamp() > ts
	})
	if idx > 0 {
		idx--
	}
	for ; idx < count; idx++ {
		offset, found, err := segments[idx].LookupTimestamp(ts)
		if err != nil {
			return 0, err
		}
		if found && offset < next {
			return offset, nil
		}
	}
	return next, nil
}

func (p *partition) Segments() []SegmentInfo {
	segments := p.snapshot()
	out := make([]SegmentInfo, len(segments))
	for idx, s := range segments {
		out[idx] = s.Info()
	}
	return out
}

func (p *partition) Sync() error {
	var err error
	for _, s := range p.snapshot() {
		err = multierr.Append(err, s.Sync())
	}
	return err
}

func (p *partition) Close() error {
	p.writeMtx.Lock()
	defer p.writeMtx.Unlock()
	var err error
	for _, s := range p.snapshot() {
		err = multierr.Append(err, s.Close())
	}
	return err
}

func (p *partition) Delete() error {
	p.writeMtx.Lock()
	defer p.writeMtx.Unlock()
	p.mtx.Lock()
	segments := p.segments
	p.segments = nil
	p.mtx.Unlock()
	var err error
	for _, s := range segments {
		err = multierr.Append(err, s.Delete())
	}
	if err != nil {
		return err
	}
	return os.RemoveAll(p.datadir)
}
