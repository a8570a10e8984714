package commitlog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/perch/catalog"
	"go.uber.org/zap"
)

func payloads(values ...string) []*Message {
	out := make([]*Message, len(values))
	for idx, value := range values {
		out[idx] = NewMessage([]byte(value))
	}
	return out
}

func TestPartition(t *testing.T) {
	datadir := t.TempDir()
	config := testConfig()
	config.SegmentMaxMessages = 2
	p, err := Open(datadir, 1, config, zap.NewNop())
	require.NoError(t, err)
	defer func() { p.Close() }()

	t.Run("should refuse reads on an empty partition", func(t *testing.T) {
		_, err := p.Read(0, 1)
		require.Equal(t, catalog.CodeSegmentNotFound, catalog.CodeOf(err))
		require.Equal(t, 0, p.SegmentsCount())
		require.Equal(t, uint64(0), p.Size())
	})
	t.Run("should roll segments over", func(t *testing.T) {
		for idx, value := range []string{"a", "b", "c", "d", "e"} {
			r, err := p.Append(payloads(value))
			require.NoError(t, err)
			require.Equal(t, Range{First: uint64(idx), Last: uint64(idx)}, r)
		}
		require.Equal(t, 3, p.SegmentsCount())
		require.Equal(t, uint64(5), p.NextOffset())
		segments := p.Segments()
		require.Equal(t, uint64(0), segments[0].StartOffset)
		require.Equal(t, uint64(2), segments[1].StartOffset)
		require.Equal(t, uint64(4), segments[2].StartOffset)
		require.True(t, segments[0].Closed)
		require.True(t, segments[1].Closed)
		require.False(t, segments[2].Closed)
	})
	t.Run("should stitch reads across segments", func(t *testing.T) {
		out, err := p.Read(1, 3)
		require.NoError(t, err)
		require.Len(t, out, 3)
		for idx, value := range []string{"b", "c", "d"} {
			require.Equal(t, uint64(idx+1), out[idx].Offset)
			require.Equal(t, []byte(value), out[idx].Payload)
		}
		out, err = p.Read(3, 100)
		require.NoError(t, err)
		require.Len(t, out, 2)
	})
	t.Run("should refuse reads past the end", func(t *testing.T) {
		_, err := p.Read(5, 1)
		require.Equal(t, catalog.CodeSegmentNotFound, catalog.CodeOf(err))
		_, err = p.Read(0, 0)
		require.Equal(t, catalog.CodeInvalidMessagesCount, catalog.CodeOf(err))
	})
	t.Run("should report statistics", func(t *testing.T) {
		stats := p.GetStatistics()
		require.Equal(t, uint64(3), stats.SegmentCount)
		require.Equal(t, uint64(5), stats.MessagesCount)
		require.Equal(t, uint64(5), stats.CurrentOffset)
		require.Equal(t, uint64(5*(MessageHeaderSize+1)), stats.StoredBytes)
		require.Equal(t, stats.StoredBytes, p.Size())
	})
	t.Run("should close then reopen without error", func(t *testing.T) {
		require.NoError(t, p.Close())
		p, err = Open(datadir, 1, config, zap.NewNop())
		require.NoError(t, err)
		require.Equal(t, 3, p.SegmentsCount())
		require.Equal(t, uint64(5), p.NextOffset())
		r, err := p.Append(payloads("f"))
		require.NoError(t, err)
		require.Equal(t, uint64(5), r.First)
		require.Equal(t, 3, p.SegmentsCount())
		out, err := p.Read(0, 10)
		require.NoError(t, err)
		require.Len(t, out, 6)
	})
}

func TestPartitionAppend(t *testing.T) {
	config := testConfig()
	config.MaxPayloadSize = 10

	t.Run("should leave the partition untouched on validation errors", func(t *testing.T) {
		p, err := Open(t.TempDir(), 1, config, zap.NewNop())
		require.NoError(t, err)
		defer p.Close()
		_, err = p.Append(payloads("a", "0123456789a"))
		require.Equal(t, catalog.CodeTooBigMessagePayload, catalog.CodeOf(err))
		_, err = p.Append(nil)
		require.Equal(t, catalog.CodeInvalidMessagesCount, catalog.CodeOf(err))
		require.Equal(t, uint64(0), p.NextOffset())
		require.Equal(t, 0, p.SegmentsCount())
	})
	t.Run("should assign ids and timestamps", func(t *testing.T) {
		p, err := Open(t.TempDir(), 1, config, zap.NewNop())
		require.NoError(t, err)
		defer p.Close()
		p.(*partition).now = func() time.Time { return time.Unix(0, 5000) }
		batch := payloads("a", "b")
		batch[1].ID = MessageID{9}
		batch[1].Timestamp = 3
		_, err = p.Append(batch)
		require.NoError(t, err)
		out, err := p.Read(0, 2)
		require.NoError(t, err)
		require.False(t, out[0].ID.IsZero())
		require.Equal(t, uint64(5), out[0].Timestamp)
		require.Equal(t, MessageID{9}, out[1].ID)
		require.Equal(t, uint64(3), out[1].Timestamp)
	})
	t.Run("should round trip messages", func(t *testing.T) {
		p, err := Open(t.TempDir(), 1, config, zap.NewNop())
		require.NoError(t, err)
		defer p.Close()
		in := &Message{
			ID:        MessageID{1},
			Timestamp: 12,
			Headers:   map[string][]byte{"content-type": []byte("text")},
			Payload:   []byte("hello"),
		}
		_, err = p.Append([]*Message{in})
		require.NoError(t, err)
		out, err := p.Read(0, 1)
		require.NoError(t, err)
		require.Equal(t, in, out[0])
	})
	t.Run("should assign offsets without gaps", func(t *testing.T) {
		config := testConfig()
		config.SegmentMaxMessages = 7
		p, err := Open(t.TempDir(), 1, config, zap.NewNop())
		require.NoError(t, err)
		defer p.Close()

		ranges := make(chan Range, 100)
		errs := make(chan error, 100)
		wg := sync.WaitGroup{}
		for worker := 0; worker < 4; worker++ {
			wg.Add(1)
			go func(worker int) {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					batch := make([]*Message, i%3+1)
					for idx := range batch {
						batch[idx] = NewMessage([]byte(fmt.Sprintf("%d-%d-%d", worker, i, idx)))
					}
					r, err := p.Append(batch)
					if err != nil {
						errs <- err
						return
					}
					ranges <- r
				}
			}(worker)
		}
		wg.Wait()
		close(ranges)
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		out := []Range{}
		for r := range ranges {
			out = append(out, r)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].First < out[j].First })
		var next uint64
		for _, r := range out {
			require.Equal(t, next, r.First)
			next = r.Last + 1
		}
		require.Equal(t, next, p.NextOffset())
		messages, err := p.Read(0, int(next))
		require.NoError(t, err)
		for idx, m := range messages {
			require.Equal(t, uint64(idx), m.Offset)
		}
	})
	t.Run("should serve tail reads while appending", func(t *testing.T) {
		config := testConfig()
		config.SegmentMaxMessages = 16
		config.FsyncOnAppend = true
		p, err := Open(t.TempDir(), 1, config, zap.NewNop())
		require.NoError(t, err)
		defer p.Close()

		done := make(chan struct{})
		readErrs := make(chan error, 1)
		go func() {
			defer close(readErrs)
			for {
				select {
				case <-done:
					return
				default:
				}
				next := p.NextOffset()
				if next == 0 {
					continue
				}
				out, err := p.Read(next-1, 10)
				if err != nil {
					readErrs <- err
					return
				}
				if out[0].Offset != next-1 {
					readErrs <- fmt.Errorf("expected offset %d, got %d", next-1, out[0].Offset)
					return
				}
			}
		}()
		for i := 0; i < 100; i++ {
			_, err := p.Append(payloads(fmt.Sprintf("%d", i)))
			require.NoError(t, err)
		}
		close(done)
		for err := range readErrs {
			require.NoError(t, err)
		}
		require.Equal(t, uint64(100), p.NextOffset())
	})
}

func TestPartitionSizeBound(t *testing.T) {
	config := testConfig()
	config.SegmentMaxSize = 200
	config.IndexIntervalBytes = 100
	p, err := Open(t.TempDir(), 1, config, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	for i := 0; i < 50; i++ {
		_, err := p.Append(payloads("test"))
		require.NoError(t, err)
	}
	t.Run("should keep segments under their maximum size", func(t *testing.T) {
		segments := p.Segments()
		require.Len(t, segments, 13)
		for _, s := range segments {
			require.True(t, s.Size <= config.SegmentMaxSize)
			require.Equal(t, s.Size, s.MessagesCount*(MessageHeaderSize+4))
		}
	})
	t.Run("should keep index entries increasing", func(t *testing.T) {
		for _, s := range p.(*partition).snapshot() {
			for n := 1; n < s.index.Len(); n++ {
				prevKey, prevValue := s.index.entry(n - 1)
				key, value := s.index.entry(n)
				require.True(t, key > prevKey)
				require.True(t, value > prevValue)
			}
		}
	})
	t.Run("should read every offset", func(t *testing.T) {
		for offset := uint64(0); offset < 50; offset++ {
			out, err := p.Read(offset, 1)
			require.NoError(t, err)
			require.Equal(t, offset, out[0].Offset)
		}
	})
}

func TestPartitionChecksum(t *testing.T) {
	datadir := t.TempDir()
	p, err := Open(datadir, 1, testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer p.Close()
	batch := payloads("a", "b", "c")
	_, err = p.Append(batch)
	require.NoError(t, err)
	stored := batch[1].Checksum

	fd, err := os.OpenFile(segmentName(datadir, 0), os.O_WRONLY, 0650)
	require.NoError(t, err)
	_, err = fd.WriteAt([]byte("X"), MessageHeaderSize+1+MessageHeaderSize)
	require.NoError(t, err)
	require.NoError(t, fd.Close())

	t.Run("should fail the whole read", func(t *testing.T) {
		out, err := p.Read(0, 3)
		require.Nil(t, out)
		var checksumErr *catalog.ChecksumError
		require.True(t, errors.As(err, &checksumErr))
		require.Equal(t, uint64(1), checksumErr.Offset)
		require.Equal(t, stored, checksumErr.Found)
		require.NotEqual(t, checksumErr.Found, checksumErr.Expected)
	})
	t.Run("should still read messages before the corruption", func(t *testing.T) {
		out, err := p.Read(0, 1)
		require.NoError(t, err)
		require.Equal(t, []byte("a"), out[0].Payload)
	})
}

func TestPartitionLookupTimestamp(t *testing.T) {
	config := testConfig()
	config.SegmentMaxMessages = 3
	config.IndexIntervalBytes = 0
	config.IndexIntervalMessages = 2
	p, err := Open(t.TempDir(), 1, config, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	for i := 1; i <= 10; i++ {
		_, err := p.Append([]*Message{{Timestamp: uint64(i * 10), Payload: []byte("test")}})
		require.NoError(t, err)
	}
	require.Equal(t, 4, p.SegmentsCount())
	for ts, expected := range map[uint64]uint64{0: 0, 10: 0, 25: 2, 30: 2, 31: 3, 60: 5, 61: 6, 100: 9, 101: 10} {
		offset, err := p.LookupTimestamp(ts)
		require.NoError(t, err)
		require.Equal(t, expected, offset, "timestamp %d", ts)
	}
}

func TestPartitionStoredChecksum(t *testing.T) {
	datadir := t.TempDir()
	p, err := Open(datadir, 1, testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer p.Close()
	batch := payloads("a", "b", "c")
	_, err = p.Append(batch)
	require.NoError(t, err)
	computed := batch[1].Checksum

	fd, err := os.OpenFile(segmentName(datadir, 0), os.O_WRONLY, 0650)
	require.NoError(t, err)
	_, err = fd.WriteAt([]byte{0xff, 0xff, 0xff, 0xff}, MessageHeaderSize+1+32)
	require.NoError(t, err)
	require.NoError(t, fd.Close())

	out, err := p.Read(1, 1)
	require.Nil(t, out)
	require.Equal(t, catalog.CodeInvalidMessageChecksum, catalog.CodeOf(err))
	var checksumErr *catalog.ChecksumError
	require.True(t, errors.As(err, &checksumErr))
	require.Equal(t, uint64(1), checksumErr.Offset)
	require.Equal(t, uint32(0xffffffff), checksumErr.Found)
	require.Equal(t, computed, checksumErr.Expected)
}

func TestPartitionLookupTimestampEmptyTail(t *testing.T) {
	datadir := t.TempDir()
	config := testConfig()
	config.SegmentMaxMessages = 2
	p, err := Open(datadir, 1, config, zap.NewNop())
	require.NoError(t, err)
	for _, ts := range []uint64{10, 20, 30, 40} {
		_, err := p.Append(messages(ts))
		require.NoError(t, err)
	}
	offset, err := p.LookupTimestamp(35)
	require.NoError(t, err)
	require.Equal(t, uint64(3), offset)
	require.NoError(t, p.Close())

	fd, err := os.Create(segmentName(datadir, 4))
	require.NoError(t, err)
	require.NoError(t, fd.Close())
	p, err = Open(datadir, 1, config, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()
	require.Equal(t, 3, p.SegmentsCount())

	for ts, expected := range map[uint64]uint64{5: 0, 20: 1, 35: 3, 40: 3, 41: 4} {
		offset, err := p.LookupTimestamp(ts)
		require.NoError(t, err)
		require.Equal(t, expected, offset, "timestamp %d", ts)
	}
}

func TestPartitionDump(t *testing.T) {
	source, err := Open(t.TempDir(), 1, testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer source.Close()
	for i := 0; i < 10; i++ {
		_, err := source.Append([]*Message{{
			Headers: map[string][]byte{"index": []byte(fmt.Sprintf("%d", i))},
			Payload: []byte(fmt.Sprintf("message %d", i)),
		}})
		require.NoError(t, err)
	}

	t.Run("should iterate with a cursor", func(t *testing.T) {
		c := source.Cursor(4)
		count := 0
		for {
			m, err := c.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			require.Equal(t, uint64(4+count), m.Offset)
			count++
		}
		require.Equal(t, 6, count)
		require.Equal(t, uint64(10), c.Offset())
	})
	t.Run("should dump and load a partition", func(t *testing.T) {
		buf := bytes.NewBuffer(nil)
		require.NoError(t, source.Dump(buf, 0, 0))
		dump := buf.Bytes()

		target, err := Open(t.TempDir(), 2, testConfig(), zap.NewNop())
		require.NoError(t, err)
		defer target.Close()
		require.NoError(t, target.Load(bytes.NewReader(dump)))
		require.Equal(t, uint64(10), target.NextOffset())
		require.NoError(t, target.Load(bytes.NewReader(dump)))
		require.Equal(t, uint64(10), target.NextOffset())

		expected, err := source.Read(0, 10)
		require.NoError(t, err)
		out, err := target.Read(0, 10)
		require.NoError(t, err)
		require.Equal(t, expected, out)
	})
	t.Run("should dump a range", func(t *testing.T) {
		buf := bytes.NewBuffer(nil)
		require.NoError(t, source.Dump(buf, 2, 5))
		require.Equal(t, 3, bytes.Count(buf.Bytes(), []byte("\n")))
	})
}

func BenchmarkPartition(b *testing.B) {
	p, err := Open(b.TempDir(), 1, DefaultConfig(), zap.NewNop())
	require.NoError(b, err)
	defer p.Close()
	value := []byte("test")
	b.Run("write", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, err = p.Append([]*Message{NewMessage(value)})
			if err != nil {
				b.Fatalf("partition write failed: %v", err)
			}
		}
	})
}
