package commitlog

import (
	"io"
	"sync"
)

const defaultCursorBatchSize = 250

// Cursor iterates over the messages of a partition.
type Cursor interface {
	Next() (*Message, error)
	Seek(offset uint64)
	Offset() uint64
}

type cursor struct {
	mtx       sync.Mutex
	offset    uint64
	batch     []*Message
	batchSize int
	log       *partition
}

func (p *partition) Cursor(from uint64) Cursor {
	return &cursor{log: p, offset: from, batchSize: defaultCursorBatchSize}
}

// Next returns the next message, or io.EOF when the cursor reached the end of the partition.
func (c *cursor) Next() (*Message, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if len(c.batch) == 0 {
		if c.offset >= c.log.NextOffset() {
			return nil, io.EOF
		}
		if segments := c.log.snapshot(); len(segments) > 0 && c.offset < segments[0].startOffset {
			c.offset = segments[0].startOffset
		}
		batch, err := c.log.Read(c.offset, c.batchSize)
		if err != nil {
			return nil, err
		}
		c.batch = batch
	}
	m := c.batch[0]
	c.batch = c.batch[1:]
	c.offset = m.Offset + 1
	return m, nil
}

func (c *cursor) Seek(offset uint64) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.offset = offset
	c.batch = nil
}

func (c *cursor) Offset() uint64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.offset
}
