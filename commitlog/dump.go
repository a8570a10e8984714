package commitlog

import (
	"encoding/hex"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

type DumpRecord struct {
	Offset    uint64            `json:"offset"`
	ID        string            `json:"id"`
	Timestamp uint64            `json:"timestamp"`
	Headers   map[string][]byte `json:"headers,omitempty"`
	Payload   []byte            `json:"payload"`
}

// Dump writes the messages whose offsets are in [fromOffset, lastOffset) as JSON lines.
// A zero lastOffset dumps up to the end of the partition.
func (p *partition) Dump(w io.Writer, fromOffset, lastOffset uint64) error {
	if lastOffset == 0 {
		lastOffset = p.NextOffset()
	}
	encoder := json.NewEncoder(w)
	c := p.Cursor(fromOffset)
	for {
		m, err := c.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if m.Offset >= lastOffset {
			return nil
		}
		err = encoder.Encode(DumpRecord{
			Offset:    m.Offset,
			ID:        m.ID.String(),
			Timestamp: m.Timestamp,
			Headers:   m.Headers,
			Payload:   m.Payload,
		})
		if err != nil {
			return err
		}
	}
}

// Load appends the records of a dump produced by Dump. Records whose offset is lower than the
// partition next offset are skipped, so loading the same dump twice is harmless.
func (p *partition) Load(r io.Reader) error {
	dec := json.NewDecoder(r)
	firstOffset := p.NextOffset()
	batch := make([]*Message, 0, p.config.MaxBatchMessages)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := p.Append(batch)
		batch = batch[:0]
		return err
	}
	for {
		record := DumpRecord{}
		err := dec.Decode(&record)
		if err == io.EOF {
			return flush()
		}
		if err != nil {
			return errors.Wrap(err, "failed to decode dump record")
		}
		if record.Offset < firstOffset {
			continue
		}
		m := &Message{Timestamp: record.Timestamp, Headers: record.Headers, Payload: record.Payload}
		if record.ID != "" {
			id, err := hex.DecodeString(record.ID)
			if err != nil || len(id) != len(m.ID) {
				return errors.Errorf("invalid message id %q at offset %d", record.ID, record.Offset)
			}
			copy(m.ID[:], id)
		}
		batch = append(batch, m)
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}
