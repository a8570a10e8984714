package commitlog

import (
	"bufio"
	"io"

	"github.com/vx-labs/perch/catalog"
)

type Decoder interface {
	Decode() (*Message, error)
}

type decoder struct {
	headerBuf []byte
	r         io.Reader
}

// Decode returns the next message of the stream, or io.EOF.
// Checksums are verified: a mismatch is returned as a catalog checksum error.
func (d *decoder) Decode() (*Message, error) {
	m, calculated, _, err := readMessage(d.r, d.headerBuf)
	if err != nil {
		return nil, err
	}
	if calculated != m.Checksum {
		return nil, catalog.InvalidMessageChecksum(m.Checksum, calculated, m.Offset)
	}
	return m, nil
}

func NewDecoder(r io.Reader) Decoder {
	return &decoder{r: bufio.NewReader(r), headerBuf: make([]byte, MessageHeaderSize)}
}
