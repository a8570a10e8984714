package commitlog

import (
	"encoding/binary"
	"encoding/hex"
	"hash/crc32"
	"io"
	"sort"

	"github.com/pkg/errors"
	"github.com/vx-labs/perch/catalog"
)

const (
	// offset, timestamp, id, checksum, headers length, payload length
	MessageHeaderSize = 8 + 8 + 16 + 4 + 4 + 4

	maxHeaderKeySize   = 255
	maxHeaderValueSize = 255
)

var (
	encoding = binary.BigEndian
	// MaxRecordSize bounds the body length accepted when decoding a record from disk.
	MaxRecordSize uint64 = 64 * 1024 * 1024

	ErrCorruptedEntry = errors.New("corrupted entry")
)

type MessageID [16]byte

func (id MessageID) IsZero() bool {
	return id == MessageID{}
}
func (id MessageID) String() string {
	return hex.EncodeToString(id[:])
}

// Message is a single record of a partition. Offset and Checksum are assigned by the partition.
type Message struct {
	Offset    uint64
	Timestamp uint64
	ID        MessageID
	Headers   map[string][]byte
	Payload   []byte
	Checksum  uint32
}

func NewMessage(payload []byte) *Message {
	return &Message{Payload: payload}
}

// Size returns the number of bytes the message uses on disk.
func (m *Message) Size() uint64 {
	return MessageHeaderSize + uint64(headersSize(m.Headers)) + uint64(len(m.Payload))
}

// IsValid reports whether the message checksum matches its content.
func (m *Message) IsValid() bool {
	return m.Checksum == checksum(m.ID, m.Timestamp, encodeHeaders(m.Headers), m.Payload)
}

func headersSize(headers map[string][]byte) int {
	size := 0
	for key, value := range headers {
		size += 2 + len(key) + len(value)
	}
	return size
}

func encodeHeaders(headers map[string][]byte) []byte {
	if len(headers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	buf := make([]byte, 0, headersSize(headers))
	for _, key := range keys {
		value := headers[key]
		buf = append(buf, byte(len(key)))
		buf = append(buf, key...)
		buf = append(buf, byte(len(value)))
		buf = append(buf, value...)
	}
	return buf
}

func decodeHeaders(buf []byte) (map[string][]byte, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	out := map[string][]byte{}
	for len(buf) > 0 {
		keyLen := int(buf[0])
		if keyLen == 0 || len(buf) < 1+keyLen+1 {
			return nil, ErrCorruptedEntry
		}
		key := string(buf[1 : 1+keyLen])
		buf = buf[1+keyLen:]
		valueLen := int(buf[0])
		if valueLen == 0 || len(buf) < 1+valueLen {
			return nil, ErrCorruptedEntry
		}
		out[key] = buf[1 : 1+valueLen]
		buf = buf[1+valueLen:]
	}
	return out, nil
}

func checksum(id MessageID, timestamp uint64, headers, payload []byte) uint32 {
	h := crc32.NewIEEE()
	var ts [8]byte
	encoding.PutUint64(ts[:], timestamp)
	h.Write(id[:])
	h.Write(ts[:])
	h.Write(headers)
	h.Write(payload)
	return h.Sum32()
}

// encodeMessage writes the message record into buf, which must be at least m.Size() bytes long.
func encodeMessage(m *Message, buf []byte) int {
	headers := encodeHeaders(m.Headers)
	encoding.PutUint64(buf[0:8], m.Offset)
	encoding.PutUint64(buf[8:16], m.Timestamp)
	copy(buf[16:32], m.ID[:])
	encoding.PutUint32(buf[32:36], m.Checksum)
	encoding.PutUint32(buf[36:40], uint32(len(headers)))
	encoding.PutUint32(buf[40:44], uint32(len(m.Payload)))
	n := MessageHeaderSize
	n += copy(buf[n:], headers)
	n += copy(buf[n:], m.Payload)
	return n
}

// readMessage decodes the next record from r. It returns the decoded message, the checksum
// computed over the record content and the record size.
// Headers are only decoded when the stored checksum matches.
func readMessage(r io.Reader, headerBuf []byte) (*Message, uint32, uint64, error) {
	_, err := io.ReadFull(r, headerBuf)
	if err != nil {
		return nil, 0, 0, err
	}
	m := &Message{
		Offset:    encoding.Uint64(headerBuf[0:8]),
		Timestamp: encoding.Uint64(headerBuf[8:16]),
		Checksum:  encoding.Uint32(headerBuf[32:36]),
	}
	copy(m.ID[:], headerBuf[16:32])
	headersLen := uint64(encoding.Uint32(headerBuf[36:40]))
	payloadLen := uint64(encoding.Uint32(headerBuf[40:44]))
	if headersLen+payloadLen > MaxRecordSize {
		return nil, 0, 0, ErrCorruptedEntry
	}
	body := make([]byte, headersLen+payloadLen)
	_, err = io.ReadFull(r, body)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, 0, 0, err
	}
	m.Payload = body[headersLen:]
	calculated := checksum(m.ID, m.Timestamp, body[:headersLen], m.Payload)
	if calculated == m.Checksum {
		m.Headers, err = decodeHeaders(body[:headersLen])
		if err != nil {
			return nil, 0, 0, err
		}
	}
	return m, calculated, MessageHeaderSize + headersLen + payloadLen, nil
}

func validateMessage(m *Message, config Config) error {
	if m == nil || len(m.Payload) == 0 {
		return catalog.EmptyMessagePayload()
	}
	if uint64(len(m.Payload)) > config.MaxPayloadSize {
		return catalog.TooBigMessagePayload()
	}
	for key, value := range m.Headers {
		if len(key) == 0 || len(key) > maxHeaderKeySize {
			return catalog.InvalidHeaderKey()
		}
		if len(value) == 0 || len(value) > maxHeaderValueSize {
			return catalog.InvalidHeaderValue()
		}
	}
	if uint64(headersSize(m.Headers)) > config.MaxHeadersSize {
		return catalog.TooBigHeadersPayload()
	}
	return nil
}

func validateBatch(batch []*Message, config Config) error {
	if len(batch) == 0 || len(batch) > config.MaxBatchMessages {
		return catalog.InvalidMessagesCount()
	}
	for _, m := range batch {
		if err := validateMessage(m, config); err != nil {
			return err
		}
	}
	return nil
}
