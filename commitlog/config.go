package commitlog

import (
	"fmt"

	"github.com/vx-labs/perch/catalog"
)

type Config struct {
	SegmentMaxSize        uint64 `yaml:"segment-max-size" json:"segment_max_size"`
	SegmentMaxMessages    uint64 `yaml:"segment-max-messages" json:"segment_max_messages"`
	IndexIntervalBytes    uint64 `yaml:"index-interval-bytes" json:"index_interval_bytes"`
	IndexIntervalMessages uint64 `yaml:"index-interval-messages" json:"index_interval_messages"`
	MaxPayloadSize        uint64 `yaml:"max-payload-size" json:"max_payload_size"`
	MaxHeadersSize        uint64 `yaml:"max-headers-size" json:"max_headers_size"`
	MaxBatchMessages      int    `yaml:"max-batch-messages" json:"max_batch_messages"`
	FsyncOnAppend         bool   `yaml:"fsync-on-append" json:"fsync_on_append"`
	IDGenerator           string `yaml:"id-generator" json:"id_generator"`
}

func DefaultConfig() Config {
	return Config{
		SegmentMaxSize:        1024 * 1024 * 1024,
		SegmentMaxMessages:    0,
		IndexIntervalBytes:    4096,
		IndexIntervalMessages: 0,
		MaxPayloadSize:        10 * 1024 * 1024,
		MaxHeadersSize:        100 * 1024,
		MaxBatchMessages:      100000,
		FsyncOnAppend:         false,
		IDGenerator:           ULIDGenerator,
	}
}

func (c Config) Validate() error {
	switch {
	case c.SegmentMaxSize == 0:
		return catalog.InvalidConfiguration("segment max size must be positive")
	case c.IndexIntervalBytes == 0 && c.IndexIntervalMessages == 0:
		return catalog.InvalidConfiguration("at least one index interval must be set")
	case c.MaxPayloadSize == 0:
		return catalog.InvalidConfiguration("max payload size must be positive")
	case c.MaxPayloadSize+c.MaxHeadersSize > MaxRecordSize:
		return catalog.InvalidConfiguration(fmt.Sprintf("records larger than %d bytes are not supported", MaxRecordSize))
	case c.MaxBatchMessages <= 0:
		return catalog.InvalidConfiguration("max batch messages must be positive")
	}
	if _, err := NewIDGenerator(c.IDGenerator); err != nil {
		return err
	}
	return nil
}
