package commitlog

type Statistics struct {
	SegmentCount  uint64 `json:"segment_count" yaml:"segment-count"`
	MessagesCount uint64 `json:"messages_count" yaml:"messages-count"`
	CurrentOffset uint64 `json:"current_offset" yaml:"current-offset"`
	StoredBytes   uint64 `json:"stored_bytes" yaml:"stored-bytes"`
}

type SegmentInfo struct {
	StartOffset      uint64 `json:"start_offset" yaml:"start-offset"`
	MessagesCount    uint64 `json:"messages_count" yaml:"messages-count"`
	Size             uint64 `json:"size" yaml:"size"`
	MaxSize          uint64 `json:"max_size" yaml:"max-size"`
	Closed           bool   `json:"closed" yaml:"closed"`
	FirstTimestamp   uint64 `json:"first_timestamp" yaml:"first-timestamp"`
	LastTimestamp    uint64 `json:"last_timestamp" yaml:"last-timestamp"`
	IndexEntries     int    `json:"index_entries" yaml:"index-entries"`
	TimeIndexEntries int    `json:"time_index_entries" yaml:"time-index-entries"`
	Path             string `json:"path" yaml:"path"`
}

func (p *partition) GetStatistics() Statistics {
	p.mtx.RLock()
	segments := p.segments
	next := p.nextOffset
	p.mtx.RUnlock()
	stats := Statistics{
		SegmentCount:  uint64(len(segments)),
		CurrentOffset: next,
	}
	for _, s := range segments {
		info := s.Info()
		stats.MessagesCount += info.MessagesCount
		stats.StoredBytes += info.Size
	}
	return stats
}
