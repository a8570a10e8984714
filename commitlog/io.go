package commitlog

import (
	"io"
)

// readerAt reads sequentially from an io.ReaderAt, stopping at limit.
type readerAt struct {
	pos   uint64
	limit uint64
	r     io.ReaderAt
}

func (r *readerAt) Read(buf []byte) (int, error) {
	if r.pos >= r.limit {
		return 0, io.EOF
	}
	if remaining := r.limit - r.pos; uint64(len(buf)) > remaining {
		buf = buf[:remaining]
	}
	n, err := r.r.ReadAt(buf, int64(r.pos))
	r.pos += uint64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

type writerAt struct {
	pos uint64
	w   io.WriterAt
}

func (r *writerAt) Write(buf []byte) (int, error) {
	n, err := r.w.WriteAt(buf, int64(r.pos))
	r.pos += uint64(n)
	return n, err
}
