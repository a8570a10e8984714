package commitlog

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// key, value
	indexEntrySize       = 16
	minimumIndexCapacity = 64
)

var (
	ErrIndexAlreadyExists = errors.New("index already exists")
	ErrMMapFailed         = errors.New("mmap failed")
	ErrFSyncFailed        = errors.New("file sync failed")
	ErrMSyncFailed        = errors.New("mmap sync failed")
)

// index is a sparse, memory-mapped list of (key, value) pairs with strictly increasing keys.
// The offset index maps absolute offsets to log positions, the time index maps timestamps to offsets.
type index struct {
	path     string
	fd       *os.File
	data     []byte
	count    int
	capacity int
}

func createIndex(filename string, capacity int) (*index, error) {
	if fileExists(filename) {
		return nil, ErrIndexAlreadyExists
	}
	return newIndex(filename, capacity)
}

// newIndex creates an empty index file, overwriting any previous content.
func newIndex(filename string, capacity int) (*index, error) {
	if capacity < minimumIndexCapacity {
		capacity = minimumIndexCapacity
	}
	fd, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0650)
	if err != nil {
		return nil, err
	}
	err = fd.Truncate(int64(capacity * indexEntrySize))
	if err != nil {
		fd.Close()
		os.Remove(filename)
		return nil, err
	}
	idx := &index{fd: fd, path: filename, capacity: capacity}
	if err := idx.mmap(); err != nil {
		fd.Close()
		os.Remove(filename)
		return nil, err
	}
	return idx, nil
}

func (i *index) mmap() error {
	data, err := unix.Mmap(int(i.fd.Fd()), 0, i.capacity*indexEntrySize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrap(err, ErrMMapFailed.Error())
	}
	i.data = data
	return nil
}

func (i *index) grow() error {
	if err := unix.Munmap(i.data); err != nil {
		return err
	}
	i.data = nil
	if err := i.fd.Truncate(int64(i.capacity * 2 * indexEntrySize)); err != nil {
		return err
	}
	i.capacity *= 2
	return i.mmap()
}

func (i *index) FilePath() string {
	return i.path
}

func (i *index) Len() int {
	return i.count
}

func (i *index) append(key, value uint64) error {
	if i.count == i.capacity {
		if err := i.grow(); err != nil {
			return err
		}
	}
	pos := i.count * indexEntrySize
	encoding.PutUint64(i.data[pos:pos+8], key)
	encoding.PutUint64(i.data[pos+8:pos+16], value)
	i.count++
	return nil
}

func (i *index) entry(n int) (uint64, uint64) {
	pos := n * indexEntrySize
	return encoding.Uint64(i.data[pos : pos+8]), encoding.Uint64(i.data[pos+8 : pos+16])
}

func (i *index) last() (uint64, uint64, bool) {
	if i.count == 0 {
		return 0, 0, false
	}
	key, value := i.entry(i.count - 1)
	return key, value, true
}

// lookup returns the position of the last entry whose key is lower or equal to key, or -1.
func (i *index) lookup(key uint64) int {
	return sort.Search(i.count, func(n int) bool {
		k, _ := i.entry(n)
		return k > key
	}) - 1
}

// lookupBefore returns the position of the last entry whose key is strictly lower than key, or -1.
func (i *index) lookupBefore(key uint64) int {
	return sort.Search(i.count, func(n int) bool {
		k, _ := i.entry(n)
		return k >= key
	}) - 1
}

// truncate drops every entry after the first count ones.
func (i *index) truncate(count int) {
	if count < i.count {
		i.count = count
	}
}

func (i *index) Sync() error {
	if err := unix.Msync(i.data, unix.MS_SYNC); err != nil {
		return ErrMSyncFailed
	}
	if err := i.fd.Sync(); err != nil {
		return ErrFSyncFailed
	}
	return nil
}

// Close flushes the mapping and shrinks the file to the entries actually written.
func (i *index) Close() error {
	if i.data == nil {
		return i.fd.Close()
	}
	err := i.Sync()
	if err != nil {
		return err
	}
	err = unix.Munmap(i.data)
	if err != nil {
		return err
	}
	i.data = nil
	if err := i.fd.Truncate(int64(i.count * indexEntrySize)); err != nil {
		return err
	}
	return i.fd.Close()
}
