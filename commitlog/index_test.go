package commitlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndex(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "test.index")
	idx, err := createIndex(filename, 1)
	require.NoError(t, err)
	require.Equal(t, minimumIndexCapacity, idx.capacity)

	t.Run("should not allow creating an existing index", func(t *testing.T) {
		_, err := createIndex(filename, 1)
		require.Equal(t, ErrIndexAlreadyExists, err)
	})
	t.Run("should return -1 when empty", func(t *testing.T) {
		require.Equal(t, -1, idx.lookup(10))
		_, _, ok := idx.last()
		require.False(t, ok)
	})
	t.Run("should grow when full", func(t *testing.T) {
		for i := 0; i < 3*minimumIndexCapacity; i++ {
			require.NoError(t, idx.append(uint64(i*10), uint64(i*100)))
		}
		require.Equal(t, 3*minimumIndexCapacity, idx.Len())
		require.Equal(t, 4*minimumIndexCapacity, idx.capacity)
		key, value := idx.entry(100)
		require.Equal(t, uint64(1000), key)
		require.Equal(t, uint64(10000), value)
	})
	t.Run("should find the nearest preceding entry", func(t *testing.T) {
		require.Equal(t, 0, idx.lookup(0))
		require.Equal(t, 0, idx.lookup(9))
		require.Equal(t, 1, idx.lookup(10))
		require.Equal(t, 1, idx.lookup(19))
		require.Equal(t, idx.Len()-1, idx.lookup(1<<40))
		require.Equal(t, -1, idx.lookupBefore(0))
		require.Equal(t, 0, idx.lookupBefore(10))
		require.Equal(t, 1, idx.lookupBefore(11))
	})
	t.Run("should roll back entries", func(t *testing.T) {
		idx.truncate(2)
		require.Equal(t, 2, idx.Len())
		key, _, ok := idx.last()
		require.True(t, ok)
		require.Equal(t, uint64(10), key)
		idx.truncate(10)
		require.Equal(t, 2, idx.Len())
	})
	t.Run("should shrink the file on close", func(t *testing.T) {
		require.NoError(t, idx.Close())
		info, err := os.Stat(filename)
		require.NoError(t, err)
		require.Equal(t, int64(2*indexEntrySize), info.Size())
	})
}

func BenchmarkIndex(b *testing.B) {
	idx, err := createIndex(filepath.Join(b.TempDir(), "bench.index"), 1<<16)
	require.NoError(b, err)
	defer idx.Close()
	for i := 0; i < 1<<16; i++ {
		require.NoError(b, idx.append(uint64(i*64), uint64(i*4096)))
	}
	b.Run("lookup", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			idx.lookup(uint64(i % (1 << 22)))
		}
	})
}
