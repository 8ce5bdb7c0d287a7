package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trondn/platform/storage"
)

func TestHeapAllocator(t *testing.T) {
	cases := []int{0, 1, 100, 4096}

	for _, size := range cases {
		blk, err := storage.HeapAllocator{}.Alloc(size)
		require.NoError(t, err)
		assert.Equal(t, size, len(blk.Bytes()))

		b := blk.Bytes()
		for i := range b {
			b[i] = byte(i)
		}

		assert.NoError(t, blk.Release())
	}
}

func TestAllocatorsRejectNegativeSize(t *testing.T) {
	allocators := []storage.Allocator{
		storage.HeapAllocator{},
		storage.MapAllocator{},
		storage.NewFileAllocator(t.TempDir()),
	}

	for _, a := range allocators {
		_, err := a.Alloc(-1)
		assert.Error(t, err)
	}
}
