package storage_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trondn/platform"
	"github.com/trondn/platform/storage"
)

func TestMapAllocator(t *testing.T) {
	blk, err := storage.MapAllocator{}.Alloc(4096)
	require.NoError(t, err)
	require.Equal(t, 4096, len(blk.Bytes()))

	b := blk.Bytes()
	for i := range b {
		b[i] = byte(i * 3)
	}
	for i := range b {
		require.Equal(t, byte(i*3), b[i])
	}

	assert.NoError(t, blk.Release())
}

func TestMapAllocatorZeroSize(t *testing.T) {
	blk, err := storage.MapAllocator{}.Alloc(0)
	require.NoError(t, err)
	assert.Equal(t, 0, len(blk.Bytes()))
	assert.NoError(t, blk.Release())
}

func TestFileAllocator(t *testing.T) {
	dir := t.TempDir()
	a := storage.NewFileAllocator(dir)

	blk, err := a.Alloc(1000)
	require.NoError(t, err)
	require.Equal(t, 1000, len(blk.Bytes()))

	loc := filepath.Join(dir, "pipe.1")
	fi, err := os.Stat(loc)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), fi.Size())

	copy(blk.Bytes(), "mapped bytes")
	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("mapped bytes")))

	second, err := a.Alloc(256)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "pipe.2"))
	assert.NoError(t, err)

	require.NoError(t, blk.Release())
	_, err = os.Stat(loc)
	assert.True(t, os.IsNotExist(err), "the backing file is removed on release")

	require.NoError(t, second.Release())
}

func TestFileAllocatorCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "blocks")
	a := storage.NewFileAllocator(dir)

	blk, err := a.Alloc(64)
	require.NoError(t, err)
	assert.NoError(t, blk.Release())
}

func TestFileAllocatorZeroSize(t *testing.T) {
	dir := t.TempDir()
	a := storage.NewFileAllocator(dir)

	blk, err := a.Alloc(0)
	require.NoError(t, err)
	assert.Equal(t, 0, len(blk.Bytes()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "a zero size block needs no backing file")

	assert.NoError(t, blk.Release())
}

func TestPipeOnAnonymousMapping(t *testing.T) {
	p, err := platform.NewWithAllocator(4096, storage.MapAllocator{})
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("anon"), 512)
	_, err = p.Write(payload)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, p.Bytes()))

	assert.NoError(t, p.Close())
}

func TestPipeOnMappedFiles(t *testing.T) {
	dir := t.TempDir()
	p, err := platform.NewWithAllocator(512, storage.NewFileAllocator(dir))
	require.NoError(t, err)

	_, err = p.Write([]byte("mapped payload"))
	require.NoError(t, err)

	// Growing swaps the pipe onto a new backing file and removes the old
	// one.
	_, err = p.EnsureCapacity(2000)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pipe.2", entries[0].Name())

	assert.Equal(t, "mapped payload", string(p.Bytes()))
	assert.Equal(t, 2048, p.Cap())

	require.NoError(t, p.Close())

	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "closing the pipe removes its backing file")
}
