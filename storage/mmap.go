package storage

import (
	"os"
	"path"
	"strconv"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// MapAllocator allocates blocks as anonymous memory mappings, keeping
// large staging buffers out of the Go heap.
type MapAllocator struct{}

// Alloc implements Allocator. Zero sized blocks are handed out without
// a mapping, as zero length mappings are invalid.
func (MapAllocator) Alloc(size int) (Block, error) {
	if size < 0 {
		return nil, errors.Errorf("invalid block size %d", size)
	}
	if size == 0 {
		return heapBlock(nil), nil
	}

	m, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "mapping %d anonymous bytes", size)
	}

	return &mapBlock{m: m}, nil
}

type mapBlock struct {
	m mmap.MMap
}

func (b *mapBlock) Bytes() []byte {
	return b.m
}

func (b *mapBlock) Release() error {
	if b.m == nil {
		return nil
	}

	err := b.m.Unmap()
	b.m = nil

	return errors.Wrap(err, "unmapping block")
}

// FileAllocator allocates blocks backed by memory mapped files. The
// files are numbered sequentially under the allocator's directory and
// removed again when their block is released, so a pipe using this
// allocator keeps exactly one backing file alive at a time.
type FileAllocator struct {
	mu  sync.Mutex
	dir string
	seq uint64
}

// NewFileAllocator returns an allocator creating its backing files
// under dir. The directory is created on the first allocation if it
// does not exist.
func NewFileAllocator(dir string) *FileAllocator {
	return &FileAllocator{
		dir: dir,
		seq: 1,
	}
}

// Alloc implements Allocator. It is safe for concurrent use.
func (a *FileAllocator) Alloc(size int) (Block, error) {
	if size < 0 {
		return nil, errors.Errorf("invalid block size %d", size)
	}
	if size == 0 {
		return heapBlock(nil), nil
	}

	a.mu.Lock()
	seq := a.seq
	a.seq++
	a.mu.Unlock()

	if err := os.MkdirAll(a.dir, 0700); err != nil {
		return nil, errors.Wrap(err, "creating block directory")
	}

	loc := path.Join(a.dir, "pipe."+strconv.FormatUint(seq, 10))
	f, err := os.OpenFile(loc, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "creating block file %s", loc)
	}

	l, err := f.Write(make([]byte, size))
	if err == nil && l < size {
		err = errors.Errorf("could not initialize %d bytes", size)
	}
	if err != nil {
		f.Close()
		os.Remove(loc)
		return nil, errors.Wrapf(err, "initializing block file %s", loc)
	}

	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		os.Remove(loc)
		return nil, errors.Wrapf(err, "mapping block file %s", loc)
	}

	return &fileBlock{m: m, f: f, loc: loc}, nil
}

type fileBlock struct {
	m   mmap.MMap
	f   *os.File
	loc string // location of the memory mapped file
}

func (b *fileBlock) Bytes() []byte {
	return b.m
}

func (b *fileBlock) Release() error {
	if b.m == nil {
		return nil
	}

	err := b.m.Unmap()
	b.m = nil

	if cerr := b.f.Close(); err == nil {
		err = cerr
	}
	if rerr := os.Remove(b.loc); err == nil {
		err = rerr
	}

	return errors.Wrapf(err, "releasing block file %s", b.loc)
}
