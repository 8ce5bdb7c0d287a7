// Package storage provides the memory blocks backing a Pipe. A Pipe
// asks its allocator for a fresh block every time it grows and releases
// the block it replaced, so an allocator decides where pipe memory
// lives: on the Go heap, in an anonymous mapping, or in a memory mapped
// file.
package storage

import "github.com/pkg/errors"

// Block is a single contiguous allocation handed out by an Allocator.
type Block interface {
	// Bytes returns the block's memory. The slice length is exactly the
	// size the block was allocated with.
	Bytes() []byte

	// Release frees the block. The slice returned by Bytes must not be
	// used afterwards.
	Release() error
}

// Allocator hands out Blocks of requested sizes.
type Allocator interface {
	Alloc(size int) (Block, error)
}

// HeapAllocator allocates blocks on the Go heap. It is the allocator
// used when no other is given.
type HeapAllocator struct{}

// Alloc implements Allocator.
func (HeapAllocator) Alloc(size int) (Block, error) {
	if size < 0 {
		return nil, errors.Errorf("invalid block size %d", size)
	}

	return heapBlock(make([]byte, size)), nil
}

type heapBlock []byte

func (b heapBlock) Bytes() []byte {
	return b
}

func (b heapBlock) Release() error {
	return nil
}
