package platform

import (
	"fmt"
	"strconv"
	"unsafe"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/trondn/platform/storage"
)

// DefaultChunkSize is the granularity of pipe allocations. The initial
// size requested for a pipe is rounded up to a multiple of this value to
// form the pipe's growth chunk, and the pipe grows by whole chunks.
const DefaultChunkSize = 512

// Errors reported when an operation violates the usage contract of a
// Pipe. They are returned unwrapped or as the cause of a wrapped error,
// so they may be matched with errors.Is. None of them leave the pipe in
// a modified state.
var (
	// ErrLocked is returned by mutating operations while the pipe is locked.
	ErrLocked = errors.New("pipe is locked")

	// ErrNotLocked is returned by Unlock if the pipe is not locked.
	ErrNotLocked = errors.New("pipe is not locked")

	// ErrProduceOverrun is returned when a producer claims more bytes than
	// the write end has room for.
	ErrProduceOverrun = errors.New("produced bytes exceed the available write space")

	// ErrConsumeOverrun is returned when a consumer claims more bytes than
	// the read end holds.
	ErrConsumeOverrun = errors.New("consumed bytes exceed the available read space")

	// ErrClosed is returned by every operation on a pipe whose storage has
	// been released with Close.
	ErrClosed = errors.New("pipe storage has been released")
)

// Pipe is a buffered pipe: data is inserted in one end and read back out
// of the other. Instead of exposing stream objects it hands the caller
// views of its own memory, so transport calls can target the buffer
// directly:
//
//	pipe.Produce(func(tail []byte) int {
//		n, _ := conn.Read(tail)
//		return n
//	})
//
//	pipe.Consume(func(window []byte) int {
//		// deal with the bytes in window and return how many were used
//		return parsed
//	})
//
// A consumer that only wants to look at the bytes returns 0 and the data
// stays readable for the next call.
//
// Data is written at the write head and read back from the read head.
// Whenever the read head catches up with the write head both reset to
// the start of the allocation. EnsureCapacity makes room in the write
// end; it may pack or reallocate the underlying storage, which
// invalidates every view handed out earlier. Callers holding such a view
// across unknown code can guard it with Lock, which makes the structural
// operations fail until Unlock is called.
//
// A Pipe is not safe for concurrent use. It performs no locking
// internally and expects a single producer and a single consumer that
// never run at the same time; Lock is a reentrancy guard, not a mutex.
type Pipe struct {
	buf   []byte
	block storage.Block
	alloc storage.Allocator

	// Offsets into buf. Bytes in [readHead, writeHead) are waiting to be
	// consumed, bytes in [writeHead, len(buf)) are free.
	readHead  int
	writeHead int

	chunkSize int
	locked    bool
	closed    bool

	tracker MemTracker
}

// New returns a pipe with the given initial buffer size. The write end
// may be increased later by calling EnsureCapacity. New panics if size
// is negative.
func New(size int) *Pipe {
	p, err := NewWithAllocator(size, storage.HeapAllocator{})
	if err != nil {
		panic(err)
	}
	return p
}

// NewWithAllocator returns a pipe whose storage comes from alloc. Every
// buffer the pipe ever owns, including the ones picked up while growing,
// is allocated through it and released once replaced.
func NewWithAllocator(size int, alloc storage.Allocator) (*Pipe, error) {
	if size < 0 {
		return nil, errors.Errorf("invalid pipe size %d", size)
	}

	chunk := chunkAligned(size)
	if chunk < DefaultChunkSize {
		chunk = DefaultChunkSize
	}

	block, err := alloc.Alloc(size)
	if err != nil {
		return nil, errors.Wrap(err, "allocating pipe storage")
	}

	return &Pipe{
		buf:       block.Bytes(),
		block:     block,
		alloc:     alloc,
		chunkSize: chunk,
	}, nil
}

func chunkAligned(nbytes int) int {
	chunks := nbytes / DefaultChunkSize
	if nbytes%DefaultChunkSize != 0 {
		chunks++
	}

	return chunks * DefaultChunkSize
}

// EnsureCapacity makes sure at least nbytes may be written to the write
// end of the pipe and returns the resulting write space. It returns
// immediately if the tail already has room, packs the buffer if the head
// and tail together have room, and otherwise grows the allocation by
// whole chunks. Packing and growing invalidate the views returned by
// earlier Bytes, Tail, Produce and Consume calls.
func (p *Pipe) EnsureCapacity(nbytes int) (int, error) {
	if p.closed {
		return 0, ErrClosed
	}
	if p.locked {
		return 0, ErrLocked
	}

	tailSpace := len(p.buf) - p.writeHead
	if tailSpace >= nbytes {
		return tailSpace, nil
	}

	if nbytes <= tailSpace+p.readHead {
		headSpace := p.readHead
		p.compact()
		ret := len(p.buf) - p.writeHead
		if ret < nbytes {
			panic(fmt.Sprintf(
				"platform: pack freed %d bytes, expected at least %d (head space %d, tail space %d)",
				ret, nbytes, headSpace, tailSpace))
		}
		return ret, nil
	}

	count := 1
	for count*p.chunkSize+tailSpace+p.readHead < nbytes {
		count++
	}

	osize := len(p.buf)
	nsize := osize + count*p.chunkSize
	nblock, err := p.alloc.Alloc(nsize)
	if err != nil {
		return 0, errors.Wrapf(err, "growing pipe storage to %d bytes", nsize)
	}

	p.trackNoAccess(p.readHead, p.writeHead)
	p.trackDefined(0, len(p.buf))

	nbuf := nblock.Bytes()
	copy(nbuf, p.buf[p.readHead:p.writeHead])
	if err := p.block.Release(); err != nil && logging {
		logger.Error("failed to release replaced pipe storage",
			zap.Int("size", osize),
			zap.Error(err),
		)
	}
	p.buf = nbuf
	p.block = nblock
	p.writeHead -= p.readHead
	p.readHead = 0

	if p.tracker != nil {
		p.tracker.Reset(len(p.buf))
		p.trackNoAccess(0, len(p.buf))
		p.trackDefined(p.readHead, p.writeHead)
	}

	if logging {
		logger.Info("grew pipe storage",
			zap.Int("size", nsize),
			zap.Int("previous", osize),
			zap.Int("chunks", count),
			zap.Int("queued", p.writeHead),
		)
	}

	return len(p.buf) - p.writeHead, nil
}

// Cap returns the current allocation size of the pipe.
func (p *Pipe) Cap() int {
	return len(p.buf)
}

// Len returns the number of bytes waiting in the read end of the pipe.
func (p *Pipe) Len() int {
	return p.writeHead - p.readHead
}

// Available returns the number of bytes that may be written to the write
// end of the pipe without growing it.
func (p *Pipe) Available() int {
	return len(p.buf) - p.writeHead
}

// Bytes returns the bytes waiting in the read end of the pipe. The slice
// aliases the pipe's storage and is only valid until the next call that
// packs, grows, clears or closes the pipe.
func (p *Pipe) Bytes() []byte {
	return p.buf[p.readHead:p.writeHead]
}

// Tail returns the unused space in the write end of the pipe. The caller
// may fill (a prefix of) it and then call Produced to make those bytes
// available to the consumer. The slice aliases the pipe's storage under
// the same rules as Bytes.
func (p *Pipe) Tail() []byte {
	return p.buf[p.writeHead:]
}

// ChunkSize returns the allocation granularity the pipe grows by.
func (p *Pipe) ChunkSize() int {
	return p.chunkSize
}

// Empty reports whether the read end has completely caught up with the
// write end.
func (p *Pipe) Empty() bool {
	return p.readHead == p.writeHead
}

// Full reports whether the write head has reached the end of the
// allocation.
func (p *Pipe) Full() bool {
	return p.writeHead == len(p.buf)
}

// Produce hands the producer the unused space in the write end of the
// pipe. A positive return value is recorded as produced bytes, making
// them available to the consumer; zero or negative return values leave
// the pipe untouched and are handed back to the caller. The producer
// must not retain the slice.
func (p *Pipe) Produce(producer func(tail []byte) int) (int, error) {
	if p.closed {
		return 0, ErrClosed
	}
	if p.locked {
		return 0, ErrLocked
	}

	tail := p.buf[p.writeHead:]

	p.trackNoAccess(p.readHead, p.writeHead)
	p.trackDefined(p.writeHead, len(p.buf))

	ret := producer(tail)

	p.trackNoAccess(p.writeHead, len(p.buf))
	p.trackDefined(p.readHead, p.writeHead)

	if ret > 0 {
		if err := p.Produced(ret); err != nil {
			return ret, err
		}
	}

	return ret, nil
}

// Produced records that the caller put nbytes into the write end of the
// pipe, moving the write head forward. It fails with ErrProduceOverrun
// if nbytes exceeds the available write space.
func (p *Pipe) Produced(nbytes int) error {
	if p.closed {
		return ErrClosed
	}
	if p.locked {
		return ErrLocked
	}
	if nbytes < 0 || p.writeHead+nbytes > len(p.buf) {
		return errors.Wrapf(ErrProduceOverrun,
			"produced %d bytes with %d available", nbytes, len(p.buf)-p.writeHead)
	}

	p.advanceWrite(nbytes)

	return nil
}

func (p *Pipe) advanceWrite(nbytes int) {
	p.trackNoAccess(p.readHead, p.writeHead)
	p.writeHead += nbytes
	p.trackDefined(p.readHead, p.writeHead)
}

// Consume hands the consumer the bytes waiting in the read end of the
// pipe. A positive return value is recorded as consumed bytes and drops
// them from the pipe; returning 0 keeps the data readable for the next
// call. The consumer must not retain the slice.
func (p *Pipe) Consume(consumer func(window []byte) int) (int, error) {
	if p.closed {
		return 0, ErrClosed
	}
	if p.locked {
		return 0, ErrLocked
	}

	ret := consumer(p.buf[p.readHead:p.writeHead])
	if ret > 0 {
		if err := p.Consumed(ret); err != nil {
			return ret, err
		}
	}

	return ret, nil
}

// Consumed drops nbytes from the read end of the pipe, moving the read
// head forward. When the read head catches up with the write head both
// reset to the start of the allocation, so views handed out earlier are
// no longer valid. It fails with ErrConsumeOverrun if nbytes exceeds the
// bytes waiting in the pipe.
func (p *Pipe) Consumed(nbytes int) error {
	if p.closed {
		return ErrClosed
	}
	if p.locked {
		return ErrLocked
	}
	if nbytes < 0 || p.readHead+nbytes > p.writeHead {
		return errors.Wrapf(ErrConsumeOverrun,
			"consumed %d bytes with %d available", nbytes, p.writeHead-p.readHead)
	}

	p.advanceRead(nbytes)

	return nil
}

func (p *Pipe) advanceRead(nbytes int) {
	p.trackNoAccess(p.readHead, p.writeHead)
	p.readHead += nbytes
	if p.readHead == p.writeHead {
		p.readHead = 0
		p.writeHead = 0
	}
	p.trackDefined(p.readHead, p.writeHead)
}

// Pack moves the bytes waiting in the pipe to the start of the
// allocation, leaving the largest possible contiguous space in the write
// end. The pipe uses plain heads in an array rather than a ring, so it
// may hold a single byte and still have no write space because that byte
// sits at the very end; packing fixes that without growing. It reports
// whether the pipe is empty after packing.
func (p *Pipe) Pack() (bool, error) {
	if p.closed {
		return false, ErrClosed
	}
	if p.locked {
		return false, ErrLocked
	}

	p.compact()

	return p.Empty(), nil
}

func (p *Pipe) compact() {
	p.trackNoAccess(p.readHead, p.writeHead)
	p.trackDefined(0, len(p.buf))

	if p.readHead == p.writeHead {
		p.readHead = 0
		p.writeHead = 0
	} else {
		copy(p.buf, p.buf[p.readHead:p.writeHead])
		p.writeHead -= p.readHead
		p.readHead = 0
	}

	p.trackNoAccess(0, len(p.buf))
	p.trackDefined(p.readHead, p.writeHead)
}

// Clear drops all of the content in the pipe without touching the
// allocation.
func (p *Pipe) Clear() error {
	if p.closed {
		return ErrClosed
	}
	if p.locked {
		return ErrLocked
	}

	p.trackNoAccess(p.readHead, p.writeHead)
	p.readHead = 0
	p.writeHead = 0

	return nil
}

// Lock marks the pipe as locked. While locked every operation that could
// move the heads or the storage fails with ErrLocked, so a view handed
// out by Bytes or Tail stays valid until Unlock. Lock is a guard against
// reentrant modification, not a mutex; it provides no exclusion between
// goroutines.
func (p *Pipe) Lock() error {
	if p.closed {
		return ErrClosed
	}
	if p.locked {
		return ErrLocked
	}
	p.locked = true
	return nil
}

// Unlock clears the lock set by Lock.
func (p *Pipe) Unlock() error {
	if p.closed {
		return ErrClosed
	}
	if !p.locked {
		return ErrNotLocked
	}
	p.locked = false
	return nil
}

// Locked reports whether the pipe is currently locked.
func (p *Pipe) Locked() bool {
	return p.locked
}

// Stats reports the internal properties of the pipe as key/value pairs
// through the visit callback. The visitor form lets callers feed any
// reporting sink they already have without this package taking on an
// encoding dependency.
func (p *Pipe) Stats(visit func(key, value string)) {
	visit("buffer", fmt.Sprintf("0x%x", p.base()))
	visit("size", strconv.Itoa(len(p.buf)))
	visit("read_head", strconv.Itoa(p.readHead))
	visit("write_head", strconv.Itoa(p.writeHead))
	visit("empty", strconv.FormatBool(p.Empty()))
	visit("locked", strconv.FormatBool(p.locked))
}

func (p *Pipe) base() uintptr {
	if len(p.buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&p.buf[0]))
}

// Close releases the pipe's storage back to its allocator. Every
// operation on the pipe afterwards fails with ErrClosed. Closing a
// locked pipe fails with ErrLocked.
func (p *Pipe) Close() error {
	if p.closed {
		return ErrClosed
	}
	if p.locked {
		return ErrLocked
	}

	err := p.block.Release()
	p.buf = nil
	p.block = nil
	p.readHead = 0
	p.writeHead = 0
	p.closed = true
	if p.tracker != nil {
		p.tracker.Reset(0)
	}

	return errors.Wrap(err, "releasing pipe storage")
}
