// Package pump copies a byte stream from a reader to a writer, staging
// the bytes through a Pipe. It exists for data paths where the read and
// write sides move at different speeds: reads land in the pipe's write
// end whenever the source has data, writes drain the read end whenever
// the sink accepts bytes, and the pipe grows in between instead of
// forcing either side to block on a fixed size buffer.
package pump

import (
	"io"

	"github.com/pkg/errors"

	"github.com/trondn/platform"
	"github.com/trondn/platform/storage"
)

// Default sizes used by Copy when the options leave them zero.
const (
	// DefaultBufferSize is the initial allocation of the staging pipe.
	DefaultBufferSize = 64 * 1024

	// DefaultReadChunk is the write space guaranteed before every read
	// from the source.
	DefaultReadChunk = 4 * 1024
)

// Options control a Copy.
type Options struct {
	// BufferSize is the initial size of the staging pipe. Zero means
	// DefaultBufferSize.
	BufferSize int

	// ReadChunk is the amount of write space guaranteed before every
	// read from the source. Zero means DefaultReadChunk.
	ReadChunk int

	// Allocator backs the staging pipe. Nil means the Go heap.
	Allocator storage.Allocator

	// Metrics, if not nil, records the size of every read and write.
	Metrics *Metrics

	// Stats, if not nil, receives the staging pipe's internal
	// properties once the copy finishes.
	Stats func(key, value string)
}

// Result describes a finished Copy.
type Result struct {
	// Bytes is the number of bytes delivered to the destination.
	Bytes int64

	// Reads and Writes count the transfer operations on either side.
	Reads  int
	Writes int
}

// Copy stages src through a pipe into dst until src reports EOF and the
// pipe has drained. It runs the producer and consumer on the calling
// goroutine, reading whenever the pipe has nothing left to write and
// writing whatever the pipe holds in between reads. When src fails
// mid-stream the bytes staged before the failure are still delivered to
// dst before the read error is returned.
func Copy(dst io.Writer, src io.Reader, opts Options) (Result, error) {
	size := opts.BufferSize
	if size == 0 {
		size = DefaultBufferSize
	}
	chunk := opts.ReadChunk
	if chunk == 0 {
		chunk = DefaultReadChunk
	}
	var alloc storage.Allocator = storage.HeapAllocator{}
	if opts.Allocator != nil {
		alloc = opts.Allocator
	}

	pipe, err := platform.NewWithAllocator(size, alloc)
	if err != nil {
		return Result{}, errors.Wrap(err, "creating staging pipe")
	}
	defer pipe.Close()
	if opts.Stats != nil {
		defer pipe.Stats(opts.Stats)
	}

	var res Result
	var readErr error
	eof := false
	for {
		if !eof && readErr == nil {
			if _, err := pipe.EnsureCapacity(chunk); err != nil {
				return res, err
			}

			n, err := pipe.Produce(func(tail []byte) int {
				m, rerr := src.Read(tail)
				switch rerr {
				case nil:
				case io.EOF:
					eof = true
				default:
					readErr = rerr
				}
				return m
			})
			if err != nil {
				return res, err
			}
			if n > 0 {
				res.Reads++
				opts.Metrics.RecordRead(n)
			}
		}

		if pipe.Empty() {
			if readErr != nil {
				return res, errors.Wrap(readErr, "reading into the pipe")
			}
			if eof {
				return res, nil
			}
			continue
		}

		var writeErr error
		n, err := pipe.Consume(func(window []byte) int {
			m, werr := dst.Write(window)
			if werr != nil {
				writeErr = werr
			}
			return m
		})
		if err != nil {
			return res, err
		}
		if n > 0 {
			res.Writes++
			res.Bytes += int64(n)
			opts.Metrics.RecordWrite(n)
		}
		if writeErr != nil {
			return res, errors.Wrap(writeErr, "draining the pipe")
		}
		if n <= 0 {
			return res, io.ErrShortWrite
		}
	}
}
