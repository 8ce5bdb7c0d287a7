package platform

import "io"

// Read drains up to len(b) bytes from the read end of the pipe into b.
// It returns io.EOF when the pipe is empty. Read implements io.Reader
// for callers that want plain copy-out semantics instead of the zero
// copy Consume path.
func (p *Pipe) Read(b []byte) (int, error) {
	if p.closed {
		return 0, ErrClosed
	}
	if p.locked {
		return 0, ErrLocked
	}
	if p.Empty() {
		if len(b) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	n := copy(b, p.buf[p.readHead:p.writeHead])
	p.advanceRead(n)

	return n, nil
}

// Write appends b to the write end of the pipe, growing it as needed.
// Write implements io.Writer; it never returns a short count unless the
// pipe rejects the operation entirely.
func (p *Pipe) Write(b []byte) (int, error) {
	if _, err := p.EnsureCapacity(len(b)); err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, nil
	}

	copy(p.buf[p.writeHead:], b)
	p.advanceWrite(len(b))

	return len(b), nil
}

// ReadFrom fills the pipe from r until EOF, growing the pipe as needed
// so that every read is offered at least one allocation chunk of space.
// It returns the number of bytes added to the pipe. ReadFrom implements
// io.ReaderFrom.
func (p *Pipe) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	for {
		if _, err := p.EnsureCapacity(p.chunkSize); err != nil {
			return total, err
		}

		tail := p.buf[p.writeHead:]
		n, err := r.Read(tail)
		if n < 0 || n > len(tail) {
			panic("platform: invalid count from Read")
		}
		if n > 0 {
			p.advanceWrite(n)
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// WriteTo drains the bytes waiting in the pipe into w with a single
// Write call and returns the number of bytes removed from the pipe.
// WriteTo implements io.WriterTo.
func (p *Pipe) WriteTo(w io.Writer) (int64, error) {
	if p.closed {
		return 0, ErrClosed
	}
	if p.locked {
		return 0, ErrLocked
	}
	if p.Empty() {
		return 0, nil
	}

	queued := p.writeHead - p.readHead
	n, err := w.Write(p.buf[p.readHead:p.writeHead])
	if n < 0 || n > queued {
		panic("platform: invalid count from Write")
	}
	if n > 0 {
		p.advanceRead(n)
	}
	if err != nil {
		return int64(n), err
	}
	if n < queued {
		return int64(n), io.ErrShortWrite
	}

	return int64(n), nil
}
