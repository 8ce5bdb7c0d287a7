package platform

import "fmt"

// MemTracker receives notifications about which parts of a pipe's
// storage hold logically valid bytes. The pipe marks the read window
// defined and everything else no-access, updating the marks on every
// head movement, pack, grow and produce callback. A memory checking
// facility can use the notifications to flag reads of stale buffer
// regions that plain bounds checks would miss.
//
// Offsets are relative to the start of the current allocation. Reset is
// invoked whenever the pipe adopts a different storage block, after
// which the previous offsets are meaningless. The pipe never notifies
// empty ranges.
type MemTracker interface {
	// Reset tells the tracker the pipe now owns size bytes of storage
	// with no defined content recorded yet.
	Reset(size int)

	// MarkDefined records that [lo, hi) holds valid bytes.
	MarkDefined(lo, hi int)

	// MarkNoAccess records that [lo, hi) must no longer be touched.
	MarkNoAccess(lo, hi int)
}

// SetTracker installs tr as the pipe's memory tracker and brings it in
// sync with the pipe's current state. Passing nil removes the tracker.
func (p *Pipe) SetTracker(tr MemTracker) {
	p.tracker = tr
	if tr == nil {
		return
	}

	tr.Reset(len(p.buf))
	p.trackNoAccess(0, len(p.buf))
	p.trackDefined(p.readHead, p.writeHead)
}

func (p *Pipe) trackDefined(lo, hi int) {
	if p.tracker != nil && lo < hi {
		p.tracker.MarkDefined(lo, hi)
	}
}

func (p *Pipe) trackNoAccess(lo, hi int) {
	if p.tracker != nil && lo < hi {
		p.tracker.MarkNoAccess(lo, hi)
	}
}

// ShadowTracker is a MemTracker keeping a byte granular map of the marks
// it has received. It is meant for tests and debugging builds: install
// it with SetTracker and ask it which regions the pipe considers valid.
// A notification with a range outside the current allocation panics, as
// it can only come from a defect in the pipe itself.
type ShadowTracker struct {
	state  []bool
	resets int
}

// NewShadowTracker returns an empty tracker. It reports size 0 until the
// first Reset.
func NewShadowTracker() *ShadowTracker {
	return &ShadowTracker{}
}

// Reset implements MemTracker.
func (t *ShadowTracker) Reset(size int) {
	if size < 0 {
		panic(fmt.Sprintf("platform: shadow tracker reset to negative size %d", size))
	}
	t.state = make([]bool, size)
	t.resets++
}

// MarkDefined implements MemTracker.
func (t *ShadowTracker) MarkDefined(lo, hi int) {
	t.mark(lo, hi, true)
}

// MarkNoAccess implements MemTracker.
func (t *ShadowTracker) MarkNoAccess(lo, hi int) {
	t.mark(lo, hi, false)
}

func (t *ShadowTracker) mark(lo, hi int, defined bool) {
	if lo < 0 || hi > len(t.state) || lo > hi {
		panic(fmt.Sprintf("platform: shadow tracker mark [%d, %d) outside %d byte allocation",
			lo, hi, len(t.state)))
	}
	for i := lo; i < hi; i++ {
		t.state[i] = defined
	}
}

// Size returns the allocation size announced by the last Reset.
func (t *ShadowTracker) Size() int {
	return len(t.state)
}

// Resets returns how many times the tracked pipe has adopted a storage
// block.
func (t *ShadowTracker) Resets() int {
	return t.resets
}

// Defined reports whether every byte in [lo, hi) is currently marked
// defined. An empty range is defined.
func (t *ShadowTracker) Defined(lo, hi int) bool {
	if lo < 0 || hi > len(t.state) || lo > hi {
		return false
	}
	for i := lo; i < hi; i++ {
		if !t.state[i] {
			return false
		}
	}
	return true
}

// DefinedBytes returns the total number of bytes currently marked
// defined.
func (t *ShadowTracker) DefinedBytes() int {
	n := 0
	for _, d := range t.state {
		if d {
			n++
		}
	}
	return n
}
