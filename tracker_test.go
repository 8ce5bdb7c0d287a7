package platform

import "testing"

func TestShadowTrackerSync(t *testing.T) {
	p := New(64)
	copy(p.Tail(), "abcdefghij")
	p.Produced(10)
	p.Consumed(4)

	tr := NewShadowTracker()
	p.SetTracker(tr)

	if tr.Size() != 64 {
		t.Errorf("Expected the tracker to adopt a 64 byte allocation, got %v", tr.Size())
	}
	if tr.Resets() != 1 {
		t.Errorf("Expected one reset after installing, got %v", tr.Resets())
	}
	if !tr.Defined(4, 10) {
		t.Error("Expected the queued window to be marked defined")
	}
	if tr.DefinedBytes() != 6 {
		t.Errorf("Expected 6 defined bytes, got %v", tr.DefinedBytes())
	}
}

func TestTrackerFollowsHeads(t *testing.T) {
	p := New(64)
	tr := NewShadowTracker()
	p.SetTracker(tr)

	if tr.DefinedBytes() != 0 {
		t.Errorf("Expected no defined bytes in an empty pipe, got %v", tr.DefinedBytes())
	}

	copy(p.Tail(), "0123456789")
	if err := p.Produced(10); err != nil {
		t.Error("Produced failed, error", err)
		return
	}
	if !tr.Defined(0, 10) || tr.DefinedBytes() != 10 {
		t.Errorf("Expected bytes [0, 10) to be defined, got %v defined", tr.DefinedBytes())
	}

	if err := p.Consumed(4); err != nil {
		t.Error("Consumed failed, error", err)
		return
	}
	if tr.Defined(0, 4) {
		t.Error("Expected the consumed bytes to be marked no-access")
	}
	if !tr.Defined(4, 10) || tr.DefinedBytes() != 6 {
		t.Errorf("Expected bytes [4, 10) to be defined, got %v defined", tr.DefinedBytes())
	}

	if _, err := p.Pack(); err != nil {
		t.Error("Pack failed, error", err)
		return
	}
	if !tr.Defined(0, 6) || tr.DefinedBytes() != 6 {
		t.Errorf("Expected the packed window [0, 6) to be defined, got %v defined",
			tr.DefinedBytes())
	}

	if err := p.Consumed(6); err != nil {
		t.Error("Consumed failed, error", err)
		return
	}
	if tr.DefinedBytes() != 0 {
		t.Errorf("Expected no defined bytes after draining, got %v", tr.DefinedBytes())
	}
}

func TestTrackerDuringProduce(t *testing.T) {
	p := New(64)
	copy(p.Tail(), "window")
	p.Produced(6)

	tr := NewShadowTracker()
	p.SetTracker(tr)

	_, err := p.Produce(func(tail []byte) int {
		// While the producer runs, the write space is open and the read
		// window is off limits.
		if !tr.Defined(6, 64) {
			t.Error("Expected the write space to be marked defined inside the producer")
		}
		if tr.Defined(0, 6) {
			t.Error("Expected the read window to be marked no-access inside the producer")
		}
		return copy(tail, "more")
	})
	if err != nil {
		t.Error("Produce failed, error", err)
		return
	}

	if !tr.Defined(0, 10) {
		t.Error("Expected the grown read window to be marked defined")
	}
	if tr.Defined(10, 64) {
		t.Error("Expected the remaining write space to be marked no-access")
	}
}

func TestTrackerAcrossGrowth(t *testing.T) {
	p := New(64)
	tr := NewShadowTracker()
	p.SetTracker(tr)

	copy(p.Tail(), "carried!")
	p.Produced(8)

	n, err := p.EnsureCapacity(600)
	if err != nil {
		t.Error("EnsureCapacity failed, error", err)
		return
	}
	if n < 600 {
		t.Errorf("Expected at least 600 bytes of write space, got %v", n)
	}

	if tr.Resets() != 2 {
		t.Errorf("Expected the tracker to be reset for the new allocation, got %v resets",
			tr.Resets())
	}
	if tr.Size() != p.Cap() {
		t.Errorf("Expected the tracker to cover %v bytes, got %v", p.Cap(), tr.Size())
	}
	if !tr.Defined(0, 8) || tr.DefinedBytes() != 8 {
		t.Errorf("Expected the moved window [0, 8) to be defined, got %v defined",
			tr.DefinedBytes())
	}
}

func TestTrackerClearAndClose(t *testing.T) {
	p := New(64)
	tr := NewShadowTracker()
	p.SetTracker(tr)

	copy(p.Tail(), "data")
	p.Produced(4)

	if err := p.Clear(); err != nil {
		t.Error("Clear failed, error", err)
		return
	}
	if tr.DefinedBytes() != 0 {
		t.Errorf("Expected no defined bytes after Clear, got %v", tr.DefinedBytes())
	}

	if err := p.Close(); err != nil {
		t.Error("Close failed, error", err)
		return
	}
	if tr.Size() != 0 {
		t.Errorf("Expected the tracker to be emptied on Close, got size %v", tr.Size())
	}
}

func TestSetTrackerNil(t *testing.T) {
	p := New(64)
	tr := NewShadowTracker()
	p.SetTracker(tr)
	p.SetTracker(nil)

	copy(p.Tail(), "quiet")
	if err := p.Produced(5); err != nil {
		t.Error("Produced failed, error", err)
		return
	}

	if tr.DefinedBytes() != 0 {
		t.Error("Expected a removed tracker to receive no further notifications")
	}
}

func TestShadowTrackerRangePanics(t *testing.T) {
	tr := NewShadowTracker()
	tr.Reset(10)

	defer func() {
		if recover() == nil {
			t.Error("Expected a mark outside the allocation to panic")
		}
	}()

	tr.MarkDefined(5, 11)
}
