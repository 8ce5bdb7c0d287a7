package pump

import (
	"strconv"

	"github.com/codahale/hdrhistogram"
)

// maxRecordable caps the transfer sizes fed to the histograms. Larger
// values are clamped rather than dropped.
const maxRecordable = 1 << 30

// Metrics records the distribution of per operation transfer sizes seen
// by a Copy. The zero value of *Metrics (nil) is a valid no-op sink, so
// callers can pass their Metrics field along unconditionally.
type Metrics struct {
	reads  *hdrhistogram.Histogram
	writes *hdrhistogram.Histogram
}

// NewMetrics returns a Metrics tracking transfer sizes between 1 byte
// and 1 GiB at three significant figures.
func NewMetrics() *Metrics {
	return &Metrics{
		reads:  hdrhistogram.New(1, maxRecordable, 3),
		writes: hdrhistogram.New(1, maxRecordable, 3),
	}
}

// RecordRead records a read that moved n bytes into the pipe.
func (m *Metrics) RecordRead(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reads.RecordValue(clamp(n))
}

// RecordWrite records a write that moved n bytes out of the pipe.
func (m *Metrics) RecordWrite(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.writes.RecordValue(clamp(n))
}

func clamp(n int) int64 {
	v := int64(n)
	if v > maxRecordable {
		return maxRecordable
	}
	return v
}

// Report visits the recorded distributions as key/value pairs, in the
// same style the pipe reports its own properties.
func (m *Metrics) Report(visit func(key, value string)) {
	if m == nil {
		return
	}
	report("read", m.reads, visit)
	report("write", m.writes, visit)
}

func report(side string, h *hdrhistogram.Histogram, visit func(key, value string)) {
	visit(side+"_ops", strconv.FormatInt(h.TotalCount(), 10))
	if h.TotalCount() == 0 {
		return
	}
	visit(side+"_bytes_mean", strconv.FormatFloat(h.Mean(), 'f', 1, 64))
	visit(side+"_bytes_p50", strconv.FormatInt(h.ValueAtQuantile(50), 10))
	visit(side+"_bytes_p99", strconv.FormatInt(h.ValueAtQuantile(99), 10))
	visit(side+"_bytes_max", strconv.FormatInt(h.Max(), 10))
}
