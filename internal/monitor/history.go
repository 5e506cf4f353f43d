// Package monitor keeps a rolling history of completed inferences and
// serves debug visualisations over it.
package monitor

import (
	"sync"
	"time"

	"github.com/verdant-data/maturity.report/internal/bnn"
	"github.com/verdant-data/maturity.report/internal/camera"
	"github.com/verdant-data/maturity.report/internal/decision"
	"github.com/verdant-data/maturity.report/internal/rangefinder"
)

// DefaultHistorySize bounds the ring when no capacity is given. At one
// inference per frame this covers several minutes of harvesting.
const DefaultHistorySize = 1024

// Record is one completed inference together with the inputs that fed it.
type Record struct {
	Index     uint64    `json:"index"` // engine completion counter at capture
	Timestamp time.Time `json:"timestamp"`

	Frame   camera.FrameFeatures    `json:"frame"`
	Range   rangefinder.RangeSample `json:"range"`
	RangeOK bool                    `json:"range_ok"`

	Engine  bnn.Snapshot     `json:"engine"`
	Outputs decision.Outputs `json:"outputs"`
}

// History is a fixed-size ring of inference records. The tick loop writes
// it; chart handlers and the run plotter read it.
type History struct {
	mu   sync.Mutex
	recs []Record
	head int // next write position
	size int // valid records, up to len(recs)
}

// NewHistory creates a history holding the most recent capacity records.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{recs: make([]Record, capacity)}
}

// Add appends a record, evicting the oldest once the ring is full.
func (h *History) Add(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.recs[h.head] = r
	h.head = (h.head + 1) % len(h.recs)
	if h.size < len(h.recs) {
		h.size++
	}
}

// Len returns the number of records currently held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// Latest returns the most recent record, if any.
func (h *History) Latest() (Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size == 0 {
		return Record{}, false
	}
	idx := (h.head - 1 + len(h.recs)) % len(h.recs)
	return h.recs[idx], true
}

// Records returns a copy of the held records, oldest first.
func (h *History) Records() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Record, h.size)
	start := h.head - h.size
	if start < 0 {
		start += len(h.recs)
	}
	for i := 0; i < h.size; i++ {
		out[i] = h.recs[(start+i)%len(h.recs)]
	}
	return out
}
