// Package uart recovers the asynchronous serial control channel that rides
// alongside the camera bus. The line level arrives once per bus sample, so
// the effective baud rate is the sample rate divided by SamplesPerBit.
// Decoded symbols drive an AlertMonitor holding the sticky priority-alert
// bit that can override the classifier's decision.
package uart

import (
	"sync"

	"github.com/verdant-data/maturity.report/internal/monitoring"
)

// Symbol is one decoded 8-bit control symbol.
type Symbol byte

type decodeState int

const (
	stateIdle  decodeState = iota // line high, watching for a falling edge
	stateStart                    // edge seen, verifying half a bit later
	stateData                     // shifting in 8 data bits, LSB first
	stateStop                     // awaiting the stop bit
)

// DecoderStats counts decode outcomes since construction.
type DecoderStats struct {
	Symbols       uint64 // frames completed with a valid stop bit
	FramingErrors uint64 // frames discarded on a low stop bit
	FalseStarts   uint64 // edges that did not survive the half-bit check
}

// DecoderConfig configures a Decoder. Zero values take defaults.
type DecoderConfig struct {
	// SamplesPerBit is the number of line samples per bit interval.
	// Values below 2 take the default: the start bit is verified half a
	// bit interval after its edge. Default: 8.
	SamplesPerBit int
}

// Decoder recovers 8N1 frames from an oversampled serial line level. Feed
// it one sample per bus tick; it emits a Symbol when a frame completes.
// There is no recovery beyond re-arming on the next idle-to-low edge: a
// glitch can cost one frame, after which the decoder resynchronizes on the
// next start bit.
type Decoder struct {
	samplesPerBit int

	mu      sync.Mutex
	state   decodeState
	counter int  // samples since entering the state
	bitIdx  int  // data bits shifted in
	shift   byte // data bits, LSB first
	last    bool // previous line level
	stats   DecoderStats
	debug   bool
}

// NewDecoder creates a Decoder with the specified configuration.
func NewDecoder(config DecoderConfig) *Decoder {
	if config.SamplesPerBit < 2 {
		config.SamplesPerBit = 8
	}
	return &Decoder{
		samplesPerBit: config.SamplesPerBit,
		// The line idles high, so a stream opening with a start bit
		// still arms.
		last: true,
	}
}

// Feed consumes one line sample. ok is true when a frame completed and sym
// carries its data byte.
func (d *Decoder) Feed(level bool) (sym Symbol, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case stateIdle:
		if d.last && !level {
			d.state = stateStart
			d.counter = 0
		}

	case stateStart:
		d.counter++
		if d.counter == d.samplesPerBit/2 {
			if level {
				// The line recovered before mid-bit: a glitch,
				// not a start bit.
				d.stats.FalseStarts++
				d.state = stateIdle
			} else {
				d.state = stateData
				d.counter = 0
				d.bitIdx = 0
				d.shift = 0
			}
		}

	case stateData:
		d.counter++
		if d.counter == d.samplesPerBit {
			d.counter = 0
			if level {
				d.shift |= 1 << d.bitIdx
			}
			d.bitIdx++
			if d.bitIdx == 8 {
				d.state = stateStop
			}
		}

	case stateStop:
		d.counter++
		if d.counter == d.samplesPerBit {
			d.state = stateIdle
			if level {
				d.stats.Symbols++
				sym, ok = Symbol(d.shift), true
				d.debugf("symbol %#02x", byte(sym))
			} else {
				d.stats.FramingErrors++
				d.debugf("framing error, discarding %#02x", d.shift)
			}
		}
	}

	d.last = level
	return sym, ok
}

// Reset returns the decoder to idle, discarding any partial frame.
// Counters are preserved.
func (d *Decoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = stateIdle
	d.counter = 0
	d.bitIdx = 0
	d.shift = 0
	d.last = true
}

// Stats returns a copy of the decode counters.
func (d *Decoder) Stats() DecoderStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// SetDebug enables or disables per-symbol debug logging.
func (d *Decoder) SetDebug(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.debug = enabled
}

func (d *Decoder) debugf(format string, args ...interface{}) {
	if d.debug {
		monitoring.Logf("[uart] "+format, args...)
	}
}
