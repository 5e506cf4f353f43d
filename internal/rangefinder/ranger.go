// Package rangefinder measures canopy distance with a triggered ultrasonic
// pulse. A Ranger owns the measurement cadence and the latest RangeSample
// snapshot; consumers read the snapshot and never talk to the transducer
// directly.
package rangefinder

import (
	"context"
	"sync"
	"time"

	"github.com/verdant-data/maturity.report/internal/monitoring"
	"github.com/verdant-data/maturity.report/internal/timeutil"
)

// RangeSample is the latest completed distance measurement.
type RangeSample struct {
	DistanceCM uint8     // calibrated distance, saturates at 255
	EchoMicros uint32    // raw echo pulse width
	At         time.Time // when the measurement completed
}

// PulseSource produces one echo measurement per call. The source performs
// the trigger itself and returns the echo pulse width in microseconds.
type PulseSource interface {
	Measure(ctx context.Context) (uint32, error)
}

// SourceFunc adapts a function to the PulseSource interface.
type SourceFunc func(ctx context.Context) (uint32, error)

func (f SourceFunc) Measure(ctx context.Context) (uint32, error) { return f(ctx) }

// Stats counts measurement outcomes since construction.
type Stats struct {
	Measurements uint64 // completed measurements
	Stale        uint64 // periods that kept the previous sample
}

// RangerConfig configures a Ranger. Zero values take defaults.
type RangerConfig struct {
	Source    PulseSource    // echo source (required)
	Period    time.Duration  // trigger period (default: 60ms)
	EchoShift uint           // distance calibration shift (default: 6)
	Clock     timeutil.Clock // tick source (default: real clock)
}

// Ranger triggers one measurement per period and holds the result.
type Ranger struct {
	source    PulseSource
	period    time.Duration
	echoShift uint
	clock     timeutil.Clock

	mu        sync.Mutex
	latest    RangeSample
	hasLatest bool
	stats     Stats
	debug     bool
}

// NewRanger creates a Ranger with the specified configuration.
func NewRanger(config RangerConfig) *Ranger {
	if config.Period == 0 {
		config.Period = 60 * time.Millisecond
	}
	if config.EchoShift == 0 {
		config.EchoShift = 6
	}
	if config.Clock == nil {
		config.Clock = timeutil.RealClock{}
	}
	return &Ranger{
		source:    config.Source,
		period:    config.Period,
		echoShift: config.EchoShift,
		clock:     config.Clock,
	}
}

// DistanceCM converts an echo pulse width to centimeters with the
// right-shift calibration. The physical constant is about 58 µs/cm; the
// shift divides by 64 as its power-of-two stand-in, reading roughly 10%
// short across the range.
func DistanceCM(micros uint32, shift uint) uint8 {
	cm := micros >> shift
	if cm > 255 {
		return 255
	}
	return uint8(cm)
}

// Run triggers one measurement per period until the context is cancelled.
// A failed or missing echo keeps the previous sample; a stale distance is
// preferred over no distance.
func (r *Ranger) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			r.measureOnce(ctx)
		}
	}
}

// measureOnce performs one triggered measurement bounded by the period.
func (r *Ranger) measureOnce(ctx context.Context) {
	mctx, cancel := context.WithTimeout(ctx, r.period)
	defer cancel()

	micros, err := r.source.Measure(mctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.stats.Stale++
		r.debugf("measurement failed: %v", err)
		return
	}
	r.stats.Measurements++
	r.latest = RangeSample{
		DistanceCM: DistanceCM(micros, r.echoShift),
		EchoMicros: micros,
		At:         r.clock.Now(),
	}
	r.hasLatest = true
}

// Latest returns the most recent RangeSample. ok is false until the first
// measurement completes.
func (r *Ranger) Latest() (RangeSample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest, r.hasLatest
}

// Stats returns a copy of the measurement counters.
func (r *Ranger) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// SetDebug enables or disables per-measurement debug logging.
func (r *Ranger) SetDebug(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debug = enabled
}

func (r *Ranger) debugf(format string, args ...interface{}) {
	if r.debug {
		monitoring.Logf("[rangefinder] "+format, args...)
	}
}
