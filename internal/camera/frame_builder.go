// Package camera turns the synchronized pixel bus into per-frame feature
// snapshots. The FrameBuilder owns the running accumulators; consumers only
// ever see completed FrameFeatures values handed off through the frame
// callback or the Latest accessor.
package camera

import (
	"sync"
	"time"

	"github.com/verdant-data/maturity.report/internal/camerabus"
	"github.com/verdant-data/maturity.report/internal/monitoring"
	"github.com/verdant-data/maturity.report/internal/timeutil"
)

// FrameFeatures is the per-frame measurement bundle. It is produced exactly
// once per completed non-empty frame and never mutated afterwards; all
// fields reflect the same frame.
type FrameFeatures struct {
	FrameIndex     uint64    // sequential frame number since start
	AvgGreen       uint8     // mean 8-bit green channel over the frame
	AvgRed         uint8     // mean 8-bit red channel over the frame
	AvgBright      uint8     // mean luma approximation over the frame
	HeightEstimate uint8     // row extent of foliage-colored pixels
	PixelCount     int       // pixels accumulated in this frame
	Rows           int       // lines seen in this frame
	CapturedAt     time.Time // wall-clock time of the frame-end edge
}

// Stats counts frame-level events since construction.
type Stats struct {
	Frames    uint64 // frame-start edges seen
	Published uint64 // snapshots produced at frame end
	Empty     uint64 // frames that ended with no pixels
	Dropped   uint64 // snapshots lost to a full callback queue
}

// FrameBuilderConfig configures a FrameBuilder. Zero values take defaults.
type FrameBuilderConfig struct {
	MaxRows         int                 // row counter ceiling (default: 240)
	FoliageGreenMin uint8               // green channel threshold for the height extent (default: 100)
	QueueDepth      int                 // frame callback queue depth (default: 8)
	OnFrame         func(FrameFeatures) // callback per completed frame, may be nil
	Clock           timeutil.Clock      // timestamp source (default: real clock)
}

// FrameBuilder accumulates synchronized bus samples into FrameFeatures
// snapshots. Feed it samples that already passed through a SignalSync;
// it detects frame and line edges from the filtered levels itself.
type FrameBuilder struct {
	maxRows         int
	foliageGreenMin uint8
	onFrame         func(FrameFeatures)
	frameCh         chan FrameFeatures // serialises frame callback invocations
	frameDone       chan struct{}      // closed when the callback worker exits
	clock           timeutil.Clock

	mu sync.Mutex

	// edge detection
	prevFrame bool
	prevLine  bool

	// accumulators, reset at each frame-start edge
	inFrame    bool
	row        int
	phase      int // 0 = expecting high byte, 1 = expecting low byte
	hiByte     byte
	greenSum   uint32
	redSum     uint32
	brightSum  uint32
	pixelCount uint32
	minRow     int
	maxRow     int

	frameIndex uint64
	latest     FrameFeatures
	hasLatest  bool

	stats Stats
	debug bool
}

// NewFrameBuilder creates a FrameBuilder with the specified configuration.
// Close must be called when the builder is no longer needed so the callback
// worker can drain and exit.
func NewFrameBuilder(config FrameBuilderConfig) *FrameBuilder {
	if config.MaxRows == 0 {
		config.MaxRows = 240
	}
	if config.FoliageGreenMin == 0 {
		config.FoliageGreenMin = 100
	}
	if config.QueueDepth == 0 {
		config.QueueDepth = 8
	}
	if config.Clock == nil {
		config.Clock = timeutil.RealClock{}
	}

	fb := &FrameBuilder{
		maxRows:         config.MaxRows,
		foliageGreenMin: config.FoliageGreenMin,
		onFrame:         config.OnFrame,
		clock:           config.Clock,
	}

	// Serialised frame callback worker. The channel ensures only one
	// callback runs at a time; a full queue drops the frame so a slow
	// consumer never stalls acquisition.
	if fb.onFrame != nil {
		fb.frameCh = make(chan FrameFeatures, config.QueueDepth)
		fb.frameDone = make(chan struct{})
		go fb.frameCallbackWorker()
	}

	return fb
}

// frameCallbackWorker delivers snapshots sequentially from the frame channel.
func (fb *FrameBuilder) frameCallbackWorker() {
	defer close(fb.frameDone)
	for feat := range fb.frameCh {
		fb.onFrame(feat)
	}
}

// Close shuts down the frame callback worker and waits for it to drain.
func (fb *FrameBuilder) Close() {
	if fb.frameCh != nil {
		close(fb.frameCh)
		<-fb.frameDone
	}
}

// Process consumes one synchronized sample. Pixel bytes are interpreted only
// while both filtered levels are high; frame and line transitions are acted
// on in signal order: frame start, line start, pixel, frame end.
func (fb *FrameBuilder) Process(s camerabus.Sample) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	frameHigh := s.FrameValid()
	lineHigh := s.LineValid()
	frameRise := frameHigh && !fb.prevFrame
	frameFall := !frameHigh && fb.prevFrame
	lineRise := lineHigh && !fb.prevLine
	fb.prevFrame = frameHigh
	fb.prevLine = lineHigh

	if frameRise {
		fb.beginFrame()
	}
	if lineRise && fb.inFrame {
		if fb.row < fb.maxRows {
			fb.row++
		}
		fb.phase = 0
	}
	if fb.inFrame && frameHigh && lineHigh {
		fb.addByte(s.Pixel)
	}
	if frameFall {
		fb.endFrame()
	}
}

// beginFrame resets the accumulators for a new frame.
func (fb *FrameBuilder) beginFrame() {
	fb.frameIndex++
	fb.stats.Frames++
	fb.inFrame = true
	fb.row = 0
	fb.phase = 0
	fb.greenSum = 0
	fb.redSum = 0
	fb.brightSum = 0
	fb.pixelCount = 0
	fb.minRow = 255
	fb.maxRow = 0
}

// addByte pairs consecutive bytes into RGB565 pixels and accumulates the
// channel sums. A dangling high byte at line end is discarded when the next
// line resets the phase.
func (fb *FrameBuilder) addByte(b byte) {
	if fb.phase == 0 {
		fb.hiByte = b
		fb.phase = 1
		return
	}
	fb.phase = 0

	r8, g8, b8 := DecodeRGB565(fb.hiByte, b)
	fb.greenSum += uint32(g8)
	fb.redSum += uint32(r8)
	fb.brightSum += uint32(Luma(r8, g8, b8))
	fb.pixelCount++

	if g8 > fb.foliageGreenMin {
		if fb.row < fb.minRow {
			fb.minRow = fb.row
		}
		if fb.row > fb.maxRow {
			fb.maxRow = fb.row
		}
	}
}

// endFrame publishes the FrameFeatures snapshot for a completed frame. An
// empty frame retains the previous snapshot and fires nothing; producing a
// classification from a frame with no pixels is never acceptable.
func (fb *FrameBuilder) endFrame() {
	fb.inFrame = false
	if fb.pixelCount == 0 {
		fb.stats.Empty++
		fb.debugf("skipping empty frame %d", fb.frameIndex)
		return
	}

	height := 0
	if fb.maxRow >= fb.minRow {
		height = fb.maxRow - fb.minRow
	}
	if height > 255 {
		height = 255
	}

	feat := FrameFeatures{
		FrameIndex:     fb.frameIndex,
		AvgGreen:       uint8(fb.greenSum / fb.pixelCount),
		AvgRed:         uint8(fb.redSum / fb.pixelCount),
		AvgBright:      uint8(fb.brightSum / fb.pixelCount),
		HeightEstimate: uint8(height),
		PixelCount:     int(fb.pixelCount),
		Rows:           fb.row,
		CapturedAt:     fb.clock.Now(),
	}

	fb.latest = feat
	fb.hasLatest = true
	fb.stats.Published++

	if fb.frameCh != nil {
		select {
		case fb.frameCh <- feat:
		default:
			fb.stats.Dropped++
			fb.debugf("dropped frame %d: callback queue full", feat.FrameIndex)
		}
	}
}

// Latest returns the most recent FrameFeatures snapshot. ok is false until
// the first non-empty frame completes.
func (fb *FrameBuilder) Latest() (FrameFeatures, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.latest, fb.hasLatest
}

// Stats returns a copy of the frame counters.
func (fb *FrameBuilder) Stats() Stats {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.stats
}

// Reset discards any frame in progress and clears edge state. Call when
// switching data sources so a stale half-built frame cannot contaminate the
// new stream. The latest published snapshot and the counters are retained.
func (fb *FrameBuilder) Reset() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.inFrame = false
	fb.prevFrame = false
	fb.prevLine = false
	fb.row = 0
	fb.phase = 0
	fb.pixelCount = 0
	fb.debugf("reset: discarded in-progress frame state")
}

// SetDebug enables or disables per-frame debug logging.
func (fb *FrameBuilder) SetDebug(enabled bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.debug = enabled
}

func (fb *FrameBuilder) debugf(format string, args ...interface{}) {
	if fb.debug {
		monitoring.Logf("[camera] "+format, args...)
	}
}
