package pipeline

import (
	"context"
	"time"

	"github.com/verdant-data/maturity.report/internal/bnn"
	"github.com/verdant-data/maturity.report/internal/camera"
	"github.com/verdant-data/maturity.report/internal/camerabus"
	"github.com/verdant-data/maturity.report/internal/config"
	"github.com/verdant-data/maturity.report/internal/decision"
	"github.com/verdant-data/maturity.report/internal/features"
	"github.com/verdant-data/maturity.report/internal/rangefinder"
	"github.com/verdant-data/maturity.report/internal/timeutil"
	"github.com/verdant-data/maturity.report/internal/uart"
)

// A sequence jump this large is read as a sender restart, not loss.
const senderRestartGap = 1 << 20

// RangeSource provides the latest range snapshot. A *rangefinder.Ranger
// satisfies it; tests substitute fakes.
type RangeSource interface {
	Latest() (rangefinder.RangeSample, bool)
}

// Config holds the pipeline's dependencies and tuning.
type Config struct {
	// Tuning supplies the stage parameters. Nil takes the defaults.
	Tuning *config.TuningConfig

	// Weights is the trained parameter set. A zero value takes the
	// compiled-in reference set.
	Weights bnn.WeightConfiguration

	// RangeSource supplies the latest distance snapshot for the height
	// feature. May be nil; the binarizer then sees a zero sample, the
	// same value the hardware's register powers on with.
	RangeSource RangeSource

	// OnOutputs receives every changed decision snapshot. May be nil.
	OnOutputs func(decision.Outputs)

	// OnInference is called once per completed inference, from the tick
	// loop, with the engine state and the decision it produced. May be
	// nil.
	OnInference func(bnn.Snapshot, decision.Outputs)

	// OnFrame observes every completed frame after the engine trigger,
	// on the builder's worker goroutine. May be nil.
	OnFrame func(camera.FrameFeatures)

	// Clock drives the engine tick loop. Default: real clock.
	Clock timeutil.Clock
}

// Pipeline owns the classification path from bus sample to decision.
type Pipeline struct {
	sync      *camera.SignalSync
	builder   *camera.FrameBuilder
	decoder   *uart.Decoder
	alerts    *uart.AlertMonitor
	binarizer *features.Binarizer
	engine    *bnn.Engine
	mapper    *decision.Mapper
	rangeSrc  RangeSource
	stats     *BusStats
	clock     timeutil.Clock

	tickPeriod   time.Duration
	seq          sequenceTracker
	onFrame      func(camera.FrameFeatures)
	onInference  func(bnn.Snapshot, decision.Outputs)
	lastRecorded uint64
}

// New creates a Pipeline with the specified configuration.
func New(cfg Config) (*Pipeline, error) {
	tuning := cfg.Tuning
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	weights := cfg.Weights
	if weights.Version == "" {
		weights = bnn.DefaultWeights()
	}

	p := &Pipeline{
		sync: &camera.SignalSync{},
		decoder: uart.NewDecoder(uart.DecoderConfig{
			SamplesPerBit: tuning.GetSamplesPerBit(),
		}),
		alerts: uart.NewAlertMonitor(uart.AlertConfig{
			AssertSymbol: uart.Symbol(tuning.GetAlertAssertSymbol()),
			ClearSymbol:  uart.Symbol(tuning.GetAlertClearSymbol()),
		}),
		binarizer: features.NewBinarizer(features.Cuts{
			Greenness:  tuning.GetGreennessCut(),
			ColorRatio: tuning.GetColorRatioCut(),
			Texture:    tuning.GetTextureCut(),
			Height:     tuning.GetHeightCut(),
		}),
		rangeSrc:    cfg.RangeSource,
		stats:       NewBusStats(),
		clock:       cfg.Clock,
		tickPeriod:  tuning.GetEngineTick(),
		onFrame:     cfg.OnFrame,
		onInference: cfg.OnInference,
	}

	engine, err := bnn.NewEngine(bnn.EngineConfig{
		Weights: weights,
		Source:  p.latchInput,
	})
	if err != nil {
		return nil, err
	}
	p.engine = engine

	p.mapper = decision.NewMapper(decision.MapperConfig{OnChange: cfg.OnOutputs})

	p.builder = camera.NewFrameBuilder(camera.FrameBuilderConfig{
		MaxRows:         tuning.GetMaxRows(),
		FoliageGreenMin: tuning.GetFoliageGreenMin(),
		QueueDepth:      tuning.GetFrameQueueDepth(),
		Clock:           cfg.Clock,
		OnFrame:         p.frameReady,
	})

	return p, nil
}

// latchInput is the engine's input source, read once when an inference
// starts.
func (p *Pipeline) latchInput() features.Vector {
	frame, _ := p.builder.Latest()
	var rs rangefinder.RangeSample
	if p.rangeSrc != nil {
		rs, _ = p.rangeSrc.Latest()
	}
	return p.binarizer.Binarize(frame, rs)
}

// frameReady runs on the builder's worker goroutine for every completed
// frame: it raises the inference trigger and forwards to the observer.
func (p *Pipeline) frameReady(feat camera.FrameFeatures) {
	p.engine.Trigger()
	tracef("frame %d ready: green %d red %d bright %d height %d pixels %d",
		feat.FrameIndex, feat.AvgGreen, feat.AvgRed, feat.AvgBright,
		feat.HeightEstimate, feat.PixelCount)
	if p.onFrame != nil {
		p.onFrame(feat)
	}
}

// HandleDatagram ingests one received bus datagram: parse, sequence
// accounting, then per-sample processing. Malformed datagrams degrade the
// stream, they never stop it.
func (p *Pipeline) HandleDatagram(data []byte) {
	d, err := camerabus.ParseDatagram(data)
	if err != nil {
		p.stats.AddParseError()
		diagf("dropping datagram: %v", err)
		return
	}

	if lost, restarted := p.seq.observe(d.Sequence); restarted {
		diagf("bus sender restarted at sequence %d", d.Sequence)
	} else if lost > 0 {
		p.stats.AddLost(lost)
		diagf("sequence gap: %d datagrams lost before %d", lost, d.Sequence)
	}

	p.stats.AddDatagram(len(data), len(d.Samples))
	for _, s := range d.Samples {
		p.HandleSample(s)
	}
}

// HandleSample runs one bus sample through the synchronizer and into the
// frame builder and control-channel decoder.
func (p *Pipeline) HandleSample(s camerabus.Sample) {
	synced, ok := p.sync.Feed(s)
	if !ok {
		return
	}
	p.builder.Process(synced)
	if sym, ok := p.decoder.Feed(synced.SerialHigh()); ok {
		p.alerts.HandleSymbol(sym)
	}
}

// Run drives the engine tick loop until the context is cancelled. Each
// tick is one clock edge: a Step followed by a decision refresh.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			p.Tick()
		}
	}
}

// Tick advances the engine by one clock edge and refreshes the decision.
func (p *Pipeline) Tick() {
	p.engine.Step()
	snap := p.engine.Snapshot()
	out := p.mapper.Apply(snap, p.alerts.Active())
	if p.onInference != nil && snap.Ready && snap.Completed != p.lastRecorded {
		p.lastRecorded = snap.Completed
		p.onInference(snap, out)
	}
}

// Close drains the frame callback worker. Call after ingestion stopped.
func (p *Pipeline) Close() {
	p.builder.Close()
}

// Alerts returns the shared alert monitor so the HTTP and MQTT control
// surfaces reach the same sticky bit as the serial channel.
func (p *Pipeline) Alerts() *uart.AlertMonitor { return p.alerts }

// Outputs returns the latest decision snapshot.
func (p *Pipeline) Outputs() decision.Outputs { return p.mapper.Current() }

// EngineSnapshot returns the inference engine's visible state.
func (p *Pipeline) EngineSnapshot() bnn.Snapshot { return p.engine.Snapshot() }

// LatestFrame returns the most recent completed FrameFeatures.
func (p *Pipeline) LatestFrame() (camera.FrameFeatures, bool) { return p.builder.Latest() }

// LatestRange returns the most recent range snapshot, if a source is
// wired.
func (p *Pipeline) LatestRange() (rangefinder.RangeSample, bool) {
	if p.rangeSrc == nil {
		return rangefinder.RangeSample{}, false
	}
	return p.rangeSrc.Latest()
}

// FrameStats returns the frame builder's counters.
func (p *Pipeline) FrameStats() camera.Stats { return p.builder.Stats() }

// DecoderStats returns the control-channel decoder's counters.
func (p *Pipeline) DecoderStats() uart.DecoderStats { return p.decoder.Stats() }

// AlertStats returns the alert monitor's counters.
func (p *Pipeline) AlertStats() uart.AlertStats { return p.alerts.Stats() }

// BusStats returns the ingest counters for the periodic stats line.
func (p *Pipeline) BusStats() *BusStats { return p.stats }

// SetDebug switches per-stage debug logging on every component at once.
func (p *Pipeline) SetDebug(enabled bool) {
	p.builder.SetDebug(enabled)
	p.decoder.SetDebug(enabled)
	p.alerts.SetDebug(enabled)
	p.engine.SetDebug(enabled)
	p.mapper.SetDebug(enabled)
}

// sequenceTracker accounts for datagram loss across uint32 wraparound.
type sequenceTracker struct {
	last uint32
	have bool
}

// observe returns the number of datagrams lost before seq, or restarted
// when the jump is too large to be loss.
func (t *sequenceTracker) observe(seq uint32) (lost uint32, restarted bool) {
	if !t.have {
		t.last = seq
		t.have = true
		return 0, false
	}
	gap := camerabus.SequenceGap(t.last, seq)
	t.last = seq
	if gap >= senderRestartGap {
		return 0, true
	}
	return gap, false
}
