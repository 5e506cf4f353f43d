package pipeline

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/verdant-data/maturity.report/internal/bnn"
	"github.com/verdant-data/maturity.report/internal/camera"
	"github.com/verdant-data/maturity.report/internal/camerabus"
	"github.com/verdant-data/maturity.report/internal/decision"
	"github.com/verdant-data/maturity.report/internal/features"
	"github.com/verdant-data/maturity.report/internal/rangefinder"
	"github.com/verdant-data/maturity.report/internal/testutil"
	"github.com/verdant-data/maturity.report/internal/uart"
)

// fakeRange is a RangeSource pinned to one sample.
type fakeRange struct {
	sample rangefinder.RangeSample
	ok     bool
}

func (f *fakeRange) Latest() (rangefinder.RangeSample, bool) { return f.sample, f.ok }

// greenFrame renders one camera frame of identical green pixels: vertical
// blanking, lines of pixel bytes with horizontal blanking between, then
// the frame fall. Levels hold long enough for the two-sample agreement
// filter; the serial line idles high throughout.
func greenFrame(lines int, lineBytes []byte) []camerabus.Sample {
	idle := camerabus.NewSample(false, false, true, 0)
	blank := camerabus.NewSample(false, true, true, 0)

	raws := []camerabus.Sample{idle, idle, blank, blank}
	for i := 0; i < lines; i++ {
		for _, b := range lineBytes {
			raws = append(raws, camerabus.NewSample(true, true, true, b))
		}
		raws = append(raws, blank, blank)
	}
	return append(raws, idle, idle, idle)
}

// serialStream maps line levels onto otherwise idle bus samples, padded
// with idle-high so the synchronizer settles on both ends.
func serialStream(levels []bool) []camerabus.Sample {
	samples := make([]camerabus.Sample, 0, len(levels)+6)
	for i := 0; i < 3; i++ {
		samples = append(samples, camerabus.NewSample(false, false, true, 0))
	}
	for _, level := range levels {
		samples = append(samples, camerabus.NewSample(false, false, level, 0))
	}
	for i := 0; i < 3; i++ {
		samples = append(samples, camerabus.NewSample(false, false, true, 0))
	}
	return samples
}

// newTestPipeline builds a pipeline with a pinned range sample and returns
// the frame-ready notification channel.
func newTestPipeline(t *testing.T, rs rangefinder.RangeSample, onOutputs func(decision.Outputs)) (*Pipeline, chan camera.FrameFeatures) {
	t.Helper()
	testutil.SilenceLogs(t)
	frames := make(chan camera.FrameFeatures, 4)
	p, err := New(Config{
		RangeSource: &fakeRange{sample: rs, ok: true},
		OnOutputs:   onOutputs,
		OnFrame:     func(f camera.FrameFeatures) { frames <- f },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(p.Close)
	return p, frames
}

func feedSamples(p *Pipeline, samples []camerabus.Sample) {
	for _, s := range samples {
		p.HandleSample(s)
	}
}

func awaitFrame(t *testing.T, frames <-chan camera.FrameFeatures) camera.FrameFeatures {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("frame never completed")
		return camera.FrameFeatures{}
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	// A 10-line frame of repeated {0x3C, 0xA0} pixels with a 960 µs echo:
	// the high-greenness, moderate-height scenario.
	p, frames := newTestPipeline(t, rangefinder.RangeSample{DistanceCM: 15, EchoMicros: 960}, nil)

	feedSamples(p, greenFrame(10, []byte{0x3C, 0xA0, 0x3C, 0xA0}))
	feat := awaitFrame(t, frames)
	if feat.AvgGreen != 148 || feat.HeightEstimate != 9 {
		t.Fatalf("frame features = %+v, want AvgGreen 148 HeightEstimate 9", feat)
	}

	// Latch edge plus two compute edges.
	p.Tick()
	p.Tick()
	p.Tick()

	wantSnap := bnn.Snapshot{
		State:      bnn.StateDone,
		Input:      features.Vector(0b0011),
		Hidden:     0b0101,
		Scores:     [2]uint8{3, 1},
		Prediction: false,
		Ready:      true,
		Completed:  1,
	}
	if diff := cmp.Diff(wantSnap, p.EngineSnapshot()); diff != "" {
		t.Errorf("engine snapshot mismatch (-want +got):\n%s", diff)
	}

	wantOut := decision.Outputs{Ready: true, Hidden: 0b0101}
	if diff := cmp.Diff(wantOut, p.Outputs()); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}

	// The identical stimulus reproduces the identical result.
	feedSamples(p, greenFrame(10, []byte{0x3C, 0xA0, 0x3C, 0xA0}))
	awaitFrame(t, frames)
	p.Tick()
	p.Tick()
	p.Tick()

	snap := p.EngineSnapshot()
	if snap.Completed != 2 {
		t.Errorf("Completed = %d, want 2", snap.Completed)
	}
	if snap.Hidden != wantSnap.Hidden || snap.Prediction != wantSnap.Prediction || snap.Scores != wantSnap.Scores {
		t.Errorf("second run diverged: %+v", snap)
	}
}

func TestPipeline_SerialAlertOverridesDecision(t *testing.T) {
	var published []decision.Outputs
	p, frames := newTestPipeline(t, rangefinder.RangeSample{DistanceCM: 15}, func(out decision.Outputs) {
		published = append(published, out)
	})

	feedSamples(p, greenFrame(10, []byte{0x3C, 0xA0, 0x3C, 0xA0}))
	awaitFrame(t, frames)
	p.Tick()
	p.Tick()
	p.Tick()

	out := p.Outputs()
	if out.Effective || !out.Ready {
		t.Fatalf("outputs before alert = %+v, want ready and not effective", out)
	}

	// The assert symbol arrives over the serial bit of the bus.
	feedSamples(p, serialStream(uart.EncodeFrames([]byte{0xA5}, 8)))
	if !p.Alerts().Active() {
		t.Fatal("assert symbol should raise the alert")
	}
	p.Tick()

	out = p.Outputs()
	if !out.Effective || !out.Alert {
		t.Errorf("outputs under alert = %+v, want effective", out)
	}
	if !out.Buzzer {
		t.Error("buzzer should sound while ready and effective")
	}

	// Clearing over the same channel reverts to the raw prediction.
	feedSamples(p, serialStream(uart.EncodeFrames([]byte{0x5A}, 8)))
	p.Tick()

	out = p.Outputs()
	if out.Effective || out.Alert || out.Buzzer {
		t.Errorf("outputs after clear = %+v, want alert fully dropped", out)
	}

	if stats := p.DecoderStats(); stats.Symbols != 2 {
		t.Errorf("decoded symbols = %d, want 2", stats.Symbols)
	}
	if len(published) == 0 {
		t.Error("output changes should publish")
	}
}

func TestPipeline_EmptyFrameKeepsPreviousResult(t *testing.T) {
	p, frames := newTestPipeline(t, rangefinder.RangeSample{DistanceCM: 15}, nil)

	feedSamples(p, greenFrame(10, []byte{0x3C, 0xA0, 0x3C, 0xA0}))
	awaitFrame(t, frames)
	p.Tick()
	p.Tick()
	p.Tick()
	before := p.EngineSnapshot()

	// A frame envelope with no line pulses carries no pixels: no trigger,
	// no new features.
	idle := camerabus.NewSample(false, false, true, 0)
	blank := camerabus.NewSample(false, true, true, 0)
	feedSamples(p, []camerabus.Sample{idle, idle, blank, blank, blank, blank, idle, idle, idle})

	select {
	case f := <-frames:
		t.Fatalf("empty frame should not complete, got %+v", f)
	case <-time.After(50 * time.Millisecond):
	}

	p.Tick()
	p.Tick()
	p.Tick()

	after := p.EngineSnapshot()
	if after.Completed != before.Completed {
		t.Errorf("Completed moved %d → %d across an empty frame", before.Completed, after.Completed)
	}
	if frameStats := p.FrameStats(); frameStats.Empty != 1 {
		t.Errorf("Empty = %d, want 1", frameStats.Empty)
	}

	latest, ok := p.LatestFrame()
	if !ok || latest.AvgGreen != 148 {
		t.Errorf("latest frame = %+v ok=%t, want the original snapshot retained", latest, ok)
	}
}

func TestPipeline_HandleDatagram(t *testing.T) {
	p, _ := newTestPipeline(t, rangefinder.RangeSample{}, nil)

	idle := camerabus.NewSample(false, false, true, 0)
	payload := func(seq uint32) []byte {
		d := camerabus.Datagram{Sequence: seq, Samples: []camerabus.Sample{idle, idle}}
		data, err := d.MarshalBinary()
		if err != nil {
			t.Fatalf("MarshalBinary: %v", err)
		}
		return data
	}

	p.HandleDatagram(payload(1))
	p.HandleDatagram(payload(5)) // 2, 3, 4 lost
	p.HandleDatagram([]byte{0xDE, 0xAD})

	datagrams, _, samples, parseErrs, lost, _ := p.BusStats().GetAndReset()
	if datagrams != 2 {
		t.Errorf("datagrams = %d, want 2", datagrams)
	}
	if samples != 4 {
		t.Errorf("samples = %d, want 4", samples)
	}
	if parseErrs != 1 {
		t.Errorf("parseErrs = %d, want 1", parseErrs)
	}
	if lost != 3 {
		t.Errorf("lost = %d, want 3", lost)
	}

	// A sequence rewind reads as a sender restart, not loss.
	p.HandleDatagram(payload(0))
	_, _, _, _, lost, _ = p.BusStats().GetAndReset()
	if lost != 0 {
		t.Errorf("lost after restart = %d, want 0", lost)
	}
}

func TestPipeline_OnInferenceFiresOncePerResult(t *testing.T) {
	var results []bnn.Snapshot
	frames := make(chan camera.FrameFeatures, 4)
	p, err := New(Config{
		RangeSource: &fakeRange{sample: rangefinder.RangeSample{DistanceCM: 15}, ok: true},
		OnFrame:     func(f camera.FrameFeatures) { frames <- f },
		OnInference: func(snap bnn.Snapshot, _ decision.Outputs) { results = append(results, snap) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	feedSamples(p, greenFrame(10, []byte{0x3C, 0xA0, 0x3C, 0xA0}))
	awaitFrame(t, frames)
	for i := 0; i < 5; i++ {
		p.Tick() // extra idle ticks must not re-report
	}
	if len(results) != 1 || results[0].Completed != 1 {
		t.Fatalf("results = %+v, want one entry for the first inference", results)
	}

	feedSamples(p, greenFrame(10, []byte{0x3C, 0xA0, 0x3C, 0xA0}))
	awaitFrame(t, frames)
	p.Tick()
	p.Tick()
	p.Tick()
	if len(results) != 2 || results[1].Completed != 2 {
		t.Fatalf("results after second frame = %d entries, want 2", len(results))
	}
}

func TestPipeline_RangeSourceOptional(t *testing.T) {
	p, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if _, ok := p.LatestRange(); ok {
		t.Error("LatestRange should report no sample without a source")
	}
	p.Tick() // must not panic with nothing wired
}
