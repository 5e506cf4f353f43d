package bnn

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/verdant-data/maturity.report/internal/features"
	"github.com/verdant-data/maturity.report/internal/monitoring"
)

// State identifies the engine's position in the inference cycle.
type State int

const (
	StateIdle          State = iota // no inference run yet
	StateComputeHidden              // hidden layer settles this cycle
	StateComputeOutput              // output scores settle this cycle
	StateDone                       // result latched, awaiting next trigger
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateComputeHidden:
		return "compute-hidden"
	case StateComputeOutput:
		return "compute-output"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Snapshot is a copy of the engine's externally visible state. Hidden,
// Scores, and Prediction hold their last computed values between
// inferences; Ready is false while an inference is in flight.
type Snapshot struct {
	State      State
	Input      features.Vector
	Hidden     uint8
	Scores     [2]uint8
	Prediction bool
	Ready      bool
	Completed  uint64 // inferences finished
	Dropped    uint64 // triggers lost mid-computation
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Weights is the trained parameter set. Validated at construction.
	Weights WeightConfiguration

	// Source produces the input vector, called exactly once per
	// inference when the trigger is consumed.
	Source func() features.Vector
}

// Engine is the strictly sequential two-stage inference pipeline. Step
// advances it by one clock edge; Trigger marks a frame-ready edge. At most
// one inference is in flight, and a trigger arriving mid-computation is
// dropped, not queued.
type Engine struct {
	weights WeightConfiguration
	source  func() features.Vector

	mu         sync.Mutex
	state      State
	pending    bool
	input      features.Vector
	hidden     uint8
	scores     [2]uint8
	prediction bool
	ready      bool
	completed  uint64
	dropped    uint64
	debug      bool
}

// NewEngine creates an Engine with the specified configuration.
func NewEngine(config EngineConfig) (*Engine, error) {
	if err := config.Weights.Validate(); err != nil {
		return nil, err
	}
	if config.Source == nil {
		return nil, fmt.Errorf("engine requires an input source")
	}
	return &Engine{
		weights: config.Weights,
		source:  config.Source,
	}, nil
}

// Trigger marks a frame-ready edge. In IDLE or DONE the next Step starts
// an inference; repeated triggers before that Step coalesce. A trigger
// arriving mid-computation is dropped and counted.
func (e *Engine) Trigger() {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateIdle, StateDone:
		e.pending = true
	default:
		e.dropped++
		e.debugf("trigger dropped in %s", e.state)
	}
}

// Step advances the engine by one clock edge.
func (e *Engine) Step() {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateIdle, StateDone:
		if !e.pending {
			return
		}
		e.pending = false
		e.input = e.source()
		e.ready = false
		e.state = StateComputeHidden

	case StateComputeHidden:
		e.hidden = 0
		for j := range e.weights.InputHidden {
			sum := matchCount(uint8(e.input), e.weights.InputHidden[j]) + e.weights.HiddenBias[j]
			if sum >= 0 {
				e.hidden |= 1 << j
			}
		}
		e.state = StateComputeOutput

	case StateComputeOutput:
		for i := range e.weights.HiddenOutput {
			e.scores[i] = uint8(matchCount(e.hidden, e.weights.HiddenOutput[i]))
		}
		e.prediction = e.scores[1] > e.scores[0]
		e.ready = true
		e.completed++
		e.state = StateDone
		e.debugf("inference %d: input %s hidden %04b scores %d/%d prediction %t",
			e.completed, e.input, e.hidden, e.scores[0], e.scores[1], e.prediction)
	}
}

// Snapshot returns a copy of the engine's externally visible state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		State:      e.state,
		Input:      e.input,
		Hidden:     e.hidden,
		Scores:     e.scores,
		Prediction: e.prediction,
		Ready:      e.ready,
		Completed:  e.completed,
		Dropped:    e.dropped,
	}
}

// SetDebug enables or disables per-inference debug logging.
func (e *Engine) SetDebug(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.debug = enabled
}

func (e *Engine) debugf(format string, args ...interface{}) {
	if e.debug {
		monitoring.Logf("[bnn] "+format, args...)
	}
}

// matchCount returns the number of positions where the low nibbles of a
// and b agree: the XNOR-popcount, exactly in [0, 4]. The int8 result adds
// to a bias without overflow anywhere in [-8, 11].
func matchCount(a, b uint8) int8 {
	return int8(bits.OnesCount8(^(a ^ b) & 0x0F))
}
