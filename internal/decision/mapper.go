// Package decision combines the classifier's result with the priority
// alert into the boundary outputs the rest of the system publishes.
package decision

import (
	"sync"

	"github.com/verdant-data/maturity.report/internal/bnn"
	"github.com/verdant-data/maturity.report/internal/monitoring"
)

// Outputs is the boundary snapshot exposed to the API, SSE stream, MQTT,
// and storage. Effective is the prediction with the alert override
// applied; Buzzer is asserted only while a valid result and an effective
// "ready" decision hold together.
type Outputs struct {
	Prediction bool  `json:"prediction"`
	Ready      bool  `json:"ready"`
	Alert      bool  `json:"alert"`
	Effective  bool  `json:"effective"`
	Buzzer     bool  `json:"buzzer"`
	Hidden     uint8 `json:"hidden"`
}

// MapperConfig configures a Mapper.
type MapperConfig struct {
	// OnChange, when set, receives every Outputs value that differs
	// from the previous one. It runs on the goroutine driving Apply
	// and must not block.
	OnChange func(Outputs)
}

// Mapper derives Outputs from engine snapshots and the alert bit. The
// alert can only raise the decision, never lower it.
type Mapper struct {
	onChange func(Outputs)

	mu      sync.Mutex
	current Outputs
	applied uint64
	changes uint64
	debug   bool
}

// NewMapper creates a Mapper with the specified configuration.
func NewMapper(config MapperConfig) *Mapper {
	return &Mapper{onChange: config.OnChange}
}

// Apply folds one engine snapshot and the current alert bit into the
// outputs, publishing through OnChange when anything moved.
func (m *Mapper) Apply(snap bnn.Snapshot, alert bool) Outputs {
	out := Outputs{
		Prediction: snap.Prediction,
		Ready:      snap.Ready,
		Alert:      alert,
		Effective:  snap.Prediction || alert,
		Hidden:     snap.Hidden,
	}
	out.Buzzer = snap.Ready && out.Effective

	m.mu.Lock()
	m.applied++
	changed := out != m.current
	m.current = out
	if changed {
		m.changes++
		m.debugf("outputs: prediction %t ready %t alert %t effective %t buzzer %t hidden %04b",
			out.Prediction, out.Ready, out.Alert, out.Effective, out.Buzzer, out.Hidden)
	}
	onChange := m.onChange
	m.mu.Unlock()

	if changed && onChange != nil {
		onChange(out)
	}
	return out
}

// Current returns the most recently applied outputs.
func (m *Mapper) Current() Outputs {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Counts reports how many snapshots were applied and how many produced a
// changed output.
func (m *Mapper) Counts() (applied, changes uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied, m.changes
}

// SetDebug enables or disables per-change debug logging.
func (m *Mapper) SetDebug(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debug = enabled
}

func (m *Mapper) debugf(format string, args ...interface{}) {
	if m.debug {
		monitoring.Logf("[decision] "+format, args...)
	}
}
