package uart

import (
	"sync"

	"github.com/verdant-data/maturity.report/internal/monitoring"
)

// AlertStats counts control actions applied to the monitor.
type AlertStats struct {
	Asserts uint64 // assert actions applied, including redundant ones
	Clears  uint64 // clear actions applied
	Ignored uint64 // symbols matching neither control symbol
}

// AlertConfig configures an AlertMonitor. Zero values take defaults.
type AlertConfig struct {
	// AssertSymbol raises the alert when decoded. Default: 0xA5.
	AssertSymbol Symbol

	// ClearSymbol drops the alert when decoded. Default: 0x5A.
	ClearSymbol Symbol

	// OnChange, when set, is called with the new value after every
	// transition of the sticky bit. It runs on the goroutine applying
	// the change and must not block.
	OnChange func(active bool)
}

// AlertMonitor owns the sticky priority-alert bit. The serial control
// channel, the HTTP control endpoint, and the MQTT control topic all
// converge here with the same semantics: the bit persists until an
// explicit clear, independent of inference timing.
type AlertMonitor struct {
	assertSymbol Symbol
	clearSymbol  Symbol
	onChange     func(bool)

	mu     sync.Mutex
	active bool
	stats  AlertStats
	debug  bool
}

// NewAlertMonitor creates an AlertMonitor with the specified configuration.
func NewAlertMonitor(config AlertConfig) *AlertMonitor {
	if config.AssertSymbol == 0 {
		config.AssertSymbol = 0xA5
	}
	if config.ClearSymbol == 0 {
		config.ClearSymbol = 0x5A
	}
	return &AlertMonitor{
		assertSymbol: config.AssertSymbol,
		clearSymbol:  config.ClearSymbol,
		onChange:     config.OnChange,
	}
}

// HandleSymbol applies one decoded control symbol. Symbols matching
// neither control value are counted and ignored.
func (m *AlertMonitor) HandleSymbol(sym Symbol) {
	switch sym {
	case m.assertSymbol:
		m.set(true, "serial")
	case m.clearSymbol:
		m.set(false, "serial")
	default:
		m.mu.Lock()
		m.stats.Ignored++
		m.debugf("ignoring symbol %#02x", byte(sym))
		m.mu.Unlock()
	}
}

// Assert raises the alert on behalf of a direct control surface.
func (m *AlertMonitor) Assert() { m.set(true, "control") }

// Clear drops the alert on behalf of a direct control surface.
func (m *AlertMonitor) Clear() { m.set(false, "control") }

func (m *AlertMonitor) set(active bool, source string) {
	m.mu.Lock()
	changed := m.active != active
	m.active = active
	if active {
		m.stats.Asserts++
	} else {
		m.stats.Clears++
	}
	if changed {
		word := "cleared"
		if active {
			word = "asserted"
		}
		m.debugf("alert %s (%s)", word, source)
	}
	onChange := m.onChange
	m.mu.Unlock()

	if changed && onChange != nil {
		onChange(active)
	}
}

// Active reports the current alert state.
func (m *AlertMonitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Stats returns a copy of the action counters.
func (m *AlertMonitor) Stats() AlertStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// SetDebug enables or disables control-action debug logging.
func (m *AlertMonitor) SetDebug(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debug = enabled
}

func (m *AlertMonitor) debugf(format string, args ...interface{}) {
	if m.debug {
		monitoring.Logf("[uart] "+format, args...)
	}
}
