//go:build gpio

// Package buzzer drives the harvest-ready indicator line. The line follows
// the decision mapper's buzzer bit; wiring it is optional and the default
// build compiles the support out.
package buzzer

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// Line is an output line holding the buzzer state.
type Line struct {
	mu   sync.Mutex
	line *gpiocdev.Line
	on   bool
}

// Open requests the output line on the given chip, starting low.
func Open(chip string, pin int) (*Line, error) {
	line, err := gpiocdev.RequestLine(chip, pin, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request buzzer line %d: %w", pin, err)
	}
	return &Line{line: line}, nil
}

// Set drives the line. Repeated sets to the current state are skipped so the
// mapper callback can call this on every change without extra bookkeeping.
func (l *Line) Set(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if on == l.on {
		return nil
	}
	v := 0
	if on {
		v = 1
	}
	if err := l.line.SetValue(v); err != nil {
		return fmt.Errorf("buzzer set %d: %w", v, err)
	}
	l.on = on
	return nil
}

// Close drives the line low and releases it.
func (l *Line) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.line.SetValue(0)
	l.line.Close()
	return nil
}
