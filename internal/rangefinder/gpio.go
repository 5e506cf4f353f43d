//go:build gpio

package rangefinder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOSource drives an HC-SR04 style transducer directly: a 10 µs pulse on
// the trigger line, echo width timed from the echo line's kernel edge
// timestamps.
type GPIOSource struct {
	trigger *gpiocdev.Line
	echo    *gpiocdev.Line

	mu     sync.Mutex
	riseAt time.Duration
	widths chan time.Duration
}

// NewGPIOSource requests the trigger and echo lines on the given chip.
func NewGPIOSource(chip string, triggerPin, echoPin int) (*GPIOSource, error) {
	s := &GPIOSource{widths: make(chan time.Duration, 1)}

	trigger, err := gpiocdev.RequestLine(chip, triggerPin, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request trigger line %d: %w", triggerPin, err)
	}

	echo, err := gpiocdev.RequestLine(chip, echoPin,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(s.echoEvent))
	if err != nil {
		trigger.Close()
		return nil, fmt.Errorf("request echo line %d: %w", echoPin, err)
	}

	s.trigger = trigger
	s.echo = echo
	return s, nil
}

// echoEvent times the echo pulse from the kernel event timestamps.
func (s *GPIOSource) echoEvent(evt gpiocdev.LineEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch evt.Type {
	case gpiocdev.LineEventRisingEdge:
		s.riseAt = evt.Timestamp
	case gpiocdev.LineEventFallingEdge:
		if s.riseAt == 0 {
			return
		}
		width := evt.Timestamp - s.riseAt
		s.riseAt = 0
		select {
		case s.widths <- width:
		default:
		}
	}
}

// Measure pulses the trigger line for 10 µs and waits for the echo width.
func (s *GPIOSource) Measure(ctx context.Context) (uint32, error) {
	// Drop any width left over from a timed-out measurement.
	select {
	case <-s.widths:
	default:
	}

	if err := s.trigger.SetValue(1); err != nil {
		return 0, fmt.Errorf("trigger high: %w", err)
	}
	time.Sleep(10 * time.Microsecond)
	if err := s.trigger.SetValue(0); err != nil {
		return 0, fmt.Errorf("trigger low: %w", err)
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case width := <-s.widths:
		return uint32(width.Microseconds()), nil
	}
}

// Close releases both lines.
func (s *GPIOSource) Close() error {
	s.trigger.Close()
	s.echo.Close()
	return nil
}
