package rangefinder

import (
	"context"
	"fmt"

	"github.com/verdant-data/maturity.report/internal/sensorlink"
)

// LinkSource measures through the serial pod: it sends the trigger command
// and waits for the echo report line. Non-echo chatter from the pod is
// skipped while waiting.
type LinkSource struct {
	Link sensorlink.Linker
}

func (s *LinkSource) Measure(ctx context.Context) (uint32, error) {
	id, ch := s.Link.Subscribe()
	defer s.Link.Unsubscribe(id)

	if err := s.Link.SendCommand("T"); err != nil {
		return 0, fmt.Errorf("trigger failed: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case line, ok := <-ch:
			if !ok {
				return 0, fmt.Errorf("pod link closed")
			}
			if sensorlink.ClassifyLine(line) != sensorlink.EventTypeEcho {
				continue
			}
			return sensorlink.ParseEchoMicros(line)
		}
	}
}
