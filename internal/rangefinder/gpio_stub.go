//go:build !gpio

package rangefinder

import (
	"context"
	"fmt"
)

// GPIOSource requires the gpio build tag; this stub only reports that the
// support is compiled out.
type GPIOSource struct{}

// NewGPIOSource returns an error directing the operator to a gpio-tagged
// build.
func NewGPIOSource(chip string, triggerPin, echoPin int) (*GPIOSource, error) {
	return nil, fmt.Errorf("GPIO support not enabled: rebuild with -tags=gpio to drive the transducer directly")
}

func (s *GPIOSource) Measure(ctx context.Context) (uint32, error) {
	return 0, fmt.Errorf("GPIO support not enabled")
}

func (s *GPIOSource) Close() error { return nil }
