//go:build !gpio

// Package buzzer drives the harvest-ready indicator line. The line follows
// the decision mapper's buzzer bit; wiring it is optional and the default
// build compiles the support out.
package buzzer

import "fmt"

// Line requires the gpio build tag; this stub only reports that the support
// is compiled out.
type Line struct{}

// Open returns an error directing the operator to a gpio-tagged build.
func Open(chip string, pin int) (*Line, error) {
	return nil, fmt.Errorf("GPIO support not enabled: rebuild with -tags=gpio to drive the buzzer line")
}

func (l *Line) Set(on bool) error { return nil }

func (l *Line) Close() error { return nil }
