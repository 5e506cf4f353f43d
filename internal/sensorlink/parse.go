package sensorlink

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Report line types emitted by the pod.
const (
	EventTypeEcho    = "echo"
	EventTypeIdent   = "ident"
	EventTypeNotice  = "notice"
	EventTypeUnknown = "unknown"
)

// ErrNoEcho marks a measurement where the pod heard no return pulse.
var ErrNoEcho = errors.New("no echo detected")

// ClassifyLine inspects a report line and returns a simple event type token.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "E "):
		return EventTypeEcho
	case strings.HasPrefix(line, "ID "):
		return EventTypeIdent
	case strings.HasPrefix(line, "#"):
		return EventTypeNotice
	default:
		return EventTypeUnknown
	}
}

// ParseEchoMicros extracts the echo pulse width from a pod report of the
// form "E <micros>". A negative width means the pod timed out waiting for
// the return pulse and yields ErrNoEcho.
func ParseEchoMicros(line string) (uint32, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), "E ")
	if !ok {
		return 0, fmt.Errorf("not an echo report: %q", line)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad echo width in %q: %w", line, err)
	}
	if v < 0 {
		return 0, ErrNoEcho
	}
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("echo width %d out of range", v)
	}
	return uint32(v), nil
}
