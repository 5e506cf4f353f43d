//go:build !gpio

package buzzer

import (
	"strings"
	"testing"
)

// TestOpen_Stub verifies the stub returns a build-tag hint instead of
// pretending to own a line.
func TestOpen_Stub(t *testing.T) {
	_, err := Open("gpiochip0", 17)
	if err == nil {
		t.Fatal("expected error from stub implementation")
	}
	if !strings.Contains(err.Error(), "-tags=gpio") {
		t.Errorf("error should mention the gpio build tag, got %q", err)
	}
}

// TestStub_SetCloseNoOp keeps the nil-safe contract callers rely on when the
// buzzer is not wired.
func TestStub_SetCloseNoOp(t *testing.T) {
	var l Line
	if err := l.Set(true); err != nil {
		t.Errorf("stub Set: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("stub Close: %v", err)
	}
}
