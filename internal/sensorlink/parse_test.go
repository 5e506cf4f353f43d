package sensorlink

import (
	"errors"
	"testing"
)

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"E 870", EventTypeEcho},
		{"E -1", EventTypeEcho},
		{"  E 42  ", EventTypeEcho},
		{"ID hc-sr04-pod fw1.2", EventTypeIdent},
		{"# boot complete", EventTypeNotice},
		{"garbage", EventTypeUnknown},
		{"", EventTypeUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyLine(tt.line); got != tt.want {
			t.Errorf("ClassifyLine(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestParseEchoMicros(t *testing.T) {
	tests := []struct {
		line    string
		want    uint32
		wantErr bool
	}{
		{"E 960", 960, false},
		{"E 0", 0, false},
		{" E 42 ", 42, false},
		{"E 4294967295", 4294967295, false},
		{"E 4294967296", 0, true},
		{"E abc", 0, true},
		{"X 12", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseEchoMicros(tt.line)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseEchoMicros(%q) expected error, got %d", tt.line, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseEchoMicros(%q) returned error: %v", tt.line, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseEchoMicros(%q) = %d, want %d", tt.line, got, tt.want)
		}
	}
}

func TestParseEchoMicros_NoEcho(t *testing.T) {
	_, err := ParseEchoMicros("E -1")
	if !errors.Is(err, ErrNoEcho) {
		t.Errorf("expected ErrNoEcho for a negative width, got %v", err)
	}
}
