package pipeline

import (
	"bytes"
	"strings"
	"testing"
)

func TestBusStats_GetAndReset(t *testing.T) {
	bs := NewBusStats()
	bs.AddDatagram(1408, 700)
	bs.AddDatagram(208, 100)
	bs.AddParseError()
	bs.AddLost(3)

	datagrams, byteCount, samples, parseErrs, lost, duration := bs.GetAndReset()
	if datagrams != 2 || byteCount != 1616 || samples != 800 {
		t.Errorf("got datagrams=%d bytes=%d samples=%d, want 2/1616/800", datagrams, byteCount, samples)
	}
	if parseErrs != 1 || lost != 3 {
		t.Errorf("got parseErrs=%d lost=%d, want 1/3", parseErrs, lost)
	}
	if duration <= 0 {
		t.Errorf("duration = %v, want positive", duration)
	}

	datagrams, _, _, _, _, _ = bs.GetAndReset()
	if datagrams != 0 {
		t.Errorf("counters survived reset: datagrams=%d", datagrams)
	}
}

func TestBusStats_DatagramsPeek(t *testing.T) {
	bs := NewBusStats()
	bs.AddDatagram(1408, 700)
	bs.AddDatagram(208, 100)

	if got := bs.Datagrams(); got != 2 {
		t.Errorf("Datagrams() = %d, want 2", got)
	}
	// Peeking must not reset.
	if got := bs.Datagrams(); got != 2 {
		t.Errorf("Datagrams() after peek = %d, want 2", got)
	}
	if d, _, _, _, _, _ := bs.GetAndReset(); d != 2 {
		t.Errorf("GetAndReset datagrams = %d, want 2", d)
	}
}

func TestBusStats_LogStats(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(&buf, nil, nil)
	defer SetLogWriters(nil, nil, nil)

	bs := NewBusStats()
	bs.LogStats()
	if buf.Len() != 0 {
		t.Errorf("quiet interval should not log, got %q", buf.String())
	}

	bs.AddDatagram(1408, 700)
	bs.AddLost(2)
	bs.LogStats()
	line := buf.String()
	if !strings.Contains(line, "bus stats") || !strings.Contains(line, "2 lost in sequence") {
		t.Errorf("log line = %q", line)
	}
}

func TestFormatWithCommas(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{54321, "54,321"},
		{1234567, "1,234,567"},
		{-4500, "-4,500"},
	}
	for _, tc := range cases {
		if got := formatWithCommas(tc.in); got != tc.want {
			t.Errorf("formatWithCommas(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
