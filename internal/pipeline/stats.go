package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BusStats tracks camera bus ingest counters with thread-safe operations.
type BusStats struct {
	mu        sync.Mutex
	datagrams int64
	bytes     int64
	samples   int64
	parseErrs int64
	lost      int64
	lastReset time.Time
}

// NewBusStats creates a BusStats instance.
func NewBusStats() *BusStats {
	return &BusStats{lastReset: time.Now()}
}

// AddDatagram records one parsed datagram and its sample payload.
func (bs *BusStats) AddDatagram(bytes, samples int) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.datagrams++
	bs.bytes += int64(bytes)
	bs.samples += int64(samples)
}

// AddParseError records one datagram dropped as unparseable.
func (bs *BusStats) AddParseError() {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.parseErrs++
}

// AddLost records datagrams missing from the sequence.
func (bs *BusStats) AddLost(n uint32) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.lost += int64(n)
}

// Datagrams returns the count received since the last reset without
// disturbing the counters.
func (bs *BusStats) Datagrams() int64 {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.datagrams
}

// GetAndReset returns current counters and resets them.
func (bs *BusStats) GetAndReset() (datagrams, bytes, samples, parseErrs, lost int64, duration time.Duration) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	now := time.Now()
	duration = now.Sub(bs.lastReset)
	datagrams = bs.datagrams
	bytes = bs.bytes
	samples = bs.samples
	parseErrs = bs.parseErrs
	lost = bs.lost

	bs.datagrams = 0
	bs.bytes = 0
	bs.samples = 0
	bs.parseErrs = 0
	bs.lost = 0
	bs.lastReset = now

	return
}

// LogStats emits one ops line when any traffic was seen since the last
// reset.
func (bs *BusStats) LogStats() {
	datagrams, bytes, samples, parseErrs, lost, duration := bs.GetAndReset()
	if datagrams == 0 && parseErrs == 0 {
		return
	}

	secs := duration.Seconds()
	kbPerSec := float64(bytes) / secs / 1024
	datagramsPerSec := float64(datagrams) / secs
	samplesPerSec := int64(float64(samples) / secs)

	msg := fmt.Sprintf("bus stats (/sec): %.1f KB, %.1f datagrams, %s samples",
		kbPerSec, datagramsPerSec, formatWithCommas(samplesPerSec))
	if lost > 0 {
		msg += fmt.Sprintf(", %d lost in sequence", lost)
	}
	if parseErrs > 0 {
		msg += fmt.Sprintf(", %d unparseable", parseErrs)
	}
	opsf("%s", msg)
}

// formatWithCommas formats a number with thousands separators.
func formatWithCommas(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) > 3 {
		var b strings.Builder
		lead := len(s) % 3
		if lead > 0 {
			b.WriteString(s[:lead])
		}
		for i := lead; i < len(s); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(s[i : i+3])
		}
		s = b.String()
	}
	if neg {
		s = "-" + s
	}
	return s
}
