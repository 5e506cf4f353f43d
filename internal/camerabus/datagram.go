package camerabus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire framing constants.
const (
	// Magic identifies a camera bus datagram.
	Magic uint16 = 0xFB01

	// HeaderSize is magic (2) + sequence (4) + sample count (2).
	HeaderSize = 8

	// MaxSamples bounds a datagram to ~1.4KB, safely under a 1500-byte MTU.
	MaxSamples = 700
)

// Datagram parse errors. The listener counts these and drops the datagram;
// a misbehaving head degrades the stream, it never stops it.
var (
	ErrShortDatagram  = errors.New("camerabus: datagram shorter than header")
	ErrBadMagic       = errors.New("camerabus: bad magic")
	ErrTruncated      = errors.New("camerabus: sample payload truncated")
	ErrTooManySamples = errors.New("camerabus: sample count exceeds maximum")
	ErrNoSamples      = errors.New("camerabus: datagram carries no samples")
)

// Datagram is one batch of bus samples with a sender-assigned sequence
// number. Sequence gaps are observable (and counted) but never repaired.
type Datagram struct {
	Sequence uint32
	Samples  []Sample
}

// ParseDatagram decodes a received UDP payload.
func ParseDatagram(data []byte) (Datagram, error) {
	if len(data) < HeaderSize {
		return Datagram{}, fmt.Errorf("%w: %d bytes", ErrShortDatagram, len(data))
	}
	if got := binary.BigEndian.Uint16(data[0:2]); got != Magic {
		return Datagram{}, fmt.Errorf("%w: %#04x", ErrBadMagic, got)
	}

	seq := binary.BigEndian.Uint32(data[2:6])
	count := int(binary.BigEndian.Uint16(data[6:8]))
	if count == 0 {
		return Datagram{}, ErrNoSamples
	}
	if count > MaxSamples {
		return Datagram{}, fmt.Errorf("%w: %d", ErrTooManySamples, count)
	}
	if want := HeaderSize + 2*count; len(data) < want {
		return Datagram{}, fmt.Errorf("%w: have %d bytes, want %d", ErrTruncated, len(data), want)
	}

	samples := make([]Sample, count)
	for i := 0; i < count; i++ {
		off := HeaderSize + 2*i
		samples[i] = Sample{Flags: data[off] &^ flagReserved, Pixel: data[off+1]}
	}
	return Datagram{Sequence: seq, Samples: samples}, nil
}

// AppendSample adds one sample to the datagram. It reports false when the
// datagram is already full; the sender seals the full datagram and starts
// the next one.
func (d *Datagram) AppendSample(s Sample) bool {
	if len(d.Samples) >= MaxSamples {
		return false
	}
	d.Samples = append(d.Samples, s)
	return true
}

// MarshalBinary encodes the datagram for transmission.
func (d Datagram) MarshalBinary() ([]byte, error) {
	if len(d.Samples) == 0 {
		return nil, ErrNoSamples
	}
	if len(d.Samples) > MaxSamples {
		return nil, fmt.Errorf("%w: %d", ErrTooManySamples, len(d.Samples))
	}

	buf := make([]byte, HeaderSize+2*len(d.Samples))
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	binary.BigEndian.PutUint32(buf[2:6], d.Sequence)
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(d.Samples)))
	for i, s := range d.Samples {
		off := HeaderSize + 2*i
		buf[off] = s.Flags &^ flagReserved
		buf[off+1] = s.Pixel
	}
	return buf, nil
}

// SequenceGap returns how many datagrams were lost between prev and next
// sequence numbers, accounting for uint32 wraparound. Consecutive datagrams
// return 0.
func SequenceGap(prev, next uint32) uint32 {
	return next - prev - 1
}
