// Package features derives the 4-bit binary feature vector the classifier
// consumes from the latest camera and range snapshots.
package features

import (
	"fmt"

	"github.com/verdant-data/maturity.report/internal/camera"
	"github.com/verdant-data/maturity.report/internal/rangefinder"
)

// Feature bit positions in a Vector.
const (
	BitGreenness  = 0 // green channel energy
	BitColorRatio = 1 // green dominance over red
	BitTexture    = 2 // overall brightness
	BitHeight     = 3 // combined camera and range height
)

// Binarization cut points on the 0..15 nibble scale. They are part of the
// deployment contract with the trained weights and are not validated
// against them at runtime: a mismatch shifts classifications silently.
const (
	GreennessCut  = 7
	ColorRatioCut = 3
	TextureCut    = 7
	HeightCut     = 7
)

// Vector is the packed binary feature vector, one bit per derived feature.
type Vector uint8

func (v Vector) Greenness() bool  { return v&(1<<BitGreenness) != 0 }
func (v Vector) ColorRatio() bool { return v&(1<<BitColorRatio) != 0 }
func (v Vector) Texture() bool    { return v&(1<<BitTexture) != 0 }
func (v Vector) Height() bool     { return v&(1<<BitHeight) != 0 }

// String renders the vector as four bits, height first.
func (v Vector) String() string {
	return fmt.Sprintf("%04b", byte(v))
}

// Cuts holds the nibble-scale cut points for the four features.
type Cuts struct {
	Greenness  uint8
	ColorRatio uint8
	Texture    uint8
	Height     uint8
}

// DefaultCuts returns the stock cut points matching the reference weights.
func DefaultCuts() Cuts {
	return Cuts{
		Greenness:  GreennessCut,
		ColorRatio: ColorRatioCut,
		Texture:    TextureCut,
		Height:     HeightCut,
	}
}

// Binarizer thresholds frame and range snapshots into feature vectors.
type Binarizer struct {
	cuts Cuts
}

// NewBinarizer creates a Binarizer with the given cut points.
func NewBinarizer(cuts Cuts) *Binarizer {
	return &Binarizer{cuts: cuts}
}

// Binarize computes the feature vector from the most recent snapshots.
// The camera and range inputs have independent lifecycles; slight temporal
// skew between them is acceptable.
func (b *Binarizer) Binarize(frame camera.FrameFeatures, rs rangefinder.RangeSample) Vector {
	var v Vector
	if frame.AvgGreen>>4 > b.cuts.Greenness {
		v |= 1 << BitGreenness
	}
	if sat(frame.AvgGreen, frame.AvgRed)>>4 > b.cuts.ColorRatio {
		v |= 1 << BitColorRatio
	}
	if frame.AvgBright>>4 > b.cuts.Texture {
		v |= 1 << BitTexture
	}
	if combinedHeight(frame.HeightEstimate, rs.DistanceCM) > b.cuts.Height {
		v |= 1 << BitHeight
	}
	return v
}

// combinedHeight averages the camera and range height nibbles.
func combinedHeight(heightEstimate, distanceCM uint8) uint8 {
	return (camHeightNibble(heightEstimate) + rangeHeightNibble(distanceCM)) / 2
}

// camHeightNibble scales the row-extent height to 0..15. The 240-row frame
// ceiling tops out at exactly 15.
func camHeightNibble(height uint8) uint8 {
	return height >> 4
}

// rangeHeightNibble maps distance to an inverted 0..15 height: a nearer
// canopy reads taller, and 120 cm or beyond reads zero.
func rangeHeightNibble(distanceCM uint8) uint8 {
	d := distanceCM >> 3
	if d >= 15 {
		return 0
	}
	return 15 - d
}

// sat returns a-b clipped to zero.
func sat(a, b uint8) uint8 {
	if a <= b {
		return 0
	}
	return a - b
}
