package features

import (
	"testing"

	"github.com/verdant-data/maturity.report/internal/camera"
	"github.com/verdant-data/maturity.report/internal/rangefinder"
)

func TestBinarize_GreenFrame(t *testing.T) {
	// The frame a uniform bright-green field produces: strong green,
	// weak red, mid brightness, short row extent, canopy at 15 cm.
	b := NewBinarizer(DefaultCuts())
	frame := camera.FrameFeatures{
		AvgGreen:       148,
		AvgRed:         56,
		AvgBright:      88,
		HeightEstimate: 9,
	}
	rs := rangefinder.RangeSample{DistanceCM: 15}

	v := b.Binarize(frame, rs)
	if v != 0b0011 {
		t.Errorf("Binarize = %s, want 0011", v)
	}
	if !v.Greenness() || !v.ColorRatio() {
		t.Error("greenness and color-ratio bits should be set")
	}
	if v.Texture() || v.Height() {
		t.Error("texture and height bits should be clear")
	}
}

func TestBinarize_CutBoundaries(t *testing.T) {
	b := NewBinarizer(DefaultCuts())

	tests := []struct {
		name  string
		frame camera.FrameFeatures
		rs    rangefinder.RangeSample
		want  Vector
	}{
		{
			name:  "greenness just below the cut",
			frame: camera.FrameFeatures{AvgGreen: 127, AvgRed: 127},
			want:  0,
		},
		{
			name:  "greenness just above the cut",
			frame: camera.FrameFeatures{AvgGreen: 128, AvgRed: 128},
			want:  1 << BitGreenness,
		},
		{
			name:  "color ratio just below the cut",
			frame: camera.FrameFeatures{AvgGreen: 63, AvgRed: 0},
			want:  0,
		},
		{
			name:  "color ratio just above the cut",
			frame: camera.FrameFeatures{AvgGreen: 64, AvgRed: 0},
			want:  1 << BitColorRatio,
		},
		{
			name:  "texture just above the cut",
			frame: camera.FrameFeatures{AvgBright: 128},
			want:  1 << BitTexture,
		},
		{
			name:  "combined height exactly at the cut stays clear",
			frame: camera.FrameFeatures{HeightEstimate: 0},
			rs:    rangefinder.RangeSample{DistanceCM: 8}, // range nibble 14
			want:  0,
		},
		{
			name:  "combined height above the cut",
			frame: camera.FrameFeatures{HeightEstimate: 16}, // camera nibble 1
			rs:    rangefinder.RangeSample{DistanceCM: 0},   // range nibble 15
			want:  1 << BitHeight,
		},
		{
			name:  "tall frame with far canopy halves back under the cut",
			frame: camera.FrameFeatures{HeightEstimate: 240}, // camera nibble 15
			rs:    rangefinder.RangeSample{DistanceCM: 255},  // range nibble 0
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.Binarize(tt.frame, tt.rs); got != tt.want {
				t.Errorf("Binarize = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBinarize_RedDominantFrameClipsColorRatio(t *testing.T) {
	b := NewBinarizer(DefaultCuts())
	frame := camera.FrameFeatures{AvgGreen: 200, AvgRed: 210}

	v := b.Binarize(frame, rangefinder.RangeSample{DistanceCM: 255})
	if !v.Greenness() {
		t.Error("greenness bit should still reflect absolute green energy")
	}
	if v.ColorRatio() {
		t.Error("color-ratio bit must clip to zero when red dominates")
	}
}

func TestBinarize_CustomCuts(t *testing.T) {
	// Lowering every cut to zero turns any nonzero feature on.
	b := NewBinarizer(Cuts{})
	frame := camera.FrameFeatures{AvgGreen: 17, AvgRed: 0, AvgBright: 17, HeightEstimate: 32}
	rs := rangefinder.RangeSample{DistanceCM: 119}

	if got := b.Binarize(frame, rs); got != 0b1111 {
		t.Errorf("Binarize = %s, want 1111", got)
	}
}

func TestVector_String(t *testing.T) {
	if got := Vector(0b0011).String(); got != "0011" {
		t.Errorf("String = %q, want %q", got, "0011")
	}
	if got := Vector(0b1010).String(); got != "1010" {
		t.Errorf("String = %q, want %q", got, "1010")
	}
}
