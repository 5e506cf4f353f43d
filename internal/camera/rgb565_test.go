package camera

import "testing"

func TestDecodeRGB565(t *testing.T) {
	tests := []struct {
		hi, lo  byte
		r, g, b uint8
	}{
		{0x00, 0x00, 0, 0, 0},
		{0xFF, 0xFF, 248, 252, 248},
		{0x3C, 0xA0, 56, 148, 0}, // green-dominant field pixel
		{0xF8, 0x00, 248, 0, 0},  // pure red
		{0x07, 0xE0, 0, 252, 0},  // pure green
		{0x00, 0x1F, 0, 0, 248},  // pure blue
	}
	for _, tt := range tests {
		r, g, b := DecodeRGB565(tt.hi, tt.lo)
		if r != tt.r || g != tt.g || b != tt.b {
			t.Errorf("DecodeRGB565(0x%02X, 0x%02X) = (%d, %d, %d), want (%d, %d, %d)",
				tt.hi, tt.lo, r, g, b, tt.r, tt.g, tt.b)
		}
	}
}

func TestEncodeRGB565(t *testing.T) {
	tests := []struct {
		r, g, b uint8
		hi, lo  byte
	}{
		{0, 0, 0, 0x00, 0x00},
		{255, 255, 255, 0xFF, 0xFF},
		{56, 148, 0, 0x3C, 0xA0}, // green-dominant field pixel
		{248, 0, 0, 0xF8, 0x00},
	}
	for _, tt := range tests {
		hi, lo := EncodeRGB565(tt.r, tt.g, tt.b)
		if hi != tt.hi || lo != tt.lo {
			t.Errorf("EncodeRGB565(%d, %d, %d) = (0x%02X, 0x%02X), want (0x%02X, 0x%02X)",
				tt.r, tt.g, tt.b, hi, lo, tt.hi, tt.lo)
		}
	}
}

func TestEncodeRGB565_RoundTrip(t *testing.T) {
	// Decode recovers each channel up to the bits RGB565 can carry.
	for _, c := range [][3]uint8{{200, 148, 88}, {31, 63, 127}, {255, 0, 255}} {
		hi, lo := EncodeRGB565(c[0], c[1], c[2])
		r, g, b := DecodeRGB565(hi, lo)
		if r != c[0]&0xF8 || g != c[1]&0xFC || b != c[2]&0xF8 {
			t.Errorf("round trip (%d, %d, %d) = (%d, %d, %d)", c[0], c[1], c[2], r, g, b)
		}
	}
}

func TestLuma(t *testing.T) {
	tests := []struct {
		r, g, b uint8
		want    uint8
	}{
		{0, 0, 0, 0},
		{56, 148, 0, 88},
		{248, 252, 248, 250},
		{248, 0, 0, 62},
	}
	for _, tt := range tests {
		if got := Luma(tt.r, tt.g, tt.b); got != tt.want {
			t.Errorf("Luma(%d, %d, %d) = %d, want %d", tt.r, tt.g, tt.b, got, tt.want)
		}
	}
}
