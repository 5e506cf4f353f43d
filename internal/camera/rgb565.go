package camera

// DecodeRGB565 splits a big-endian RGB565 byte pair into 8-bit channels.
// The high byte carries RRRRRGGG, the low byte GGGBBBBB; each channel is
// scaled up by left-shifting into the top of its 8-bit range.
func DecodeRGB565(hi, lo byte) (r8, g8, b8 uint8) {
	r8 = (hi >> 3) << 3
	g8 = (hi&0x07)<<5 | (lo>>5)<<2
	b8 = (lo & 0x1F) << 3
	return r8, g8, b8
}

// EncodeRGB565 packs 8-bit channels into a big-endian RGB565 byte pair,
// dropping the low bits each channel cannot carry.
func EncodeRGB565(r8, g8, b8 uint8) (hi, lo byte) {
	hi = (r8 & 0xF8) | (g8 >> 5)
	lo = (g8<<3)&0xE0 | (b8 >> 3)
	return hi, lo
}

// Luma approximates perceived brightness from 8-bit channels, weighting
// green double: (r + 2g + b) / 4.
func Luma(r8, g8, b8 uint8) uint8 {
	return uint8((uint16(r8) + 2*uint16(g8) + uint16(b8)) >> 2)
}
