package uart

// EncodeFrames renders symbols into line-level samples: per symbol a start
// bit, 8 data bits LSB first, and a stop bit, each held for samplesPerBit
// samples. The output carries no idle padding; callers embedding frames
// into a longer stream keep the line high between them.
func EncodeFrames(symbols []byte, samplesPerBit int) []bool {
	if samplesPerBit < 2 {
		samplesPerBit = 8
	}
	out := make([]bool, 0, len(symbols)*10*samplesPerBit)
	for _, sym := range symbols {
		out = appendLevel(out, false, samplesPerBit) // start
		for i := 0; i < 8; i++ {
			out = appendLevel(out, sym&(1<<i) != 0, samplesPerBit)
		}
		out = appendLevel(out, true, samplesPerBit) // stop
	}
	return out
}

func appendLevel(out []bool, level bool, n int) []bool {
	for i := 0; i < n; i++ {
		out = append(out, level)
	}
	return out
}
