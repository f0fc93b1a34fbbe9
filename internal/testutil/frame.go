package testutil

import (
	"camarc/internal/frame"
)

// UniformSample returns a planar 4:2:0 sample with constant Y, U and V.
func UniformSample(seq uint64, width, height int, y, u, v byte) frame.Sample {
	luma := width * height
	data := make([]byte, frame.SampleSize(width, height))
	for i := range data {
		switch {
		case i < luma:
			data[i] = y
		case i < luma+luma/4:
			data[i] = u
		default:
			data[i] = v
		}
	}
	return frame.Sample{Seq: seq, Width: width, Height: height, Data: data}
}
