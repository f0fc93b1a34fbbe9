package frame

import (
	"bytes"
	"errors"
	"image/color"
	"image/jpeg"
	"testing"
)

// uniformSample builds a width x height sample with constant Y, U and V planes.
func uniformSample(width, height int, y, u, v byte) []byte {
	luma := width * height
	buf := make([]byte, SampleSize(width, height))
	for i := 0; i < luma; i++ {
		buf[i] = y
	}
	for i := luma; i < luma+luma/4; i++ {
		buf[i] = u
	}
	for i := luma + luma/4; i < len(buf); i++ {
		buf[i] = v
	}
	return buf
}

func TestDecodeI420_UniformColors(t *testing.T) {
	tests := []struct {
		name    string
		y, u, v byte
		want    [3]uint8
	}{
		{name: "black", y: 16, u: 128, v: 128, want: [3]uint8{0, 0, 0}},
		{name: "mid gray", y: 128, u: 128, v: 128, want: [3]uint8{130, 130, 130}},
		{name: "nominal white", y: 235, u: 128, v: 128, want: [3]uint8{254, 254, 254}},
		{name: "full white saturates", y: 255, u: 128, v: 128, want: [3]uint8{255, 255, 255}},
		{name: "below black saturates", y: 0, u: 128, v: 128, want: [3]uint8{0, 0, 0}},
		{name: "pure red", y: 81, u: 90, v: 240, want: [3]uint8{254, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const w, h = 8, 4
			img, err := DecodeI420(uniformSample(w, h, tt.y, tt.u, tt.v), w, h)
			if err != nil {
				t.Fatalf("DecodeI420() error = %v", err)
			}
			if img.Bounds().Dx() != w || img.Bounds().Dy() != h {
				t.Fatalf("Bounds() = %v, want %dx%d", img.Bounds(), w, h)
			}
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					i := img.PixOffset(x, y)
					got := [3]uint8{img.Pix[i], img.Pix[i+1], img.Pix[i+2]}
					if got != tt.want {
						t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got, tt.want)
					}
				}
			}
		})
	}
}

func TestDecodeI420_ChromaSubsampling(t *testing.T) {
	const w, h = 4, 4
	sample := uniformSample(w, h, 128, 128, 128)
	// Raise V for the top-right 2x2 block only (chroma index 1).
	sample[w*h+w*h/4+1] = 200

	img, err := DecodeI420(sample, w, h)
	if err != nil {
		t.Fatalf("DecodeI420() error = %v", err)
	}

	gray := color.RGBA{R: 130, G: 130, B: 130, A: 0xff}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			got := img.At(x, y).(color.RGBA)
			inBlock := x >= 2 && y < 2
			if inBlock && got == gray {
				t.Errorf("pixel (%d,%d) = %v, want tinted", x, y, got)
			}
			if !inBlock && got != gray {
				t.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, gray)
			}
		}
	}
}

func TestDecodeI420_MalformedSample(t *testing.T) {
	tests := []struct {
		name          string
		size          int
		width, height int
	}{
		{name: "too short", size: SampleSize(8, 4) - 1, width: 8, height: 4},
		{name: "too long", size: SampleSize(8, 4) + 1, width: 8, height: 4},
		{name: "empty", size: 0, width: 8, height: 4},
		{name: "odd width", size: 15, width: 5, height: 2},
		{name: "zero height", size: 0, width: 8, height: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeI420(make([]byte, tt.size), tt.width, tt.height)
			if !errors.Is(err, ErrMalformedSample) {
				t.Errorf("DecodeI420() error = %v, want ErrMalformedSample", err)
			}
		})
	}
}

func TestDecodeI420_CameraResolution(t *testing.T) {
	const w, h = 1280, 720
	img, err := DecodeI420(uniformSample(w, h, 16, 128, 128), w, h)
	if err != nil {
		t.Fatalf("DecodeI420() error = %v", err)
	}
	if len(img.Pix) != w*h*3 {
		t.Errorf("len(Pix) = %d, want %d", len(img.Pix), w*h*3)
	}
}

func TestEncodeJPEG(t *testing.T) {
	img, err := DecodeI420(uniformSample(16, 16, 128, 128, 128), 16, 16)
	if err != nil {
		t.Fatalf("DecodeI420() error = %v", err)
	}

	data, err := EncodeJPEG(img, 0)
	if err != nil {
		t.Fatalf("EncodeJPEG() error = %v", err)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("jpeg.Decode() error = %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Errorf("decoded bounds = %v, want %v", decoded.Bounds(), img.Bounds())
	}
}
