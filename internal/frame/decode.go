package frame

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// ErrMalformedSample is returned when a sample does not match the planar
// 4:2:0 layout for the requested dimensions.
var ErrMalformedSample = errors.New("malformed sample")

// RGB is an in-memory image with 3 bytes per pixel (R, G, B) and no alpha.
type RGB struct {
	Pix    []uint8
	Stride int
	Rect   image.Rectangle
}

// NewRGB allocates a zeroed RGB image of the given size.
func NewRGB(width, height int) *RGB {
	return &RGB{
		Pix:    make([]uint8, width*height*3),
		Stride: width * 3,
		Rect:   image.Rect(0, 0, width, height),
	}
}

func (p *RGB) ColorModel() color.Model { return color.RGBAModel }

func (p *RGB) Bounds() image.Rectangle { return p.Rect }

func (p *RGB) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := p.PixOffset(x, y)
	return color.RGBA{R: p.Pix[i], G: p.Pix[i+1], B: p.Pix[i+2], A: 0xff}
}

// PixOffset returns the index of the first element of Pix for pixel (x, y).
func (p *RGB) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
}

// SampleSize returns the byte length of a planar 4:2:0 sample.
func SampleSize(width, height int) int {
	return width * height * 3 / 2
}

// DecodeI420 converts a planar 4:2:0 sample (full-resolution Y plane followed
// by quarter-resolution U and V planes) to RGB using the BT.601 limited-range
// coefficients. Channel values are truncated toward zero and saturated to
// 0..255.
func DecodeI420(sample []byte, width, height int) (*RGB, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrMalformedSample, width, height)
	}
	if want := SampleSize(width, height); len(sample) != want {
		return nil, fmt.Errorf("%w: got %d bytes, want %d for %dx%d", ErrMalformedSample, len(sample), want, width, height)
	}

	lumaSize := width * height
	chromaSize := lumaSize / 4
	luma := sample[:lumaSize]
	chromaU := sample[lumaSize : lumaSize+chromaSize]
	chromaV := sample[lumaSize+chromaSize:]
	halfWidth := width / 2

	img := NewRGB(width, height)
	i := 0
	for y := 0; y < height; y++ {
		row := (y / 2) * halfWidth
		for x := 0; x < width; x++ {
			c := float32(luma[y*width+x]) - 16
			d := float32(chromaU[row+x/2]) - 128
			e := float32(chromaV[row+x/2]) - 128

			// Explicit float32 conversions keep each product rounded before
			// the sum so results do not depend on fused multiply-add.
			yy := float32(1.164 * c)
			img.Pix[i] = saturate(yy + float32(1.596*e))
			img.Pix[i+1] = saturate(yy - float32(0.813*e) - float32(0.391*d))
			img.Pix[i+2] = saturate(yy + float32(2.018*d))
			i += 3
		}
	}
	return img, nil
}

// saturate truncates toward zero and clamps to the byte range. NaN maps to 0.
func saturate(v float32) uint8 {
	if !(v > 0) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
