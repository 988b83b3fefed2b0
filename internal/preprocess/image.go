package preprocess

import (
	"image"
	"image/color"
	"math"
)

// Image is a preprocessed RGB image with float channels in [0, 1].
// Pix is row-major with interleaved R, G, B values.
type Image struct {
	Width  int
	Height int
	Pix    []float32
}

// NewImage allocates a black image of the given size.
func NewImage(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]float32, width*height*3),
	}
}

// RGB returns the channel values at (x, y).
func (m *Image) RGB(x, y int) (r, g, b float32) {
	i := (y*m.Width + x) * 3
	return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
}

// SetRGB sets the channel values at (x, y).
func (m *Image) SetRGB(x, y int, r, g, b float32) {
	i := (y*m.Width + x) * 3
	m.Pix[i], m.Pix[i+1], m.Pix[i+2] = r, g, b
}

// Gray8 converts the image to 8-bit grayscale using ITU-R BT.601 weights.
// Channels are quantized by truncation before the luma is computed and rounded,
// which matches how 8-bit image tooling treats a float image.
func (m *Image) Gray8() []uint8 {
	out := make([]uint8, m.Width*m.Height)
	for i := range out {
		r := quantize(m.Pix[i*3])
		g := quantize(m.Pix[i*3+1])
		b := quantize(m.Pix[i*3+2])
		luma := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
		out[i] = uint8(math.Min(255, math.Round(luma)))
	}
	return out
}

// ToNRGBA converts the image to an 8-bit image for encoding or display.
func (m *Image) ToNRGBA() *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := range m.Height {
		for x := range m.Width {
			r, g, b := m.RGB(x, y)
			dst.SetNRGBA(x, y, color.NRGBA{R: quantize(r), G: quantize(g), B: quantize(b), A: 255})
		}
	}
	return dst
}

// fromNRGBA converts an 8-bit image to the float representation.
func fromNRGBA(src *image.NRGBA) *Image {
	b := src.Bounds()
	out := NewImage(b.Dx(), b.Dy())
	for y := range out.Height {
		row := src.Pix[y*src.Stride:]
		for x := range out.Width {
			o := x * 4
			out.SetRGB(x, y, float32(row[o])/255, float32(row[o+1])/255, float32(row[o+2])/255)
		}
	}
	return out
}

// toNRGBA copies any image into a zero-origin NRGBA with opaque alpha.
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			c.A = 255
			dst.SetNRGBA(x-b.Min.X, y-b.Min.Y, c)
		}
	}
	return dst
}

func quantize(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v * 255)
}

func clamp8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}
