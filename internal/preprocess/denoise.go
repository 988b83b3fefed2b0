package preprocess

import (
	"image"
	"math"
)

// bilateralFilter smooths sensor noise while keeping edges: each output pixel is
// a weighted mean of its neighbourhood, where the weight falls off with both
// spatial distance and colour distance (sum of absolute channel differences).
func bilateralFilter(src *image.NRGBA, radius int, sigmaColor, sigmaSpace float64) *image.NRGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewNRGBA(src.Bounds())
	if radius <= 0 || w == 0 || h == 0 {
		copy(dst.Pix, src.Pix)
		return dst
	}

	// Spatial weights for the circular window.
	type tap struct {
		dx, dy int
		weight float64
	}
	var taps []tap
	spaceCoeff := -0.5 / (sigmaSpace * sigmaSpace)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			d2 := float64(dx*dx + dy*dy)
			if d2 > float64(radius*radius) {
				continue
			}
			taps = append(taps, tap{dx: dx, dy: dy, weight: math.Exp(d2 * spaceCoeff)})
		}
	}

	// Colour weights indexed by summed absolute channel difference (0..765).
	colorCoeff := -0.5 / (sigmaColor * sigmaColor)
	colorWeight := make([]float64, 3*255+1)
	for i := range colorWeight {
		colorWeight[i] = math.Exp(float64(i*i) * colorCoeff)
	}

	for y := range h {
		for x := range w {
			ci := y*src.Stride + x*4
			r0, g0, b0 := int(src.Pix[ci]), int(src.Pix[ci+1]), int(src.Pix[ci+2])

			var sumR, sumG, sumB, sumW float64
			for _, t := range taps {
				nx := reflect101(x+t.dx, w)
				ny := reflect101(y+t.dy, h)
				ni := ny*src.Stride + nx*4
				r, g, b := int(src.Pix[ni]), int(src.Pix[ni+1]), int(src.Pix[ni+2])
				diff := absInt(r-r0) + absInt(g-g0) + absInt(b-b0)
				wgt := t.weight * colorWeight[diff]
				sumR += float64(r) * wgt
				sumG += float64(g) * wgt
				sumB += float64(b) * wgt
				sumW += wgt
			}

			di := y*dst.Stride + x*4
			dst.Pix[di] = clamp8(sumR / sumW)
			dst.Pix[di+1] = clamp8(sumG / sumW)
			dst.Pix[di+2] = clamp8(sumB / sumW)
			dst.Pix[di+3] = 255
		}
	}
	return dst
}

// reflect101 mirrors an out-of-range coordinate back into [0, n) without
// repeating the edge pixel (gfedcb|abcdefgh|gfedcba).
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
