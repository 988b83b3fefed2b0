package preprocess

import "math"

// gaussianKernel returns a normalized 1-D kernel covering ±3 sigma.
func gaussianKernel(sigma float64) []float64 {
	radius := max(1, int(math.Ceil(3*sigma)))
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// gaussianBlur applies a separable Gaussian blur to every channel.
func gaussianBlur(src *Image, sigma float64) *Image {
	kernel := gaussianKernel(sigma)
	radius := len(kernel) / 2
	w, h := src.Width, src.Height

	tmp := NewImage(w, h)
	for y := range h {
		for x := range w {
			var r, g, b float64
			for k, kv := range kernel {
				sx := reflect101(x+k-radius, w)
				sr, sg, sb := src.RGB(sx, y)
				r += float64(sr) * kv
				g += float64(sg) * kv
				b += float64(sb) * kv
			}
			tmp.SetRGB(x, y, float32(r), float32(g), float32(b))
		}
	}

	dst := NewImage(w, h)
	for y := range h {
		for x := range w {
			var r, g, b float64
			for k, kv := range kernel {
				sy := reflect101(y+k-radius, h)
				sr, sg, sb := tmp.RGB(x, sy)
				r += float64(sr) * kv
				g += float64(sg) * kv
				b += float64(sb) * kv
			}
			dst.SetRGB(x, y, float32(r), float32(g), float32(b))
		}
	}
	return dst
}

// unsharpMask restores edge definition: out = src + amount*(src - blur(src)),
// clamped to [0, 1].
func unsharpMask(src *Image, sigma, amount float64) *Image {
	if amount <= 0 {
		return src
	}
	blurred := gaussianBlur(src, sigma)
	dst := NewImage(src.Width, src.Height)
	for i, v := range src.Pix {
		s := float64(v) + amount*(float64(v)-float64(blurred.Pix[i]))
		dst.Pix[i] = float32(math.Max(0, math.Min(1, s)))
	}
	return dst
}
