package preprocess

import (
	"image"
	"math"
)

// Region is a connected foreground component of a thresholded image.
type Region struct {
	Bounds image.Rectangle
	Area   int // number of foreground pixels
}

// SubjectOptions controls subject-region detection.
type SubjectOptions struct {
	CenterBand   float64 // fraction of width (centered) the region's center must lie in
	MinAreaRatio float64 // minimum region area relative to the image area
	Padding      float64 // padding around the region bounds, relative to their size
	MinDimension int     // smallest accepted crop edge in pixels
}

// grayNRGBA converts an NRGBA image to BT.601 8-bit luma.
func grayNRGBA(src *image.NRGBA) []uint8 {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	out := make([]uint8, w*h)
	for y := range h {
		for x := range w {
			i := y*src.Stride + x*4
			luma := 0.299*float64(src.Pix[i]) + 0.587*float64(src.Pix[i+1]) + 0.114*float64(src.Pix[i+2])
			out[y*w+x] = clamp8(luma)
		}
	}
	return out
}

// otsuThreshold picks the threshold that maximizes between-class variance.
func otsuThreshold(gray []uint8) uint8 {
	var hist [256]int
	for _, v := range gray {
		hist[v]++
	}

	total := float64(len(gray))
	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i * c)
	}

	var sumBg, weightBg, bestVar float64
	var best uint8
	for t := range 256 {
		weightBg += float64(hist[t])
		if weightBg == 0 {
			continue
		}
		weightFg := total - weightBg
		if weightFg == 0 {
			break
		}
		sumBg += float64(t * hist[t])
		meanBg := sumBg / weightBg
		meanFg := (sumAll - sumBg) / weightFg
		between := weightBg * weightFg * (meanBg - meanFg) * (meanBg - meanFg)
		if between > bestVar {
			bestVar = between
			best = uint8(t)
		}
	}
	return best
}

// findRegions labels 8-connected foreground components in scan order.
func findRegions(mask []bool, w, h int) []Region {
	visited := make([]bool, len(mask))
	var regions []Region
	var queue []int

	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}

		visited[start] = true
		queue = append(queue[:0], start)
		minX, minY := start%w, start/w
		maxX, maxY := minX, minY
		area := 0

		for len(queue) > 0 {
			p := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			px, py := p%w, p/w
			area++
			minX, maxX = min(minX, px), max(maxX, px)
			minY, maxY = min(minY, py), max(maxY, py)

			for dy := -1; dy <= 1; dy++ {
				ny := py + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := px + dx
					if nx < 0 || nx >= w || (dx == 0 && dy == 0) {
						continue
					}
					n := ny*w + nx
					if mask[n] && !visited[n] {
						visited[n] = true
						queue = append(queue, n)
					}
				}
			}
		}

		regions = append(regions, Region{
			Bounds: image.Rect(minX, minY, maxX+1, maxY+1),
			Area:   area,
		})
	}
	return regions
}

// selectSubject returns the largest region whose horizontal center lies in the
// central band and whose area meets the minimum ratio.
func selectSubject(regions []Region, w, h int, opts SubjectOptions) (Region, bool) {
	bandMin := float64(w) * (1 - opts.CenterBand) / 2
	bandMax := float64(w) - bandMin
	minArea := opts.MinAreaRatio * float64(w*h)

	var best Region
	found := false
	for _, r := range regions {
		cx := float64(r.Bounds.Min.X+r.Bounds.Max.X) / 2
		if cx < bandMin || cx > bandMax {
			continue
		}
		if float64(r.Area) < minArea {
			continue
		}
		if !found || r.Area > best.Area {
			best = r
			found = true
		}
	}
	return best, found
}

// detectSubject finds the crop rectangle around the subject, or reports false
// when no qualifying region exists or the crop would be too small.
func detectSubject(src *image.NRGBA, opts SubjectOptions) (image.Rectangle, bool) {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if w == 0 || h == 0 {
		return image.Rectangle{}, false
	}

	gray := grayNRGBA(src)
	threshold := otsuThreshold(gray)
	mask := make([]bool, len(gray))
	for i, v := range gray {
		mask[i] = v > threshold
	}

	subject, ok := selectSubject(findRegions(mask, w, h), w, h, opts)
	if !ok {
		return image.Rectangle{}, false
	}

	b := subject.Bounds
	padX := int(math.Round(opts.Padding * float64(b.Dx())))
	padY := int(math.Round(opts.Padding * float64(b.Dy())))
	crop := image.Rect(b.Min.X-padX, b.Min.Y-padY, b.Max.X+padX, b.Max.Y+padY).Intersect(src.Bounds())

	if crop.Dx() < opts.MinDimension || crop.Dy() < opts.MinDimension {
		return image.Rectangle{}, false
	}
	return crop, true
}

// cropSubject crops to the detected subject, passing the image through
// unchanged when detection falls back.
func cropSubject(src *image.NRGBA, opts SubjectOptions) (*image.NRGBA, bool) {
	rect, ok := detectSubject(src, opts)
	if !ok {
		return src, false
	}
	return cropNRGBA(src, rect), true
}

// cropNRGBA copies a rectangle into a new zero-origin image.
func cropNRGBA(src *image.NRGBA, rect image.Rectangle) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := range rect.Dy() {
		si := (rect.Min.Y+y)*src.Stride + rect.Min.X*4
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+rect.Dx()*4], src.Pix[si:si+rect.Dx()*4])
	}
	return dst
}
