package preprocess

import (
	"image"

	"golang.org/x/image/draw"
)

// fitWithin downscales an image so neither side exceeds maxSize, keeping the
// aspect ratio. Images already within bounds are returned as is.
func fitWithin(src *image.NRGBA, maxSize int) *image.NRGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if maxSize <= 0 || (w <= maxSize && h <= maxSize) {
		return src
	}

	var newW, newH int
	if w > h {
		newW = maxSize
		newH = max(1, int(float64(h)*float64(maxSize)/float64(w)))
	} else {
		newH = maxSize
		newW = max(1, int(float64(w)*float64(maxSize)/float64(h)))
	}

	dst := image.NewNRGBA(image.Rect(0, 0, newW, newH))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// resizeShortSide scales an image so its shorter side equals size, using
// Catmull-Rom interpolation to keep fine detail.
func resizeShortSide(src *image.NRGBA, size int) *image.NRGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	var newW, newH int
	if w < h {
		newW = size
		newH = max(size, int(float64(h)*float64(size)/float64(w)+0.5))
	} else {
		newH = size
		newW = max(size, int(float64(w)*float64(size)/float64(h)+0.5))
	}

	dst := image.NewNRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// centerCrop cuts a size×size square from the middle of an image. The input
// must be at least size pixels on both sides.
func centerCrop(src *image.NRGBA, size int) *image.NRGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	x0 := (w - size) / 2
	y0 := (h - size) / 2
	return cropNRGBA(src, image.Rect(x0, y0, x0+size, y0+size))
}
