package preprocess

import (
	"image"
	"image/color"
	"math"
)

// applyCLAHE performs contrast-limited adaptive histogram equalization on the
// luma channel. The image is split into a tiles×tiles grid, each tile gets its
// own clipped equalization curve, and pixels are mapped by bilinear
// interpolation between the four nearest tile curves. Chroma is left untouched.
func applyCLAHE(src *image.NRGBA, tiles int, clipLimit float64) *image.NRGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewNRGBA(src.Bounds())

	tilesX, tilesY := min(tiles, w), min(tiles, h)
	if tilesX < 1 || tilesY < 1 {
		copy(dst.Pix, src.Pix)
		return dst
	}

	// Split into luma and chroma planes.
	luma := make([]uint8, w*h)
	cb := make([]uint8, w*h)
	cr := make([]uint8, w*h)
	for y := range h {
		for x := range w {
			i := y*src.Stride + x*4
			luma[y*w+x], cb[y*w+x], cr[y*w+x] = color.RGBToYCbCr(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
		}
	}

	luts := make([][256]uint8, tilesX*tilesY)
	for ty := range tilesY {
		y0, y1 := ty*h/tilesY, (ty+1)*h/tilesY
		for tx := range tilesX {
			x0, x1 := tx*w/tilesX, (tx+1)*w/tilesX
			luts[ty*tilesX+tx] = tileLUT(luma, w, x0, y0, x1, y1, clipLimit)
		}
	}

	tileW := float64(w) / float64(tilesX)
	tileH := float64(h) / float64(tilesY)

	for y := range h {
		tyf := float64(y)/tileH - 0.5
		ty1 := int(math.Floor(tyf))
		ty2 := ty1 + 1
		ya := tyf - float64(ty1)
		ty1 = max(ty1, 0)
		ty2 = min(ty2, tilesY-1)

		for x := range w {
			txf := float64(x)/tileW - 0.5
			tx1 := int(math.Floor(txf))
			tx2 := tx1 + 1
			xa := txf - float64(tx1)
			tx1 = max(tx1, 0)
			tx2 = min(tx2, tilesX-1)

			v := luma[y*w+x]
			top := float64(luts[ty1*tilesX+tx1][v])*(1-xa) + float64(luts[ty1*tilesX+tx2][v])*xa
			bottom := float64(luts[ty2*tilesX+tx1][v])*(1-xa) + float64(luts[ty2*tilesX+tx2][v])*xa
			y8 := clamp8(top*(1-ya) + bottom*ya)

			r, g, b := color.YCbCrToRGB(y8, cb[y*w+x], cr[y*w+x])
			di := y*dst.Stride + x*4
			dst.Pix[di], dst.Pix[di+1], dst.Pix[di+2], dst.Pix[di+3] = r, g, b, 255
		}
	}
	return dst
}

// tileLUT builds the clipped equalization curve for one tile.
func tileLUT(luma []uint8, stride, x0, y0, x1, y1 int, clipLimit float64) [256]uint8 {
	var hist [256]int
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			hist[luma[y*stride+x]]++
		}
	}

	area := (x1 - x0) * (y1 - y0)
	var lut [256]uint8
	if area == 0 {
		for i := range lut {
			lut[i] = uint8(i)
		}
		return lut
	}

	if clipLimit > 0 {
		limit := max(int(clipLimit*float64(area)/256), 1)
		excess := 0
		for i := range hist {
			if hist[i] > limit {
				excess += hist[i] - limit
				hist[i] = limit
			}
		}

		batch := excess / 256
		residual := excess - batch*256
		for i := range hist {
			hist[i] += batch
		}
		if residual > 0 {
			step := max(256/residual, 1)
			for i := 0; i < 256 && residual > 0; i += step {
				hist[i]++
				residual--
			}
		}
	}

	scale := 255.0 / float64(area)
	sum := 0
	for i := range hist {
		sum += hist[i]
		lut[i] = clamp8(float64(sum) * scale)
	}
	return lut
}
