package embedding

import (
	"context"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/kozaktomas/variance-tracker/internal/preprocess"
)

const (
	dctSize       = 32 // thumbnail edge fed to the DCT
	dctKeep       = 16 // low-frequency block kept per axis
	histogramBins = 8  // bins per color channel

	// PerceptualDim is the length of a PerceptualExtractor vector.
	PerceptualDim = dctKeep*dctKeep - 1 + 3*histogramBins
)

// PerceptualExtractor builds a content-sensitive vector without a neural
// network: the low-frequency DCT coefficients of a grayscale thumbnail
// (structure) followed by per-channel color histograms (appearance). Both
// parts are L2-normalized so that neither dominates the cosine distance.
type PerceptualExtractor struct {
	cosTable [][]float64
}

// NewPerceptualExtractor creates the extractor and precomputes its DCT basis.
func NewPerceptualExtractor() *PerceptualExtractor {
	// Precompute cosine values for efficiency.
	cosTable := make([][]float64, dctSize)
	for i := range cosTable {
		cosTable[i] = make([]float64, dctSize)
		for j := range dctSize {
			cosTable[i][j] = math.Cos(math.Pi * float64(i) * (2*float64(j) + 1) / (2 * float64(dctSize)))
		}
	}
	return &PerceptualExtractor{cosTable: cosTable}
}

func (p *PerceptualExtractor) Extract(ctx context.Context, img *preprocess.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := img.ToNRGBA()
	gray := toGrayscale(resizeImage(src, dctSize, dctSize))
	dct := p.computeDCT(gray)

	structure := make([]float64, 0, dctKeep*dctKeep-1)
	for u := range dctKeep {
		for v := range dctKeep {
			if u == 0 && v == 0 {
				continue // Skip DC component, it only encodes overall brightness
			}
			structure = append(structure, dct[u][v])
		}
	}

	appearance := colorHistogram(src)

	out := make([]float32, 0, PerceptualDim)
	out = appendNormalized(out, structure)
	out = appendNormalized(out, appearance)
	return out, nil
}

func (p *PerceptualExtractor) Dim() int {
	return PerceptualDim
}

func (p *PerceptualExtractor) Name() string {
	return "perceptual"
}

// resizeImage scales an image to the specified dimensions.
func resizeImage(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// toGrayscale converts an image to a 2D array of grayscale values (0-255),
// indexed [x][y].
func toGrayscale(img *image.RGBA) [][]float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	gray := make([][]float64, width)
	for x := range width {
		gray[x] = make([]float64, height)
		for y := range height {
			i := y*img.Stride + x*4
			// ITU-R BT.601 luma formula.
			gray[x][y] = 0.299*float64(img.Pix[i]) + 0.587*float64(img.Pix[i+1]) + 0.114*float64(img.Pix[i+2])
		}
	}

	return gray
}

// computeDCT computes the 2D DCT-II of a square grayscale block.
func (p *PerceptualExtractor) computeDCT(gray [][]float64) [][]float64 {
	size := len(gray)
	dct := make([][]float64, size)
	for i := range dct {
		dct[i] = make([]float64, size)
	}

	for u := range size {
		for v := range size {
			var sum float64
			for x := range size {
				for y := range size {
					sum += gray[x][y] * p.cosTable[u][x] * p.cosTable[v][y]
				}
			}
			dct[u][v] = sum
		}
	}

	return dct
}

// colorHistogram returns R, G and B histograms as pixel fractions.
func colorHistogram(img *image.NRGBA) []float64 {
	hist := make([]float64, 3*histogramBins)
	b := img.Bounds()
	n := float64(b.Dx() * b.Dy())
	if n == 0 {
		return hist
	}
	for y := range b.Dy() {
		row := img.Pix[y*img.Stride:]
		for x := range b.Dx() {
			o := x * 4
			for c := range 3 {
				hist[c*histogramBins+int(row[o+c])*histogramBins/256]++
			}
		}
	}
	for i := range hist {
		hist[i] /= n
	}
	return hist
}

// appendNormalized appends v scaled to unit length. A vector whose norm is
// rounding noise (a flat image has no structure) is appended as zeros.
func appendNormalized(dst []float32, v []float64) []float32 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	for _, x := range v {
		if norm < 1e-6 {
			x = 0
		} else {
			x /= norm
		}
		dst = append(dst, float32(x))
	}
	return dst
}
