// Package quality scores preprocessed images for sharpness and exposure and
// combines per-angle scores into session quality and analysis confidence.
package quality

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/kozaktomas/variance-tracker/internal/constants"
	"github.com/kozaktomas/variance-tracker/internal/preprocess"
)

// ImageQuality holds the quality metrics of one preprocessed image.
type ImageQuality struct {
	BlurScore    float64 `json:"blur_score"` // Laplacian variance, higher = sharper
	Brightness   float64 `json:"brightness"` // mean luma in [0, 1]
	IsBlurry     bool    `json:"is_blurry"`
	IsTooDark    bool    `json:"is_too_dark"`
	IsTooBright  bool    `json:"is_too_bright"`
	QualityScore float64 `json:"quality_score"` // composite in [0, 1]
}

// ComputeImageQuality measures blur and brightness of a preprocessed image.
//
// The composite score weighs sharpness at 60% (Laplacian variance capped at
// the blur reference) and exposure at 40% (distance from mid brightness).
func ComputeImageQuality(img *preprocess.Image) ImageQuality {
	if img == nil || img.Width == 0 || img.Height == 0 {
		return ImageQuality{IsBlurry: true, IsTooDark: true}
	}

	gray := img.Gray8()
	blur := laplacianVariance(gray, img.Width, img.Height)

	var sum float64
	for _, v := range gray {
		sum += float64(v)
	}
	brightness := sum / float64(len(gray)) / 255

	blurComponent := math.Min(1, blur/constants.BlurReference)
	brightnessComponent := 1 - math.Abs(brightness-0.5)/0.5
	score := clamp01(0.6*blurComponent + 0.4*brightnessComponent)

	return ImageQuality{
		BlurScore:    Round(blur),
		Brightness:   Round(brightness),
		IsBlurry:     blur < constants.BlurThreshold,
		IsTooDark:    brightness < constants.BrightnessLow,
		IsTooBright:  brightness > constants.BrightnessHigh,
		QualityScore: Round(score),
	}
}

// laplacianVariance returns the population variance of the 4-neighbour
// Laplacian response. Borders are mirrored without repeating the edge pixel.
func laplacianVariance(gray []uint8, w, h int) float64 {
	if w == 0 || h == 0 {
		return 0
	}

	at := func(x, y int) float64 {
		return float64(gray[mirror(y, h)*w+mirror(x, w)])
	}

	response := make([]float64, 0, w*h)
	for y := range h {
		for x := range w {
			lap := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			response = append(response, lap)
		}
	}
	return stat.PopVariance(response, nil)
}

func mirror(i, n int) int {
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

// Round rounds a score to the stored precision.
func Round(v float64) float64 {
	p := math.Pow(10, constants.ScoreDecimals)
	return math.Round(v*p) / p
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
