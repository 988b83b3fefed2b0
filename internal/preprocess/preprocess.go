// Package preprocess turns captured photos into fixed-size, normalized model
// inputs. Every stage is a pure function of its input, so the same bytes and
// orientation always produce the same output.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/variance-tracker/internal/constants"
)

// Stage names reported to a TraceFunc.
const (
	StageDecoded  = "decoded"
	StageDenoised = "denoised"
	StageCLAHE    = "clahe"
	StageSubject  = "subject"
	StageResized  = "resized"
	StageCropped  = "cropped"
	StageFinal    = "final"
)

// ErrEmptyImage is returned when the input has no pixels.
var ErrEmptyImage = errors.New("empty image")

// TraceFunc receives the intermediate image after each stage.
type TraceFunc func(stage string, img image.Image)

// Options configures the pipeline.
type Options struct {
	TargetSize       int // edge of the square output
	IntermediateSize int // short side after the resize stage, must be >= TargetSize
	MaxInputSize     int // decoded images are first fitted within this size

	DenoiseRadius     int
	DenoiseSigmaColor float64
	DenoiseSigmaSpace float64

	CLAHETiles     int
	CLAHEClipLimit float64

	Subject SubjectOptions

	SharpenSigma  float64
	SharpenAmount float64
}

// DefaultOptions returns the production pipeline settings.
func DefaultOptions() Options {
	return Options{
		TargetSize:        constants.TargetSize,
		IntermediateSize:  constants.IntermediateSize,
		MaxInputSize:      1024,
		DenoiseRadius:     3,
		DenoiseSigmaColor: 40,
		DenoiseSigmaSpace: 3,
		CLAHETiles:        8,
		CLAHEClipLimit:    2.0,
		Subject: SubjectOptions{
			CenterBand:   constants.SubjectCenterBand,
			MinAreaRatio: constants.SubjectMinAreaRatio,
			Padding:      constants.SubjectPadding,
			MinDimension: constants.MinCropDimension,
		},
		SharpenSigma:  1.0,
		SharpenAmount: 0.5,
	}
}

// Input is one captured image.
type Input struct {
	Data []byte
	// Orientation is the stored EXIF orientation (1-8). Zero means "read it
	// from the image data".
	Orientation int
}

// Result is the pipeline output plus what happened on the way.
type Result struct {
	Image          *Image
	SourceWidth    int
	SourceHeight   int
	Orientation    int
	SubjectCropped bool
}

// Pipeline runs the fixed preprocessing stages.
type Pipeline struct {
	opts  Options
	trace TraceFunc
}

// New creates a pipeline with the given options.
func New(opts Options) *Pipeline {
	if opts.IntermediateSize < opts.TargetSize {
		opts.IntermediateSize = opts.TargetSize
	}
	return &Pipeline{opts: opts}
}

// WithTrace returns a copy of the pipeline that reports every stage to fn.
func (p *Pipeline) WithTrace(fn TraceFunc) *Pipeline {
	return &Pipeline{opts: p.opts, trace: fn}
}

// Options returns the pipeline configuration.
func (p *Pipeline) Options() Options {
	return p.opts
}

// Process decodes raw image bytes and runs the full pipeline.
func (p *Pipeline) Process(in Input) (*Result, error) {
	img, _, err := image.Decode(bytes.NewReader(in.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	orientation := in.Orientation
	if orientation == 0 {
		orientation = ReadOrientation(in.Data)
	}

	return p.ProcessImage(img, orientation)
}

// ProcessImage runs the pipeline on an already decoded image.
func (p *Pipeline) ProcessImage(img image.Image, orientation int) (*Result, error) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, ErrEmptyImage
	}

	// 1. Orientation correction, then cap the working resolution.
	work := applyOrientation(toNRGBA(img), orientation)
	work = fitWithin(work, p.opts.MaxInputSize)
	p.emit(StageDecoded, work)

	// 2. Edge-preserving denoise.
	work = bilateralFilter(work, p.opts.DenoiseRadius, p.opts.DenoiseSigmaColor, p.opts.DenoiseSigmaSpace)
	p.emit(StageDenoised, work)

	// 3. Local contrast normalization.
	work = applyCLAHE(work, p.opts.CLAHETiles, p.opts.CLAHEClipLimit)
	p.emit(StageCLAHE, work)

	// 4. Subject region crop with pass-through fallback.
	work, cropped := cropSubject(work, p.opts.Subject)
	p.emit(StageSubject, work)

	// 5. Resize with headroom above the target size.
	work = resizeShortSide(work, p.opts.IntermediateSize)
	p.emit(StageResized, work)

	// 6. Exact target size.
	work = centerCrop(work, p.opts.TargetSize)
	p.emit(StageCropped, work)

	// 7. Mild sharpening in float space.
	out := unsharpMask(fromNRGBA(work), p.opts.SharpenSigma, p.opts.SharpenAmount)
	if p.trace != nil {
		p.trace(StageFinal, out.ToNRGBA())
	}

	return &Result{
		Image:          out,
		SourceWidth:    b.Dx(),
		SourceHeight:   b.Dy(),
		Orientation:    orientation,
		SubjectCropped: cropped,
	}, nil
}

func (p *Pipeline) emit(stage string, img *image.NRGBA) {
	if p.trace != nil {
		p.trace(stage, img)
	}
}
