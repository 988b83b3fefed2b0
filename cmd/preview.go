package cmd

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/variance-tracker/internal/config"
	"github.com/kozaktomas/variance-tracker/internal/preprocess"
	"github.com/kozaktomas/variance-tracker/internal/quality"
)

var previewCmd = &cobra.Command{
	Use:   "preview <image>",
	Short: "Write every preprocessing stage of an image as PNG",
	Long: `Run one local image through the preprocessing pipeline and write the
intermediate result of every stage to the output directory, numbered in
pipeline order. Prints the quality scores of the final image.`,
	Args: cobra.ExactArgs(1),
	RunE: runPreview,
}

func init() {
	rootCmd.AddCommand(previewCmd)

	previewCmd.Flags().String("out", "preview", "Directory the stage images are written to")
	previewCmd.Flags().Int("orientation", 0, "EXIF orientation to apply (0 reads it from the file)")
}

func runPreview(cmd *cobra.Command, args []string) error {
	outDir := mustGetString(cmd, "out")
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	cfg := config.Load()
	opts := preprocess.DefaultOptions()
	if cfg.Analysis.TargetSize > 0 {
		opts.TargetSize = cfg.Analysis.TargetSize
	}
	if cfg.Analysis.IntermediateSize > 0 {
		opts.IntermediateSize = cfg.Analysis.IntermediateSize
	}

	step := 0
	var traceErr error
	pipeline := preprocess.New(opts).WithTrace(func(stage string, img image.Image) {
		step++
		path := filepath.Join(outDir, fmt.Sprintf("%02d_%s.png", step, stage))
		if err := writePNG(path, img); err != nil && traceErr == nil {
			traceErr = err
		}
		b := img.Bounds()
		fmt.Printf("  %-10s %4dx%-4d -> %s\n", stage, b.Dx(), b.Dy(), path)
	})

	fmt.Printf("Preprocessing %s\n", args[0])
	res, err := pipeline.Process(preprocess.Input{Data: data, Orientation: mustGetInt(cmd, "orientation")})
	if err != nil {
		return err
	}
	if traceErr != nil {
		return traceErr
	}

	q := quality.ComputeImageQuality(res.Image)
	fmt.Printf("\nSource:      %dx%d (orientation %d)\n", res.SourceWidth, res.SourceHeight, res.Orientation)
	fmt.Printf("Subject crop: %t\n", res.SubjectCropped)
	fmt.Printf("Blur score:  %.2f (blurry: %t)\n", q.BlurScore, q.IsBlurry)
	fmt.Printf("Brightness:  %.3f (dark: %t, bright: %t)\n", q.Brightness, q.IsTooDark, q.IsTooBright)
	fmt.Printf("Quality:     %.3f\n", q.QualityScore)
	return nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}
