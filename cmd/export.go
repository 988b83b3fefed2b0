package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/variance-tracker/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <dir>",
	Short: "Export sessions, images and embeddings as a dataset",
	Long: `Export sessions to a directory for offline analysis.

The directory receives manifest.csv with one row per image (user_id,
session_id, angle_type, image_path, embedding, timestamp, quality_score), the
images under <user>/<session>/<angle>_<n>.<ext> and a metadata.json per
session.

Examples:
  # Export every completed session of one user
  variance-tracker export ./dataset --user 8a1b... --completed-only

  # Manifest only, image paths point to the object store
  variance-tracker export ./dataset --skip-images`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().String("user", "", "Only export this user's sessions (default: all users)")
	exportCmd.Flags().Bool("completed-only", false, "Skip sessions that are still being captured")
	exportCmd.Flags().Bool("skip-images", false, "Write the manifest and metadata without downloading images")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var bar *progressbar.ProgressBar
	opts := export.Options{
		UserID:        mustGetString(cmd, "user"),
		CompletedOnly: mustGetBool(cmd, "completed-only"),
		SkipImages:    mustGetBool(cmd, "skip-images"),
		OnProgress: func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("Exporting sessions"),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("sessions"),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionFullWidth(),
				)
			}
			_ = bar.Set(done)
		},
	}

	stats, err := export.New(a.store, a.images).Export(ctx, args[0], opts)
	if bar != nil {
		fmt.Println()
	}
	if err != nil {
		return err
	}

	fmt.Printf("\nExported %d sessions, %d images to %s\n", stats.Sessions, stats.Images, args[0])
	if stats.MissingImages > 0 {
		fmt.Printf("Missing images: %d (listed with an empty image_path)\n", stats.MissingImages)
	}
	return nil
}
