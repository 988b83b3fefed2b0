package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/variance-tracker/internal/analysis"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <session-id>",
	Short: "Analyze a photo session",
	Long: `Analyze one completed session against the user's own history.

A stored analysis is printed as-is unless --force is given.

Examples:
  # Analyze a session
  variance-tracker analyze 3f6c... --user 8a1b...

  # Re-run and print JSON
  variance-tracker analyze 3f6c... --user 8a1b... --force --json`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	addUserFlag(analyzeCmd)
	analyzeCmd.Flags().Bool("force", false, "Re-run even if a stored analysis exists")
	analyzeCmd.Flags().Bool("json", false, "Output as JSON")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sessionID := args[0]
	userID := mustGetString(cmd, "user")
	force := mustGetBool(cmd, "force")
	jsonOutput := mustGetBool(cmd, "json")

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	prepared, err := a.analysis.Prepare(ctx, sessionID, userID)
	if err != nil {
		return err
	}

	if !force {
		cached, err := a.analysis.Cached(ctx, sessionID, userID)
		if err != nil {
			return err
		}
		if cached != nil {
			if jsonOutput {
				return printJSON(cached)
			}
			fmt.Println("Stored analysis found (use --force to re-run)")
			printAnalysis(cached)
			return nil
		}
	}

	req := analysis.Request{
		SessionID: sessionID,
		UserID:    userID,
		Images:    prepared.Images,
		Force:     force,
	}
	if !jsonOutput {
		fmt.Printf("Session %s: %d images, angles %s\n", sessionID, len(prepared.Images), strings.Join(prepared.Present, ", "))
		if len(prepared.Missing) > 0 {
			fmt.Printf("Missing angles: %s\n", strings.Join(prepared.Missing, ", "))
		}
		bar := progressbar.NewOptions(len(prepared.Images),
			progressbar.OptionSetDescription("Analyzing images"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
		req.OnProgress = func(info analysis.ProgressInfo) {
			_ = bar.Set(info.Current)
		}
	}

	result, err := a.analysis.Analyze(ctx, req)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(result)
	}
	fmt.Println()
	printAnalysis(result)
	return nil
}

func printAnalysis(r *analysis.SessionAnalysis) {
	fmt.Printf("\nSession:         %s\n", r.SessionID)
	fmt.Printf("Overall change:  %.4f (%s)\n", r.OverallChangeScore, r.VariationLevel)
	if r.TrendScore != nil {
		fmt.Printf("Trend:           %.4f\n", *r.TrendScore)
	}
	fmt.Printf("Angle-aware:     %.4f (%s)\n", r.AngleAwareScore, r.AngleAwareLevel)
	fmt.Printf("Quality:         %.2f\n", r.SessionQualityScore)
	fmt.Printf("Confidence:      %.2f\n", r.AnalysisConfidenceScore)
	fmt.Printf("Baseline:        %s\n", r.BaselineUsed)
	if len(r.ComparisonLayersUsed) > 0 {
		fmt.Printf("Layers:          %s\n", strings.Join(r.ComparisonLayersUsed, ", "))
	}
	if r.ProcessingTimeMS > 0 {
		fmt.Printf("Processing time: %d ms\n", r.ProcessingTimeMS)
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ANGLE\tCHANGE\tLEVEL\tQUALITY")
	for _, ar := range r.Angles {
		fmt.Fprintf(w, "%s\t%.4f\t%s\t%.2f\n", ar.AngleType, ar.ChangeScore, ar.VariationLevel, ar.AngleQualityScore)
	}
	w.Flush()

	fmt.Printf("\n%s\n", r.Summary)
}
