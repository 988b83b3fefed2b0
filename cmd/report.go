package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/variance-tracker/internal/analysis"
	"github.com/kozaktomas/variance-tracker/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report <session-id>",
	Short: "Write a neutral summary of an analyzed session",
	Long: `Write a short, neutral summary of a stored analysis.

REPORT_PROVIDER selects the language model (openai, gemini or ollama). Without
a provider, or when the model output is unusable, the built-in template is used.

Examples:
  # Summarize a session
  variance-tracker report 3f6c... --user 8a1b...

  # Include a comparison with an earlier session
  variance-tracker report 3f6c... --user 8a1b... --previous 1d2e...`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	addUserFlag(reportCmd)
	reportCmd.Flags().String("previous", "", "Earlier session to compare against")
	reportCmd.Flags().Bool("json", false, "Output as JSON")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sessionID := args[0]
	userID := mustGetString(cmd, "user")
	previousID := mustGetString(cmd, "previous")

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cached, err := a.analysis.Cached(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if cached == nil {
		return fmt.Errorf("%w: run 'analyze %s' first", analysis.ErrSessionNotAnalyzed, sessionID)
	}

	in := report.Input{Analysis: cached}
	if previousID != "" {
		in.Comparison, err = a.analysis.Compare(ctx, sessionID, previousID, userID)
		if err != nil {
			return err
		}
	}

	provider, err := report.NewProvider(ctx, a.cfg)
	if err != nil {
		return err
	}
	rep, err := report.NewGenerator(provider).Generate(ctx, in)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return printJSON(rep)
	}
	fmt.Println(rep.Text)
	fmt.Printf("\nSource: %s", rep.Source)
	if rep.Model != "" {
		fmt.Printf(" (%s)", rep.Model)
	}
	if rep.Fallback != "" {
		fmt.Printf(", fallback: %s", rep.Fallback)
	}
	fmt.Println()
	if rep.Usage != nil && rep.Usage.TotalCost > 0 {
		fmt.Printf("Cost: $%.6f (%d input / %d output tokens)\n", rep.Usage.TotalCost, rep.Usage.InputTokens, rep.Usage.OutputTokens)
	}
	return nil
}
