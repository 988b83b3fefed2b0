package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/variance-tracker/internal/analysis"
)

var compareCmd = &cobra.Command{
	Use:   "compare <current-session-id> <previous-session-id>",
	Short: "Compare two analyzed sessions",
	Long: `Compare two analyzed sessions of the same user.

Both sessions need a stored analysis; run 'analyze' first.`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)

	addUserFlag(compareCmd)
	compareCmd.Flags().Bool("json", false, "Output as JSON")
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if args[0] == args[1] {
		return fmt.Errorf("cannot compare a session with itself")
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.analysis.Compare(ctx, args[0], args[1], mustGetString(cmd, "user"))
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return printJSON(result)
	}
	printComparison(result)
	return nil
}

func printComparison(c *analysis.ComparisonResult) {
	fmt.Printf("Current:   %s\n", c.CurrentSessionID)
	fmt.Printf("Previous:  %s\n", c.PreviousSessionID)
	fmt.Printf("Overall:   %.4f (%s, %s)\n", c.OverallDelta, c.OverallTrend, c.Method)
	fmt.Printf("Stability: %.4f\n", c.StabilityIndex)
	for _, win := range []struct {
		name  string
		delta analysis.WindowDelta
	}{
		{"Rolling", c.Rolling},
		{"Monthly", c.Monthly},
		{"Lifetime", c.Lifetime},
	} {
		if win.delta.Available && win.delta.Delta != nil {
			fmt.Printf("%-10s %.4f (%s)\n", win.name+":", *win.delta.Delta, win.delta.Trend)
		} else {
			fmt.Printf("%-10s n/a\n", win.name+":")
		}
	}

	if len(c.Angles) == 0 {
		fmt.Println("\nNo angles in common.")
		return
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ANGLE\tCURRENT\tPREVIOUS\tDELTA\tLEVEL\tDISTANCE")
	for _, d := range c.Angles {
		distance := "-"
		if d.EmbeddingDistance != nil {
			distance = fmt.Sprintf("%.4f", *d.EmbeddingDistance)
		}
		fmt.Fprintf(w, "%s\t%.4f\t%.4f\t%+.4f\t%s\t%s\n",
			d.AngleType, d.CurrentScore, d.PreviousScore, d.Delta, d.VariationLevel, distance)
	}
	w.Flush()
}
