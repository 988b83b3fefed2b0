package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/variance-tracker/internal/constants"
)

var similarCmd = &cobra.Command{
	Use:   "similar <session-id>",
	Short: "Find the user's sessions most similar to a session",
	Long: `Find the user's other sessions nearest to an analyzed session by cosine
distance of their session embeddings. Lower distance means more similar.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

func init() {
	rootCmd.AddCommand(similarCmd)

	addUserFlag(similarCmd)
	similarCmd.Flags().IntP("limit", "k", constants.DefaultSimilarLimit, "Maximum number of results")
	similarCmd.Flags().Bool("json", false, "Output as JSON")
}

func runSimilar(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sessionID := args[0]

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	similar, err := a.analysis.Similar(ctx, sessionID, mustGetString(cmd, "user"), mustGetInt(cmd, "limit"))
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return printJSON(similar)
	}

	if len(similar) == 0 {
		fmt.Println("No other analyzed sessions found.")
		return nil
	}
	fmt.Printf("Sessions similar to %s:\n\n", sessionID)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tDISTANCE\tLEVEL\tCREATED")
	for _, s := range similar {
		fmt.Fprintf(w, "%s\t%.4f\t%s\t%s\n", s.SessionID, s.Distance, s.VariationLevel, s.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
