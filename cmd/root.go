package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/variance-tracker/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "variance-tracker",
	Short: "Track visual variation across multi-angle photo sessions",
	Long: `Variance Tracker analyzes photo sessions captured from several fixed angles.
Every session is turned into per-angle and session embeddings, scored against
the user's own history and compared with earlier sessions.

It runs as an HTTP API (serve), a background worker (worker) or directly
from the command line.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
	logger.Configure(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}
