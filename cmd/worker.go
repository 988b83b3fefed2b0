package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/variance-tracker/internal/analysis"
	"github.com/kozaktomas/variance-tracker/internal/constants"
	"github.com/kozaktomas/variance-tracker/internal/jobs"
	"github.com/kozaktomas/variance-tracker/internal/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run queued analyses",
	Long: `Run the background worker that executes analyses queued by the API.

Requires REDIS_ADDR. Job status is written to the same Redis instance so the
API can answer analyze-status requests. Stops on SIGINT or SIGTERM after the
running analyses finish.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().Int("concurrency", constants.DefaultWorkerConcurrency, "Number of sessions analyzed in parallel")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Redis.Addr == "" {
		return errors.New("REDIS_ADDR environment variable is required")
	}

	client := jobs.NewRedisClient(a.cfg.Redis)
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	progress := func(p jobs.Payload, info analysis.ProgressInfo) {
		logger.WithFields(logrus.Fields{
			"session_id": p.SessionID,
			"angle":      info.Angle,
			"current":    info.Current,
			"total":      info.Total,
		}).Debug("analyzing image")
	}
	runner := jobs.NewRunner(jobs.NewRedisStore(client, a.cfg.Analysis.JobTTL), jobs.AnalyzeWith(a.analysis, progress))

	concurrency := mustGetInt(cmd, "concurrency")
	logger.WithFields(logrus.Fields{
		"redis":       a.cfg.Redis.Addr,
		"concurrency": concurrency,
	}).Info("starting analysis worker")

	return jobs.NewWorker(a.cfg.Redis, concurrency, runner).Run()
}
