package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/variance-tracker/internal/config"
	"github.com/kozaktomas/variance-tracker/internal/jobs"
	"github.com/kozaktomas/variance-tracker/internal/logger"
	"github.com/kozaktomas/variance-tracker/internal/report"
	"github.com/kozaktomas/variance-tracker/internal/web"
	"github.com/kozaktomas/variance-tracker/internal/web/handlers"
	"github.com/kozaktomas/variance-tracker/internal/web/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the Variance Tracker HTTP API.

Analyses requested with async=true are queued on Redis when REDIS_ADDR is
set and picked up by 'variance-tracker worker'. Without Redis they run in
this process and their status is kept in memory.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

// jobBackend is the dispatcher used for async analyses.
type jobBackend struct {
	dispatcher jobs.Dispatcher
	close      func()
}

// newJobBackend picks the Redis backed queue when Redis is configured and
// falls back to in-process execution otherwise.
func newJobBackend(ctx context.Context, cfg *config.Config, analyze jobs.AnalyzeFunc, hub *handlers.ProgressHub) (*jobBackend, *jobs.Runner, error) {
	if cfg.Redis.Addr == "" {
		store := jobs.NewMemoryStore(cfg.Analysis.JobTTL)
		runner := jobs.NewRunner(store, analyze)
		runner.OnUpdate(hub.JobUpdated)
		logger.Info("redis not configured, async analyses run in-process")
		return &jobBackend{dispatcher: jobs.NewLocalDispatcher(runner), close: store.Stop}, runner, nil
	}

	client := jobs.NewRedisClient(cfg.Redis)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	store := jobs.NewRedisStore(client, cfg.Analysis.JobTTL)
	runner := jobs.NewRunner(store, analyze)
	runner.OnUpdate(hub.JobUpdated)
	queue := jobs.NewQueue(cfg.Redis, runner)
	logger.WithField("addr", cfg.Redis.Addr).Info("async analyses queued on redis")
	return &jobBackend{
		dispatcher: queue,
		close: func() {
			queue.Close()
			client.Close()
		},
	}, runner, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	auth, err := middleware.NewAuthenticator(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to configure authentication: %w", err)
	}
	if auth.Disabled() {
		logger.Warn("authentication disabled, requests are trusted by their X-User-ID header")
	}

	provider, err := report.NewProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to configure report provider: %w", err)
	}

	hub := handlers.NewProgressHub()
	backend, runner, err := newJobBackend(ctx, cfg, jobs.AnalyzeWith(a.analysis, hub.Progress), hub)
	if err != nil {
		return err
	}
	defer backend.close()

	server := web.NewServer(cfg, web.Deps{
		Store:      a.store,
		Analysis:   a.analysis,
		Runner:     runner,
		Dispatcher: backend.dispatcher,
		Progress:   hub,
		Reports:    report.NewGenerator(provider),
		Auth:       auth,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("error during shutdown")
		}
	}()

	logger.WithFields(logrus.Fields{
		"host":     cfg.Web.Host,
		"port":     cfg.Web.Port,
		"database": cfg.Database.Driver,
		"storage":  a.images.Name(),
	}).Info("starting variance tracker API")
	fmt.Printf("Starting Variance Tracker API on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
