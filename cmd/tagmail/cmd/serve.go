package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/tagmail/internal/api"
	"github.com/wesm/tagmail/internal/engine"
	"github.com/wesm/tagmail/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with scheduled imports",
	Long: `Run tagmail as a long-running daemon that serves the HTTP API and
imports configured sources on schedule.

Configure sources in config.toml:
  [[sources]]
  name = "work"
  path = "~/Maildir/work"
  schedule = "*/15 * * * *"   # cron format
  enabled = true

Cron format: minute hour day-of-month month day-of-week
  Examples:
    0 2 * * *     = 2:00 AM daily
    */15 * * * *  = Every 15 minutes
    0 8,18 * * *  = 8 AM and 6 PM daily

Use Ctrl+C to stop the daemon gracefully.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Validate security posture before doing any work
	if err := cfg.Server.ValidateSecure(); err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	sched := scheduler.New(func(ctx context.Context, source string) error {
		return runScheduledImport(ctx, s.engine, source)
	}).WithLogger(logger)

	count, errs := sched.AddSourcesFromConfig(cfg)
	for _, err := range errs {
		logger.Error("failed to schedule source", "error", err)
	}
	sched.Start()

	apiServer := api.NewServer(cfg, s.engine, sched, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	out := cmd.OutOrStdout()
	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	fmt.Fprintf(out, "tagmail daemon started\n")
	fmt.Fprintf(out, "  API server: http://%s\n", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)))
	fmt.Fprintf(out, "  Scheduled sources: %d\n", count)
	fmt.Fprintf(out, "  Data directory: %s\n", cfg.Data.DataDir)
	for _, status := range sched.Status() {
		fmt.Fprintf(out, "  %s: next import at %s\n", status.Source, status.NextRun.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop.")

	ctx := cmd.Context()
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-serverErr:
		logger.Error("API server error", "error", runErr)
	}

	fmt.Fprintln(out, "Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	fmt.Fprintln(out, "Waiting for running imports to complete...")
	select {
	case <-sched.Stop().Done():
		fmt.Fprintln(out, "Shutdown complete.")
	case <-time.After(30 * time.Second):
		fmt.Fprintln(out, "Shutdown timed out after 30 seconds.")
	}

	if runErr != nil {
		return fmt.Errorf("api server: %w", runErr)
	}
	return nil
}

// runScheduledImport imports one configured source into the running engine.
func runScheduledImport(ctx context.Context, eng *engine.Engine, name string) error {
	src := cfg.GetSource(name)
	if src == nil {
		return fmt.Errorf("source %q no longer configured", name)
	}

	im, err := newImporter(eng)
	if err != nil {
		return err
	}
	logger.Info("starting scheduled import", "source", name, "path", src.Path)
	sum, err := im.ImportPath(ctx, src.Path)
	if err != nil {
		return fmt.Errorf("import %s: %w", src.Path, err)
	}
	logger.Info("scheduled import completed", "source", name, "added", sum.Added, "duplicates", sum.Duplicates)
	return nil
}
