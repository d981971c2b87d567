package commands

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/leapstack-labs/leapask/internal/server"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API.

Endpoints:
  GET    /health             liveness and dataset count
  GET    /files              indexed datasets
  POST   /files              upload a spreadsheet (multipart field "file")
  DELETE /files/{name}       drop a dataset
  POST   /analyze            full analysis
  POST   /analyze/plan       intent and file match only
  POST   /analyze/code       generated code only
  POST   /analyze/execute    run supplied code
  GET    /history            recent analyses
  GET    /metrics            Prometheus metrics

The index is rebuilt from the data directory at startup and, with --watch,
kept in sync while serving.`,
		Example: `  leapask serve
  leapask serve --addr :8080 --cors-origin http://localhost:5173 --rate-limit 5`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (default 127.0.0.1:8000)")
	cmd.Flags().StringSlice("cors-origin", nil, "Browser origin allowed to call the API (repeatable)")
	cmd.Flags().Bool("watch", true, "Re-index files as they change in the data directory")
	cmd.Flags().Float64("rate-limit", 0, "Requests per second per client (0 disables)")
	cmd.Flags().Int("burst", 0, "Rate limit burst size")
	cmd.Flags().Int64("max-upload-mb", 0, "Largest accepted upload in MB")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := cc.App.Catalog.Rebuild(ctx); err != nil {
		cc.Logger.Warn("some files could not be indexed", "error", err)
	}

	cfg := cc.Cfg.Server
	srv, err := server.New(server.Config{
		Addr:        cfg.Addr,
		Pipeline:    cc.App.Pipeline,
		Catalog:     cc.App.Catalog,
		History:     cc.App.Store,
		Metrics:     cc.App.Metrics,
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   server.RateLimitConfig{RequestsPerSecond: cfg.RateLimit, Burst: cfg.Burst},
		Watch:       cfg.Watch,
		MaxUploadMB: cfg.MaxUploadMB,
		Logger:      cc.Logger,
	})
	if err != nil {
		return err
	}

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	cc.Logger.Info("server stopped")
	return nil
}
