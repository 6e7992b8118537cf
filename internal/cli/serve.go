package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/paperdex/internal/extractor"
	"github.com/dshills/paperdex/internal/mcp"
	"github.com/dshills/paperdex/internal/source"
	"github.com/dshills/paperdex/internal/storage"
)

const metricsShutdownTimeout = 5 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long: `Runs a Model Context Protocol server on stdin/stdout exposing the
search_documents, ingest_directory and get_status tools. Logs go to stderr.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("metrics-addr") {
				a.cfg.Metrics.Addr = metricsAddr
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			ctx := cmd.Context()

			c, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			// Extraction is offered only when a model is configured
			var ext extractor.Extractor
			if a.cfg.LLM.Project != "" {
				if ext, err = a.extractor(ctx); err != nil {
					return err
				}
			}

			p, err := a.pipeline(c, a.cfg.PipelineConfig(), ext)
			if err != nil {
				return err
			}
			s, err := a.searcher(c)
			if err != nil {
				return err
			}

			srv, err := mcp.NewServer(mcp.Deps{
				Store:    c.store,
				Searcher: s,
				Pipeline: p,
				Progress: c.progress,
				Sources:  source.Options{},
				Version:  a.version,
				Logger:   a.logger,
			})
			if err != nil {
				return err
			}

			if a.cfg.Metrics.Addr != "" {
				stop := a.serveMetrics(a.cfg.Metrics.Addr)
				defer stop()
			}

			a.logger.Info("paperdex MCP server starting",
				slog.String("version", a.version),
				slog.String("build_mode", storage.BuildMode),
				slog.String("driver", storage.DriverName))

			if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			a.logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	return cmd
}

// serveMetrics exposes /metrics on addr and returns a shutdown function
func (a *app) serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.Info("metrics listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
