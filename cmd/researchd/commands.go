package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"ResearchPipeline/internal/app"
	"ResearchPipeline/internal/config"
	"ResearchPipeline/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

type rootOptions struct {
	logLevel string
	addr     string
	depth    string
	full     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "researchd",
		Short: "Multi-stage company research pipeline",
		Long: `researchd gathers web sources about a company and runs them through
structuring, financial and market analysis, insight generation and report
writing, streaming every stage to connected clients.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newServeCmd(opts), newRunCmd(opts))
	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig(opts)
			if opts.addr != "" {
				cfg.Server.Addr = opts.addr
			}
			logger := logging.New(cfg.Logging.Level)

			application, err := app.New(cmd.Context(), cfg, logger, app.Overrides{})
			if err != nil {
				return err
			}
			return application.Serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (default from config)")
	return cmd
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <company>",
		Short: "Research one company and print the report as JSON",
		Example: `  researchd run "Acme Corp"
  researchd run 贵州茅台 --depth deep --full`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(opts)
			logger := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level)

			application, err := app.New(cmd.Context(), cfg, logger, app.Overrides{})
			if err != nil {
				return err
			}
			defer closeApp(application, logger)

			run, err := application.Research(cmd.Context(), args[0], opts.depth)
			if err != nil {
				return err
			}
			if opts.full {
				return writeJSON(cmd.OutOrStdout(), run)
			}
			return writeJSON(cmd.OutOrStdout(), run.Report)
		},
	}
	cmd.Flags().StringVarP(&opts.depth, "depth", "d", "", "research depth: basic, standard or deep")
	cmd.Flags().BoolVar(&opts.full, "full", false, "print the whole run record instead of only the report")
	return cmd
}

func loadConfig(opts *rootOptions) config.Config {
	cfg := config.Load()
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	return cfg
}

func closeApp(application *app.Application, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := application.Close(ctx); err != nil {
		logger.Warn("shutdown", "error", err)
	}
}

// writeJSON indents for terminals and stays compact when piped.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		enc.SetIndent("", "  ")
	}
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
