// Package cli implements the paperdex command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/spf13/cobra"

	"github.com/dshills/paperdex/internal/config"
	"github.com/dshills/paperdex/internal/logging"
	"github.com/dshills/paperdex/internal/metrics"
	"github.com/dshills/paperdex/pkg/types"
)

// Exit codes
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitConfiguration = 2
	ExitUsage         = 3
)

// app carries state shared by every command of one invocation
type app struct {
	version string
	stdout  io.Writer
	stderr  io.Writer

	configFile string
	envFile    string
	dbPath     string
	logLevel   string
	logFormat  string

	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	// newLLM creates the model client for extraction
	newLLM func(ctx context.Context, cfg config.LLM) (gollem.LLMClient, error)
}

func newApp(stdout, stderr io.Writer, version string) *app {
	return &app{
		version: version,
		stdout:  stdout,
		stderr:  stderr,
		logger:  logging.Discard(),
		metrics: metrics.New(),
		newLLM:  newGeminiClient,
	}
}

func newGeminiClient(ctx context.Context, cfg config.LLM) (gollem.LLMClient, error) {
	client, err := gemini.New(ctx, cfg.Project, cfg.Location)
	if err != nil {
		return nil, goerr.Wrap(errors.Join(types.ErrConfiguration, err), "failed to create Gemini client",
			goerr.V("project", cfg.Project), goerr.V("location", cfg.Location))
	}
	return client, nil
}

// Run executes the command line and returns the process exit code
func Run(ctx context.Context, args []string, stdout, stderr io.Writer, version string) int {
	return newApp(stdout, stderr, version).run(ctx, args)
}

func (a *app) run(ctx context.Context, args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		a.logger.Debug("command failed", slog.Any("error", err))
		_, _ = fmt.Fprintf(a.stderr, "Error: %v\n", err)
	}
	return ExitCode(err)
}

// ExitCode maps an error to the process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, types.ErrConfiguration):
		return ExitConfiguration
	case errors.Is(err, types.ErrInvalidParameter):
		return ExitUsage
	case strings.HasPrefix(err.Error(), "unknown command"):
		return ExitUsage
	}
	return ExitFailure
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "paperdex",
		Short: "Ingest scientific papers and search them semantically",
		Long: `paperdex splits papers into chunks, fingerprints them with an embedding
model and stores them in SQLite for similarity search. Papers can also be
summarized by an LLM into structured JSON before storing.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return goerr.Wrap(types.ErrInvalidParameter, err.Error())
	})

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "YAML config file (default ./paperdex.yaml if present)")
	flags.StringVar(&a.envFile, "env-file", "", "env file to load (default ./.env if present)")
	flags.StringVar(&a.dbPath, "db", config.DefaultDBPath, "SQLite store path")
	flags.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "text", "log format: text, json")

	root.AddCommand(
		a.ingestCmd(),
		a.extractCmd(),
		a.loadCmd(),
		a.queryCmd(),
		a.statusCmd(),
		a.validateCmd(),
		a.serveCmd(),
		a.configCmd(),
		a.versionCmd(),
	)
	return root
}

// setup loads configuration, applies global flags and builds the logger
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: a.configFile, EnvFile: a.envFile})
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = a.dbPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}

	logger, err := logging.New(a.stderr, logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.logger.Debug("configuration loaded", slog.Any("config", cfg))
	return nil
}

// usageArgs marks argument validation failures as invalid usage
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return goerr.Wrap(types.ErrInvalidParameter, err.Error())
		}
		return nil
	}
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.stdout, format, args...)
}
