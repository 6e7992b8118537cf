package cli

import (
	"github.com/spf13/cobra"

	"github.com/dshills/paperdex/internal/storage"
)

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Print the version number",
		Args:              usageArgs(cobra.NoArgs),
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(*cobra.Command, []string) {
			a.printf("paperdex version %s\n", a.version)
			a.printf("Build Mode: %s\n", storage.BuildMode)
			a.printf("SQLite Driver: %s\n", storage.DriverName)
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Prints the configuration after defaults, the config file and the
environment are applied. Secrets are redacted.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(*cobra.Command, []string) error {
			return a.cfg.Dump(a.stdout)
		},
	}
}
