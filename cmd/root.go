// Package cmd implements the command-line interface for beancrawl.
// It provides the root command and subcommands for running the
// scheduler pipeline and managing roaster state.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/beancrawl/internal/config"
	"github.com/jonesrussell/beancrawl/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// debug enables debug logging for all commands.
	debug bool

	// rootCmd represents the root command for the beancrawl CLI.
	rootCmd = &cobra.Command{
		Use:   "beancrawl",
		Short: "Coffee roaster catalog scheduler",
		Long: `beancrawl periodically refreshes coffee roaster catalogs,
preferring cheap structured endpoints and falling back to scraping
under rate and budget limits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"",
		"config file (default is ./config.yaml or ./config/config.yaml)",
	)
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("beancrawl version %s\n", version)
		},
	})

	rootCmd.AddCommand(runCommand())
	rootCmd.AddCommand(statusCommand())
	rootCmd.AddCommand(resetBudgetCommand())
	rootCmd.AddCommand(roastersCommand())
}

// loadConfig loads configuration, applying the debug flag.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Logger.Level = "debug"
		cfg.Logger.Development = true
	}
	return cfg, nil
}

// newLogger builds the logger from loaded configuration.
func newLogger(cfg *config.Config) (logger.Interface, error) {
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log, nil
}
