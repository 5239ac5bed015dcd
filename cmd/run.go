package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/beancrawl/internal/app"
)

// runCommand starts the scheduler and worker pool.
func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and worker pool",
		Long: `Run starts the full pipeline: the scheduler enqueues jobs on each
roaster's cadence and the dispatcher's workers execute them through
the strategy cascade. Stops cleanly on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}

			log.Info("starting beancrawl",
				"storage", cfg.Storage,
				"workers", cfg.Dispatcher.Workers,
				"roasters", len(cfg.Roasters),
			)
			return a.Run(ctx)
		},
	}
}
