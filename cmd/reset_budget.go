package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/beancrawl/internal/alert"
	"github.com/jonesrussell/beancrawl/internal/app"
	"github.com/jonesrussell/beancrawl/internal/budget"
)

// resetBudgetCommand restores a roaster's scrape budget and re-enables
// its fallback tier.
func resetBudgetCommand() *cobra.Command {
	var newLimit int

	cmd := &cobra.Command{
		Use:   "reset-budget <roaster-id>",
		Short: "Restore a roaster's scrape budget and re-enable fallback",
		Long: `Reset-budget refills a roaster's remaining scrape budget and turns
the fallback tier back on. With --limit, the configured budget ceiling
is replaced first. This is the only way a disabled fallback comes
back; the pipeline never re-enables it on its own.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roasterID := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			stores, err := app.BuildStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer stores.Close() //nolint:errcheck // process exits next

			ledger := budget.NewLedger(stores.Budget, alert.NewLogSink(log), log)

			var limit *int
			if cmd.Flags().Changed("limit") {
				limit = &newLimit
			}
			if err := ledger.Reset(ctx, roasterID, limit); err != nil {
				return fmt.Errorf("reset budget: %w", err)
			}

			roaster, err := stores.Roasters.GetRoaster(ctx, roasterID)
			if err != nil {
				return err
			}
			fmt.Printf("budget reset for %s: remaining %d of %d, fallback enabled\n",
				roaster.ID, roaster.BudgetRemaining, roaster.BudgetLimit)
			return nil
		},
	}

	cmd.Flags().IntVar(&newLimit, "limit", 0, "replace the budget ceiling before refilling")
	return cmd
}
