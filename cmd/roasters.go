package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/beancrawl/internal/app"
	"github.com/jonesrussell/beancrawl/internal/domain"
)

// roastersCommand lists configured roasters and their runtime state.
func roastersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "roasters",
		Short: "List roasters with budget and strategy state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			stores, err := app.BuildStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer stores.Close() //nolint:errcheck // read-only command

			roasters, err := stores.Roasters.ListRoasters(ctx)
			if err != nil {
				return fmt.Errorf("list roasters: %w", err)
			}
			if len(roasters) == 0 {
				fmt.Println("no roasters configured")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"ID", "Name", "Learned", "Fallback", "Budget", "Full Cadence", "Price Cadence"})
			for _, r := range roasters {
				fallback := "enabled"
				if !r.FallbackEnabled {
					fallback = "disabled"
				}
				learned := string(r.LearnedStrategy)
				if learned == "" || learned == string(domain.StrategyUnknown) {
					learned = "-"
				}
				t.AppendRow(table.Row{
					r.ID,
					r.Name,
					learned,
					fallback,
					fmt.Sprintf("%d/%d", r.BudgetRemaining, r.BudgetLimit),
					r.CadenceFull,
					r.CadencePriceOnly,
				})
			}
			t.Render()
			return nil
		},
	}
}
