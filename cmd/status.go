package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/beancrawl/internal/app"
	"github.com/jonesrussell/beancrawl/internal/domain"
)

// statusJobsLimit caps the recent-jobs table.
const statusJobsLimit = 20

// statusCommand shows queue depth and recent jobs.
func statusCommand() *cobra.Command {
	var jobStatus string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue depth and recent jobs",
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

			counts, err := stores.Queue.CountByStatus(ctx)
			if err != nil {
				return fmt.Errorf("count jobs: %w", err)
			}

			ct := table.NewWriter()
			ct.SetOutputMirror(os.Stdout)
			ct.SetStyle(table.StyleLight)
			ct.AppendHeader(table.Row{"Status", "Jobs"})
			for _, status := range []domain.JobStatus{
				domain.JobStatusQueued,
				domain.JobStatusRunning,
				domain.JobStatusRetrying,
				domain.JobStatusSucceeded,
				domain.JobStatusDead,
			} {
				ct.AppendRow(table.Row{string(status), counts[status]})
			}
			ct.Render()

			jobs, err := stores.Queue.ListJobs(ctx, domain.JobStatus(jobStatus), statusJobsLimit, 0)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			if len(jobs) == 0 {
				return nil
			}

			jt := table.NewWriter()
			jt.SetOutputMirror(os.Stdout)
			jt.SetStyle(table.StyleLight)
			jt.AppendHeader(table.Row{"ID", "Roaster", "Type", "Status", "Attempt", "Next Attempt", "Last Error"})
			for _, j := range jobs {
				lastError := ""
				if j.LastErrorKind != nil {
					lastError = *j.LastErrorKind
				}
				jt.AppendRow(table.Row{
					j.ID,
					j.RoasterID,
					string(j.JobType),
					string(j.Status),
					j.Attempt,
					j.NextAttemptAt.Format(time.RFC3339),
					lastError,
				})
			}
			jt.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&jobStatus, "status", "", "filter jobs by status (queued, running, retrying, succeeded, dead)")
	return cmd
}
