package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"showrunner/internal/jobstore"
)

var jobsStatus string

var jobsCmd = &cobra.Command{
	Use:   "jobs <production-id>",
	Short: "List job records for a production",
	Long: `List job records for a production, newest first.

Examples:
  showrunner jobs prod_4c1d2e
  showrunner jobs prod_4c1d2e --status failed`,
	Args: cobra.ExactArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status (pending, running, completed, failed)")
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jobs, err := store.ListJobs(ctx, jobstore.Filter{
		ProductionID: args[0],
		Status:       jobstore.Status(jobsStatus),
	})
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found.")
		return nil
	}

	fmt.Printf("%-32s %-9s %-7s %s\n", "JOB", "STATUS", "TYPE", "ENTITY")
	for _, rec := range jobs {
		fmt.Printf("%-32s %-9s %-7s %s\n", rec.JobID, rec.Status, rec.Type, rec.EntityID)
		if rec.Status == jobstore.StatusFailed && rec.Error != "" {
			fmt.Printf("  error: %s\n", rec.Error)
		}
	}
	return nil
}
