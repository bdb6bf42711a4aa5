package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <production-id>",
	Short: "Show the run state of a production",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := buildService(ctx, false)
		if err != nil {
			return err
		}

		status, err := svc.Status(ctx, args[0])
		if err != nil {
			return fmt.Errorf("load status: %w", err)
		}

		if status.Counts.Total == 0 {
			fmt.Printf("No runs recorded for %s.\n", args[0])
			return nil
		}
		printRunStatus(status)
		return nil
	},
}
