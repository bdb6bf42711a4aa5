package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"showrunner/internal/dag"
	"showrunner/internal/engine"
	"showrunner/internal/jobstore"
	"showrunner/internal/service"
)

var (
	runResume bool
	runBranch string
	runWatch  bool
)

var runCmd = &cobra.Command{
	Use:   "run <production-id>",
	Short: "Execute the generation graph for a production",
	Long: `Execute the generation graph for a production.

Nodes run level by level: characters and episodes first, then storyboards,
then clips. A failed node never blocks its siblings; downstream nodes run
degraded without the missing reference. Use --resume to reuse completed work
from a previous run and re-dispatch only what failed.

Examples:
  showrunner run prod_4c1d2e
  showrunner run prod_4c1d2e --resume --watch
  showrunner run prod_4c1d2e --branch characters`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runResume, "resume", false, "reuse completed jobs, retry failed ones")
	runCmd.Flags().StringVar(&runBranch, "branch", "all", "branch to generate: characters, episodes or all")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "show live progress while running")
}

func parseBranch(s string) (dag.Branch, error) {
	switch s {
	case "characters":
		return dag.BranchCharacter, nil
	case "episodes":
		return dag.BranchEpisode, nil
	case "all", "":
		return dag.BranchAll, nil
	default:
		return 0, fmt.Errorf("unknown branch %q (characters, episodes or all)", s)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id := args[0]

	scope, err := parseBranch(runBranch)
	if err != nil {
		return err
	}

	svc, err := buildService(ctx, true)
	if err != nil {
		return err
	}
	opts := service.RunOptions{Scope: scope, Resume: runResume}

	if runWatch {
		return runWithProgress(ctx, svc, id, opts)
	}

	status, _, err := svc.Run(ctx, id, opts)
	if err != nil {
		return fmt.Errorf("run production: %w", err)
	}
	printRunStatus(status)
	return nil
}

func printRunStatus(status *engine.RunStatus) {
	fmt.Printf("Run %s: %s\n", status.ParentJobID, status.Status)
	c := status.Counts
	fmt.Printf("  Completed: %d/%d", c.Completed, c.Total)
	if c.Failed > 0 {
		fmt.Printf("  Failed: %d", c.Failed)
	}
	fmt.Println()
	for _, rec := range status.Jobs {
		if rec.Status == jobstore.StatusFailed {
			fmt.Printf("  ✗ %s: %s\n", rec.EntityID, rec.Error)
		}
	}
	if status.SummaryURL != "" {
		fmt.Printf("  Summary: %s\n", status.SummaryURL)
	}
}
