package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var improveCmd = &cobra.Command{
	Use:   "improve <production-id> <feedback>",
	Short: "Regenerate a production structure from feedback",
	Long: `Regenerate a production structure from feedback.

Entities whose names still match keep their ids, and unchanged characters keep
their generated portraits. The save is guarded: concurrent edits to the same
production are rejected instead of overwritten.

Examples:
  showrunner improve prod_4c1d2e "make the villain more sympathetic"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runImprove,
}

func runImprove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id := args[0]
	feedback := strings.Join(args[1:], " ")

	svc, err := buildService(ctx, true)
	if err != nil {
		return err
	}

	p, token, err := svc.Improve(ctx, id, feedback)
	if err != nil {
		return fmt.Errorf("improve production: %w", err)
	}

	fmt.Printf("Improved %s: %s\n", p.ID, p.Title)
	fmt.Printf("  Token: %.12s\n", token)
	return nil
}
