package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var createID string

var createCmd = &cobra.Command{
	Use:   "create <premise>",
	Short: "Create a production structure from a premise",
	Long: `Create a production structure from a premise.

The text model designs characters, episodes and scenes; each scene gets a
derived video clip wired to the characters appearing in it. Nothing is
generated yet: use 'showrunner run' afterwards.

Examples:
  showrunner create "a noir detective story on the docks"
  showrunner create "a cooking rivalry" --id prod_kitchen`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVar(&createID, "id", "", "production id (generated when empty)")
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	premise := strings.Join(args, " ")

	svc, err := buildService(ctx, true)
	if err != nil {
		return err
	}

	p, token, err := svc.CreateFromPremise(ctx, premise, createID)
	if err != nil {
		return fmt.Errorf("create production: %w", err)
	}

	fmt.Printf("Created %s: %s\n", p.ID, p.Title)
	fmt.Printf("  Characters: %d\n", len(p.Characters))
	scenes := 0
	for _, ep := range p.Episodes {
		scenes += len(ep.Scenes)
	}
	fmt.Printf("  Episodes:   %d (%d scenes)\n", len(p.Episodes), scenes)
	fmt.Printf("  Token:      %.12s\n", token)
	fmt.Printf("\nRun 'showrunner run %s' to generate assets.\n", p.ID)
	return nil
}
