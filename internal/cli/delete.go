package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <production-id>",
	Short: "Delete a production, its artifacts and job history",
	Long: `Delete a production, its artifacts and job history.

Removes the stored tree, every generated asset under the production's prefix
and all job records. Requires confirmation unless --force is used.

Examples:
  showrunner delete prod_4c1d2e
  showrunner delete prod_4c1d2e --force`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "skip confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id := args[0]

	svc, err := buildService(ctx, false)
	if err != nil {
		return err
	}

	p, _, err := svc.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load production: %w", err)
	}

	if !deleteForce {
		fmt.Printf("About to delete: %s (%s)\n", p.Title, p.ID)
		fmt.Print("\nContinue? [y/N]: ")

		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := svc.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete production: %w", err)
	}
	fmt.Printf("Deleted: %s\n", p.Title)
	return nil
}
