package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <production-id>",
	Short: "Show a production's structure and generated assets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := buildService(ctx, false)
		if err != nil {
			return err
		}

		p, token, err := svc.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("load production: %w", err)
		}

		fmt.Printf("%s: %s\n", p.ID, p.Title)
		if p.Premise != "" {
			fmt.Printf("  Premise: %s\n", p.Premise)
		}
		fmt.Printf("  Token:   %.12s\n\n", token)

		fmt.Println("Characters:")
		for _, c := range p.Characters {
			marker := " "
			if c.Main {
				marker = "*"
			}
			fmt.Printf("  %s %s (%s)", marker, c.Name, c.ID)
			if c.URL != "" {
				fmt.Printf("  %s", c.URL)
			}
			fmt.Println()
		}

		for _, ep := range p.Episodes {
			fmt.Printf("\nEpisode %s: %s\n", ep.ID, ep.Title)
			for _, s := range ep.Scenes {
				fmt.Printf("  Scene %s: %s\n", s.ID, s.Description)
				if s.ImageURL != "" {
					fmt.Printf("    storyboard: %s\n", s.ImageURL)
				}
				if s.VideoURL != "" {
					fmt.Printf("    clip:       %s\n", s.VideoURL)
				}
			}
		}
		return nil
	},
}
