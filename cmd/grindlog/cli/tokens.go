// ABOUTME: The tokens subcommand: list and revoke API tokens
// ABOUTME: Plaintext secrets never appear here; only names and timestamps

package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newTokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Manage API tokens",
	}
	cmd.AddCommand(newTokensListCmd())
	cmd.AddCommand(newTokensRevokeCmd())
	return cmd
}

func newTokensListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your API tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := authedClient()
			if err != nil {
				return err
			}

			var tokens []struct {
				ID         string     `json:"id"`
				Name       string     `json:"name"`
				CreatedAt  time.Time  `json:"created_at"`
				LastUsedAt *time.Time `json:"last_used_at"`
				RevokedAt  *time.Time `json:"revoked_at"`
			}
			if err := client.do(cmd.Context(), "GET", "/api/tokens/", nil, &tokens); err != nil {
				return err
			}

			gray := color.New(color.FgHiBlack)
			red := color.New(color.FgRed)
			for _, t := range tokens {
				fmt.Printf("%-24s", t.Name)
				gray.Printf("  %s  created %s", t.ID, t.CreatedAt.Format("2006-01-02"))
				if t.LastUsedAt != nil {
					gray.Printf("  last used %s", t.LastUsedAt.Format("2006-01-02"))
				}
				if t.RevokedAt != nil {
					red.Print("  [revoked]")
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func newTokensRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <token-id>",
		Short: "Revoke an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := authedClient()
			if err != nil {
				return err
			}

			if err := client.do(cmd.Context(), "DELETE", "/api/tokens/"+args[0], nil, nil); err != nil {
				return err
			}
			color.New(color.FgGreen).Println("Revoked.")
			return nil
		},
	}
}
