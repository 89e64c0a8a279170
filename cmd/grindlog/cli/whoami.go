// ABOUTME: The whoami and logout subcommands
// ABOUTME: whoami asks the server; logout removes the local token

package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := authedClient()
			if err != nil {
				return err
			}

			var me struct {
				Username   string `json:"username"`
				AuthMethod string `json:"auth_method"`
			}
			if err := client.do(cmd.Context(), "GET", "/api/auth/me", nil, &me); err != nil {
				return err
			}

			fmt.Printf("%s @ %s\n", me.Username, client.baseURL)
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved login",
		Long: `Forget the saved login.

Removes the local credentials file. The token itself keeps working until
revoked; use the web UI or ` + "`grindlog tokens revoke`" + ` to kill it server-side.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := removeCredentials(); err != nil {
				return err
			}
			color.New(color.FgGreen).Println("Logged out.")
			return nil
		},
	}
}
