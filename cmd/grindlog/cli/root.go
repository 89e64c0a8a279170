// ABOUTME: Root command tree for the grindlog client
// ABOUTME: Shared --server flag and subcommand wiring

package cli

import (
	"github.com/spf13/cobra"
)

var serverURL string

// Execute builds the root command tree and runs it.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "grindlog",
		Short:         "Log coffee from the command line",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (defaults to the saved login)")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newTokensCmd())
	cmd.AddCommand(newBrewCmd())

	return cmd
}
