// ABOUTME: Root command tree for grindlogd
// ABOUTME: Holds the shared config flag and wires subcommands

package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var cfgFile string

// Execute builds the root command tree and runs it.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "grindlogd",
		Short:         "Self-hosted coffee tracking server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.config/grindlog/server.yaml)")

	cmd.AddCommand(newServeCmd(version))
	cmd.AddCommand(newInitConfigCmd())

	return cmd
}

// configPath resolves the server config file location.
// Priority: --config flag > GRINDLOG_CONFIG > XDG config dir.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if envPath := os.Getenv("GRINDLOG_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "server.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "grindlog", "server.yaml")
}
