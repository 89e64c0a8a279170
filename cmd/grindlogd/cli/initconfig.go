// ABOUTME: The init-config subcommand: writes a starter server.yaml
// ABOUTME: Refuses to overwrite an existing config file

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const starterConfig = `# grindlogd configuration.

server:
  addr: "localhost:8080"
  # External URL. Becomes the WebAuthn relying-party origin; changing it
  # later invalidates registered passkeys.
  base_url: "http://localhost:8080"

auth:
  # Defaults to the hostname of base_url.
  # rp_id: "coffee.example.com"
  rp_display_name: "grindlog"
  # Enable when serving over HTTPS.
  secure_cookies: false
  # Absolute session lifetime (no sliding renewal). Default 720h (30 days).
  session_ttl: "720h"

database:
  driver: "sqlite"
  path: "/var/lib/grindlog/grindlog.db"
  # driver: "postgres"
  # dsn: "${GRINDLOG_DSN}"

logging:
  level: "info"
  format: "text" # or "json"
`

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()

			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}

			if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(starterConfig), 0600); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}

			color.New(color.FgGreen).Printf("Wrote %s\n", path)
			fmt.Println("Edit base_url before exposing the server; it pins the passkey origin.")
			return nil
		},
	}
}
