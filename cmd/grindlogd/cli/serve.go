// ABOUTME: The serve subcommand: banner, config, store, bootstrap, HTTP server
// ABOUTME: Prints the first-run registration link in color when the user table is empty

package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/grindlog/grindlog/internal/config"
	"github.com/grindlog/grindlog/internal/server"
	"github.com/grindlog/grindlog/internal/store"
)

const banner = `
            _           _ _
  __ _ _ __(_)_ __   __| | | ___   __ _
 / _' | '__| | '_ \ / _' | |/ _ \ / _' |
| (_| | |  | | | | | (_| | | (_) | (_| |
 \__, |_|  |_|_| |_|\__,_|_|\___/ \__, |
 |___/                            |___/
`

func newServeCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the grindlog server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, version)
		},
	}
}

func runServe(cmd *cobra.Command, version string) error {
	path := configPath()

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	setupLogger(cfg.Logging)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", path)
	green.Print("    ▶ ")
	fmt.Printf("Listen:   %s\n", cfg.Server.Addr)
	green.Print("    ▶ ")
	fmt.Printf("Base URL: %s\n", cfg.Server.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Driver)
	fmt.Println()

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	srv, err := server.New(cfg, st)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// First run: no accounts yet, print the one-time signup link. It is
	// shown here once and nowhere else.
	signupLink, err := srv.Bootstrap(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if signupLink != "" {
		yellow.Println("    No accounts exist yet. Create the first one here:")
		fmt.Println()
		cyan.Printf("        %s\n", signupLink)
		fmt.Println()
		gray.Println("    The link works once and expires in an hour.")
		fmt.Println()
	}

	return srv.Start(ctx)
}

// openStore opens the configured database backend.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Database.Path)
	case "postgres":
		return store.NewPostgresStore(cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
