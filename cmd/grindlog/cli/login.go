// ABOUTME: The login subcommand: browser hand-off flow for the CLI
// ABOUTME: Opens the approval page, polls the code, and saves the issued token

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"
)

const pollInterval = 2 * time.Second

func newLoginCmd() *cobra.Command {
	var tokenName string

	cmd := &cobra.Command{
		Use:   "login <server-url>",
		Short: "Log in to a grindlog server",
		Long: `Log in to a grindlog server.

Opens the server's approval page in your browser. After you approve the
request with your passkey, the CLI receives an API token and saves it to
your config directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), args[0], tokenName)
		},
	}

	cmd.Flags().StringVar(&tokenName, "name", "", "name for the issued token (default: cli@hostname)")
	return cmd
}

func runLogin(ctx context.Context, server, tokenName string) error {
	parsed, err := url.Parse(server)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid server URL %q", server)
	}
	server = parsed.Scheme + "://" + parsed.Host

	if tokenName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		tokenName = "cli@" + hostname
	}

	client := newAPIClient(server, "")

	var started struct {
		Code       string `json:"code"`
		ApproveURL string `json:"approve_url"`
	}
	if err := client.do(ctx, "POST", "/api/auth/cli/start", nil, &started); err != nil {
		return fmt.Errorf("starting login: %w", err)
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	fmt.Println("Approve this login in your browser:")
	fmt.Println()
	cyan.Printf("    %s\n", started.ApproveURL)
	fmt.Println()
	gray.Printf("    code: %s\n\n", started.Code)

	if err := browser.OpenURL(started.ApproveURL); err != nil {
		gray.Println("    (could not open a browser, use the link above)")
	}

	fmt.Print("Waiting for approval")
	token, err := pollForToken(ctx, client, started.Code)
	fmt.Println()
	if err != nil {
		return err
	}

	creds := &credentials{
		ServerURL: server,
		Token:     token,
		TokenName: tokenName,
	}
	if err := saveCredentials(creds); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Println("Logged in.")
	return nil
}

// pollForToken polls the hand-off code until the token is ready or the code
// expires server-side.
func pollForToken(ctx context.Context, client *apiClient, code string) (string, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	path := "/api/auth/cli/poll?code=" + url.QueryEscape(code)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		var resp struct {
			Status string `json:"status"`
			Token  string `json:"token"`
		}
		if err := client.do(ctx, "GET", path, nil, &resp); err != nil {
			// Rate limiting on a shared IP just slows the poll down.
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.status == http.StatusTooManyRequests {
				fmt.Print(".")
				continue
			}
			return "", fmt.Errorf("polling for approval: %w", err)
		}

		if resp.Status == "ready" {
			return resp.Token, nil
		}
		fmt.Print(".")
	}
}
