// ABOUTME: Saved CLI credentials: server URL plus bearer token in a TOML file
// ABOUTME: The file is written 0600; the token inside is the only local copy

package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ErrNotLoggedIn is returned when no saved credentials exist.
var ErrNotLoggedIn = errors.New("not logged in, run `grindlog login` first")

// credentials is what gets persisted after a login.
type credentials struct {
	ServerURL string `toml:"server_url"`
	Token     string `toml:"token"`
	TokenName string `toml:"token_name"`
}

// credentialsPath returns the path of the saved credentials file.
func credentialsPath() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "grindlog", "credentials.toml"), nil
}

// loadCredentials reads saved credentials, honoring a --server override.
func loadCredentials() (*credentials, error) {
	path, err := credentialsPath()
	if err != nil {
		return nil, err
	}

	var creds credentials
	if _, err := toml.DecodeFile(path, &creds); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotLoggedIn
		}
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	if creds.Token == "" {
		return nil, ErrNotLoggedIn
	}

	if serverURL != "" {
		creds.ServerURL = serverURL
	}
	return &creds, nil
}

// saveCredentials writes credentials with owner-only permissions.
func saveCredentials(creds *credentials) error {
	path, err := credentialsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating credentials file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(creds); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return nil
}

// removeCredentials deletes the saved credentials file. Idempotent.
func removeCredentials() error {
	path, err := credentialsPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing credentials: %w", err)
	}
	return nil
}
