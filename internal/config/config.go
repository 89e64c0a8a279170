// ABOUTME: Configuration loading and parsing for grindlogd
// ABOUTME: Supports YAML files with environment variable expansion and validation

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete grindlogd configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	// Addr is the HTTP bind address, e.g. "localhost:8080"
	Addr string `yaml:"addr"`
	// BaseURL is the external URL of the server. It is baked into every
	// issued passkey as the relying-party origin; changing it invalidates
	// existing credentials.
	BaseURL string `yaml:"base_url"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// RPID is the WebAuthn relying-party identifier. Defaults to the
	// hostname of server.base_url.
	RPID string `yaml:"rp_id"`
	// RPDisplayName is shown by authenticators during ceremonies.
	RPDisplayName string `yaml:"rp_display_name"`
	// SecureCookies sets the Secure flag on session cookies. Disable only
	// for non-TLS local development.
	SecureCookies bool `yaml:"secure_cookies"`

	SessionTTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	SessionTTLRaw string `yaml:"session_ttl"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres"
	Driver string `yaml:"driver"`
	// Path is the SQLite database file path (sqlite driver only)
	Path string `yaml:"path"`
	// DSN is the PostgreSQL connection string (postgres driver only)
	DSN string `yaml:"dsn"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultSessionTTL is the absolute session lifetime when session_ttl is unset.
const DefaultSessionTTL = 30 * 24 * time.Hour

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if cfg.Auth.SessionTTLRaw != "" {
		var err error
		cfg.Auth.SessionTTL, err = time.ParseDuration(cfg.Auth.SessionTTLRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing session_ttl %q: %w", cfg.Auth.SessionTTLRaw, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values that can be derived or defaulted.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Auth.RPDisplayName == "" {
		c.Auth.RPDisplayName = "grindlog"
	}
	if c.Auth.RPID == "" && c.Server.BaseURL != "" {
		if parsed, err := url.Parse(c.Server.BaseURL); err == nil && parsed.Hostname() != "" {
			c.Auth.RPID = parsed.Hostname()
		}
	}
	if c.Auth.SessionTTLRaw == "" {
		c.Auth.SessionTTL = DefaultSessionTTL
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required (it becomes the relying-party origin)")
	}
	parsed, err := url.Parse(c.Server.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("server.base_url %q is not a valid URL", c.Server.BaseURL)
	}

	if c.Auth.RPID == "" {
		return fmt.Errorf("auth.rp_id is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be \"sqlite\" or \"postgres\", got %q", c.Database.Driver)
	}

	return nil
}
