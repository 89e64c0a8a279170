// ABOUTME: SQL implementation of the Store interface over sqlx
// ABOUTME: One constructor per backend (modernc SQLite, pgx PostgreSQL) with shared queries

package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SQLStore implements the Store interface over a relational database.
// Queries are written with ? placeholders and rebound per backend.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// The schema is created if it doesn't exist. Parent directories are created
// if needed.
func NewSQLiteStore(path string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Pragmas are per-connection and :memory: is per-connection too, so the
	// pool must stay at one. SQLite serializes writers regardless.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys so user deletion cascades
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLStore{db: db, driver: "sqlite", logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// NewPostgresStore creates a new PostgreSQL-backed store from a connection string.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &SQLStore{db: db, driver: "pgx", logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("PostgreSQL store initialized")
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLStore) createSchema() error {
	// Timestamps are stored as RFC3339 TEXT on both backends. The only
	// dialect difference is the binary column type.
	blob := "BLOB"
	if s.driver == "pgx" {
		blob = "BYTEA"
	}

	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			handle TEXT UNIQUE NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);

		CREATE TABLE IF NOT EXISTS passkey_credentials (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			credential_id {{BLOB}} UNIQUE NOT NULL,
			public_key {{BLOB}} NOT NULL,
			attestation_type TEXT,
			transports TEXT,
			sign_count INTEGER NOT NULL DEFAULT 0,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_used_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_passkey_credentials_user ON passkey_credentials(user_id);

		CREATE TABLE IF NOT EXISTS bearer_tokens (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			fingerprint TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_used_at TEXT,
			revoked_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_bearer_tokens_user ON bearer_tokens(user_id);

		CREATE TABLE IF NOT EXISTS sessions (
			fingerprint TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

		CREATE TABLE IF NOT EXISTS registration_tokens (
			id TEXT PRIMARY KEY,
			fingerprint TEXT UNIQUE NOT NULL,
			created_by TEXT REFERENCES users(id),
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			used_at TEXT,
			used_by TEXT REFERENCES users(id)
		);

		CREATE INDEX IF NOT EXISTS idx_registration_tokens_expires ON registration_tokens(expires_at);

		CREATE TABLE IF NOT EXISTS challenges (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL CHECK (kind IN ('registration', 'authentication')),
			user_id TEXT,
			username TEXT,
			user_handle TEXT,
			reg_token_id TEXT,
			session_data {{BLOB}} NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			consumed_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_challenges_expires ON challenges(expires_at);

		CREATE TABLE IF NOT EXISTS handoff_codes (
			id TEXT PRIMARY KEY,
			code TEXT UNIQUE NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'claimed')),
			user_id TEXT,
			token TEXT,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_handoff_codes_code ON handoff_codes(code);
		CREATE INDEX IF NOT EXISTS idx_handoff_codes_expires ON handoff_codes(expires_at);

		CREATE TABLE IF NOT EXISTS roasters (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			country TEXT,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS bags (
			id TEXT PRIMARY KEY,
			roaster_id TEXT NOT NULL REFERENCES roasters(id),
			name TEXT NOT NULL,
			roast_level TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_bags_roaster ON bags(roaster_id);

		CREATE TABLE IF NOT EXISTS brews (
			id TEXT PRIMARY KEY,
			bag_id TEXT NOT NULL REFERENCES bags(id),
			method TEXT NOT NULL,
			dose_g REAL,
			yield_g REAL,
			notes TEXT,
			brewed_at TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_brews_bag ON brews(bag_id);
		CREATE INDEX IF NOT EXISTS idx_brews_brewed ON brews(brewed_at);
	`

	schema = strings.ReplaceAll(schema, "{{BLOB}}", blob)

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	s.logger.Info("closing store")
	return s.db.Close()
}

// rebind converts ? placeholders to the backend's bind style.
func (s *SQLStore) rebind(query string) string {
	if s.driver == "pgx" {
		return s.db.Rebind(query)
	}
	return query
}

// isUniqueViolation checks if an error is a unique constraint violation on
// either backend.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "SQLSTATE 23505")
}

// nowUTC returns the current time in UTC for expiry comparisons.
func nowUTC() time.Time {
	return time.Now().UTC()
}

// fmtTime formats a timestamp for storage.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a stored timestamp.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// parseNullTime parses an optional stored timestamp into a *time.Time.
func parseNullTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullString returns nil for empty strings, otherwise the string itself.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure SQLStore implements the Store interface
var _ Store = (*SQLStore)(nil)
