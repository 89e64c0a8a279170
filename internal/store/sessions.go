// ABOUTME: Browser session persistence methods for the SQL store
// ABOUTME: Sessions are keyed by cookie fingerprint and expire absolutely

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateSession stores a new session.
func (s *SQLStore) CreateSession(ctx context.Context, session *Session) error {
	query := s.rebind(`
		INSERT INTO sessions (fingerprint, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		session.Fingerprint,
		session.UserID,
		fmtTime(session.CreatedAt),
		fmtTime(session.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Info("created session", "user_id", session.UserID)
	return nil
}

// GetSession retrieves a session by cookie fingerprint. Expired sessions are
// treated as missing.
func (s *SQLStore) GetSession(ctx context.Context, fingerprint string) (*Session, error) {
	query := s.rebind(`
		SELECT fingerprint, user_id, created_at, expires_at
		FROM sessions
		WHERE fingerprint = ? AND expires_at > ?
	`)

	var session Session
	var createdAtStr, expiresAtStr string

	err := s.db.QueryRowContext(ctx, query, fingerprint, fmtTime(nowUTC())).Scan(
		&session.Fingerprint,
		&session.UserID,
		&createdAtStr,
		&expiresAtStr,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	session.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	session.ExpiresAt, err = parseTime(expiresAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}

	return &session, nil
}

// DeleteSession removes a session. Deleting a missing session is not an error;
// logout is idempotent.
func (s *SQLStore) DeleteSession(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM sessions WHERE fingerprint = ?"), fingerprint)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions past their expiry.
func (s *SQLStore) DeleteExpiredSessions(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM sessions WHERE expires_at <= ?"), fmtTime(nowUTC()))
	if err != nil {
		return fmt.Errorf("deleting expired sessions: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("cleaned up expired sessions", "count", n)
	}
	return nil
}
