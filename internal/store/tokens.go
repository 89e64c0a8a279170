// ABOUTME: Bearer token persistence methods for the SQL store
// ABOUTME: Tokens are looked up by fingerprint; revocation keeps the row for auditability

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateBearerToken stores a new bearer token record.
func (s *SQLStore) CreateBearerToken(ctx context.Context, token *BearerToken) error {
	query := s.rebind(`
		INSERT INTO bearer_tokens (id, user_id, fingerprint, name, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.Fingerprint,
		token.Name,
		fmtTime(token.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting bearer token: %w", err)
	}

	s.logger.Info("created bearer token", "id", token.ID, "user_id", token.UserID, "name", token.Name)
	return nil
}

// GetBearerTokenByFingerprint retrieves a token by its secret's fingerprint.
// Revoked tokens are still returned; the caller checks Revoked().
func (s *SQLStore) GetBearerTokenByFingerprint(ctx context.Context, fingerprint string) (*BearerToken, error) {
	query := s.rebind(`
		SELECT id, user_id, fingerprint, name, created_at, last_used_at, revoked_at
		FROM bearer_tokens
		WHERE fingerprint = ?
	`)

	row := s.db.QueryRowContext(ctx, query, fingerprint)
	token, err := scanBearerToken(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

// ListBearerTokens returns all tokens for a user, newest first.
func (s *SQLStore) ListBearerTokens(ctx context.Context, userID string) ([]*BearerToken, error) {
	query := s.rebind(`
		SELECT id, user_id, fingerprint, name, created_at, last_used_at, revoked_at
		FROM bearer_tokens
		WHERE user_id = ?
		ORDER BY created_at DESC
	`)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying bearer tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tokens []*BearerToken
	for rows.Next() {
		token, err := scanBearerToken(rows.Scan)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bearer tokens: %w", err)
	}

	return tokens, nil
}

func scanBearerToken(scan func(...any) error) (*BearerToken, error) {
	var token BearerToken
	var createdAtStr string
	var lastUsedAtStr, revokedAtStr *string

	err := scan(
		&token.ID,
		&token.UserID,
		&token.Fingerprint,
		&token.Name,
		&createdAtStr,
		&lastUsedAtStr,
		&revokedAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("scanning bearer token: %w", err)
	}

	token.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	token.LastUsedAt, err = parseNullTime(lastUsedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_used_at: %w", err)
	}

	token.RevokedAt, err = parseNullTime(revokedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing revoked_at: %w", err)
	}

	return &token, nil
}

// TouchBearerToken records a successful authentication with this token.
func (s *SQLStore) TouchBearerToken(ctx context.Context, id string, when time.Time) error {
	query := s.rebind(`UPDATE bearer_tokens SET last_used_at = ? WHERE id = ?`)

	result, err := s.db.ExecContext(ctx, query, fmtTime(when), id)
	if err != nil {
		return fmt.Errorf("touching bearer token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// RevokeBearerToken marks a token revoked. Revoking twice is a no-op that
// preserves the original revocation time.
func (s *SQLStore) RevokeBearerToken(ctx context.Context, id string) error {
	query := s.rebind(`
		UPDATE bearer_tokens SET revoked_at = ?
		WHERE id = ? AND revoked_at IS NULL
	`)

	result, err := s.db.ExecContext(ctx, query, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("revoking bearer token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Distinguish missing from already revoked.
		var exists int
		checkErr := s.db.QueryRowContext(ctx,
			s.rebind("SELECT COUNT(*) FROM bearer_tokens WHERE id = ?"), id).Scan(&exists)
		if checkErr != nil {
			return fmt.Errorf("checking bearer token: %w", checkErr)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return nil
	}

	s.logger.Info("revoked bearer token", "id", id)
	return nil
}
