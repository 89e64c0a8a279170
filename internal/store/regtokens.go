// ABOUTME: Registration token persistence methods for the SQL store
// ABOUTME: One-time signup links consumed atomically to prevent double-use races

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateRegistrationToken stores a new one-time registration token.
func (s *SQLStore) CreateRegistrationToken(ctx context.Context, token *RegistrationToken) error {
	query := s.rebind(`
		INSERT INTO registration_tokens (id, fingerprint, created_by, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		token.ID,
		token.Fingerprint,
		nullString(token.CreatedBy),
		fmtTime(token.CreatedAt),
		fmtTime(token.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("inserting registration token: %w", err)
	}

	s.logger.Info("created registration token", "id", token.ID, "expires_at", token.ExpiresAt)
	return nil
}

// GetRegistrationTokenByFingerprint retrieves a registration token by the
// fingerprint of its secret. Used and expired tokens are still returned so
// callers can report why a link no longer works.
func (s *SQLStore) GetRegistrationTokenByFingerprint(ctx context.Context, fingerprint string) (*RegistrationToken, error) {
	query := s.rebind(`
		SELECT id, fingerprint, created_by, created_at, expires_at, used_at, used_by
		FROM registration_tokens
		WHERE fingerprint = ?
	`)

	var token RegistrationToken
	var createdBy, usedBy, usedAtStr *string
	var createdAtStr, expiresAtStr string

	err := s.db.QueryRowContext(ctx, query, fingerprint).Scan(
		&token.ID,
		&token.Fingerprint,
		&createdBy,
		&createdAtStr,
		&expiresAtStr,
		&usedAtStr,
		&usedBy,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying registration token: %w", err)
	}

	if createdBy != nil {
		token.CreatedBy = *createdBy
	}
	if usedBy != nil {
		token.UsedBy = *usedBy
	}

	token.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	token.ExpiresAt, err = parseTime(expiresAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	token.UsedAt, err = parseNullTime(usedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing used_at: %w", err)
	}

	return &token, nil
}

// ConsumeRegistrationToken atomically marks a registration token as used by
// the given user. The guard in the WHERE clause makes concurrent consumption
// race-free: exactly one caller sees a row update.
func (s *SQLStore) ConsumeRegistrationToken(ctx context.Context, id, userID string) error {
	query := s.rebind(`
		UPDATE registration_tokens
		SET used_at = ?, used_by = ?
		WHERE id = ? AND used_at IS NULL AND expires_at > ?
	`)

	now := nowUTC()
	result, err := s.db.ExecContext(ctx, query, fmtTime(now), userID, id, fmtTime(now))
	if err != nil {
		return fmt.Errorf("consuming registration token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return s.classifyRegTokenFailure(ctx, id)
	}

	s.logger.Info("consumed registration token", "id", id, "used_by", userID)
	return nil
}

// classifyRegTokenFailure explains why a consume attempt matched no rows.
func (s *SQLStore) classifyRegTokenFailure(ctx context.Context, id string) error {
	query := s.rebind(`SELECT used_at, expires_at FROM registration_tokens WHERE id = ?`)

	var usedAtStr *string
	var expiresAtStr string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&usedAtStr, &expiresAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking registration token: %w", err)
	}

	if usedAtStr != nil {
		return ErrRegistrationTokenUsed
	}

	expiresAt, err := parseTime(expiresAtStr)
	if err != nil {
		return fmt.Errorf("parsing expires_at: %w", err)
	}
	if !expiresAt.After(time.Now()) {
		return ErrRegistrationTokenExpired
	}

	// Shouldn't happen: the row was consumable but the update missed it.
	return fmt.Errorf("registration token %s not consumed", id)
}
