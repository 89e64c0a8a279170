// ABOUTME: WebAuthn ceremony challenge persistence methods for the SQL store
// ABOUTME: Challenges live in the database so ceremony legs can span requests and processes

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateChallenge stores the server-side state of an in-flight ceremony.
func (s *SQLStore) CreateChallenge(ctx context.Context, challenge *Challenge) error {
	query := s.rebind(`
		INSERT INTO challenges (id, kind, user_id, username, user_handle, reg_token_id, session_data, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		challenge.ID,
		challenge.Kind,
		nullString(challenge.UserID),
		nullString(challenge.Username),
		nullString(challenge.UserHandle),
		nullString(challenge.RegTokenID),
		challenge.SessionData,
		fmtTime(challenge.CreatedAt),
		fmtTime(challenge.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("inserting challenge: %w", err)
	}

	s.logger.Debug("created challenge", "id", challenge.ID, "kind", challenge.Kind)
	return nil
}

// GetChallenge retrieves a challenge by ID, consumed or not.
func (s *SQLStore) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	query := s.rebind(`
		SELECT id, kind, user_id, username, user_handle, reg_token_id, session_data, created_at, expires_at, consumed_at
		FROM challenges
		WHERE id = ?
	`)

	var challenge Challenge
	var userID, username, userHandle, regTokenID, consumedAtStr *string
	var createdAtStr, expiresAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&challenge.ID,
		&challenge.Kind,
		&userID,
		&username,
		&userHandle,
		&regTokenID,
		&challenge.SessionData,
		&createdAtStr,
		&expiresAtStr,
		&consumedAtStr,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying challenge: %w", err)
	}

	if userID != nil {
		challenge.UserID = *userID
	}
	if username != nil {
		challenge.Username = *username
	}
	if userHandle != nil {
		challenge.UserHandle = *userHandle
	}
	if regTokenID != nil {
		challenge.RegTokenID = *regTokenID
	}

	challenge.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	challenge.ExpiresAt, err = parseTime(expiresAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	challenge.ConsumedAt, err = parseNullTime(consumedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing consumed_at: %w", err)
	}

	return &challenge, nil
}

// ConsumeChallenge atomically invalidates a challenge. Exactly one finishing
// request wins the guarded update; replays get ErrChallengeConsumed.
func (s *SQLStore) ConsumeChallenge(ctx context.Context, id string) error {
	query := s.rebind(`
		UPDATE challenges
		SET consumed_at = ?
		WHERE id = ? AND consumed_at IS NULL AND expires_at > ?
	`)

	now := nowUTC()
	result, err := s.db.ExecContext(ctx, query, fmtTime(now), id, fmtTime(now))
	if err != nil {
		return fmt.Errorf("consuming challenge: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return s.classifyChallengeFailure(ctx, id)
	}

	return nil
}

func (s *SQLStore) classifyChallengeFailure(ctx context.Context, id string) error {
	query := s.rebind(`SELECT consumed_at, expires_at FROM challenges WHERE id = ?`)

	var consumedAtStr *string
	var expiresAtStr string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&consumedAtStr, &expiresAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking challenge: %w", err)
	}

	if consumedAtStr != nil {
		return ErrChallengeConsumed
	}

	expiresAt, err := parseTime(expiresAtStr)
	if err != nil {
		return fmt.Errorf("parsing expires_at: %w", err)
	}
	if !expiresAt.After(time.Now()) {
		return ErrChallengeExpired
	}

	return fmt.Errorf("challenge %s not consumed", id)
}

// DeleteExpiredChallenges removes challenges past their expiry, consumed or not.
func (s *SQLStore) DeleteExpiredChallenges(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM challenges WHERE expires_at <= ?"), fmtTime(nowUTC()))
	if err != nil {
		return fmt.Errorf("deleting expired challenges: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("cleaned up expired challenges", "count", n)
	}
	return nil
}
