// ABOUTME: CLI hand-off code persistence methods for the SQL store
// ABOUTME: Codes move pending -> approved -> claimed; the token is collected exactly once

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateHandoffCode stores a new pending hand-off code.
func (s *SQLStore) CreateHandoffCode(ctx context.Context, code *HandoffCode) error {
	query := s.rebind(`
		INSERT INTO handoff_codes (id, code, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		code.ID,
		code.Code,
		HandoffStatusPending,
		fmtTime(code.CreatedAt),
		fmtTime(code.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("inserting hand-off code: %w", err)
	}

	s.logger.Debug("created hand-off code", "id", code.ID)
	return nil
}

// GetHandoffCodeByCode retrieves a hand-off code. The stored token is not
// included; it only leaves the database through CollectHandoffToken.
func (s *SQLStore) GetHandoffCodeByCode(ctx context.Context, code string) (*HandoffCode, error) {
	query := s.rebind(`
		SELECT id, code, status, user_id, created_at, expires_at
		FROM handoff_codes
		WHERE code = ?
	`)

	var hc HandoffCode
	var userID *string
	var createdAtStr, expiresAtStr string

	err := s.db.QueryRowContext(ctx, query, code).Scan(
		&hc.ID,
		&hc.Code,
		&hc.Status,
		&userID,
		&createdAtStr,
		&expiresAtStr,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying hand-off code: %w", err)
	}

	if userID != nil {
		hc.UserID = *userID
	}

	hc.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	hc.ExpiresAt, err = parseTime(expiresAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}

	return &hc, nil
}

// ApproveHandoffCode attaches a minted token to a pending, unexpired code. Only
// a pending code can be approved, and only once.
func (s *SQLStore) ApproveHandoffCode(ctx context.Context, code, userID, token string) error {
	query := s.rebind(`
		UPDATE handoff_codes
		SET status = ?, user_id = ?, token = ?
		WHERE code = ? AND status = ? AND expires_at > ?
	`)

	result, err := s.db.ExecContext(ctx, query,
		HandoffStatusApproved, userID, token,
		code, HandoffStatusPending, fmtTime(nowUTC()),
	)
	if err != nil {
		return fmt.Errorf("approving hand-off code: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Info("approved hand-off code", "code", code, "user_id", userID)
	return nil
}

// CollectHandoffToken hands the minted token to the CLI exactly once. The
// guarded update flips the code to claimed and clears the stored token, so a
// second poll can never see the secret.
func (s *SQLStore) CollectHandoffToken(ctx context.Context, code string) (string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	var token *string
	selectQuery := s.rebind(`SELECT status, token FROM handoff_codes WHERE code = ? AND expires_at > ?`)
	err = tx.QueryRowContext(ctx, selectQuery, code, fmtTime(nowUTC())).Scan(&status, &token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying hand-off code: %w", err)
	}

	if status == HandoffStatusClaimed {
		// Already collected once; the code is dead.
		return "", ErrNotFound
	}
	if status != HandoffStatusApproved || token == nil {
		return "", ErrHandoffNotReady
	}

	updateQuery := s.rebind(`
		UPDATE handoff_codes
		SET status = ?, token = NULL
		WHERE code = ? AND status = ?
	`)
	result, err := tx.ExecContext(ctx, updateQuery, HandoffStatusClaimed, code, HandoffStatusApproved)
	if err != nil {
		return "", fmt.Errorf("claiming hand-off code: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Lost a race with another collector inside the same window.
		return "", ErrHandoffNotReady
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Info("hand-off token collected", "code", code)
	return *token, nil
}

// DeleteExpiredHandoffCodes removes hand-off codes past their expiry.
func (s *SQLStore) DeleteExpiredHandoffCodes(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM handoff_codes WHERE expires_at <= ?"), fmtTime(nowUTC()))
	if err != nil {
		return fmt.Errorf("deleting expired hand-off codes: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("cleaned up expired hand-off codes", "count", n)
	}
	return nil
}
