// ABOUTME: Passkey credential persistence methods for the SQL store
// ABOUTME: Stores serialized authenticator credentials with sign count and last-used tracking

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateCredential stores a new passkey credential.
func (s *SQLStore) CreateCredential(ctx context.Context, cred *PasskeyCredential) error {
	query := s.rebind(`
		INSERT INTO passkey_credentials (id, user_id, credential_id, public_key, attestation_type, transports, sign_count, name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		cred.ID,
		cred.UserID,
		cred.CredentialID,
		cred.PublicKey,
		cred.AttestationType,
		cred.Transports,
		cred.SignCount,
		cred.Name,
		fmtTime(cred.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCredentialExists
		}
		return fmt.Errorf("inserting passkey credential: %w", err)
	}

	s.logger.Info("created passkey credential", "id", cred.ID, "user_id", cred.UserID)
	return nil
}

// GetCredentialsByUser retrieves all passkey credentials for a user.
func (s *SQLStore) GetCredentialsByUser(ctx context.Context, userID string) ([]*PasskeyCredential, error) {
	query := s.rebind(`
		SELECT id, user_id, credential_id, public_key, attestation_type, transports, sign_count, name, created_at, last_used_at
		FROM passkey_credentials
		WHERE user_id = ?
		ORDER BY created_at ASC
	`)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying passkey credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var creds []*PasskeyCredential
	for rows.Next() {
		cred, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating passkey credentials: %w", err)
	}

	return creds, nil
}

// GetCredentialByCredentialID retrieves a credential by its authenticator-assigned ID.
func (s *SQLStore) GetCredentialByCredentialID(ctx context.Context, credentialID []byte) (*PasskeyCredential, error) {
	query := s.rebind(`
		SELECT id, user_id, credential_id, public_key, attestation_type, transports, sign_count, name, created_at, last_used_at
		FROM passkey_credentials
		WHERE credential_id = ?
	`)

	row := s.db.QueryRowContext(ctx, query, credentialID)
	cred, err := scanCredential(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// scanCredential scans one credential row via the given Scan function.
func scanCredential(scan func(...any) error) (*PasskeyCredential, error) {
	var cred PasskeyCredential
	var attestationType, transports sql.NullString
	var createdAtStr string
	var lastUsedAtStr sql.NullString

	err := scan(
		&cred.ID,
		&cred.UserID,
		&cred.CredentialID,
		&cred.PublicKey,
		&attestationType,
		&transports,
		&cred.SignCount,
		&cred.Name,
		&createdAtStr,
		&lastUsedAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("scanning passkey credential: %w", err)
	}

	cred.AttestationType = attestationType.String
	cred.Transports = transports.String

	cred.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	if lastUsedAtStr.Valid {
		lastUsed, err := parseTime(lastUsedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_used_at: %w", err)
		}
		cred.LastUsedAt = &lastUsed
	}

	return &cred, nil
}

// UpdateCredentialSignCount updates the signature counter for a credential.
func (s *SQLStore) UpdateCredentialSignCount(ctx context.Context, id string, signCount uint32) error {
	query := s.rebind(`UPDATE passkey_credentials SET sign_count = ? WHERE id = ?`)

	result, err := s.db.ExecContext(ctx, query, signCount, id)
	if err != nil {
		return fmt.Errorf("updating sign count: %w", err)
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

// TouchCredential records a successful authentication with this credential.
func (s *SQLStore) TouchCredential(ctx context.Context, id string, when time.Time) error {
	query := s.rebind(`UPDATE passkey_credentials SET last_used_at = ? WHERE id = ?`)

	result, err := s.db.ExecContext(ctx, query, fmtTime(when), id)
	if err != nil {
		return fmt.Errorf("touching passkey credential: %w", err)
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

// DeleteCredential removes a passkey credential.
func (s *SQLStore) DeleteCredential(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM passkey_credentials WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("deleting passkey credential: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Info("deleted passkey credential", "id", id)
	return nil
}
