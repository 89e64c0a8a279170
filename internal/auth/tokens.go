// ABOUTME: Bearer token issuance, validation, and revocation
// ABOUTME: The plaintext secret is returned exactly once at issuance

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/grindlog/grindlog/internal/store"
)

// ErrInvalidToken is returned for unknown or revoked bearer tokens. Callers
// get no more detail than that; the distinction stays in the logs.
var ErrInvalidToken = errors.New("invalid token")

// TokenIssuer mints and validates bearer tokens against the store.
type TokenIssuer struct {
	store  store.TokenStore
	logger *slog.Logger
}

// NewTokenIssuer creates a token issuer backed by the given store.
func NewTokenIssuer(s store.TokenStore) *TokenIssuer {
	return &TokenIssuer{
		store:  s,
		logger: slog.Default().With("component", "auth"),
	}
}

// Issue mints a new bearer token for a user. The returned secret is the only
// copy of the plaintext that will ever exist; the store keeps its fingerprint.
func (ti *TokenIssuer) Issue(ctx context.Context, userID, name string) (*store.BearerToken, string, error) {
	secret, err := NewSecret()
	if err != nil {
		return nil, "", err
	}

	token := &store.BearerToken{
		ID:          uuid.New().String(),
		UserID:      userID,
		Fingerprint: Fingerprint(secret),
		Name:        name,
		CreatedAt:   time.Now(),
	}
	if err := ti.store.CreateBearerToken(ctx, token); err != nil {
		return nil, "", fmt.Errorf("storing token: %w", err)
	}

	return token, secret, nil
}

// Validate checks a presented secret and returns the matching token. Touches
// the token's last_used_at on success.
func (ti *TokenIssuer) Validate(ctx context.Context, secret string) (*store.BearerToken, error) {
	token, err := ti.store.GetBearerTokenByFingerprint(ctx, Fingerprint(secret))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("looking up token: %w", err)
	}

	if token.Revoked() {
		ti.logger.Warn("revoked token presented", "token_id", token.ID, "user_id", token.UserID)
		return nil, ErrInvalidToken
	}

	if err := ti.store.TouchBearerToken(ctx, token.ID, time.Now()); err != nil {
		// Touch failure shouldn't fail the request.
		ti.logger.Warn("failed to touch token", "token_id", token.ID, "error", err)
	}

	return token, nil
}

// Revoke revokes a token owned by the given user. A token belonging to a
// different user is treated as not found.
func (ti *TokenIssuer) Revoke(ctx context.Context, userID, tokenID string) error {
	tokens, err := ti.store.ListBearerTokens(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing tokens: %w", err)
	}

	for _, t := range tokens {
		if t.ID == tokenID {
			return ti.store.RevokeBearerToken(ctx, tokenID)
		}
	}
	return store.ErrNotFound
}
