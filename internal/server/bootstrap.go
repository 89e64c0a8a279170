// ABOUTME: First-run registration bootstrap
// ABOUTME: An empty user table mints a short-lived one-time signup link at startup

package server

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/grindlog/grindlog/internal/auth"
	"github.com/grindlog/grindlog/internal/store"
)

// Bootstrap checks whether any user exists and, if not, mints a one-time
// registration link so the first account can be created. Returns the signup
// URL, or "" when no bootstrap is needed. The plaintext secret lives only in
// the returned URL.
func (s *Server) Bootstrap(ctx context.Context) (string, error) {
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return "", fmt.Errorf("counting users: %w", err)
	}
	if count > 0 {
		return "", nil
	}

	secret, err := auth.NewSecret()
	if err != nil {
		return "", err
	}

	now := time.Now()
	token := &store.RegistrationToken{
		ID:          uuid.New().String(),
		Fingerprint: auth.Fingerprint(secret),
		CreatedAt:   now,
		ExpiresAt:   now.Add(bootstrapTokenTTL),
	}
	if err := s.store.CreateRegistrationToken(ctx, token); err != nil {
		return "", fmt.Errorf("storing bootstrap token: %w", err)
	}

	s.logger.Info("no users found, minted first-run registration link", "expires_at", token.ExpiresAt)
	return signupURL(s.config.Server.BaseURL, secret), nil
}
