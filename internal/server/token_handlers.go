// ABOUTME: HTTP handlers for bearer token management and signup invites
// ABOUTME: Token and invite plaintexts appear once in the creation response, never again

package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/grindlog/grindlog/internal/auth"
	"github.com/grindlog/grindlog/internal/store"
)

type tokenResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// handleListTokens lists the caller's bearer tokens. Fingerprints stay server-side.
func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	tokens, err := s.store.ListBearerTokens(r.Context(), id.UserID)
	if err != nil {
		s.logger.Error("failed to list tokens", "user_id", id.UserID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]tokenResponse, 0, len(tokens))
	for _, t := range tokens {
		resp = append(resp, tokenResponse{
			ID:         t.ID,
			Name:       t.Name,
			CreatedAt:  t.CreatedAt,
			LastUsedAt: t.LastUsedAt,
			RevokedAt:  t.RevokedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleCreateToken mints a new bearer token. The response is the only place
// the plaintext ever appears.
func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil || req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name required")
		return
	}

	token, secret, err := s.tokens.Issue(r.Context(), id.UserID, req.Name)
	if err != nil {
		s.logger.Error("failed to issue token", "user_id", id.UserID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"id":         token.ID,
		"name":       token.Name,
		"token":      secret,
		"created_at": token.CreatedAt,
	})
}

// handleRevokeToken revokes one of the caller's tokens.
func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	tokenID := chi.URLParam(r, "id")

	err := s.tokens.Revoke(r.Context(), id.UserID, tokenID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "token not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to revoke token", "token_id", tokenID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// handleCreateInvite mints a one-time signup link for a new account.
func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	secret, err := auth.NewSecret()
	if err != nil {
		s.logger.Error("failed to generate invite secret", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	now := time.Now()
	token := &store.RegistrationToken{
		ID:          uuid.New().String(),
		Fingerprint: auth.Fingerprint(secret),
		CreatedBy:   id.UserID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(inviteTokenTTL),
	}
	if err := s.store.CreateRegistrationToken(r.Context(), token); err != nil {
		s.logger.Error("failed to store invite", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"url":        signupURL(s.config.Server.BaseURL, secret),
		"expires_at": token.ExpiresAt,
	})
}

// signupURL builds the one-time link carrying a registration secret.
func signupURL(baseURL, secret string) string {
	return baseURL + "/signup?token=" + secret
}
