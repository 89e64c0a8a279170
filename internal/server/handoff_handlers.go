// ABOUTME: HTTP handlers for the CLI login hand-off flow
// ABOUTME: The CLI polls a short code while the browser approves it; the token crosses over once

package server

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/grindlog/grindlog/internal/auth"
	"github.com/grindlog/grindlog/internal/store"
)

const handoffTTL = 10 * time.Minute

// Unambiguous alphabet for hand-off codes a person reads off a terminal.
const handoffAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// newHandoffCode generates a code like "K3QM-7VXD".
func newHandoffCode() (string, error) {
	chars := make([]byte, 8)
	max := big.NewInt(int64(len(handoffAlphabet)))
	for i := range chars {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating code: %w", err)
		}
		chars[i] = handoffAlphabet[n.Int64()]
	}
	return string(chars[:4]) + "-" + string(chars[4:]), nil
}

// handleHandoffStart opens a pending hand-off for a CLI login.
func (s *Server) handleHandoffStart(w http.ResponseWriter, r *http.Request) {
	code, err := newHandoffCode()
	if err != nil {
		s.logger.Error("failed to generate hand-off code", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	now := time.Now()
	hc := &store.HandoffCode{
		ID:        uuid.New().String(),
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(handoffTTL),
	}
	if err := s.store.CreateHandoffCode(r.Context(), hc); err != nil {
		s.logger.Error("failed to store hand-off code", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"code":        code,
		"approve_url": s.config.Server.BaseURL + "/cli-approve?code=" + code,
		"expires_at":  hc.ExpiresAt,
	})
}

// handleHandoffApprove attaches a freshly minted bearer token to a pending
// code. Session-only: approval must come from a signed-in browser.
func (s *Server) handleHandoffApprove(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil || req.Code == "" {
		s.writeError(w, http.StatusBadRequest, "code required")
		return
	}
	if req.Name == "" {
		req.Name = "cli"
	}

	token, secret, err := s.tokens.Issue(r.Context(), id.UserID, req.Name)
	if err != nil {
		s.logger.Error("failed to issue hand-off token", "user_id", id.UserID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	err = s.store.ApproveHandoffCode(r.Context(), req.Code, id.UserID, secret)
	if errors.Is(err, store.ErrNotFound) {
		// The code is unknown, expired, or already approved. Burn the
		// token we just minted.
		if revokeErr := s.store.RevokeBearerToken(r.Context(), token.ID); revokeErr != nil {
			s.logger.Error("failed to revoke orphaned token", "token_id", token.ID, "error", revokeErr)
		}
		s.writeError(w, http.StatusNotFound, "unknown or expired code")
		return
	}
	if err != nil {
		s.logger.Error("failed to approve hand-off", "code", req.Code, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// handleHandoffPoll is polled by the CLI until the token is ready. The token
// is returned exactly once.
func (s *Server) handleHandoffPoll(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		s.writeError(w, http.StatusBadRequest, "code required")
		return
	}

	token, err := s.store.CollectHandoffToken(r.Context(), code)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "token": token})
	case errors.Is(err, store.ErrHandoffNotReady):
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "unknown or expired code")
	default:
		s.logger.Error("failed to poll hand-off", "code", code, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
