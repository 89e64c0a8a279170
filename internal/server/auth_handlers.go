// ABOUTME: HTTP handlers for passkey ceremonies, sessions, and identity
// ABOUTME: Ceremony failures collapse to generic client errors; details stay in logs

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/grindlog/grindlog/internal/auth"
	"github.com/grindlog/grindlog/internal/passkey"
	"github.com/grindlog/grindlog/internal/store"
)

// Usernames: alphanumeric plus underscores, must start with a letter.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{2,31}$`)

type ceremonyBeginResponse struct {
	Options     any    `json:"options"`
	ChallengeID string `json:"challenge_id"`
}

type ceremonyFinishRequest struct {
	ChallengeID string          `json:"challenge_id"`
	Name        string          `json:"name"`
	Response    json.RawMessage `json:"response"`
}

// handleSignupBegin starts a new-account registration ceremony from a one-time
// signup link.
func (s *Server) handleSignupBegin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RegistrationToken string `json:"registration_token"`
		Username          string `json:"username"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if !usernameRegex.MatchString(req.Username) {
		s.writeError(w, http.StatusBadRequest, "invalid username")
		return
	}

	options, challengeID, err := s.passkeys.BeginSignup(r.Context(), req.RegistrationToken, req.Username)
	switch {
	case err == nil:
	case errors.Is(err, passkey.ErrUsernameTaken):
		s.writeError(w, http.StatusConflict, "username taken")
		return
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrRegistrationTokenUsed),
		errors.Is(err, store.ErrRegistrationTokenExpired):
		// One answer for unknown, used, and expired links.
		s.writeError(w, http.StatusForbidden, "invalid registration link")
		return
	default:
		s.logger.Error("signup begin failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, ceremonyBeginResponse{Options: options, ChallengeID: challengeID})
}

// handleSignupFinish completes a new-account ceremony and logs the user in.
func (s *Server) handleSignupFinish(w http.ResponseWriter, r *http.Request) {
	var req ceremonyFinishRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, _, err := s.passkeys.FinishRegistration(r.Context(), req.ChallengeID, req.Name, req.Response)
	if err != nil {
		s.writeCeremonyError(w, err)
		return
	}

	if err := s.startSession(w, r, user.ID); err != nil {
		return
	}
	s.writeJSON(w, http.StatusOK, userResponse(user))
}

// handleRegisterBegin starts adding a passkey to the signed-in user.
func (s *Server) handleRegisterBegin(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	options, challengeID, err := s.passkeys.BeginRegistration(r.Context(), id.UserID)
	if err != nil {
		s.logger.Error("register begin failed", "user_id", id.UserID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, ceremonyBeginResponse{Options: options, ChallengeID: challengeID})
}

// handleRegisterFinish completes adding a passkey to the signed-in user.
func (s *Server) handleRegisterFinish(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req ceremonyFinishRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	// A session can only finish its own ceremony.
	challenge, err := s.store.GetChallenge(r.Context(), req.ChallengeID)
	if err != nil || challenge.UserID != id.UserID {
		s.writeError(w, http.StatusBadRequest, "invalid or expired challenge")
		return
	}

	_, cred, err := s.passkeys.FinishRegistration(r.Context(), req.ChallengeID, req.Name, req.Response)
	if err != nil {
		s.writeCeremonyError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"credential_id": cred.ID,
		"name":          cred.Name,
	})
}

// handleLoginBegin starts a login ceremony, discoverable or username-scoped.
func (s *Server) handleLoginBegin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request")
			return
		}
	}

	options, challengeID, err := s.passkeys.BeginLogin(r.Context(), req.Username)
	if errors.Is(err, store.ErrNotFound) {
		// Don't reveal which usernames exist.
		s.writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	}
	if err != nil {
		s.logger.Error("login begin failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, ceremonyBeginResponse{Options: options, ChallengeID: challengeID})
}

// handleLoginFinish completes a login ceremony and starts a session.
func (s *Server) handleLoginFinish(w http.ResponseWriter, r *http.Request) {
	var req ceremonyFinishRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := s.passkeys.FinishLogin(r.Context(), req.ChallengeID, req.Response)
	if err != nil {
		s.writeCeremonyError(w, err)
		return
	}

	if err := s.startSession(w, r, user.ID); err != nil {
		return
	}
	s.writeJSON(w, http.StatusOK, userResponse(user))
}

// handleLogout ends the browser session. Always succeeds.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.SessionCookieName); err == nil && cookie.Value != "" {
		if err := s.sessions.Destroy(r.Context(), cookie.Value); err != nil {
			s.logger.Warn("failed to destroy session", "error", err)
		}
	}
	s.sessions.ClearCookie(w)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMe returns the authenticated caller.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	user, err := s.store.GetUser(r.Context(), id.UserID)
	if err != nil {
		s.logger.Error("failed to load user", "user_id", id.UserID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := userResponse(user)
	resp["auth_method"] = id.Method
	s.writeJSON(w, http.StatusOK, resp)
}

// startSession creates a session for the user and sets the cookie. Writes the
// error response itself on failure.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, userID string) error {
	secret, err := s.sessions.Create(r.Context(), userID)
	if err != nil {
		s.logger.Error("failed to create session", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return err
	}
	s.sessions.SetCookie(w, secret)
	return nil
}

// writeCeremonyError maps ceremony-finishing failures onto HTTP responses.
// Verification failures and clone detection look identical to the client.
func (s *Server) writeCeremonyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, passkey.ErrVerificationFailed),
		errors.Is(err, passkey.ErrClonedAuthenticator):
		s.writeError(w, http.StatusUnauthorized, "authentication failed")
	case errors.Is(err, passkey.ErrUsernameTaken):
		s.writeError(w, http.StatusConflict, "username taken")
	case errors.Is(err, store.ErrChallengeConsumed),
		errors.Is(err, store.ErrChallengeExpired),
		errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusBadRequest, "invalid or expired challenge")
	case errors.Is(err, store.ErrRegistrationTokenUsed),
		errors.Is(err, store.ErrRegistrationTokenExpired):
		s.writeError(w, http.StatusForbidden, "invalid registration link")
	default:
		s.logger.Error("ceremony failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func userResponse(user *store.User) map[string]string {
	return map[string]string{
		"id":       user.ID,
		"username": user.Username,
	}
}
