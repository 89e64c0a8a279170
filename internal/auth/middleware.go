// ABOUTME: HTTP middleware gating write routes behind session or bearer auth
// ABOUTME: Session cookie wins over bearer header; one last_used touch per request

package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// Middleware authenticates requests against sessions and bearer tokens.
type Middleware struct {
	sessions *SessionManager
	tokens   *TokenIssuer
	logger   *slog.Logger
}

// NewMiddleware creates the auth middleware.
func NewMiddleware(sessions *SessionManager, tokens *TokenIssuer) *Middleware {
	return &Middleware{
		sessions: sessions,
		tokens:   tokens,
		logger:   slog.Default().With("component", "auth"),
	}
}

// RequireAuth wraps a handler so only authenticated requests reach it. A valid
// session cookie is checked first; the Authorization header is only consulted
// when no session cookie authenticates, so at most one credential is touched
// per request. Failures all look the same to the client.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
			session, err := m.sessions.Validate(r.Context(), cookie.Value)
			if err == nil {
				id := &Identity{UserID: session.UserID, Method: MethodSession}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
				return
			}
			m.logger.Debug("session cookie rejected", "error", err)
		}

		if secret, ok := bearerSecret(r); ok {
			token, err := m.tokens.Validate(r.Context(), secret)
			if err == nil {
				id := &Identity{UserID: token.UserID, Method: MethodToken}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
				return
			}
			m.logger.Debug("bearer token rejected", "error", err)
		}

		unauthorized(w)
	})
}

// RequireSession wraps a handler so only session-authenticated requests reach
// it. Used for actions that must come from a browser, like approving a CLI
// hand-off.
func (m *Middleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil || cookie.Value == "" {
			unauthorized(w)
			return
		}

		session, err := m.sessions.Validate(r.Context(), cookie.Value)
		if err != nil {
			m.logger.Debug("session cookie rejected", "error", err)
			unauthorized(w)
			return
		}

		id := &Identity{UserID: session.UserID, Method: MethodSession}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// bearerSecret extracts the secret from an Authorization: Bearer header.
func bearerSecret(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	secret := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return secret, secret != ""
}

// unauthorized writes the generic 401 response. Deliberately uniform across
// missing, unknown, expired, and revoked credentials.
func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}
