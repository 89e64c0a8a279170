// ABOUTME: Browser session lifecycle and cookie handling
// ABOUTME: Sessions expire absolutely after the configured TTL; no sliding renewal

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/grindlog/grindlog/internal/store"
)

// SessionCookieName is the cookie that carries the session secret.
const SessionCookieName = "grindlog_session"

// ErrInvalidSession is returned for unknown or expired sessions.
var ErrInvalidSession = errors.New("invalid session")

// SessionManager creates and validates browser sessions.
type SessionManager struct {
	store  store.SessionStore
	ttl    time.Duration
	secure bool
	logger *slog.Logger
}

// NewSessionManager creates a session manager. secure controls the cookie
// Secure attribute and should be true whenever the app is served over HTTPS.
func NewSessionManager(s store.SessionStore, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		store:  s,
		ttl:    ttl,
		secure: secure,
		logger: slog.Default().With("component", "auth"),
	}
}

// Create starts a new session for a user and returns the cookie secret.
func (sm *SessionManager) Create(ctx context.Context, userID string) (string, error) {
	secret, err := NewSecret()
	if err != nil {
		return "", err
	}

	now := time.Now()
	session := &store.Session{
		Fingerprint: Fingerprint(secret),
		UserID:      userID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(sm.ttl),
	}
	if err := sm.store.CreateSession(ctx, session); err != nil {
		return "", fmt.Errorf("storing session: %w", err)
	}

	return secret, nil
}

// Validate checks a presented cookie secret and returns the session.
func (sm *SessionManager) Validate(ctx context.Context, secret string) (*store.Session, error) {
	session, err := sm.store.GetSession(ctx, Fingerprint(secret))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("looking up session: %w", err)
	}
	return session, nil
}

// Destroy ends the session for a cookie secret. Idempotent.
func (sm *SessionManager) Destroy(ctx context.Context, secret string) error {
	return sm.store.DeleteSession(ctx, Fingerprint(secret))
}

// SetCookie writes the session cookie on a response.
func (sm *SessionManager) SetCookie(w http.ResponseWriter, secret string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    secret,
		Path:     "/",
		MaxAge:   int(sm.ttl.Seconds()),
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearCookie expires the session cookie on a response.
func (sm *SessionManager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
	})
}
