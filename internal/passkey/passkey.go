// ABOUTME: WebAuthn ceremony service built on the go-webauthn library
// ABOUTME: Ceremony state is persisted as database challenges between the two request legs

package passkey

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/grindlog/grindlog/internal/store"
)

// challengeTTL bounds how long a ceremony may stay open between legs.
const challengeTTL = 5 * time.Minute

// ErrVerificationFailed is returned when a ceremony response does not verify.
// The challenge is already consumed by the time this is returned.
var ErrVerificationFailed = errors.New("verification failed")

// ErrUsernameTaken is returned when registering a username that already exists.
var ErrUsernameTaken = errors.New("username taken")

// ErrClonedAuthenticator is returned when the sign counter regresses,
// indicating a possible credential clone. The login is rejected.
var ErrClonedAuthenticator = errors.New("authenticator clone detected")

// Store is the persistence surface the ceremony service needs.
type Store interface {
	store.UserStore
	store.CredentialStore
	store.ChallengeStore
	store.RegistrationTokenStore
}

// Service runs WebAuthn registration and login ceremonies.
type Service struct {
	webauthn *webauthn.WebAuthn
	store    Store
	logger   *slog.Logger
}

// Config holds the relying-party identity for ceremonies.
type Config struct {
	RPID          string
	RPDisplayName string
	BaseURL       string
}

// NewService creates the ceremony service. Origins are derived from the base
// URL.
func NewService(cfg Config, s Store) (*Service, error) {
	origins, err := deriveOrigins(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	w, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     origins,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring webauthn: %w", err)
	}

	return &Service{
		webauthn: w,
		store:    s,
		logger:   slog.Default().With("component", "passkey"),
	}, nil
}

// deriveOrigins extracts the allowed WebAuthn origins from a base URL. An
// http base URL also allows the https origin; the downgrade direction is
// allowed only for loopback hosts, so production stays https-only.
func deriveOrigins(baseURL string) ([]string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}

	origins := []string{parsed.Scheme + "://" + parsed.Host}
	switch {
	case parsed.Scheme != "https":
		origins = append(origins, "https://"+parsed.Host)
	case isLoopback(parsed.Hostname()):
		origins = append(origins, "http://"+parsed.Host)
	}
	return origins, nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
