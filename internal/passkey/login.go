// ABOUTME: Passkey login ceremonies, discoverable and username-scoped
// ABOUTME: Sign counter regression is treated as a clone and fails the login

package passkey

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/grindlog/grindlog/internal/store"
)

// BeginLogin starts a login ceremony. With a username the ceremony is scoped
// to that user's credentials; without one the browser offers any discoverable
// credential for the relying party.
func (s *Service) BeginLogin(ctx context.Context, username string) (*protocol.CredentialAssertion, string, error) {
	var options *protocol.CredentialAssertion
	var session *webauthn.SessionData
	var userID string

	if username == "" {
		var err error
		options, session, err = s.webauthn.BeginDiscoverableLogin()
		if err != nil {
			return nil, "", fmt.Errorf("beginning login: %w", err)
		}
	} else {
		user, err := s.store.GetUserByUsername(ctx, username)
		if err != nil {
			return nil, "", err
		}
		creds, err := s.store.GetCredentialsByUser(ctx, user.ID)
		if err != nil {
			return nil, "", fmt.Errorf("loading credentials: %w", err)
		}
		options, session, err = s.webauthn.BeginLogin(newCeremonyUser(user, creds))
		if err != nil {
			return nil, "", fmt.Errorf("beginning login: %w", err)
		}
		userID = user.ID
	}

	challengeID, err := s.storeChallenge(ctx, &store.Challenge{
		Kind:   store.CeremonyAuthentication,
		UserID: userID,
	}, session)
	if err != nil {
		return nil, "", err
	}

	return options, challengeID, nil
}

// FinishLogin completes a login ceremony and returns the authenticated user.
// The challenge is consumed whether or not the assertion verifies.
func (s *Service) FinishLogin(ctx context.Context, challengeID string, response []byte) (*store.User, error) {
	challenge, session, err := s.consumeChallenge(ctx, challengeID, store.CeremonyAuthentication)
	if err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		s.logger.Warn("malformed login response", "challenge_id", challengeID, "error", err)
		return nil, ErrVerificationFailed
	}

	stored, err := s.store.GetCredentialByCredentialID(ctx, parsed.RawID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("login with unknown credential", "challenge_id", challengeID)
		return nil, ErrVerificationFailed
	}
	if err != nil {
		return nil, fmt.Errorf("looking up credential: %w", err)
	}

	// A scoped ceremony must finish with a credential of the same user.
	if challenge.UserID != "" && challenge.UserID != stored.UserID {
		s.logger.Warn("login credential belongs to a different user", "challenge_id", challengeID)
		return nil, ErrVerificationFailed
	}

	user, err := s.store.GetUser(ctx, stored.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	creds, err := s.store.GetCredentialsByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	waUser := newCeremonyUser(user, creds)

	var credential *webauthn.Credential
	if challenge.UserID != "" {
		credential, err = s.webauthn.ValidateLogin(waUser, *session, parsed)
	} else {
		credential, err = s.webauthn.ValidateDiscoverableLogin(discoverableFinder(waUser), *session, parsed)
	}
	if err != nil {
		s.logger.Warn("login verification failed", "challenge_id", challengeID, "error", err)
		return nil, ErrVerificationFailed
	}

	if err := s.recordAssertion(ctx, user, stored, credential); err != nil {
		return nil, err
	}

	s.logger.Info("passkey login successful", "user_id", user.ID, "credential_id", stored.ID)
	return user, nil
}

// recordAssertion applies a validated assertion's authenticator state to the
// stored credential. The library flags a non-increasing sign counter instead
// of failing; a regressed counter means a cloned credential, so reject hard
// and leave last_used_at alone.
func (s *Service) recordAssertion(ctx context.Context, user *store.User, stored *store.PasskeyCredential, credential *webauthn.Credential) error {
	if credential.Authenticator.CloneWarning {
		s.logger.Error("sign counter regression", "user_id", user.ID, "credential_id", stored.ID)
		return ErrClonedAuthenticator
	}

	if err := s.store.UpdateCredentialSignCount(ctx, stored.ID, credential.Authenticator.SignCount); err != nil {
		s.logger.Warn("failed to update sign count", "credential_id", stored.ID, "error", err)
	}
	if err := s.store.TouchCredential(ctx, stored.ID, time.Now()); err != nil {
		s.logger.Warn("failed to touch credential", "credential_id", stored.ID, "error", err)
	}
	return nil
}

// discoverableFinder matches the asserted user handle to our ceremony user.
func discoverableFinder(waUser *ceremonyUser) func(rawID, userHandle []byte) (webauthn.User, error) {
	return func(rawID, userHandle []byte) (webauthn.User, error) {
		if len(userHandle) > 0 && string(userHandle) != waUser.handle {
			return nil, errors.New("user handle mismatch")
		}
		return waUser, nil
	}
}
