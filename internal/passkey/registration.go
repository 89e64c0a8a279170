// ABOUTME: Passkey registration ceremonies for existing users and invited signups
// ABOUTME: New accounts only materialize after the finishing response verifies

package passkey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/grindlog/grindlog/internal/auth"
	"github.com/grindlog/grindlog/internal/store"
)

// BeginRegistration starts a ceremony adding a passkey to an existing user.
// Returns the creation options for the browser and the challenge ID the
// finishing request must present.
func (s *Service) BeginRegistration(ctx context.Context, userID string) (*protocol.CredentialCreation, string, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("loading user: %w", err)
	}

	creds, err := s.store.GetCredentialsByUser(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("loading credentials: %w", err)
	}

	options, session, err := s.webauthn.BeginRegistration(newCeremonyUser(user, creds))
	if err != nil {
		return nil, "", fmt.Errorf("beginning registration: %w", err)
	}

	challengeID, err := s.storeChallenge(ctx, &store.Challenge{
		Kind:   store.CeremonyRegistration,
		UserID: user.ID,
	}, session)
	if err != nil {
		return nil, "", err
	}

	return options, challengeID, nil
}

// BeginSignup starts a new-account registration ceremony backed by a one-time
// registration token. The token is checked here but only consumed when the
// ceremony finishes; no user row exists until then.
func (s *Service) BeginSignup(ctx context.Context, regSecret, username string) (*protocol.CredentialCreation, string, error) {
	token, err := s.store.GetRegistrationTokenByFingerprint(ctx, auth.Fingerprint(regSecret))
	if err != nil {
		return nil, "", err
	}
	if token.UsedAt != nil {
		return nil, "", store.ErrRegistrationTokenUsed
	}
	if !token.ExpiresAt.After(time.Now()) {
		return nil, "", store.ErrRegistrationTokenExpired
	}

	if _, err := s.store.GetUserByUsername(ctx, username); err == nil {
		return nil, "", ErrUsernameTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, "", fmt.Errorf("checking username: %w", err)
	}

	pending := &ceremonyUser{
		handle:   uuid.New().String(),
		username: username,
	}

	options, session, err := s.webauthn.BeginRegistration(pending)
	if err != nil {
		return nil, "", fmt.Errorf("beginning registration: %w", err)
	}

	challengeID, err := s.storeChallenge(ctx, &store.Challenge{
		Kind:       store.CeremonyRegistration,
		Username:   username,
		UserHandle: pending.handle,
		RegTokenID: token.ID,
	}, session)
	if err != nil {
		return nil, "", err
	}

	return options, challengeID, nil
}

// FinishRegistration completes a registration ceremony. The challenge is
// consumed before verification, so a failed response burns it. For the signup
// path this creates the user and consumes the registration token.
func (s *Service) FinishRegistration(ctx context.Context, challengeID, credName string, response []byte) (*store.User, *store.PasskeyCredential, error) {
	challenge, session, err := s.consumeChallenge(ctx, challengeID, store.CeremonyRegistration)
	if err != nil {
		return nil, nil, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		s.logger.Warn("malformed registration response", "challenge_id", challengeID, "error", err)
		return nil, nil, ErrVerificationFailed
	}

	var user *store.User
	var waUser *ceremonyUser
	newAccount := challenge.UserID == ""

	if newAccount {
		user = &store.User{
			ID:        uuid.New().String(),
			Username:  challenge.Username,
			Handle:    challenge.UserHandle,
			CreatedAt: time.Now(),
		}
		waUser = newCeremonyUser(user, nil)
	} else {
		user, err = s.store.GetUser(ctx, challenge.UserID)
		if err != nil {
			return nil, nil, fmt.Errorf("loading user: %w", err)
		}
		creds, err := s.store.GetCredentialsByUser(ctx, user.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("loading credentials: %w", err)
		}
		waUser = newCeremonyUser(user, creds)
	}

	credential, err := s.webauthn.CreateCredential(waUser, *session, parsed)
	if err != nil {
		s.logger.Warn("registration verification failed", "challenge_id", challengeID, "error", err)
		return nil, nil, ErrVerificationFailed
	}

	if newAccount {
		if err := s.store.CreateUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrUserExists) {
				return nil, nil, ErrUsernameTaken
			}
			return nil, nil, fmt.Errorf("creating user: %w", err)
		}
		if err := s.store.ConsumeRegistrationToken(ctx, challenge.RegTokenID, user.ID); err != nil {
			// Lost the token to a concurrent signup; undo the account.
			if delErr := s.store.DeleteUser(ctx, user.ID); delErr != nil {
				s.logger.Error("failed to roll back user after token race", "user_id", user.ID, "error", delErr)
			}
			return nil, nil, err
		}
	}

	stored, err := s.storeCredential(ctx, user.ID, credName, credential)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("passkey registered", "user_id", user.ID, "credential_id", stored.ID, "new_account", newAccount)
	return user, stored, nil
}

// storeChallenge serializes ceremony session data into a new challenge row.
func (s *Service) storeChallenge(ctx context.Context, challenge *store.Challenge, session *webauthn.SessionData) (string, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("serializing session data: %w", err)
	}

	now := time.Now()
	challenge.ID = uuid.New().String()
	challenge.SessionData = data
	challenge.CreatedAt = now
	challenge.ExpiresAt = now.Add(challengeTTL)

	if err := s.store.CreateChallenge(ctx, challenge); err != nil {
		return "", err
	}
	return challenge.ID, nil
}

// consumeChallenge atomically consumes a challenge of the expected kind and
// deserializes its session data.
func (s *Service) consumeChallenge(ctx context.Context, challengeID, kind string) (*store.Challenge, *webauthn.SessionData, error) {
	challenge, err := s.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, nil, err
	}
	if challenge.Kind != kind {
		return nil, nil, store.ErrNotFound
	}

	if err := s.store.ConsumeChallenge(ctx, challengeID); err != nil {
		return nil, nil, err
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(challenge.SessionData, &session); err != nil {
		return nil, nil, fmt.Errorf("deserializing session data: %w", err)
	}

	return challenge, &session, nil
}

// storeCredential persists a verified webauthn credential.
func (s *Service) storeCredential(ctx context.Context, userID, name string, cred *webauthn.Credential) (*store.PasskeyCredential, error) {
	transportsJSON, err := json.Marshal(cred.Transport)
	if err != nil {
		return nil, fmt.Errorf("serializing transports: %w", err)
	}

	if name == "" {
		name = "passkey"
	}

	stored := &store.PasskeyCredential{
		ID:              uuid.New().String(),
		UserID:          userID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		Transports:      string(transportsJSON),
		SignCount:       cred.Authenticator.SignCount,
		Name:            name,
		CreatedAt:       time.Now(),
	}
	if err := s.store.CreateCredential(ctx, stored); err != nil {
		return nil, err
	}
	return stored, nil
}
