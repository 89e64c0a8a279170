// ABOUTME: Tests for the SQL store over an in-memory SQLite database
// ABOUTME: Covers consume-once guards, cascade deletes, expiry handling, and revocation

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func setupTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createTestUser(t *testing.T, s *SQLStore, username string) *User {
	t.Helper()
	user := &User{
		ID:        uuid.New().String(),
		Username:  username,
		Handle:    uuid.New().String(),
		CreatedAt: time.Now(),
	}
	if err := s.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("creating test user: %v", err)
	}
	return user
}

func TestCreateAndGetUser(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, s, "alice")

	got, err := s.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.Username != "alice" {
		t.Errorf("Username = %q, want %q", got.Username, "alice")
	}

	byName, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if byName.ID != user.ID {
		t.Errorf("ID = %q, want %q", byName.ID, user.ID)
	}

	byHandle, err := s.GetUserByHandle(ctx, user.Handle)
	if err != nil {
		t.Fatalf("GetUserByHandle failed: %v", err)
	}
	if byHandle.ID != user.ID {
		t.Errorf("ID = %q, want %q", byHandle.ID, user.ID)
	}
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	createTestUser(t, s, "alice")

	dup := &User{
		ID:        uuid.New().String(),
		Username:  "alice",
		Handle:    uuid.New().String(),
		CreatedAt: time.Now(),
	}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s := setupTestStore(t)

	if _, err := s.GetUser(context.Background(), "nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCountUsers(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	count, err := s.CountUsers(ctx)
	if err != nil {
		t.Fatalf("CountUsers failed: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}

	createTestUser(t, s, "alice")
	createTestUser(t, s, "bob")

	count, err = s.CountUsers(ctx)
	if err != nil {
		t.Fatalf("CountUsers failed: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, s, "alice")

	cred := &PasskeyCredential{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		CredentialID: []byte("cred-id-1"),
		PublicKey:    []byte("pubkey"),
		Name:         "laptop",
		CreatedAt:    time.Now(),
	}
	if err := s.CreateCredential(ctx, cred); err != nil {
		t.Fatalf("CreateCredential failed: %v", err)
	}

	token := &BearerToken{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		Fingerprint: "fp-1",
		Name:        "cli",
		CreatedAt:   time.Now(),
	}
	if err := s.CreateBearerToken(ctx, token); err != nil {
		t.Fatalf("CreateBearerToken failed: %v", err)
	}

	if err := s.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}

	if _, err := s.GetCredentialByCredentialID(ctx, []byte("cred-id-1")); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected credential cascade delete, got %v", err)
	}
	if _, err := s.GetBearerTokenByFingerprint(ctx, "fp-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected token cascade delete, got %v", err)
	}
}

func TestCredentialDuplicateID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, s, "alice")

	cred := &PasskeyCredential{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		CredentialID: []byte("same-id"),
		PublicKey:    []byte("pubkey"),
		Name:         "laptop",
		CreatedAt:    time.Now(),
	}
	if err := s.CreateCredential(ctx, cred); err != nil {
		t.Fatalf("CreateCredential failed: %v", err)
	}

	dup := &PasskeyCredential{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		CredentialID: []byte("same-id"),
		PublicKey:    []byte("pubkey"),
		Name:         "phone",
		CreatedAt:    time.Now(),
	}
	if err := s.CreateCredential(ctx, dup); !errors.Is(err, ErrCredentialExists) {
		t.Errorf("expected ErrCredentialExists, got %v", err)
	}
}

func TestCredentialSignCountAndTouch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, s, "alice")

	cred := &PasskeyCredential{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		CredentialID: []byte("cred-1"),
		PublicKey:    []byte("pubkey"),
		SignCount:    5,
		Name:         "laptop",
		CreatedAt:    time.Now(),
	}
	if err := s.CreateCredential(ctx, cred); err != nil {
		t.Fatalf("CreateCredential failed: %v", err)
	}

	if err := s.UpdateCredentialSignCount(ctx, cred.ID, 6); err != nil {
		t.Fatalf("UpdateCredentialSignCount failed: %v", err)
	}

	when := time.Now()
	if err := s.TouchCredential(ctx, cred.ID, when); err != nil {
		t.Fatalf("TouchCredential failed: %v", err)
	}

	got, err := s.GetCredentialByCredentialID(ctx, []byte("cred-1"))
	if err != nil {
		t.Fatalf("GetCredentialByCredentialID failed: %v", err)
	}
	if got.SignCount != 6 {
		t.Errorf("SignCount = %d, want 6", got.SignCount)
	}
	if got.LastUsedAt == nil {
		t.Error("LastUsedAt is nil after touch")
	}
}

func TestRevokeBearerToken(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, s, "alice")

	token := &BearerToken{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		Fingerprint: "fp-revoke",
		Name:        "cli",
		CreatedAt:   time.Now(),
	}
	if err := s.CreateBearerToken(ctx, token); err != nil {
		t.Fatalf("CreateBearerToken failed: %v", err)
	}

	if err := s.RevokeBearerToken(ctx, token.ID); err != nil {
		t.Fatalf("RevokeBearerToken failed: %v", err)
	}

	got, err := s.GetBearerTokenByFingerprint(ctx, "fp-revoke")
	if err != nil {
		t.Fatalf("GetBearerTokenByFingerprint failed: %v", err)
	}
	if !got.Revoked() {
		t.Error("token not marked revoked")
	}
	firstRevokedAt := *got.RevokedAt

	// Revoking again is a no-op and preserves the original time.
	if err := s.RevokeBearerToken(ctx, token.ID); err != nil {
		t.Fatalf("second RevokeBearerToken failed: %v", err)
	}
	got, err = s.GetBearerTokenByFingerprint(ctx, "fp-revoke")
	if err != nil {
		t.Fatalf("GetBearerTokenByFingerprint failed: %v", err)
	}
	if !got.RevokedAt.Equal(firstRevokedAt) {
		t.Errorf("RevokedAt changed on second revoke: %v != %v", got.RevokedAt, firstRevokedAt)
	}

	if err := s.RevokeBearerToken(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing token, got %v", err)
	}
}

func TestListBearerTokens(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, s, "alice")

	for i, name := range []string{"first", "second"} {
		token := &BearerToken{
			ID:          uuid.New().String(),
			UserID:      user.ID,
			Fingerprint: name,
			Name:        name,
			CreatedAt:   time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := s.CreateBearerToken(ctx, token); err != nil {
			t.Fatalf("CreateBearerToken failed: %v", err)
		}
	}

	tokens, err := s.ListBearerTokens(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListBearerTokens failed: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("got %d tokens, want 2", len(tokens))
	}
	if tokens[0].Name != "second" {
		t.Errorf("newest first: got %q, want %q", tokens[0].Name, "second")
	}
}

func TestSessionExpiry(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, s, "alice")

	live := &Session{
		Fingerprint: "fp-live",
		UserID:      user.ID,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	expired := &Session{
		Fingerprint: "fp-expired",
		UserID:      user.ID,
		CreatedAt:   time.Now().Add(-2 * time.Hour),
		ExpiresAt:   time.Now().Add(-time.Hour),
	}
	for _, sess := range []*Session{live, expired} {
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}

	if _, err := s.GetSession(ctx, "fp-live"); err != nil {
		t.Errorf("live session lookup failed: %v", err)
	}
	if _, err := s.GetSession(ctx, "fp-expired"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired session should be ErrNotFound, got %v", err)
	}

	if err := s.DeleteExpiredSessions(ctx); err != nil {
		t.Fatalf("DeleteExpiredSessions failed: %v", err)
	}
	if _, err := s.GetSession(ctx, "fp-live"); err != nil {
		t.Errorf("live session removed by cleanup: %v", err)
	}
}

func TestDeleteSessionIdempotent(t *testing.T) {
	s := setupTestStore(t)

	if err := s.DeleteSession(context.Background(), "never-existed"); err != nil {
		t.Errorf("DeleteSession on missing session: %v", err)
	}
}

func TestConsumeRegistrationTokenOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, s, "alice")

	token := &RegistrationToken{
		ID:          uuid.New().String(),
		Fingerprint: "reg-fp",
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	if err := s.CreateRegistrationToken(ctx, token); err != nil {
		t.Fatalf("CreateRegistrationToken failed: %v", err)
	}

	if err := s.ConsumeRegistrationToken(ctx, token.ID, user.ID); err != nil {
		t.Fatalf("first consume failed: %v", err)
	}
	if err := s.ConsumeRegistrationToken(ctx, token.ID, user.ID); !errors.Is(err, ErrRegistrationTokenUsed) {
		t.Errorf("expected ErrRegistrationTokenUsed, got %v", err)
	}

	got, err := s.GetRegistrationTokenByFingerprint(ctx, "reg-fp")
	if err != nil {
		t.Fatalf("GetRegistrationTokenByFingerprint failed: %v", err)
	}
	if got.UsedAt == nil || got.UsedBy != user.ID {
		t.Errorf("token not recorded as used by %s: %+v", user.ID, got)
	}
}

func TestConsumeExpiredRegistrationToken(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	token := &RegistrationToken{
		ID:          uuid.New().String(),
		Fingerprint: "reg-expired",
		CreatedAt:   time.Now().Add(-2 * time.Hour),
		ExpiresAt:   time.Now().Add(-time.Hour),
	}
	if err := s.CreateRegistrationToken(ctx, token); err != nil {
		t.Fatalf("CreateRegistrationToken failed: %v", err)
	}

	if err := s.ConsumeRegistrationToken(ctx, token.ID, "someone"); !errors.Is(err, ErrRegistrationTokenExpired) {
		t.Errorf("expected ErrRegistrationTokenExpired, got %v", err)
	}
}

func TestConsumeChallengeOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	challenge := &Challenge{
		ID:          uuid.New().String(),
		Kind:        CeremonyAuthentication,
		SessionData: []byte(`{"challenge":"abc"}`),
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(5 * time.Minute),
	}
	if err := s.CreateChallenge(ctx, challenge); err != nil {
		t.Fatalf("CreateChallenge failed: %v", err)
	}

	got, err := s.GetChallenge(ctx, challenge.ID)
	if err != nil {
		t.Fatalf("GetChallenge failed: %v", err)
	}
	if string(got.SessionData) != `{"challenge":"abc"}` {
		t.Errorf("SessionData = %q", got.SessionData)
	}

	if err := s.ConsumeChallenge(ctx, challenge.ID); err != nil {
		t.Fatalf("first consume failed: %v", err)
	}
	if err := s.ConsumeChallenge(ctx, challenge.ID); !errors.Is(err, ErrChallengeConsumed) {
		t.Errorf("expected ErrChallengeConsumed, got %v", err)
	}
}

func TestConsumeExpiredChallenge(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	challenge := &Challenge{
		ID:          uuid.New().String(),
		Kind:        CeremonyRegistration,
		SessionData: []byte(`{}`),
		CreatedAt:   time.Now().Add(-10 * time.Minute),
		ExpiresAt:   time.Now().Add(-5 * time.Minute),
	}
	if err := s.CreateChallenge(ctx, challenge); err != nil {
		t.Fatalf("CreateChallenge failed: %v", err)
	}

	if err := s.ConsumeChallenge(ctx, challenge.ID); !errors.Is(err, ErrChallengeExpired) {
		t.Errorf("expected ErrChallengeExpired, got %v", err)
	}
}

func TestDeleteExpiredChallenges(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	live := &Challenge{
		ID:          uuid.New().String(),
		Kind:        CeremonyAuthentication,
		SessionData: []byte(`{}`),
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(5 * time.Minute),
	}
	stale := &Challenge{
		ID:          uuid.New().String(),
		Kind:        CeremonyAuthentication,
		SessionData: []byte(`{}`),
		CreatedAt:   time.Now().Add(-time.Hour),
		ExpiresAt:   time.Now().Add(-30 * time.Minute),
	}
	for _, c := range []*Challenge{live, stale} {
		if err := s.CreateChallenge(ctx, c); err != nil {
			t.Fatalf("CreateChallenge failed: %v", err)
		}
	}

	if err := s.DeleteExpiredChallenges(ctx); err != nil {
		t.Fatalf("DeleteExpiredChallenges failed: %v", err)
	}

	if _, err := s.GetChallenge(ctx, live.ID); err != nil {
		t.Errorf("live challenge removed: %v", err)
	}
	if _, err := s.GetChallenge(ctx, stale.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale challenge not removed, got %v", err)
	}
}

func TestHandoffLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, s, "alice")

	hc := &HandoffCode{
		ID:        uuid.New().String(),
		Code:      "ABCD-1234",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	if err := s.CreateHandoffCode(ctx, hc); err != nil {
		t.Fatalf("CreateHandoffCode failed: %v", err)
	}

	// Polling before approval reports not-ready.
	if _, err := s.CollectHandoffToken(ctx, "ABCD-1234"); !errors.Is(err, ErrHandoffNotReady) {
		t.Errorf("expected ErrHandoffNotReady before approval, got %v", err)
	}

	if err := s.ApproveHandoffCode(ctx, "ABCD-1234", user.ID, "secret-token"); err != nil {
		t.Fatalf("ApproveHandoffCode failed: %v", err)
	}

	got, err := s.GetHandoffCodeByCode(ctx, "ABCD-1234")
	if err != nil {
		t.Fatalf("GetHandoffCodeByCode failed: %v", err)
	}
	if got.Status != HandoffStatusApproved {
		t.Errorf("status = %q, want approved", got.Status)
	}
	if got.Token != "" {
		t.Error("GetHandoffCodeByCode leaked the token")
	}

	// Approving twice fails; the code is no longer pending.
	if err := s.ApproveHandoffCode(ctx, "ABCD-1234", user.ID, "other-token"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double approval, got %v", err)
	}

	token, err := s.CollectHandoffToken(ctx, "ABCD-1234")
	if err != nil {
		t.Fatalf("CollectHandoffToken failed: %v", err)
	}
	if token != "secret-token" {
		t.Errorf("token = %q, want %q", token, "secret-token")
	}

	// The token is gone after the first collection; the code is dead.
	if _, err := s.CollectHandoffToken(ctx, "ABCD-1234"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after claim, got %v", err)
	}
}

func TestHandoffExpiredCode(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	hc := &HandoffCode{
		ID:        uuid.New().String(),
		Code:      "OLD-CODE",
		CreatedAt: time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(-30 * time.Minute),
	}
	if err := s.CreateHandoffCode(ctx, hc); err != nil {
		t.Fatalf("CreateHandoffCode failed: %v", err)
	}

	if err := s.ApproveHandoffCode(ctx, "OLD-CODE", "user", "tok"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired code, got %v", err)
	}
	if _, err := s.CollectHandoffToken(ctx, "OLD-CODE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired code, got %v", err)
	}
}

func TestCoffeeEntities(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	roaster := &Roaster{
		ID:        uuid.New().String(),
		Name:      "Heart",
		Country:   "US",
		CreatedAt: time.Now(),
	}
	if err := s.CreateRoaster(ctx, roaster); err != nil {
		t.Fatalf("CreateRoaster failed: %v", err)
	}

	bag := &Bag{
		ID:        uuid.New().String(),
		RoasterID: roaster.ID,
		Name:      "Colombia Inza",
		CreatedAt: time.Now(),
	}
	if err := s.CreateBag(ctx, bag); err != nil {
		t.Fatalf("CreateBag failed: %v", err)
	}

	brew := &Brew{
		ID:        uuid.New().String(),
		BagID:     bag.ID,
		Method:    "v60",
		DoseG:     18,
		YieldG:    290,
		BrewedAt:  time.Now(),
		CreatedAt: time.Now(),
	}
	if err := s.CreateBrew(ctx, brew); err != nil {
		t.Fatalf("CreateBrew failed: %v", err)
	}

	roasters, err := s.ListRoasters(ctx)
	if err != nil || len(roasters) != 1 {
		t.Fatalf("ListRoasters = %v, %v", roasters, err)
	}
	bags, err := s.ListBags(ctx)
	if err != nil || len(bags) != 1 {
		t.Fatalf("ListBags = %v, %v", bags, err)
	}
	brews, err := s.ListBrews(ctx, 10)
	if err != nil || len(brews) != 1 {
		t.Fatalf("ListBrews = %v, %v", brews, err)
	}
	if brews[0].DoseG != 18 {
		t.Errorf("DoseG = %v, want 18", brews[0].DoseG)
	}
}
