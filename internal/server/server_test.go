// ABOUTME: HTTP-level tests for the server routes
// ABOUTME: Covers the auth gate, token management, invites, hand-off, and bootstrap

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/grindlog/grindlog/internal/auth"
	"github.com/grindlog/grindlog/internal/config"
	"github.com/grindlog/grindlog/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.SQLStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{}
	cfg.Server.Addr = "localhost:0"
	cfg.Server.BaseURL = "http://localhost:8080"
	cfg.Auth.RPID = "localhost"
	cfg.Auth.RPDisplayName = "grindlog"
	cfg.Auth.SessionTTL = time.Hour

	srv, err := New(cfg, st)
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	return srv, st
}

func createUser(t *testing.T, st *store.SQLStore, username string) *store.User {
	t.Helper()
	user := &store.User{
		ID:        uuid.New().String(),
		Username:  username,
		Handle:    uuid.New().String(),
		CreatedAt: time.Now(),
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	return user
}

func sessionCookie(t *testing.T, srv *Server, userID string) *http.Cookie {
	t.Helper()
	secret, err := srv.sessions.Create(context.Background(), userID)
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	return &http.Cookie{Name: auth.SessionCookieName, Value: secret}
}

func bearerToken(t *testing.T, srv *Server, userID string) string {
	t.Helper()
	_, secret, err := srv.tokens.Issue(context.Background(), userID, "test")
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}
	return secret
}

func doJSON(t *testing.T, srv *Server, method, path string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, "GET", "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestReadsArePublic(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/api/roasters", "/api/bags", "/api/brews"} {
		rec := doJSON(t, srv, "GET", path, nil, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestWritesAreGated(t *testing.T) {
	srv, _ := newTestServer(t)

	writes := []struct {
		method, path string
	}{
		{"POST", "/api/roasters"},
		{"POST", "/api/bags"},
		{"POST", "/api/brews"},
		{"POST", "/api/tokens"},
		{"GET", "/api/tokens"},
		{"POST", "/api/invites"},
		{"GET", "/api/auth/me"},
		{"POST", "/api/auth/cli/approve"},
		{"POST", "/api/auth/register/begin"},
	}
	for _, tt := range writes {
		rec := doJSON(t, srv, tt.method, tt.path, map[string]string{}, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s = %d, want 401", tt.method, tt.path, rec.Code)
		}
	}
}

func TestWriteWithBearerToken(t *testing.T) {
	srv, st := newTestServer(t)
	user := createUser(t, st, "alice")
	secret := bearerToken(t, srv, user.ID)

	rec := doJSON(t, srv, "POST", "/api/roasters",
		map[string]string{"name": "Heart", "country": "US"},
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+secret) })
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	list := doJSON(t, srv, "GET", "/api/roasters", nil, nil)
	if !strings.Contains(list.Body.String(), "Heart") {
		t.Errorf("created roaster missing from list: %s", list.Body.String())
	}
}

func TestWriteWithSessionCookie(t *testing.T) {
	srv, st := newTestServer(t)
	user := createUser(t, st, "alice")
	cookie := sessionCookie(t, srv, user.ID)

	rec := doJSON(t, srv, "POST", "/api/roasters",
		map[string]string{"name": "Tim Wendelboe"},
		func(r *http.Request) { r.AddCookie(cookie) })
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
}

func TestTokenLifecycleOverHTTP(t *testing.T) {
	srv, st := newTestServer(t)
	user := createUser(t, st, "alice")
	cookie := sessionCookie(t, srv, user.ID)

	// Create: the plaintext appears exactly once.
	rec := doJSON(t, srv, "POST", "/api/tokens",
		map[string]string{"name": "laptop-cli"},
		func(r *http.Request) { r.AddCookie(cookie) })
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}
	decodeBody(t, rec, &created)
	if created.Token == "" {
		t.Fatal("no plaintext token in creation response")
	}

	// The new token authenticates.
	rec = doJSON(t, srv, "GET", "/api/auth/me", nil,
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+created.Token) })
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d", rec.Code)
	}

	// Listing never exposes the secret or its fingerprint.
	rec = doJSON(t, srv, "GET", "/api/tokens", nil,
		func(r *http.Request) { r.AddCookie(cookie) })
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), created.Token) {
		t.Error("token list leaked the plaintext")
	}
	if strings.Contains(rec.Body.String(), auth.Fingerprint(created.Token)) {
		t.Error("token list leaked the fingerprint")
	}

	// Revoke, then the token stops working.
	rec = doJSON(t, srv, "DELETE", "/api/tokens/"+created.ID, nil,
		func(r *http.Request) { r.AddCookie(cookie) })
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, "GET", "/api/auth/me", nil,
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+created.Token) })
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("revoked token still works: status = %d", rec.Code)
	}
}

func TestRevokeOtherUsersTokenOverHTTP(t *testing.T) {
	srv, st := newTestServer(t)
	alice := createUser(t, st, "alice")
	bob := createUser(t, st, "bob")

	bobToken, _, err := srv.tokens.Issue(context.Background(), bob.ID, "bobs")
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}

	cookie := sessionCookie(t, srv, alice.ID)
	rec := doJSON(t, srv, "DELETE", "/api/tokens/"+bobToken.ID, nil,
		func(r *http.Request) { r.AddCookie(cookie) })
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestInviteFlow(t *testing.T) {
	srv, st := newTestServer(t)
	user := createUser(t, st, "alice")
	cookie := sessionCookie(t, srv, user.ID)

	rec := doJSON(t, srv, "POST", "/api/invites", nil,
		func(r *http.Request) { r.AddCookie(cookie) })
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		URL string `json:"url"`
	}
	decodeBody(t, rec, &resp)

	idx := strings.Index(resp.URL, "token=")
	if idx < 0 {
		t.Fatalf("no token in invite URL: %q", resp.URL)
	}
	secret := resp.URL[idx+len("token="):]

	// The invite secret opens a signup ceremony.
	rec = doJSON(t, srv, "POST", "/api/auth/signup/begin",
		map[string]string{"registration_token": secret, "username": "newbie"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("signup begin status = %d: %s", rec.Code, rec.Body.String())
	}

	var begin struct {
		ChallengeID string `json:"challenge_id"`
	}
	decodeBody(t, rec, &begin)
	if begin.ChallengeID == "" {
		t.Error("no challenge ID returned")
	}
}

func TestSignupBeginRejectsBadLink(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/api/auth/signup/begin",
		map[string]string{"registration_token": "bogus", "username": "someone"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, srv, "POST", "/api/auth/signup/begin",
		map[string]string{"registration_token": "bogus", "username": "x"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("short username: status = %d, want 400", rec.Code)
	}
}

func TestLoginBeginDiscoverable(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/api/auth/login/begin", map[string]string{}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var begin struct {
		ChallengeID string `json:"challenge_id"`
		Options     any    `json:"options"`
	}
	decodeBody(t, rec, &begin)
	if begin.ChallengeID == "" || begin.Options == nil {
		t.Error("missing challenge or options")
	}
}

func TestLoginBeginUnknownUsername(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/api/auth/login/begin",
		map[string]string{"username": "ghost"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without revealing the username is unknown", rec.Code)
	}
}

func TestLoginFinishGarbage(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/api/auth/login/begin", map[string]string{}, nil)
	var begin struct {
		ChallengeID string `json:"challenge_id"`
	}
	decodeBody(t, rec, &begin)

	rec = doJSON(t, srv, "POST", "/api/auth/login/finish",
		map[string]any{"challenge_id": begin.ChallengeID, "response": map[string]string{}}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}

	// The challenge is burned; replay reports it.
	rec = doJSON(t, srv, "POST", "/api/auth/login/finish",
		map[string]any{"challenge_id": begin.ChallengeID, "response": map[string]string{}}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("replay status = %d, want 400", rec.Code)
	}
}

func TestLogout(t *testing.T) {
	srv, st := newTestServer(t)
	user := createUser(t, st, "alice")
	cookie := sessionCookie(t, srv, user.ID)

	rec := doJSON(t, srv, "POST", "/api/auth/logout", nil,
		func(r *http.Request) { r.AddCookie(cookie) })
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	// The session no longer authenticates.
	rec = doJSON(t, srv, "GET", "/api/auth/me", nil,
		func(r *http.Request) { r.AddCookie(cookie) })
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("session survived logout: status = %d", rec.Code)
	}

	// Logging out twice is fine.
	rec = doJSON(t, srv, "POST", "/api/auth/logout", nil,
		func(r *http.Request) { r.AddCookie(cookie) })
	if rec.Code != http.StatusOK {
		t.Errorf("second logout status = %d", rec.Code)
	}
}

func TestHandoffFlowOverHTTP(t *testing.T) {
	srv, st := newTestServer(t)
	user := createUser(t, st, "alice")
	cookie := sessionCookie(t, srv, user.ID)

	rec := doJSON(t, srv, "POST", "/api/auth/cli/start", nil, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d: %s", rec.Code, rec.Body.String())
	}
	var started struct {
		Code string `json:"code"`
	}
	decodeBody(t, rec, &started)
	if len(started.Code) != 9 || started.Code[4] != '-' {
		t.Errorf("unexpected code format: %q", started.Code)
	}

	// Pending until the browser approves.
	rec = doJSON(t, srv, "GET", "/api/auth/cli/poll?code="+started.Code, nil, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("poll status = %d, want 202", rec.Code)
	}

	rec = doJSON(t, srv, "POST", "/api/auth/cli/approve",
		map[string]string{"code": started.Code, "name": "work-laptop"},
		func(r *http.Request) { r.AddCookie(cookie) })
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d: %s", rec.Code, rec.Body.String())
	}

	// The token comes out exactly once.
	rec = doJSON(t, srv, "GET", "/api/auth/cli/poll?code="+started.Code, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("poll status = %d: %s", rec.Code, rec.Body.String())
	}
	var ready struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &ready)
	if ready.Token == "" {
		t.Fatal("no token returned")
	}

	rec = doJSON(t, srv, "GET", "/api/auth/cli/poll?code="+started.Code, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second poll status = %d, want 404", rec.Code)
	}

	// The handed-off token authenticates as the approving user.
	rec = doJSON(t, srv, "GET", "/api/auth/me", nil,
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+ready.Token) })
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d", rec.Code)
	}
	var me struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &me)
	if me.ID != user.ID {
		t.Errorf("token belongs to %q, want %q", me.ID, user.ID)
	}
}

func TestHandoffApproveUnknownCode(t *testing.T) {
	srv, st := newTestServer(t)
	user := createUser(t, st, "alice")
	cookie := sessionCookie(t, srv, user.ID)

	rec := doJSON(t, srv, "POST", "/api/auth/cli/approve",
		map[string]string{"code": "XXXX-XXXX"},
		func(r *http.Request) { r.AddCookie(cookie) })
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	// The token minted for the failed approval must not be live.
	tokens, err := st.ListBearerTokens(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("listing tokens: %v", err)
	}
	for _, tok := range tokens {
		if !tok.Revoked() {
			t.Errorf("orphaned live token %q after failed approval", tok.Name)
		}
	}
}

func TestHandoffApproveRequiresSession(t *testing.T) {
	srv, st := newTestServer(t)
	user := createUser(t, st, "alice")
	secret := bearerToken(t, srv, user.ID)

	rec := doJSON(t, srv, "POST", "/api/auth/cli/approve",
		map[string]string{"code": "XXXX-XXXX"},
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+secret) })
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bearer token approved a hand-off: status = %d", rec.Code)
	}
}

func TestHandoffPollOutlastsCeremonyRateLimit(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/api/auth/cli/start", nil, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d", rec.Code)
	}
	var started struct {
		Code string `json:"code"`
	}
	decodeBody(t, rec, &started)

	// A waiting CLI polls every couple of seconds from one IP. A minute's
	// worth of polls after the start request must never be rejected.
	path := "/api/auth/cli/poll?code=" + started.Code
	for i := 0; i < 40; i++ {
		rec := doJSON(t, srv, "GET", path, nil, nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("poll %d status = %d, want 202", i+1, rec.Code)
		}
	}
}

func TestBootstrap(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	url, err := srv.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if !strings.HasPrefix(url, "http://localhost:8080/signup?token=") {
		t.Fatalf("unexpected bootstrap URL: %q", url)
	}

	// The minted link opens a signup ceremony.
	secret := strings.TrimPrefix(url, "http://localhost:8080/signup?token=")
	rec := doJSON(t, srv, "POST", "/api/auth/signup/begin",
		map[string]string{"registration_token": secret, "username": "firstuser"}, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("bootstrap link rejected: %d %s", rec.Code, rec.Body.String())
	}

	// Once a user exists, startup mints nothing.
	createUser(t, st, "alice")
	url, err = srv.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if url != "" {
		t.Errorf("bootstrap minted a link with existing users: %q", url)
	}
}
