// ABOUTME: Store interfaces and data types for grindlog persistence
// ABOUTME: Defines users, credentials, tokens, sessions, challenges, and coffee entities

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrUserExists is returned when trying to create a user with an existing username.
var ErrUserExists = errors.New("username already exists")

// ErrCredentialExists is returned when an authenticator credential ID is already registered.
var ErrCredentialExists = errors.New("credential already registered")

// ErrRegistrationTokenUsed is returned when consuming an already-used registration token.
var ErrRegistrationTokenUsed = errors.New("registration token already used")

// ErrRegistrationTokenExpired is returned when consuming an expired registration token.
var ErrRegistrationTokenExpired = errors.New("registration token expired")

// ErrChallengeConsumed is returned when a ceremony challenge is completed twice.
var ErrChallengeConsumed = errors.New("challenge already consumed")

// ErrChallengeExpired is returned when a ceremony challenge is past its TTL.
var ErrChallengeExpired = errors.New("challenge expired")

// ErrHandoffNotReady is returned when polling a hand-off code that has no token yet.
var ErrHandoffNotReady = errors.New("hand-off not approved yet")

// User represents an account holder. Handle is the stable opaque WebAuthn
// user handle (a UUID), distinct from the mutable-in-principle username.
type User struct {
	ID        string
	Username  string
	Handle    string
	CreatedAt time.Time
}

// PasskeyCredential represents a registered WebAuthn credential.
type PasskeyCredential struct {
	ID              string
	UserID          string
	CredentialID    []byte
	PublicKey       []byte
	AttestationType string
	Transports      string // JSON array
	SignCount       uint32
	Name            string
	CreatedAt       time.Time
	LastUsedAt      *time.Time
}

// BearerToken represents an API token. Only the SHA-256 fingerprint of the
// secret is stored; the plaintext is shown once at creation.
type BearerToken struct {
	ID          string
	UserID      string
	Fingerprint string
	Name        string
	CreatedAt   time.Time
	LastUsedAt  *time.Time
	RevokedAt   *time.Time
}

// Revoked reports whether the token has been revoked.
func (t *BearerToken) Revoked() bool {
	return t.RevokedAt != nil
}

// Session represents a browser session. The row is keyed by the SHA-256
// fingerprint of the cookie secret. Expiry is absolute, not sliding.
type Session struct {
	Fingerprint string
	UserID      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// RegistrationToken represents a single-use signup link secret. CreatedBy is
// empty for the first-run bootstrap token.
type RegistrationToken struct {
	ID          string
	Fingerprint string
	CreatedBy   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	UsedAt      *time.Time
	UsedBy      string
}

// Ceremony kinds for Challenge.Kind.
const (
	CeremonyRegistration   = "registration"
	CeremonyAuthentication = "authentication"
)

// Challenge holds the server side of an in-flight WebAuthn ceremony. The two
// legs of a ceremony are independent HTTP requests, so this state lives in the
// database rather than process memory. A challenge is consumed exactly once,
// whether the finishing response verifies or not.
type Challenge struct {
	ID          string
	Kind        string
	UserID      string // set for existing-user ceremonies
	Username    string // pending account, registration-token path only
	UserHandle  string // pending account, registration-token path only
	RegTokenID  string // registration token backing a new-account ceremony
	SessionData []byte // serialized webauthn session data
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
}

// Hand-off code statuses.
const (
	HandoffStatusPending  = "pending"
	HandoffStatusApproved = "approved"
	HandoffStatusClaimed  = "claimed"
)

// HandoffCode links a CLI login attempt to a browser approval. Token holds the
// minted bearer secret between approval and the single collection by the CLI.
type HandoffCode struct {
	ID        string
	Code      string
	Status    string
	UserID    string
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Roaster represents a coffee roaster. Served as-is on the public read API,
// hence the json tags.
type Roaster struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Country   string    `json:"country,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Bag represents a purchased bag of roasted coffee.
type Bag struct {
	ID         string    `json:"id"`
	RoasterID  string    `json:"roaster_id"`
	Name       string    `json:"name"`
	RoastLevel string    `json:"roast_level,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Brew represents one brewing of coffee from a bag.
type Brew struct {
	ID        string    `json:"id"`
	BagID     string    `json:"bag_id"`
	Method    string    `json:"method"`
	DoseG     float64   `json:"dose_g"`
	YieldG    float64   `json:"yield_g"`
	Notes     string    `json:"notes,omitempty"`
	BrewedAt  time.Time `json:"brewed_at"`
	CreatedAt time.Time `json:"created_at"`
}

// UserStore defines user persistence.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByHandle(ctx context.Context, handle string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	CountUsers(ctx context.Context) (int, error)
	DeleteUser(ctx context.Context, id string) error
}

// CredentialStore defines passkey credential persistence.
type CredentialStore interface {
	CreateCredential(ctx context.Context, cred *PasskeyCredential) error
	GetCredentialsByUser(ctx context.Context, userID string) ([]*PasskeyCredential, error)
	GetCredentialByCredentialID(ctx context.Context, credentialID []byte) (*PasskeyCredential, error)
	UpdateCredentialSignCount(ctx context.Context, id string, signCount uint32) error
	TouchCredential(ctx context.Context, id string, when time.Time) error
	DeleteCredential(ctx context.Context, id string) error
}

// TokenStore defines bearer token persistence. Lookups are by fingerprint
// only; the store never sees a plaintext secret.
type TokenStore interface {
	CreateBearerToken(ctx context.Context, token *BearerToken) error
	GetBearerTokenByFingerprint(ctx context.Context, fingerprint string) (*BearerToken, error)
	ListBearerTokens(ctx context.Context, userID string) ([]*BearerToken, error)
	TouchBearerToken(ctx context.Context, id string, when time.Time) error
	RevokeBearerToken(ctx context.Context, id string) error
}

// SessionStore defines session persistence.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	// GetSession returns only sessions that have not yet expired.
	GetSession(ctx context.Context, fingerprint string) (*Session, error)
	DeleteSession(ctx context.Context, fingerprint string) error
	DeleteExpiredSessions(ctx context.Context) error
}

// RegistrationTokenStore defines one-time signup token persistence.
type RegistrationTokenStore interface {
	CreateRegistrationToken(ctx context.Context, token *RegistrationToken) error
	GetRegistrationTokenByFingerprint(ctx context.Context, fingerprint string) (*RegistrationToken, error)
	// ConsumeRegistrationToken atomically marks a token used by userID.
	// Returns ErrRegistrationTokenUsed, ErrRegistrationTokenExpired, or
	// ErrNotFound when the token cannot be consumed.
	ConsumeRegistrationToken(ctx context.Context, id, userID string) error
}

// ChallengeStore defines ceremony challenge persistence.
type ChallengeStore interface {
	CreateChallenge(ctx context.Context, challenge *Challenge) error
	GetChallenge(ctx context.Context, id string) (*Challenge, error)
	// ConsumeChallenge atomically invalidates a challenge. At most one
	// caller wins; everyone else gets ErrChallengeConsumed,
	// ErrChallengeExpired, or ErrNotFound.
	ConsumeChallenge(ctx context.Context, id string) error
	DeleteExpiredChallenges(ctx context.Context) error
}

// HandoffStore defines CLI hand-off code persistence.
type HandoffStore interface {
	CreateHandoffCode(ctx context.Context, code *HandoffCode) error
	GetHandoffCodeByCode(ctx context.Context, code string) (*HandoffCode, error)
	// ApproveHandoffCode attaches a minted token to a pending, unexpired code.
	ApproveHandoffCode(ctx context.Context, code, userID, token string) error
	// CollectHandoffToken hands the token to the CLI exactly once, clearing
	// it from the row.
	CollectHandoffToken(ctx context.Context, code string) (string, error)
	DeleteExpiredHandoffCodes(ctx context.Context) error
}

// CoffeeStore defines persistence for the coffee-tracking entities whose
// write routes the auth middleware gates.
type CoffeeStore interface {
	CreateRoaster(ctx context.Context, roaster *Roaster) error
	ListRoasters(ctx context.Context) ([]*Roaster, error)
	CreateBag(ctx context.Context, bag *Bag) error
	ListBags(ctx context.Context) ([]*Bag, error)
	CreateBrew(ctx context.Context, brew *Brew) error
	ListBrews(ctx context.Context, limit int) ([]*Brew, error)
}

// Store combines all persistence concerns behind one swap point. There is one
// implementation per backend (SQLite, PostgreSQL).
type Store interface {
	UserStore
	CredentialStore
	TokenStore
	SessionStore
	RegistrationTokenStore
	ChallengeStore
	HandoffStore
	CoffeeStore

	// Close releases any resources held by the store
	Close() error
}
