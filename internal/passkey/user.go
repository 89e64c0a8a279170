// ABOUTME: Adapter exposing store users and credentials as webauthn.User
// ABOUTME: The WebAuthn user handle is the stable opaque Handle, never the username

package passkey

import (
	"encoding/json"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/grindlog/grindlog/internal/store"
)

// ceremonyUser implements webauthn.User over store types. For new-account
// registration, user carries a pending account that does not exist in the
// database yet.
type ceremonyUser struct {
	handle   string
	username string
	creds    []*store.PasskeyCredential
}

func newCeremonyUser(user *store.User, creds []*store.PasskeyCredential) *ceremonyUser {
	return &ceremonyUser{
		handle:   user.Handle,
		username: user.Username,
		creds:    creds,
	}
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return []byte(u.handle)
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.username
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.username
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.creds))
	for i, c := range u.creds {
		creds[i] = webauthn.Credential{
			ID:              c.CredentialID,
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignCount,
			},
		}
		if c.Transports != "" {
			var transports []protocol.AuthenticatorTransport
			_ = json.Unmarshal([]byte(c.Transports), &transports)
			creds[i].Transport = transports
		}
	}
	return creds
}
