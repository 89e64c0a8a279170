// ABOUTME: Request identity carried through context
// ABOUTME: Set by the auth middleware, read by handlers that need the caller

package auth

import "context"

// How a request authenticated.
const (
	MethodSession = "session"
	MethodToken   = "token"
)

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	UserID string
	Method string
}

type contextKey struct{}

// WithIdentity returns a context carrying the given identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext extracts the authenticated identity from a context, if any.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok
}
