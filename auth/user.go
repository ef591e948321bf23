package auth

import "context"

// User is the caller identity attached to a request.
type User interface {
	IsAuthenticated() bool
	// UserName returns a display name; empty for unauthenticated users.
	UserName() string
}

// UnauthenticatedUser is the identity of a caller that presented no valid
// credentials.
type UnauthenticatedUser struct{}

func (UnauthenticatedUser) IsAuthenticated() bool { return false }
func (UnauthenticatedUser) UserName() string      { return "" }

// Principal is an authenticated caller.
type Principal struct {
	// ID is stable across sessions, see GetStableID.
	ID string `cbor:"1,keyasint"`
	// Name is the verified email when available, otherwise the subject.
	Name       string `cbor:"2,keyasint"`
	ProviderID string `cbor:"3,keyasint"`
	// Claims holds the verified token claims.
	Claims map[string]any `cbor:"4,keyasint,omitempty"`
}

func (p *Principal) IsAuthenticated() bool { return p != nil }

func (p *Principal) UserName() string {
	if p == nil {
		return ""
	}
	return p.Name
}

type userContextKey struct{}

// WithUser stores u in ctx and returns the derived context.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userContextKey{}, u)
}

// UserFromContext returns the User stored in ctx, if any.
func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userContextKey{}).(User)
	if !ok || u == nil {
		return nil, false
	}
	return u, true
}
