package auth

import (
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// GetVerifiedEmail returns the email address from the ID Token if the email_verified claim is true.
// Returns empty string and false if not verified or email is missing.
func GetVerifiedEmail(token *oidc.IDToken) (string, bool) {
	if token == nil {
		return "", false
	}
	var claims oidc.UserInfo
	if err := token.Claims(&claims); err != nil {
		return "", false
	}
	if !claims.EmailVerified || claims.Email == "" {
		return "", false
	}
	return claims.Email, true
}

// GetStableID returns a stable identifier for the user based on the provider ID and the subject claim.
// Format: "provider:subject"
func GetStableID(token *oidc.IDToken, providerID string) string {
	if token == nil {
		return ""
	}
	return fmt.Sprintf("%s:%s", providerID, token.Subject)
}

// NewPrincipal builds the Principal for a verified token. Name is the
// verified email when present, otherwise the subject.
func NewPrincipal(token *oidc.IDToken, providerID string) (*Principal, error) {
	if token == nil {
		return nil, fmt.Errorf("auth: nil token")
	}
	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("auth: reading claims: %w", err)
	}
	name, ok := GetVerifiedEmail(token)
	if !ok {
		name = token.Subject
	}
	return &Principal{
		ID:         GetStableID(token, providerID),
		Name:       name,
		ProviderID: providerID,
		Claims:     claims,
	}, nil
}
