package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/mnehpets/a2aserve/a2a"
	"golang.org/x/oauth2"
)

// ErrNoVerifier is returned by Registry.Verify when no registered provider
// can verify tokens.
var ErrNoVerifier = errors.New("auth: no token verifier registered")

// Provider is an identity provider whose tokens callers present as bearer
// credentials.
type Provider struct {
	id       string
	issuer   string
	config   *oauth2.Config
	verifier *oidc.IDTokenVerifier // nil for plain OAuth2 providers
}

// NewProvider creates a Provider. verifier may be nil, in which case the
// provider is advertised but never verifies tokens.
func NewProvider(id, issuer string, config *oauth2.Config, verifier *oidc.IDTokenVerifier) *Provider {
	return &Provider{
		id:       id,
		issuer:   issuer,
		config:   config,
		verifier: verifier,
	}
}

// ID returns the provider identifier.
func (p *Provider) ID() string {
	return p.id
}

// Issuer returns the OIDC issuer URL, empty for plain OAuth2 providers.
func (p *Provider) Issuer() string {
	return p.issuer
}

// Config returns the oauth2.Config for the provider.
func (p *Provider) Config() *oauth2.Config {
	return p.config
}

// Verifier returns the OIDC IDTokenVerifier, if available.
func (p *Provider) Verifier() *oidc.IDTokenVerifier {
	return p.verifier
}

// SecurityScheme describes the provider for an agent card. OIDC providers
// advertise their discovery document; others advertise their OAuth2 flow.
func (p *Provider) SecurityScheme() a2a.SecurityScheme {
	if p.issuer != "" {
		return a2a.SecurityScheme{
			Type:             a2a.SecuritySchemeOpenIDConnect,
			OpenIDConnectURL: strings.TrimSuffix(p.issuer, "/") + "/.well-known/openid-configuration",
		}
	}
	scheme := a2a.SecurityScheme{Type: a2a.SecuritySchemeOAuth2, Flows: &a2a.OAuthFlows{}}
	if p.config == nil {
		return scheme
	}
	scopes := make(map[string]string, len(p.config.Scopes))
	for _, s := range p.config.Scopes {
		scopes[s] = ""
	}
	flow := &a2a.OAuthFlow{
		AuthorizationURL: p.config.Endpoint.AuthURL,
		TokenURL:         p.config.Endpoint.TokenURL,
		Scopes:           scopes,
	}
	if flow.AuthorizationURL != "" {
		scheme.Flows.AuthorizationCode = flow
	} else {
		scheme.Flows.ClientCredentials = flow
	}
	return scheme
}

// Registry manages the set of registered providers. Providers are
// registered at startup; the registry is read-only while serving.
type Registry struct {
	providers map[string]*Provider
	order     []string
}

// NewRegistry creates a new, empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*Provider),
	}
}

// Register adds a provider to the registry, replacing any with the same ID.
func (r *Registry) Register(p *Provider) {
	if _, ok := r.providers[p.ID()]; !ok {
		r.order = append(r.order, p.ID())
	}
	r.providers[p.ID()] = p
}

// Get retrieves a provider by ID.
func (r *Registry) Get(id string) (*Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	return len(r.order)
}

// SecuritySchemes returns the agent card security schemes keyed by
// provider ID.
func (r *Registry) SecuritySchemes() map[string]a2a.SecurityScheme {
	schemes := make(map[string]a2a.SecurityScheme, len(r.order))
	for _, id := range r.order {
		schemes[id] = r.providers[id].SecurityScheme()
	}
	return schemes
}

// Verify checks rawToken against each provider with a verifier, in
// registration order, and returns the principal for the first that accepts
// it.
func (r *Registry) Verify(ctx context.Context, rawToken string) (*Principal, error) {
	var errs []error
	for _, id := range r.order {
		p := r.providers[id]
		if p.verifier == nil {
			continue
		}
		token, err := p.verifier.Verify(ctx, rawToken)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		return NewPrincipal(token, id)
	}
	if len(errs) == 0 {
		return nil, ErrNoVerifier
	}
	return nil, errors.Join(errs...)
}

// OIDCProviderOption configures the token verifier for an OIDC provider.
type OIDCProviderOption func(*oidc.Config)

// WithSkipIssuerCheck disables issuer validation in the token verifier.
// Use this for providers that issue tokens with a per-tenant issuer (e.g.,
// Microsoft via the /common endpoint).
func WithSkipIssuerCheck() OIDCProviderOption {
	return func(c *oidc.Config) {
		c.SkipIssuerCheck = true
	}
}

// WithSkipClientIDCheck accepts tokens issued for any audience.
func WithSkipClientIDCheck() OIDCProviderOption {
	return func(c *oidc.Config) {
		c.SkipClientIDCheck = true
	}
}

// RegisterOIDCProvider performs OIDC discovery for issuer and registers a
// provider that verifies tokens issued to clientID.
func (r *Registry) RegisterOIDCProvider(ctx context.Context, id, issuer, clientID string, scopes []string, opts ...OIDCProviderOption) error {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return fmt.Errorf("failed to query provider %q: %v", issuer, err)
	}

	conf := &oauth2.Config{
		ClientID: clientID,
		Endpoint: provider.Endpoint(),
		Scopes:   scopes,
	}

	verifierConfig := &oidc.Config{ClientID: clientID}
	for _, opt := range opts {
		opt(verifierConfig)
	}

	r.Register(NewProvider(id, issuer, conf, provider.Verifier(verifierConfig)))
	return nil
}

// RegisterVerifier registers a provider backed by an existing verifier, for
// deployments with static signing keys.
func (r *Registry) RegisterVerifier(id, issuer string, verifier *oidc.IDTokenVerifier) {
	r.Register(NewProvider(id, issuer, nil, verifier))
}

// RegisterOAuth2Provider registers a standard OAuth2 provider (without OIDC
// discovery). It is advertised in the agent card but verifies no tokens.
func (r *Registry) RegisterOAuth2Provider(id string, config *oauth2.Config) {
	r.Register(NewProvider(id, "", config, nil))
}
