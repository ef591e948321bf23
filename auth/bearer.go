package auth

import (
	"net/http"
	"strings"

	"github.com/mnehpets/a2aserve/endpoint"
)

// BearerProcessor authenticates requests that carry an
// "Authorization: Bearer <token>" header against a Registry. On success the
// verified *Principal is stored with WithUser.
//
// Requests without a bearer token pass through unchanged unless the
// processor is configured with WithRequired.
type BearerProcessor struct {
	registry *Registry
	required bool
	realm    string
}

// BearerOption configures a BearerProcessor.
type BearerOption func(*BearerProcessor)

// WithRequired rejects requests that carry no bearer token with 401.
func WithRequired() BearerOption {
	return func(p *BearerProcessor) {
		p.required = true
	}
}

// WithRealm sets the realm reported in WWW-Authenticate challenges.
func WithRealm(realm string) BearerOption {
	return func(p *BearerProcessor) {
		p.realm = realm
	}
}

// NewBearerProcessor creates a BearerProcessor backed by registry.
func NewBearerProcessor(registry *Registry, opts ...BearerOption) *BearerProcessor {
	p := &BearerProcessor{registry: registry}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process implements endpoint.Processor.
func (p *BearerProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	raw, present := bearerToken(r.Header.Get("Authorization"))
	if !present {
		if p.required {
			w.Header().Set("WWW-Authenticate", p.challenge(""))
			return endpoint.Error(http.StatusUnauthorized, "bearer token required", nil)
		}
		return next(w, r)
	}
	if raw == "" {
		w.Header().Set("WWW-Authenticate", p.challenge("invalid_request"))
		return endpoint.Error(http.StatusUnauthorized, "empty bearer token", nil)
	}

	principal, err := p.registry.Verify(r.Context(), raw)
	if err != nil {
		w.Header().Set("WWW-Authenticate", p.challenge("invalid_token"))
		return endpoint.Error(http.StatusUnauthorized, "invalid bearer token", err)
	}
	return next(w, r.WithContext(WithUser(r.Context(), principal)))
}

func (p *BearerProcessor) challenge(errCode string) string {
	var params []string
	if p.realm != "" {
		params = append(params, `realm="`+p.realm+`"`)
	}
	if errCode != "" {
		params = append(params, `error="`+errCode+`"`)
	}
	if len(params) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(params, ", ")
}

// bearerToken extracts the token from an Authorization header value. present
// reports whether the header uses the Bearer scheme at all.
func bearerToken(header string) (token string, present bool) {
	scheme, rest, _ := strings.Cut(strings.TrimSpace(header), " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
