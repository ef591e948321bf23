package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mnehpets/a2aserve/a2a"
	"github.com/mnehpets/a2aserve/auth"
	"github.com/mnehpets/a2aserve/endpoint"
)

// Agent card paths.
const (
	AgentCardPath         = "/.well-known/agent.json"
	AgentCardAliasPath    = "/.well-known/agent-card.json"
	ExtendedAgentCardPath = "/agent/authenticatedExtendedCard"
)

const (
	extendedCardNotSupported = "Extended agent card not supported or not enabled."
	extendedCardMissing      = "Authenticated extended agent card is supported but not configured on the server."
)

// cardDocument is an agent card encoded once at startup.
type cardDocument struct {
	body json.RawMessage
	etag string
}

func newCardDocument(card *a2a.AgentCard) (*cardDocument, error) {
	b, err := json.Marshal(card)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(b)
	return &cardDocument{body: b, etag: `"` + hex.EncodeToString(sum[:16]) + `"`}, nil
}

type cardParams struct {
	IfNoneMatch string `header:"If-None-Match"`
}

// etagMatches reports whether an If-None-Match value names etag.
func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

func allowGet(w http.ResponseWriter, r *http.Request) error {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return nil
	}
	w.Header().Set("Allow", "GET, HEAD")
	return endpoint.Error(http.StatusMethodNotAllowed, "", nil)
}

// render serves the document, honouring conditional requests.
func (d *cardDocument) render(w http.ResponseWriter, p cardParams, cacheControl string) endpoint.Renderer {
	w.Header().Set("ETag", d.etag)
	w.Header().Set("Cache-Control", cacheControl)
	if p.IfNoneMatch != "" && etagMatches(p.IfNoneMatch, d.etag) {
		return &endpoint.NoContentRenderer{Status: http.StatusNotModified}
	}
	return &endpoint.JSONRenderer{Value: d.body}
}

// publicCard serves the agent card.
func (s *Server) publicCard(w http.ResponseWriter, r *http.Request, p cardParams) (endpoint.Renderer, error) {
	if err := allowGet(w, r); err != nil {
		return nil, err
	}
	return s.card.render(w, p, "public, max-age=300"), nil
}

// extendedCard serves the extended agent card to authenticated callers.
func (s *Server) extendedCard(w http.ResponseWriter, r *http.Request, p cardParams) (endpoint.Renderer, error) {
	if err := allowGet(w, r); err != nil {
		return nil, err
	}
	if !s.supportsExtendedCard {
		return &endpoint.JSONRenderer{Status: http.StatusNotFound, Value: map[string]string{"error": extendedCardNotSupported}}, nil
	}
	if s.extended == nil {
		return &endpoint.JSONRenderer{Status: http.StatusNotFound, Value: map[string]string{"error": extendedCardMissing}}, nil
	}
	return s.extended.render(w, p, "private, no-cache"), nil
}

// requireUser rejects callers that no authentication processor identified.
func requireUser(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	if u, ok := auth.UserFromContext(r.Context()); ok && u.IsAuthenticated() {
		return next(w, r)
	}
	w.Header().Set("WWW-Authenticate", "Bearer")
	return endpoint.Error(http.StatusUnauthorized, "authentication required", nil)
}

// advertise adds the registry's security schemes to a card that declares
// none. The card is copied, never modified.
func advertise(card *a2a.AgentCard, reg *auth.Registry) *a2a.AgentCard {
	if reg == nil || reg.Len() == 0 || len(card.SecuritySchemes) > 0 {
		return card
	}
	c := *card
	c.SecuritySchemes = reg.SecuritySchemes()
	c.Security = nil
	for id := range c.SecuritySchemes {
		c.Security = append(c.Security, map[string][]string{id: {}})
	}
	return &c
}
