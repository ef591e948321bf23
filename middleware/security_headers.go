package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/mnehpets/a2aserve/endpoint"
)

// HeadersProcessor sets security headers suited to a JSON API and, when
// configured, answers CORS for browser-based agent clients.
//
// Defaults:
//   - Strict-Transport-Security: max-age=31536000; includeSubDomains
//   - Referrer-Policy: no-referrer
//   - X-Frame-Options: DENY
//   - X-Content-Type-Options: nosniff
//   - Content-Security-Policy: default-src 'none'; frame-ancestors 'none'
//   - Cross-Origin-Resource-Policy: same-origin (cross-origin when CORS is on)
//
// CORS preflight requests (OPTIONS with Origin and
// Access-Control-Request-Method) are answered with 204 without reaching the
// endpoint.
type HeadersProcessor struct {
	// HSTS is the Strict-Transport-Security value; empty disables it.
	HSTS string
	// ReferrerPolicy is the Referrer-Policy value; empty disables it.
	ReferrerPolicy string
	// FrameOptions is the X-Frame-Options value; empty disables it.
	FrameOptions string
	// ContentTypeOptions enables X-Content-Type-Options: nosniff.
	ContentTypeOptions bool
	// ContentSecurityPolicy is the Content-Security-Policy value; empty disables it.
	ContentSecurityPolicy string
	// CrossOriginResourcePolicy is the Cross-Origin-Resource-Policy value;
	// empty disables it.
	CrossOriginResourcePolicy string
	// CORS configures cross-origin access; nil disables it.
	CORS *CORSConfig
}

// CORSConfig configures Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	// AllowedOrigins lists the origins allowed to call the API. "*" allows
	// any origin unless AllowCredentials is set.
	AllowedOrigins []string
	// AllowedMethods defaults to GET, POST, OPTIONS.
	AllowedMethods []string
	// AllowedHeaders defaults to Accept, Authorization, Content-Type,
	// Last-Event-ID.
	AllowedHeaders []string
	// ExposedHeaders lists response headers readable by the client.
	ExposedHeaders []string
	// AllowCredentials allows cookies and auth headers on cross-origin calls.
	AllowCredentials bool
	// MaxAge is how long (in seconds) a preflight result may be cached.
	// Default: 3600
	MaxAge int
}

// HeadersOption configures a HeadersProcessor.
type HeadersOption func(*HeadersProcessor)

// NewHeadersProcessor creates a HeadersProcessor with API defaults.
func NewHeadersProcessor(opts ...HeadersOption) *HeadersProcessor {
	p := &HeadersProcessor{
		HSTS:                      formatHSTS(31536000, true, false),
		ReferrerPolicy:            "no-referrer",
		FrameOptions:              "DENY",
		ContentTypeOptions:        true,
		ContentSecurityPolicy:     "default-src 'none'; frame-ancestors 'none'",
		CrossOriginResourcePolicy: "same-origin",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithHSTS configures HSTS; a non-positive maxAge disables it.
func WithHSTS(maxAge int, includeSubDomains, preload bool) HeadersOption {
	return func(p *HeadersProcessor) {
		p.HSTS = formatHSTS(maxAge, includeSubDomains, preload)
	}
}

// WithoutHSTS disables HSTS headers.
func WithoutHSTS() HeadersOption {
	return func(p *HeadersProcessor) {
		p.HSTS = ""
	}
}

// WithCSP sets the Content-Security-Policy header.
func WithCSP(policy string) HeadersOption {
	return func(p *HeadersProcessor) {
		p.ContentSecurityPolicy = policy
	}
}

// WithCORS enables CORS. Missing methods, headers and max age take their
// defaults, and Cross-Origin-Resource-Policy is relaxed to cross-origin.
func WithCORS(config CORSConfig) HeadersOption {
	return func(p *HeadersProcessor) {
		if len(config.AllowedMethods) == 0 {
			config.AllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
		}
		if len(config.AllowedHeaders) == 0 {
			config.AllowedHeaders = []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"}
		}
		if config.MaxAge == 0 {
			config.MaxAge = 3600
		}
		p.CORS = &config
		p.CrossOriginResourcePolicy = "cross-origin"
	}
}

// Process implements endpoint.Processor.
func (p *HeadersProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	setIf(h, "Strict-Transport-Security", p.HSTS)
	setIf(h, "Referrer-Policy", p.ReferrerPolicy)
	setIf(h, "X-Frame-Options", p.FrameOptions)
	if p.ContentTypeOptions {
		h.Set("X-Content-Type-Options", "nosniff")
	}
	setIf(h, "Content-Security-Policy", p.ContentSecurityPolicy)
	setIf(h, "Cross-Origin-Resource-Policy", p.CrossOriginResourcePolicy)

	if p.CORS != nil {
		setCORSHeaders(h, r, p.CORS)
		if r.Method == http.MethodOptions &&
			r.Header.Get("Origin") != "" &&
			r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}
	}
	return next(w, r)
}

func setIf(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}

func formatHSTS(maxAge int, includeSubDomains, preload bool) string {
	if maxAge <= 0 {
		return ""
	}
	parts := []string{"max-age=" + strconv.Itoa(maxAge)}
	if includeSubDomains {
		parts = append(parts, "includeSubDomains")
	}
	if preload {
		parts = append(parts, "preload")
	}
	return strings.Join(parts, "; ")
}

// setCORSHeaders sets CORS headers for cross-origin requests. Requests
// without an Origin header are same-origin and get none.
func setCORSHeaders(h http.Header, r *http.Request, config *CORSConfig) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	h.Add("Vary", "Origin")

	switch {
	case slices.Contains(config.AllowedOrigins, origin):
		h.Set("Access-Control-Allow-Origin", origin)
	case slices.Contains(config.AllowedOrigins, "*") && !config.AllowCredentials:
		// The wildcard is never combined with credentials.
		h.Set("Access-Control-Allow-Origin", "*")
	default:
		return
	}

	if config.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if len(config.ExposedHeaders) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(config.ExposedHeaders, ", "))
	}
	if r.Method == http.MethodOptions {
		h.Set("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ", "))
		h.Set("Access-Control-Allow-Headers", strings.Join(config.AllowedHeaders, ", "))
		if config.MaxAge > 0 {
			h.Set("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
		}
	}
}

var _ endpoint.Processor = (*HeadersProcessor)(nil)
