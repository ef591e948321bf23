package middleware

import (
	"net/http"
	"time"

	"github.com/mnehpets/a2aserve/auth"
	"github.com/mnehpets/a2aserve/endpoint"
)

// DefaultSessionPeriod is the default session lifetime.
const DefaultSessionPeriod = time.Hour * 24

// MaxExtendedPeriod bounds how long a session may live in total,
// even if continually extended.
const MaxExtendedPeriod = time.Hour * 24 * 30

// DefaultSessionExtendThreshold is the remaining lifetime below which a
// session is extended.
const DefaultSessionExtendThreshold = DefaultSessionPeriod / 4

// DefaultCookieName is the default name for the session cookie.
const DefaultCookieName = "a2as"

// sessionData is the sealed cookie payload.
type sessionData struct {
	Principal *auth.Principal `cbor:"1,keyasint"`
	IssuedAt  time.Time       `cbor:"2,keyasint"`
	Expires   time.Time       `cbor:"3,keyasint"`
}

// valid reports whether the session can be used at now.
func (sd *sessionData) valid(now time.Time) bool {
	if sd.Principal == nil || sd.Principal.ID == "" {
		return false
	}
	if sd.IssuedAt.IsZero() || sd.Expires.IsZero() || !now.Before(sd.Expires) {
		return false
	}
	return sd.Expires.Sub(sd.IssuedAt) <= MaxExtendedPeriod
}

// extend moves Expires to now+period, capped at the maximum lifetime. It
// reports whether Expires moved.
func (sd *sessionData) extend(now time.Time, period time.Duration) bool {
	newExpires := now.Add(period).Truncate(time.Second)
	if maxExpires := sd.IssuedAt.Add(MaxExtendedPeriod); newExpires.After(maxExpires) {
		newExpires = maxExpires
	}
	if !newExpires.After(sd.Expires) {
		return false
	}
	sd.Expires = newExpires
	return true
}

// SessionProcessor keeps an authenticated caller signed in across requests
// with a sealed cookie.
//
// A request that already carries an authenticated *auth.Principal (for
// example from auth.BearerProcessor, which must run first) gets a fresh
// session cookie for that principal. Otherwise a valid session cookie
// restores its principal with auth.WithUser. Sessions close to expiry are
// extended; invalid or expired cookies are cleared. Cookies are written
// through endpoint.Defer, just before the response headers.
type SessionProcessor struct {
	cookie          *SecureCookie
	maxAge          time.Duration
	extendThreshold time.Duration
	now             func() time.Time
}

// SessionProcessorOption configures the SessionProcessor.
type SessionProcessorOption func(*sessionProcessorConfig)

type sessionProcessorConfig struct {
	cookieName      string
	cookieOptions   []SecureCookieOption
	maxAge          time.Duration
	extendThreshold time.Duration
}

// WithCookieName sets the name of the session cookie.
func WithCookieName(name string) SessionProcessorOption {
	return func(c *sessionProcessorConfig) {
		c.cookieName = name
	}
}

// WithCookieOptions adds SecureCookieOptions to the session cookie.
func WithCookieOptions(opts ...SecureCookieOption) SessionProcessorOption {
	return func(c *sessionProcessorConfig) {
		c.cookieOptions = append(c.cookieOptions, opts...)
	}
}

// WithMaxAge sets the session lifetime.
func WithMaxAge(d time.Duration) SessionProcessorOption {
	return func(c *sessionProcessorConfig) {
		c.maxAge = d
	}
}

// WithExtendThreshold sets the session extension threshold.
func WithExtendThreshold(d time.Duration) SessionProcessorOption {
	return func(c *sessionProcessorConfig) {
		c.extendThreshold = d
	}
}

// NewSessionProcessor returns a SessionProcessor sealing sessions with keys.
func NewSessionProcessor(keyID string, keys map[string][]byte, opts ...SessionProcessorOption) (*SessionProcessor, error) {
	cfg := sessionProcessorConfig{
		cookieName:      DefaultCookieName,
		maxAge:          DefaultSessionPeriod,
		extendThreshold: DefaultSessionExtendThreshold,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxAge <= 0 {
		cfg.maxAge = DefaultSessionPeriod
	}
	if cfg.maxAge > MaxExtendedPeriod {
		cfg.maxAge = MaxExtendedPeriod
	}

	cookie, err := NewSecureCookie(cfg.cookieName, keyID, keys, cfg.cookieOptions...)
	if err != nil {
		return nil, err
	}
	return &SessionProcessor{
		cookie:          cookie,
		maxAge:          cfg.maxAge,
		extendThreshold: cfg.extendThreshold,
		now:             time.Now,
	}, nil
}

// Process implements endpoint.Processor.
func (p *SessionProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	now := p.now().Truncate(time.Second)
	ctx := r.Context()

	if u, ok := auth.UserFromContext(ctx); ok && u.IsAuthenticated() {
		if principal, ok := u.(*auth.Principal); ok && !p.hasSessionFor(r, principal, now) {
			sd := &sessionData{Principal: principal, IssuedAt: now, Expires: now.Add(p.maxAge)}
			endpoint.Defer(ctx, func(w http.ResponseWriter) { p.setCookie(w, sd, now) })
		}
		return next(w, r)
	}

	c, err := r.Cookie(p.cookie.Name())
	if err != nil {
		return next(w, r)
	}
	var sd sessionData
	if err := p.cookie.Decode(c, &sd); err != nil || !sd.valid(now) {
		endpoint.Defer(ctx, func(w http.ResponseWriter) { http.SetCookie(w, p.cookie.Clear()) })
		return next(w, r)
	}
	if sd.Expires.Sub(now) < p.extendThreshold && sd.extend(now, p.maxAge) {
		endpoint.Defer(ctx, func(w http.ResponseWriter) { p.setCookie(w, &sd, now) })
	}
	return next(w, r.WithContext(auth.WithUser(ctx, sd.Principal)))
}

// hasSessionFor reports whether the request carries a valid session for
// principal that does not yet need extending.
func (p *SessionProcessor) hasSessionFor(r *http.Request, principal *auth.Principal, now time.Time) bool {
	c, err := r.Cookie(p.cookie.Name())
	if err != nil {
		return false
	}
	var sd sessionData
	if err := p.cookie.Decode(c, &sd); err != nil || !sd.valid(now) {
		return false
	}
	return sd.Principal.ID == principal.ID && sd.Expires.Sub(now) >= p.extendThreshold
}

func (p *SessionProcessor) setCookie(w http.ResponseWriter, sd *sessionData, now time.Time) {
	c, err := p.cookie.Encode(sd, sd.Expires.Sub(now))
	if err != nil {
		http.SetCookie(w, p.cookie.Clear())
		return
	}
	http.SetCookie(w, c)
}

var _ endpoint.Processor = (*SessionProcessor)(nil)
