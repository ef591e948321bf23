package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mnehpets/a2aserve/auth"
	"github.com/mnehpets/a2aserve/endpoint"
)

func newTestSessionProcessor(t *testing.T, opts ...SessionProcessorOption) *SessionProcessor {
	t.Helper()
	p, err := NewSessionProcessor("k1", map[string][]byte{"k1": randomKey(t)}, opts...)
	if err != nil {
		t.Fatalf("NewSessionProcessor: %v", err)
	}
	return p
}

// whoami reports the caller name, or "anonymous".
func whoami(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	if u, ok := auth.UserFromContext(r.Context()); ok && u.IsAuthenticated() {
		return &endpoint.StringRenderer{Body: u.UserName()}, nil
	}
	return &endpoint.StringRenderer{Body: "anonymous"}, nil
}

// loginAs stands in for bearer authentication.
func loginAs(p *auth.Principal) endpoint.Processor {
	return endpoint.ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		return next(w, r.WithContext(auth.WithUser(r.Context(), p)))
	})
}

func serveSession(processors []endpoint.Processor, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	endpoint.Handler(whoami, processors...).ServeHTTP(w, r)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

var ada = &auth.Principal{ID: "corp:ada", Name: "ada@example.com", ProviderID: "corp", Claims: map[string]any{"sub": "ada"}}

func TestSessionProcessor_NoCookiePassesThrough(t *testing.T) {
	p := newTestSessionProcessor(t)
	w := serveSession([]endpoint.Processor{p})
	if w.Body.String() != "anonymous" {
		t.Errorf("body = %q", w.Body.String())
	}
	if len(w.Result().Cookies()) != 0 {
		t.Errorf("unexpected cookies: %v", w.Result().Cookies())
	}
}

func TestSessionProcessor_IssuesAndRestores(t *testing.T) {
	p := newTestSessionProcessor(t)

	w := serveSession([]endpoint.Processor{loginAs(ada), p})
	issued := sessionCookie(t, w, DefaultCookieName)
	if issued == nil {
		t.Fatal("no session cookie issued for an authenticated caller")
	}
	if issued.MaxAge != int(DefaultSessionPeriod/time.Second) || !issued.HttpOnly {
		t.Errorf("cookie = %+v", issued)
	}

	w = serveSession([]endpoint.Processor{p}, issued)
	if w.Body.String() != "ada@example.com" {
		t.Errorf("restored body = %q", w.Body.String())
	}
	if sessionCookie(t, w, DefaultCookieName) != nil {
		t.Error("fresh session rewritten")
	}

	w = serveSession([]endpoint.Processor{loginAs(ada), p}, issued)
	if sessionCookie(t, w, DefaultCookieName) != nil {
		t.Error("session reissued for the same principal")
	}
}

func TestSessionProcessor_RestoredPrincipalKeepsClaims(t *testing.T) {
	p := newTestSessionProcessor(t)
	issued := sessionCookie(t, serveSession([]endpoint.Processor{loginAs(ada), p}), DefaultCookieName)

	var got *auth.Principal
	check := endpoint.ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		u, _ := auth.UserFromContext(r.Context())
		got, _ = u.(*auth.Principal)
		return next(w, r)
	})
	serveSession([]endpoint.Processor{p, check}, issued)
	if got == nil || got.ID != ada.ID || got.ProviderID != "corp" || got.Claims["sub"] != "ada" {
		t.Errorf("restored principal = %+v", got)
	}
}

func TestSessionProcessor_NewPrincipalReplacesSession(t *testing.T) {
	p := newTestSessionProcessor(t)
	issued := sessionCookie(t, serveSession([]endpoint.Processor{loginAs(ada), p}), DefaultCookieName)

	bob := &auth.Principal{ID: "corp:bob", Name: "bob@example.com"}
	w := serveSession([]endpoint.Processor{loginAs(bob), p}, issued)
	if w.Body.String() != "bob@example.com" {
		t.Errorf("body = %q", w.Body.String())
	}
	if sessionCookie(t, w, DefaultCookieName) == nil {
		t.Error("no cookie issued for the new principal")
	}
}

func TestSessionProcessor_InvalidCookieCleared(t *testing.T) {
	p := newTestSessionProcessor(t)
	w := serveSession([]endpoint.Processor{p}, &http.Cookie{Name: DefaultCookieName, Value: "k1.garbage"})
	if w.Body.String() != "anonymous" {
		t.Errorf("body = %q", w.Body.String())
	}
	c := sessionCookie(t, w, DefaultCookieName)
	if c == nil || c.MaxAge >= 0 {
		t.Errorf("cookie not cleared: %+v", c)
	}
}

func TestSessionProcessor_ClearedOnError(t *testing.T) {
	p := newTestSessionProcessor(t)
	fail := func(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
		return nil, endpoint.Error(http.StatusForbidden, "", nil)
	}
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "k1.garbage"})
	w := httptest.NewRecorder()
	endpoint.Handler(fail, p).ServeHTTP(w, r)
	if w.Code != http.StatusForbidden || sessionCookie(t, w, DefaultCookieName) == nil {
		t.Errorf("status %d, cookies %v", w.Code, w.Result().Cookies())
	}
}

func TestSessionProcessor_ExtendsNearExpiry(t *testing.T) {
	p := newTestSessionProcessor(t, WithMaxAge(time.Hour), WithExtendThreshold(30*time.Minute))
	start := time.Now().Truncate(time.Second)
	p.now = func() time.Time { return start }
	issued := sessionCookie(t, serveSession([]endpoint.Processor{loginAs(ada), p}), DefaultCookieName)

	p.now = func() time.Time { return start.Add(10 * time.Minute) }
	if c := sessionCookie(t, serveSession([]endpoint.Processor{p}, issued), DefaultCookieName); c != nil {
		t.Errorf("extended too early: %+v", c)
	}

	p.now = func() time.Time { return start.Add(40 * time.Minute) }
	w := serveSession([]endpoint.Processor{p}, issued)
	extended := sessionCookie(t, w, DefaultCookieName)
	if extended == nil || extended.MaxAge != int(time.Hour/time.Second) {
		t.Fatalf("extended cookie = %+v", extended)
	}
	if w.Body.String() != "ada@example.com" {
		t.Errorf("body = %q", w.Body.String())
	}

	p.now = func() time.Time { return start.Add(61 * time.Minute) }
	if w := serveSession([]endpoint.Processor{p}, issued); w.Body.String() != "anonymous" {
		t.Errorf("expired session accepted: %q", w.Body.String())
	}
	if w := serveSession([]endpoint.Processor{p}, extended); w.Body.String() != "ada@example.com" {
		t.Errorf("extended session rejected: %q", w.Body.String())
	}
}

func TestSessionData_Extend(t *testing.T) {
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sd := &sessionData{Principal: ada, IssuedAt: issued, Expires: issued.Add(time.Hour)}

	if sd.extend(issued, 30*time.Minute) {
		t.Error("extend moved expiry backwards")
	}
	if !sd.extend(issued.Add(50*time.Minute), time.Hour) || !sd.Expires.Equal(issued.Add(110*time.Minute)) {
		t.Errorf("Expires = %v", sd.Expires)
	}

	late := issued.Add(MaxExtendedPeriod - time.Minute)
	sd.Expires = late
	sd.extend(late, time.Hour)
	if !sd.Expires.Equal(issued.Add(MaxExtendedPeriod)) {
		t.Errorf("Expires = %v, want capped at max lifetime", sd.Expires)
	}
}

func TestSessionData_Valid(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		sd   sessionData
		want bool
	}{
		{"valid", sessionData{Principal: ada, IssuedAt: now.Add(-time.Hour), Expires: now.Add(time.Hour)}, true},
		{"expired", sessionData{Principal: ada, IssuedAt: now.Add(-time.Hour), Expires: now}, false},
		{"no principal", sessionData{IssuedAt: now, Expires: now.Add(time.Hour)}, false},
		{"empty id", sessionData{Principal: &auth.Principal{}, IssuedAt: now, Expires: now.Add(time.Hour)}, false},
		{"zero issued", sessionData{Principal: ada, Expires: now.Add(time.Hour)}, false},
		{"beyond max lifetime", sessionData{Principal: ada, IssuedAt: now.Add(-MaxExtendedPeriod), Expires: now.Add(time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sd.valid(now); got != tt.want {
				t.Errorf("valid = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewSessionProcessor_Options(t *testing.T) {
	p := newTestSessionProcessor(t, WithCookieName("sid"), WithCookieOptions(WithSecure(false), WithPath("/rpc")))
	c := sessionCookie(t, serveSession([]endpoint.Processor{loginAs(ada), p}), "sid")
	if c == nil || c.Secure || c.Path != "/rpc" {
		t.Errorf("cookie = %+v", c)
	}

	if _, err := NewSessionProcessor("missing", map[string][]byte{"k1": randomKey(t)}); err == nil {
		t.Error("expected an error for an unknown key id")
	}
}
