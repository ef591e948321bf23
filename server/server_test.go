package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/oauth2"

	"github.com/mnehpets/a2aserve/a2a"
	"github.com/mnehpets/a2aserve/auth"
	"github.com/mnehpets/a2aserve/config"
	"github.com/mnehpets/a2aserve/jsonrpc"
	"github.com/mnehpets/a2aserve/metrics"
	"github.com/mnehpets/a2aserve/middleware"
)

type taskStore struct {
	jsonrpc.UnimplementedHandler
}

func (taskStore) OnGetTask(_ context.Context, p *a2a.TaskQueryParams) (*a2a.Task, error) {
	if p.ID != "t1" {
		return nil, jsonrpc.NewTaskNotFoundError()
	}
	return &a2a.Task{ID: "t1", ContextID: "c1", Status: a2a.TaskStatus{State: a2a.TaskStateCompleted}}, nil
}

func testCard() *a2a.AgentCard {
	return &a2a.AgentCard{
		ProtocolVersion:    a2a.ProtocolVersion,
		Name:               "Test Agent",
		URL:                "http://agent.test/",
		Version:            "1.0.0",
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills:             []a2a.AgentSkill{},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Handler == nil {
		opts.Handler = taskStore{}
	}
	if opts.Card == nil {
		opts.Card = testCard()
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func get(h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func rpcCall(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresHandlerAndCard(t *testing.T) {
	if _, err := New(Options{Card: testCard()}); err == nil {
		t.Error("expected an error without a handler")
	}
	if _, err := New(Options{Handler: taskStore{}}); err == nil {
		t.Error("expected an error without a card")
	}
}

func TestAgentCard(t *testing.T) {
	h := newTestServer(t, Options{}).Handler()

	for _, path := range []string{AgentCardPath, AgentCardAliasPath} {
		rec := get(h, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s: content type = %q", path, ct)
		}
		if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s: security headers missing", path)
		}
		var card a2a.AgentCard
		if err := json.Unmarshal(rec.Body.Bytes(), &card); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if card.Name != "Test Agent" || card.URL != "http://agent.test/" {
			t.Errorf("card = %+v", card)
		}
	}
}

func TestAgentCard_ConditionalGet(t *testing.T) {
	h := newTestServer(t, Options{}).Handler()

	etag := get(h, AgentCardPath, nil).Header().Get("ETag")
	if etag == "" {
		t.Fatal("no ETag")
	}
	tests := []struct {
		ifNoneMatch string
		want        int
	}{
		{etag, http.StatusNotModified},
		{"W/" + etag, http.StatusNotModified},
		{`"other", ` + etag, http.StatusNotModified},
		{"*", http.StatusNotModified},
		{`"other"`, http.StatusOK},
	}
	for _, tt := range tests {
		rec := get(h, AgentCardPath, http.Header{"If-None-Match": {tt.ifNoneMatch}})
		if rec.Code != tt.want {
			t.Errorf("If-None-Match %s: status = %d, want %d", tt.ifNoneMatch, rec.Code, tt.want)
		}
		if tt.want == http.StatusNotModified && rec.Body.Len() != 0 {
			t.Errorf("If-None-Match %s: body = %q", tt.ifNoneMatch, rec.Body)
		}
	}
}

func TestAgentCard_MethodNotAllowed(t *testing.T) {
	h := newTestServer(t, Options{}).Handler()
	req := httptest.NewRequest(http.MethodPost, AgentCardPath, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != "GET, HEAD" {
		t.Errorf("Allow = %q", allow)
	}
}

func TestAgentCard_AdvertisesRegistry(t *testing.T) {
	reg := auth.NewRegistry()
	reg.RegisterOAuth2Provider("corp", &oauth2.Config{
		Endpoint: oauth2.Endpoint{TokenURL: "https://corp.example/token"},
		Scopes:   []string{"agent"},
	})
	h := newTestServer(t, Options{Registry: reg}).Handler()

	var card a2a.AgentCard
	if err := json.Unmarshal(get(h, AgentCardPath, nil).Body.Bytes(), &card); err != nil {
		t.Fatal(err)
	}
	s, ok := card.SecuritySchemes["corp"]
	if !ok || s.Type != a2a.SecuritySchemeOAuth2 || s.Flows.ClientCredentials.TokenURL != "https://corp.example/token" {
		t.Errorf("security schemes = %+v", card.SecuritySchemes)
	}
	if len(card.Security) != 1 {
		t.Errorf("security = %v", card.Security)
	}

	declared := testCard()
	declared.SecuritySchemes = map[string]a2a.SecurityScheme{"key": {Type: "apiKey", Name: "X-Key", In: "header"}}
	h = newTestServer(t, Options{Registry: reg, Card: declared}).Handler()
	card = a2a.AgentCard{}
	if err := json.Unmarshal(get(h, AgentCardPath, nil).Body.Bytes(), &card); err != nil {
		t.Fatal(err)
	}
	if _, ok := card.SecuritySchemes["corp"]; ok || len(card.SecuritySchemes) != 1 {
		t.Errorf("declared schemes replaced: %+v", card.SecuritySchemes)
	}
	if len(declared.Security) != 0 {
		t.Error("card was modified")
	}
}

func TestExtendedCard(t *testing.T) {
	supported := testCard()
	supported.SupportsAuthenticatedExtendedCard = true
	extended := testCard()
	extended.Name = "Test Agent (extended)"

	tests := []struct {
		name     string
		card     *a2a.AgentCard
		extended *a2a.AgentCard
		status   int
		body     string
	}{
		{"not supported", testCard(), extended, http.StatusNotFound, `{"error":"Extended agent card not supported or not enabled."}`},
		{"not configured", supported, nil, http.StatusNotFound, `{"error":"Authenticated extended agent card is supported but not configured on the server."}`},
		{"configured", supported, extended, http.StatusOK, `"name":"Test Agent (extended)"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, Options{Card: tt.card, ExtendedCard: tt.extended}).Handler()
			rec := get(h, ExtendedAgentCardPath, nil)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if !strings.Contains(rec.Body.String(), tt.body) {
				t.Errorf("body = %s, want %s", rec.Body, tt.body)
			}
		})
	}
}

func TestExtendedCard_MissingIsLogged(t *testing.T) {
	card := testCard()
	card.SupportsAuthenticatedExtendedCard = true
	var buf bytes.Buffer
	newTestServer(t, Options{Card: card, Logger: slog.New(slog.NewTextHandler(&buf, nil))})
	if out := buf.String(); !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "extended card") {
		t.Errorf("log = %q", out)
	}
}

func TestExtendedCard_RequiresAuthentication(t *testing.T) {
	card := testCard()
	card.SupportsAuthenticatedExtendedCard = true
	h := newTestServer(t, Options{Card: card, ExtendedCard: testCard(), Registry: auth.NewRegistry()}).Handler()

	rec := get(h, ExtendedAgentCardPath, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Errorf("WWW-Authenticate = %q", rec.Header().Get("WWW-Authenticate"))
	}

	// Any bearer token fails against a registry with no verifiers.
	rec = get(h, ExtendedAgentCardPath, http.Header{"Authorization": {"Bearer abc"}})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRPC(t *testing.T) {
	h := newTestServer(t, Options{}).Handler()

	rec := rpcCall(h, `{"jsonrpc":"2.0","id":7,"method":"tasks/get","params":{"id":"t1"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		ID     json.RawMessage `json:"id"`
		Result a2a.Task        `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %s: %v", rec.Body, err)
	}
	if string(resp.ID) != "7" || resp.Result.ID != "t1" || resp.Result.Status.State != a2a.TaskStateCompleted {
		t.Errorf("response = %s", rec.Body)
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("security headers missing")
	}

	rec = rpcCall(h, `{"jsonrpc":"2.0","id":"x","method":"tasks/cancel","params":{"id":"t1"}}`)
	if !strings.Contains(rec.Body.String(), `"code":-32004`) {
		t.Errorf("unimplemented method: %s", rec.Body)
	}
}

func TestRPC_CustomPath(t *testing.T) {
	h := newTestServer(t, Options{RPCPath: "/rpc"}).Handler()
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tasks/get","params":{"id":"t1"}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"result"`) {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if rec := rpcCall(h, `{}`); rec.Code != http.StatusNotFound {
		t.Errorf("root status = %d, want 404", rec.Code)
	}
}

func TestUnknownPath(t *testing.T) {
	h := newTestServer(t, Options{}).Handler()
	if rec := get(h, "/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	limiter := middleware.NewKeyLimiter(0.001, 1, time.Minute)
	h := newTestServer(t, Options{RateLimiter: limiter}).Handler()

	body := `{"jsonrpc":"2.0","id":1,"method":"tasks/get","params":{"id":"t1"}}`
	if rec := rpcCall(h, body); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := rpcCall(h, body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
	// The card is not rate limited.
	if rec := get(h, AgentCardPath, nil); rec.Code != http.StatusOK {
		t.Errorf("card status = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, Options{CORSOrigins: []string{"https://app.example"}}).Handler()
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	h := newTestServer(t, Options{Metrics: m}).Handler()
	rpcCall(h, `{"jsonrpc":"2.0","id":1,"method":"tasks/get","params":{"id":"t1"}}`)

	rec := get(h, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `a2a_rpc_requests_total{code="0",method="tasks/get"} 1`) {
		t.Errorf("metrics = %s", rec.Body)
	}

	rec = get(h, "/healthz", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body)
	}

	// Without metrics the route does not exist.
	h = newTestServer(t, Options{}).Handler()
	if rec := get(h, "/metrics", nil); rec.Code != http.StatusNotFound {
		t.Errorf("metrics status without collectors = %d", rec.Code)
	}
}

func TestSessions_NoCookieForAnonymousCaller(t *testing.T) {
	key := bytes.Repeat([]byte{1}, 32)
	s := newTestServer(t, Options{SessionKey: key})

	// Without an identity processor placing a principal, no cookie is set.
	rec := rpcCall(s.Handler(), `{"jsonrpc":"2.0","id":1,"method":"tasks/get","params":{"id":"t1"}}`)
	if len(rec.Result().Cookies()) != 0 {
		t.Errorf("cookies = %v", rec.Result().Cookies())
	}
}

func TestServe_Shutdown(t *testing.T) {
	s := newTestServer(t, Options{ShutdownTimeout: time.Second})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		cancel()
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

// slowStore holds tasks/get until released.
type slowStore struct {
	jsonrpc.UnimplementedHandler
	entered chan struct{}
	release chan struct{}
}

func (s slowStore) OnGetTask(ctx context.Context, p *a2a.TaskQueryParams) (*a2a.Task, error) {
	close(s.entered)
	<-s.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &a2a.Task{ID: p.ID, ContextID: "c1", Status: a2a.TaskStatus{State: a2a.TaskStateWorking}}, nil
}

func TestServe_ShutdownDrainsInFlightRequests(t *testing.T) {
	h := slowStore{entered: make(chan struct{}), release: make(chan struct{})}
	s := newTestServer(t, Options{Handler: h, ShutdownTimeout: 5 * time.Second})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	type result struct {
		status int
		body   string
		err    error
	}
	got := make(chan result, 1)
	go func() {
		body := `{"jsonrpc":"2.0","id":7,"method":"tasks/get","params":{"id":"t1"}}`
		resp, err := http.Post("http://"+ln.Addr().String()+"/", "application/json", strings.NewReader(body))
		if err != nil {
			got <- result{err: err}
			return
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		got <- result{status: resp.StatusCode, body: string(b), err: err}
	}()

	select {
	case <-h.entered:
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("request never reached the handler")
	}
	cancel()
	time.Sleep(50 * time.Millisecond)
	close(h.release)

	r := <-got
	if r.err != nil {
		t.Fatalf("POST: %v", r.err)
	}
	if r.status != http.StatusOK || !strings.Contains(r.body, `"result"`) || strings.Contains(r.body, `"error"`) {
		t.Errorf("response = %d %s", r.status, r.body)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the request finished")
	}
}

func TestRun_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	s := newTestServer(t, Options{Addr: ln.Addr().String()})
	if err := s.Run(context.Background()); err == nil {
		t.Error("expected an error for an address in use")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	dir := t.TempDir()
	cardPath := filepath.Join(dir, "card.yaml")
	if err := os.WriteFile(cardPath, []byte("name: Echo\nurl: http://echo.test/\nversion: '1'\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.AgentCardPath = cardPath
	cfg.RateLimitRPS = 5
	cfg.RateLimitBurst = 10
	opts, err := OptionsFromConfig(context.Background(), cfg, taskStore{}, discardLogger())
	if err != nil {
		t.Fatalf("OptionsFromConfig: %v", err)
	}
	if opts.Card.Name != "Echo" || opts.RateLimiter == nil || opts.Metrics == nil || opts.Registry != nil {
		t.Errorf("opts = %+v", opts)
	}
	if _, err := New(opts); err != nil {
		t.Errorf("New: %v", err)
	}

	cfg.RateLimitRPS = 0
	opts, err = OptionsFromConfig(context.Background(), cfg, taskStore{}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if opts.RateLimiter != nil {
		t.Error("rate limiter created with limiting disabled")
	}

	cfg.AgentCardPath = ""
	if _, err := OptionsFromConfig(context.Background(), cfg, taskStore{}, discardLogger()); err == nil || !strings.Contains(err.Error(), config.EnvAgentCard) {
		t.Errorf("err = %v", err)
	}

	cfg.AgentCardPath = filepath.Join(dir, "missing.yaml")
	if _, err := OptionsFromConfig(context.Background(), cfg, taskStore{}, discardLogger()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v", err)
	}
}
