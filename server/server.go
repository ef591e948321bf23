// Package server assembles the agent's HTTP surface: the JSON-RPC endpoint,
// the agent card endpoints, health and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mnehpets/a2aserve/a2a"
	"github.com/mnehpets/a2aserve/auth"
	"github.com/mnehpets/a2aserve/config"
	"github.com/mnehpets/a2aserve/endpoint"
	"github.com/mnehpets/a2aserve/jsonrpc"
	"github.com/mnehpets/a2aserve/metrics"
	"github.com/mnehpets/a2aserve/middleware"
)

// DefaultShutdownTimeout bounds graceful shutdown when Options leaves it zero.
const DefaultShutdownTimeout = 10 * time.Second

const sessionKeyID = "k1"

// Options configures a Server. Handler and Card are required.
type Options struct {
	Handler      jsonrpc.RequestHandler
	Card         *a2a.AgentCard
	ExtendedCard *a2a.AgentCard

	Addr    string
	RPCPath string // defaults to "/"
	Logger  *slog.Logger

	// Registry enables bearer token authentication.
	Registry *auth.Registry
	// SessionKey enables cookie sessions for authenticated callers.
	SessionKey  []byte
	CORSOrigins []string
	RateLimiter *middleware.KeyLimiter
	Metrics     *metrics.Metrics

	RPCOptions      []jsonrpc.Option
	ShutdownTimeout time.Duration
}

// Server serves an agent.
type Server struct {
	addr            string
	logger          *slog.Logger
	shutdownTimeout time.Duration
	mux             *http.ServeMux

	card                 *cardDocument
	extended             *cardDocument
	supportsExtendedCard bool
}

// New builds the routes described by opts.
func New(opts Options) (*Server, error) {
	if opts.Handler == nil {
		return nil, errors.New("server: nil Handler")
	}
	if opts.Card == nil {
		return nil, errors.New("server: nil Card")
	}
	s := &Server{
		addr:                 opts.Addr,
		logger:               opts.Logger,
		shutdownTimeout:      opts.ShutdownTimeout,
		mux:                  http.NewServeMux(),
		supportsExtendedCard: opts.Card.SupportsAuthenticatedExtendedCard,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = DefaultShutdownTimeout
	}
	rpcPath := opts.RPCPath
	if rpcPath == "" {
		rpcPath = "/"
	}

	var err error
	if s.card, err = newCardDocument(advertise(opts.Card, opts.Registry)); err != nil {
		return nil, fmt.Errorf("server: encoding agent card: %w", err)
	}
	if opts.ExtendedCard != nil {
		if s.extended, err = newCardDocument(advertise(opts.ExtendedCard, opts.Registry)); err != nil {
			return nil, fmt.Errorf("server: encoding extended agent card: %w", err)
		}
	}
	if s.supportsExtendedCard && s.extended == nil {
		s.logger.Error("agent card supports an authenticated extended card but none is configured")
	}

	headerOpts := []middleware.HeadersOption{}
	if len(opts.CORSOrigins) > 0 {
		headerOpts = append(headerOpts, middleware.WithCORS(middleware.CORSConfig{AllowedOrigins: opts.CORSOrigins}))
	}
	headers := middleware.NewHeadersProcessor(headerOpts...)

	var identity []endpoint.Processor
	if opts.Registry != nil {
		identity = append(identity, auth.NewBearerProcessor(opts.Registry))
	}
	if len(opts.SessionKey) > 0 {
		sessions, err := middleware.NewSessionProcessor(sessionKeyID, map[string][]byte{sessionKeyID: opts.SessionKey})
		if err != nil {
			return nil, fmt.Errorf("server: sessions: %w", err)
		}
		identity = append(identity, sessions)
	}

	rpcProcessors := append([]endpoint.Processor{headers}, identity...)
	if opts.RateLimiter != nil {
		rpcProcessors = append(rpcProcessors, middleware.NewRateLimitProcessor(opts.RateLimiter))
	}
	rpcOpts := []jsonrpc.Option{jsonrpc.WithLogger(s.logger)}
	if opts.Metrics != nil {
		rpcOpts = append(rpcOpts, jsonrpc.WithObserver(opts.Metrics))
	}
	rpc := jsonrpc.NewEndpoint(opts.Handler, append(rpcOpts, opts.RPCOptions...)...)
	if rpcPath == "/" {
		rpcPath = "/{$}"
	}
	s.mux.Handle(rpcPath, logged(s.logger, endpoint.Handler(rpc.Endpoint, rpcProcessors...)))

	card := logged(s.logger, endpoint.Handler(s.publicCard, headers))
	s.mux.Handle(AgentCardPath, card)
	s.mux.Handle(AgentCardAliasPath, card)

	extendedProcessors := append([]endpoint.Processor{headers}, identity...)
	if opts.Registry != nil {
		extendedProcessors = append(extendedProcessors, endpoint.ProcessorFunc(requireUser))
	}
	s.mux.Handle(ExtendedAgentCardPath, logged(s.logger, endpoint.Handler(s.extendedCard, extendedProcessors...)))

	s.mux.Handle("/healthz", endpoint.Handler(health))
	if opts.Metrics != nil {
		s.mux.Handle("GET /metrics", opts.Metrics.Handler())
	}
	return s, nil
}

func logged[P any](l *slog.Logger, h *endpoint.EndpointHandler[P]) *endpoint.EndpointHandler[P] {
	h.Logger = l
	return h
}

func health(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return &endpoint.StringRenderer{Body: "ok"}, nil
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	addr := s.addr
	if addr == "" {
		addr = ":http"
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully, waiting up to the shutdown timeout for open requests. Request
// contexts are not derived from ctx, so in-flight requests finish; any still
// open at the timeout, such as long streams, are cancelled and their
// connections closed. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	base, cancelRequests := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRequests()
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("serving", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("shutdown incomplete", "error", err)
			cancelRequests()
			srv.Close()
			return err
		}
		s.logger.Info("server stopped")
		return nil
	})
	return g.Wait()
}

// OptionsFromConfig builds Options from cfg: agent cards are loaded from
// their files, the OIDC provider is discovered, and the rate limiter and
// metrics are created when enabled.
func OptionsFromConfig(ctx context.Context, cfg *config.Config, h jsonrpc.RequestHandler, logger *slog.Logger) (Options, error) {
	opts := Options{
		Handler:         h,
		Addr:            cfg.Addr,
		RPCPath:         cfg.RPCPath,
		Logger:          logger,
		SessionKey:      cfg.SessionKey,
		CORSOrigins:     cfg.CORSOrigins,
		ShutdownTimeout: cfg.ShutdownTimeout,
		RPCOptions: []jsonrpc.Option{
			jsonrpc.WithMaxBodyBytes(cfg.MaxBodyBytes),
			jsonrpc.WithStreamErrorFrames(cfg.StreamErrorFrames),
			jsonrpc.WithStreamKeepAlive(cfg.StreamKeepAlive),
		},
	}
	if cfg.AgentCardPath == "" {
		return opts, fmt.Errorf("server: %s is not set", config.EnvAgentCard)
	}
	var err error
	if opts.Card, err = config.LoadAgentCard(cfg.AgentCardPath); err != nil {
		return opts, err
	}
	if cfg.ExtendedAgentCardPath != "" {
		if opts.ExtendedCard, err = config.LoadAgentCard(cfg.ExtendedAgentCardPath); err != nil {
			return opts, err
		}
	}
	if cfg.OIDCIssuer != "" {
		opts.Registry = auth.NewRegistry()
		if err := opts.Registry.RegisterOIDCProvider(ctx, "oidc", cfg.OIDCIssuer, cfg.OIDCClientID, []string{"openid", "email"}); err != nil {
			return opts, fmt.Errorf("server: %w", err)
		}
	}
	opts.RateLimiter = middleware.NewKeyLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, middleware.DefaultIdleTTL)
	if opts.Metrics, err = metrics.New(nil); err != nil {
		return opts, fmt.Errorf("server: %w", err)
	}
	return opts, nil
}
