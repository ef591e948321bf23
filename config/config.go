// Package config loads server settings from the environment and agent cards
// from YAML files.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mnehpets/a2aserve/jsonrpc"
)

// Environment variables read by Load.
const (
	EnvAddr              = "A2A_ADDR"
	EnvRPCPath           = "A2A_RPC_PATH"
	EnvMaxBodyBytes      = "A2A_MAX_BODY_BYTES"
	EnvAgentCard         = "A2A_AGENT_CARD"
	EnvExtendedAgentCard = "A2A_EXTENDED_AGENT_CARD"
	EnvLogLevel          = "A2A_LOG_LEVEL"
	EnvLogFormat         = "A2A_LOG_FORMAT"
	EnvRateLimitRPS      = "A2A_RATE_LIMIT_RPS"
	EnvRateLimitBurst    = "A2A_RATE_LIMIT_BURST"
	EnvSessionKey        = "A2A_SESSION_KEY"
	EnvOIDCIssuer        = "A2A_OIDC_ISSUER"
	EnvOIDCClientID      = "A2A_OIDC_CLIENT_ID"
	EnvCORSOrigins       = "A2A_CORS_ORIGINS"
	EnvStreamErrorFrames = "A2A_STREAM_ERROR_FRAMES"
	EnvStreamKeepAlive   = "A2A_STREAM_KEEPALIVE"
	EnvShutdownTimeout   = "A2A_SHUTDOWN_TIMEOUT"
)

// sessionKeySize is the decoded length required of A2A_SESSION_KEY.
const sessionKeySize = 32

// Config holds the server settings.
type Config struct {
	Addr         string
	RPCPath      string
	MaxBodyBytes int64

	AgentCardPath         string
	ExtendedAgentCardPath string

	LogLevel  slog.Level
	LogFormat string // "text" or "json"

	// RateLimitRPS is requests per second per caller; 0 disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	// SessionKey enables cookie sessions when set.
	SessionKey []byte

	OIDCIssuer   string
	OIDCClientID string

	CORSOrigins []string

	StreamErrorFrames bool
	StreamKeepAlive   time.Duration
	ShutdownTimeout   time.Duration
}

// Default returns the settings used when no variables are set.
func Default() *Config {
	return &Config{
		Addr:            ":8080",
		RPCPath:         "/",
		MaxBodyBytes:    jsonrpc.DefaultMaxBodyBytes,
		LogLevel:        slog.LevelInfo,
		LogFormat:       "text",
		StreamKeepAlive: jsonrpc.DefaultStreamKeepAlive,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads a .env file from the working directory, if present, then
// parses the environment. Variables already set take precedence over the
// file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv parses settings with lookup. Every invalid variable is reported,
// each error naming its variable.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.str(EnvAddr, &cfg.Addr)
	p.str(EnvRPCPath, &cfg.RPCPath)
	if !strings.HasPrefix(cfg.RPCPath, "/") {
		p.fail(EnvRPCPath, "must start with /")
	}
	p.integer(EnvMaxBodyBytes, &cfg.MaxBodyBytes)
	if cfg.MaxBodyBytes <= 0 {
		p.fail(EnvMaxBodyBytes, "must be positive")
	}
	p.str(EnvAgentCard, &cfg.AgentCardPath)
	p.str(EnvExtendedAgentCard, &cfg.ExtendedAgentCardPath)

	if v, ok := p.get(EnvLogLevel); ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			p.fail(EnvLogLevel, "unknown level %q", v)
		}
	}
	if v, ok := p.get(EnvLogFormat); ok {
		switch f := strings.ToLower(v); f {
		case "text", "json":
			cfg.LogFormat = f
		default:
			p.fail(EnvLogFormat, "must be text or json, got %q", v)
		}
	}

	if v, ok := p.get(EnvRateLimitRPS); ok {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps < 0 || math.IsInf(rps, 0) || math.IsNaN(rps) {
			p.fail(EnvRateLimitRPS, "must be a non-negative number, got %q", v)
		} else {
			cfg.RateLimitRPS = rps
		}
	}
	if v, ok := p.get(EnvRateLimitBurst); ok {
		burst, err := strconv.Atoi(v)
		if err != nil || burst <= 0 {
			p.fail(EnvRateLimitBurst, "must be a positive integer, got %q", v)
		} else {
			cfg.RateLimitBurst = burst
		}
	}
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = max(1, int(math.Ceil(2*cfg.RateLimitRPS)))
	}

	if v, ok := p.get(EnvSessionKey); ok {
		key, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			key, err = base64.RawURLEncoding.DecodeString(v)
		}
		if err != nil || len(key) != sessionKeySize {
			p.fail(EnvSessionKey, "must be %d base64-encoded bytes", sessionKeySize)
		} else {
			cfg.SessionKey = key
		}
	}

	p.str(EnvOIDCIssuer, &cfg.OIDCIssuer)
	p.str(EnvOIDCClientID, &cfg.OIDCClientID)
	if (cfg.OIDCIssuer == "") != (cfg.OIDCClientID == "") {
		p.fail(EnvOIDCClientID, "%s and %s must be set together", EnvOIDCIssuer, EnvOIDCClientID)
	}

	if v, ok := p.get(EnvCORSOrigins); ok {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	if v, ok := p.get(EnvStreamErrorFrames); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.fail(EnvStreamErrorFrames, "must be a boolean, got %q", v)
		}
		cfg.StreamErrorFrames = b
	}
	p.duration(EnvStreamKeepAlive, &cfg.StreamKeepAlive)
	p.duration(EnvShutdownTimeout, &cfg.ShutdownTimeout)

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewLogger builds the logger described by LogLevel and LogFormat.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

// get returns the trimmed value of a set, non-blank variable.
func (p *parser) get(name string) (string, bool) {
	v, ok := p.lookup(name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *parser) fail(name, format string, args ...any) {
	p.errs = append(p.errs, fmt.Errorf("config: %s: %s", name, fmt.Sprintf(format, args...)))
}

func (p *parser) str(name string, dst *string) {
	if v, ok := p.get(name); ok {
		*dst = v
	}
}

func (p *parser) integer(name string, dst *int64) {
	if v, ok := p.get(name); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			p.fail(name, "must be an integer, got %q", v)
			return
		}
		*dst = n
	}
}

func (p *parser) duration(name string, dst *time.Duration) {
	if v, ok := p.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			p.fail(name, "must be a non-negative duration, got %q", v)
			return
		}
		*dst = d
	}
}
