package jsonrpc

import (
	"context"
	"net/http"
	"strings"

	"github.com/mnehpets/a2aserve/auth"
)

// CallContext is the per-request caller identity and metadata handed to the
// RequestHandler. User is never nil.
type CallContext struct {
	User  auth.User
	State map[string]any
}

// CallContextBuilder derives the CallContext of a request. Build must not
// fail; implementations degrade to auth.UnauthenticatedUser instead.
type CallContextBuilder interface {
	Build(r *http.Request) *CallContext
}

// CallContextBuilderFunc adapts a function to a CallContextBuilder.
type CallContextBuilderFunc func(r *http.Request) *CallContext

func (f CallContextBuilderFunc) Build(r *http.Request) *CallContext {
	return f(r)
}

// DefaultCallContextBuilder takes the user from the request context (see
// auth.WithUser) and records the request headers under State["headers"]. For
// an authenticated *auth.Principal, its claims are recorded under
// State["auth"].
type DefaultCallContextBuilder struct{}

func (DefaultCallContextBuilder) Build(r *http.Request) *CallContext {
	cc := &CallContext{
		User:  auth.UnauthenticatedUser{},
		State: map[string]any{},
	}
	func() {
		defer func() {
			if recover() != nil {
				cc.User = auth.UnauthenticatedUser{}
				delete(cc.State, "auth")
			}
		}()
		u, ok := auth.UserFromContext(r.Context())
		if !ok || !u.IsAuthenticated() {
			return
		}
		cc.User = u
		if p, ok := u.(*auth.Principal); ok {
			cc.State["auth"] = p.Claims
		}
	}()
	cc.State["headers"] = flattenHeaders(r.Header)
	return cc
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return out
}

// buildCallContext runs b, replacing a panic or nil result with an
// unauthenticated context.
func buildCallContext(b CallContextBuilder, r *http.Request) (cc *CallContext) {
	defer func() {
		if recover() != nil {
			cc = nil
		}
		if cc == nil {
			cc = &CallContext{State: map[string]any{"headers": flattenHeaders(r.Header)}}
		}
		if cc.User == nil {
			cc.User = auth.UnauthenticatedUser{}
		}
		if cc.State == nil {
			cc.State = map[string]any{}
		}
	}()
	return b.Build(r)
}

type callContextKey struct{}

// WithCallContext stores cc in ctx and returns the derived context.
func WithCallContext(ctx context.Context, cc *CallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, cc)
}

// CallContextFromContext returns the CallContext stored in ctx, if any.
func CallContextFromContext(ctx context.Context) (*CallContext, bool) {
	cc, ok := ctx.Value(callContextKey{}).(*CallContext)
	if !ok || cc == nil {
		return nil, false
	}
	return cc, true
}
