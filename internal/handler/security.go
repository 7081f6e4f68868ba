package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/caremeds/internal/domain/auth"
)

// APIKeyHeader carries API keys of integrations and the seeded admin.
const APIKeyHeader = "api_key"

// PrincipalRecorder is notified of every authenticated principal.
type PrincipalRecorder interface {
	Record(ctx context.Context, p auth.Principal) error
}

// Authentication resolves the calling principal from a bearer token or an
// API key. Requests without credentials continue anonymously; operations
// that need a principal reject them.
type Authentication struct {
	tokens   auth.Authenticator
	apikeys  auth.Authenticator
	recorder PrincipalRecorder
}

// NewAuthentication creates an Authentication. tokens may be nil when bearer
// tokens are not configured.
func NewAuthentication(tokens, apikeys auth.Authenticator, recorder PrincipalRecorder) *Authentication {
	return &Authentication{tokens: tokens, apikeys: apikeys, recorder: recorder}
}

// resolution is the outcome of checking the credentials of one request.
type resolution struct {
	principal auth.Principal
	presented bool
	err       error
}

type resolutionKey struct{}

// Resolve is the HTTP middleware that checks credentials once per request,
// ahead of rate limiting, so limits can key on the verified caller. Rejected
// credentials do not end the request here; the API middleware answers them
// with 401.
func (a *Authentication) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := a.attach(r.Context(), r.Header.Get("Authorization"), r.Header.Get(APIKeyHeader))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalID returns the id of the caller Resolve verified, if any.
func PrincipalID(r *http.Request) (string, bool) {
	p, ok := auth.FromContext(r.Context())
	return p.ID, ok
}

func (a *Authentication) attach(ctx context.Context, authorization, apiKey string) context.Context {
	p, presented, err := a.resolve(ctx, authorization, apiKey)
	res := resolution{principal: p, presented: presented, err: err}
	ctx = context.WithValue(ctx, resolutionKey{}, res)
	if !presented || err != nil {
		return ctx
	}

	if a.recorder != nil {
		if err := a.recorder.Record(ctx, p); err != nil {
			zctx.From(ctx).Warn("Record principal", zap.Error(err))
		}
	}
	ctx = auth.WithPrincipal(ctx, p)
	return zctx.With(ctx, zap.String("principal_id", p.ID))
}

// Middleware returns the huma middleware that rejects bad credentials and
// makes the principal available to operations. It reuses the outcome of
// Resolve when that ran first.
func (a *Authentication) Middleware(api huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		rctx := ctx.Context()
		if _, ok := rctx.Value(resolutionKey{}).(resolution); !ok {
			rctx = a.attach(rctx, ctx.Header("Authorization"), ctx.Header(APIKeyHeader))
		}
		if res := rctx.Value(resolutionKey{}).(resolution); res.err != nil {
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, auth.ErrUnauthenticated.Error())
			return
		}
		next(huma.WithContext(ctx, rctx))
	}
}

// resolve reports whether any credential was presented and, if so, the
// principal it identifies.
func (a *Authentication) resolve(ctx context.Context, authorization, apiKey string) (auth.Principal, bool, error) {
	if token, found := strings.CutPrefix(authorization, "Bearer "); found {
		if a.tokens == nil {
			return auth.Principal{}, true, auth.ErrUnauthenticated
		}
		p, err := a.tokens.Authenticate(ctx, strings.TrimSpace(token))
		return p, true, err
	}
	if authorization != "" {
		return auth.Principal{}, true, auth.ErrUnauthenticated
	}
	if apiKey != "" {
		if a.apikeys == nil {
			return auth.Principal{}, true, auth.ErrUnauthenticated
		}
		p, err := a.apikeys.Authenticate(ctx, apiKey)
		return p, true, err
	}
	return auth.Principal{}, false, nil
}

// principal returns the authenticated caller or a 401 error.
func principal(ctx context.Context) (auth.Principal, error) {
	p, ok := auth.FromContext(ctx)
	if !ok {
		return auth.Principal{}, mapError(ctx, auth.ErrUnauthenticated)
	}
	return p, nil
}
