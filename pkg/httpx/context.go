package httpx

import (
	"context"

	"github.com/aussiebroadwan/oidcgate/pkg/jwtx"
)

type ctxKey string

const (
	CtxKeySubject ctxKey = "subject"
	CtxKeyToken   ctxKey = "token" // the verified *jwtx.Token
)

// WithToken attaches a verified token and its subject to the context for
// downstream handlers.
func WithToken(ctx context.Context, t *jwtx.Token) context.Context {
	ctx = context.WithValue(ctx, CtxKeySubject, t.Claims.Subject())
	return context.WithValue(ctx, CtxKeyToken, t)
}

// TokenFromContext returns the verified token attached by the authentication
// middleware, or nil when the request was not authenticated.
func TokenFromContext(ctx context.Context) *jwtx.Token {
	t, ok := ctx.Value(CtxKeyToken).(*jwtx.Token)
	if !ok {
		return nil
	}
	return t
}

// SubjectFromContext returns the authenticated subject id, or "".
func SubjectFromContext(ctx context.Context) string {
	s, ok := ctx.Value(CtxKeySubject).(string)
	if !ok {
		return ""
	}
	return s
}
