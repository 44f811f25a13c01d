// Package authn holds the two request authenticators the gateway mounts:
// a browser session authenticator driving the OIDC authorization flow and
// token lifecycle, and a stateless bearer authenticator for API calls.
package authn

import "context"

// UserAuthorized is emitted exactly once per fresh authorization
// exchange, never on silent refresh.
type UserAuthorized struct {
	Subject     string
	DisplayName string
	Email       string
}

// AuthorizedListener receives UserAuthorized events. Implementations must
// be fast or hand off; the event is delivered on the request goroutine.
type AuthorizedListener interface {
	UserAuthorized(ctx context.Context, ev UserAuthorized)
}

// AuthorizedFunc adapts a plain function to AuthorizedListener.
type AuthorizedFunc func(ctx context.Context, ev UserAuthorized)

func (f AuthorizedFunc) UserAuthorized(ctx context.Context, ev UserAuthorized) {
	f(ctx, ev)
}
