// Package http mounts the gateway's HTTP surface: health probes, the
// session-protected application routes and the bearer-protected API.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/oidcgate/pkg/authn"
	"github.com/aussiebroadwan/oidcgate/pkg/httpx"
	"github.com/aussiebroadwan/oidcgate/pkg/slogx"
	"github.com/aussiebroadwan/oidcgate/pkg/tokenstore"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        tokenstore.Store

	Session *authn.SessionAuthenticator
	Bearer  *authn.BearerAuthenticator

	// CookieName and LogoutURL mirror the session authenticator's
	// configuration for the voluntary logout route.
	CookieName string
	LogoutURL  string
}

func NewRouter(buildVersion string, store tokenstore.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        store,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSystem()
	r.registerApp()
	r.registerAPI()
}

// ServeHTTP implements http.Handler and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.store))
}

// registerApp mounts the browser-facing routes behind the session
// authenticator. Everything under / except the health and API prefixes
// goes through the state machine.
func (r *Router) registerApp() {
	session := r.Session.Middleware()

	r.Mux.Handle("GET /", httpx.Chain(
		http.HandlerFunc(HandleWhoAmI),
		session,
	))
	r.Mux.Handle("GET /auth/logout", httpx.Chain(
		LogoutHandler(r.store, r.CookieName, r.LogoutURL),
		session,
	))
}

// registerAPI mounts the machine-to-machine routes behind the bearer
// authenticator with a per-IP rate limit.
func (r *Router) registerAPI() {
	r.Mux.Handle("GET /api/v1/whoami", httpx.Chain(
		http.HandlerFunc(HandleWhoAmI),
		r.Bearer.Middleware(),
		httpx.RateLimitByIP(httpx.ModerateLimit),
	))
}
