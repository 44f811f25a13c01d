package authn

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/oidcgate/pkg/httpx"
	"github.com/aussiebroadwan/oidcgate/pkg/idx"
	"github.com/aussiebroadwan/oidcgate/pkg/jwtx"
	"github.com/aussiebroadwan/oidcgate/pkg/oidcx"
	"github.com/aussiebroadwan/oidcgate/pkg/slogx"
	"github.com/aussiebroadwan/oidcgate/pkg/tokenstore"
)

const (
	// refreshThresholdPercent is the remaining-validity fraction at or
	// below which a silent refresh runs instead of a pass-through.
	refreshThresholdPercent = 25.0

	// codeLengthLimit guards against providers that round-trip very long
	// authorization codes in the URL. Past this length the code is
	// stripped with a redirect so it is not exposed or replayed.
	codeLengthLimit = 800

	defaultSessionCookie = "oidcgate_session"
	defaultSessionTTL    = 12 * time.Hour
)

// ProtocolClient is the slice of oidcx.Client the session authenticator
// uses. Tests substitute a fake provider through it.
type ProtocolClient interface {
	// Authenticate resumes or begins the authorization-code flow for the
	// request. A (nil, nil) return means a redirect was written and the
	// request is finished.
	Authenticate(w http.ResponseWriter, r *http.Request) (*oidcx.TokenResponse, error)

	Refresh(ctx context.Context, refreshToken string) (*oidcx.TokenResponse, error)

	Introspect(ctx context.Context, token string) (*oidcx.Introspection, error)
}

// SessionConfig tunes the session authenticator. Zero values fall back to
// sensible defaults where one exists.
type SessionConfig struct {
	// CookieName names the session-id cookie. Default "oidcgate_session".
	CookieName string

	// CookieTTL bounds the session cookie and the stored token set.
	// Default 12h.
	CookieTTL time.Duration

	// LogoutPathFragment marks requests the authenticator must not
	// touch; logout handling belongs to the application. Default "logout".
	LogoutPathFragment string

	// LogoutRedirectURL receives callers whose session has expired.
	// Falls back to DefaultRedirectPath when empty.
	LogoutRedirectURL string

	// DefaultRedirectPath receives callers whose session was revoked.
	// Default "/".
	DefaultRedirectPath string

	// Introspect asks the provider for live revocation status on every
	// otherwise-valid request. Costs a provider round-trip per request;
	// leave off to trust local expiry alone.
	Introspect bool
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.CookieName == "" {
		c.CookieName = defaultSessionCookie
	}
	if c.CookieTTL <= 0 {
		c.CookieTTL = defaultSessionTTL
	}
	if c.LogoutPathFragment == "" {
		c.LogoutPathFragment = "logout"
	}
	if c.DefaultRedirectPath == "" {
		c.DefaultRedirectPath = "/"
	}
	if c.LogoutRedirectURL == "" {
		c.LogoutRedirectURL = c.DefaultRedirectPath
	}
	return c
}

// SessionAuthenticator is the per-request token lifecycle state machine.
// It owns no state of its own; everything durable lives in the store.
type SessionAuthenticator struct {
	policy   *jwtx.Policy
	client   ProtocolClient
	store    tokenstore.Store
	cfg      SessionConfig
	listener AuthorizedListener

	now func() time.Time
}

// SessionOption customises a SessionAuthenticator.
type SessionOption func(*SessionAuthenticator)

// WithListener registers the UserAuthorized event listener.
func WithListener(l AuthorizedListener) SessionOption {
	return func(a *SessionAuthenticator) { a.listener = l }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) SessionOption {
	return func(a *SessionAuthenticator) { a.now = now }
}

func NewSessionAuthenticator(
	policy *jwtx.Policy,
	client ProtocolClient,
	store tokenstore.Store,
	cfg SessionConfig,
	opts ...SessionOption,
) *SessionAuthenticator {
	a := &SessionAuthenticator{
		policy: policy,
		client: client,
		store:  store,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CookieName exposes the resolved session cookie name so logout routes
// can clear the same cookie the middleware sets.
func (a *SessionAuthenticator) CookieName() string {
	return a.cfg.CookieName
}

// Middleware returns the session authenticator as a middleware. Requests
// reach the next handler only with a live session; everything else ends
// in a redirect or an error response here.
func (a *SessionAuthenticator) Middleware() httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a.serve(w, r, next)
		})
	}
}

func (a *SessionAuthenticator) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if strings.Contains(r.URL.Path, a.cfg.LogoutPathFragment) {
		next.ServeHTTP(w, r)
		return
	}

	ctx := r.Context()
	log := slogx.FromContext(ctx)

	sessionID, fresh := a.sessionID(r)

	tok, err := a.sessionToken(ctx, sessionID)
	if err != nil {
		log.Error("session lookup failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError)
		return
	}

	if tok == nil {
		a.beginSession(w, r, sessionID, fresh, next)
		return
	}

	now := a.now()
	if tok.IsExpired(now) {
		a.endExpiredSession(w, r, sessionID)
		return
	}

	if remaining, err := tok.RemainingPercent(now); err == nil && remaining <= refreshThresholdPercent {
		a.refreshSession(w, r, sessionID, next)
		return
	}

	if a.cfg.Introspect {
		if !a.sessionStillActive(ctx, sessionID, tok) {
			a.revokeSession(w, r, sessionID)
			return
		}
	}

	next.ServeHTTP(w, r.WithContext(httpx.WithToken(ctx, tok)))
}

// sessionID reads the session cookie, minting a new id when absent. The
// second return reports a fresh id that still needs a Set-Cookie.
func (a *SessionAuthenticator) sessionID(r *http.Request) (string, bool) {
	if c, err := r.Cookie(a.cfg.CookieName); err == nil && c.Value != "" {
		if _, err := idx.Parse(c.Value); err == nil {
			return c.Value, false
		}
	}
	return idx.New().String(), true
}

func (a *SessionAuthenticator) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.CookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(a.cfg.CookieTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *SessionAuthenticator) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionToken returns the token that drives the state machine: the
// access token when stored with a validity window, the identity token
// otherwise, nil when the session has neither. Opaque access tokens
// carry no exp claim, so they cannot drive expiry decisions.
func (a *SessionAuthenticator) sessionToken(ctx context.Context, sessionID string) (*jwtx.Token, error) {
	tok, err := a.store.Find(ctx, sessionID, tokenstore.RoleAccess)
	if err != nil {
		return nil, err
	}
	if tok != nil && tok.Claims.Has("exp") {
		return tok, nil
	}

	id, err := a.store.Find(ctx, sessionID, tokenstore.RoleIdentity)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return tok, nil
	}
	return id, nil
}

// beginSession handles the NoSession state: run the authorization
// exchange, persist the resulting token set, emit the authorized event.
func (a *SessionAuthenticator) beginSession(
	w http.ResponseWriter,
	r *http.Request,
	sessionID string,
	fresh bool,
	next http.Handler,
) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	resp, err := a.client.Authenticate(w, r)
	if err != nil {
		if errors.Is(err, oidcx.ErrConfig) {
			log.Error("authorization exchange misconfigured", "error", err)
			httpx.WriteError(w, http.StatusInternalServerError)
			return
		}
		log.Warn("authorization exchange failed", "error", err)
		httpx.WriteError(w, http.StatusUnauthorized)
		return
	}
	if resp == nil {
		// Redirect to the provider already written.
		return
	}

	identity, err := a.policy.Parse(resp.IDToken)
	if err != nil {
		log.Warn("identity token rejected", "error", err)
		httpx.WriteError(w, http.StatusUnauthorized)
		return
	}
	if violations := a.policy.Assert(identity); len(violations) > 0 {
		for _, v := range violations {
			log.Warn("identity token rejected", "error", v)
		}
		httpx.WriteError(w, http.StatusUnauthorized)
		return
	}

	set := tokenstore.Set{
		Identity: identity,
		Refresh:  resp.RefreshToken,
	}
	set.Access = a.parseAccess(resp.AccessToken, log)

	if err := a.store.Put(ctx, sessionID, set); err != nil {
		log.Error("persist session tokens", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError)
		return
	}

	if fresh {
		a.setSessionCookie(w, sessionID)
	}

	if a.listener != nil {
		a.listener.UserAuthorized(ctx, UserAuthorized{
			Subject:     identity.Claims.Subject(),
			DisplayName: identity.Claims.DisplayName(),
			Email:       identity.Claims.Email(),
		})
	}

	log.Info("session authorized", "sub", identity.Claims.Subject())

	if len(r.URL.Query().Get("code")) > codeLengthLimit {
		a.redirectStrippingCode(w, r)
		return
	}

	active := set.Access
	if active == nil {
		active = identity
	}
	next.ServeHTTP(w, r.WithContext(httpx.WithToken(ctx, active)))
}

// parseAccess tries to treat the access token as a verifiable JWT. Plenty
// of providers issue opaque access tokens; those are kept raw.
func (a *SessionAuthenticator) parseAccess(raw string, log *slog.Logger) *jwtx.Token {
	if raw == "" {
		return nil
	}
	tok, err := a.policy.Parse(raw)
	if err != nil {
		log.Debug("access token is opaque, storing raw", "error", err)
		return &jwtx.Token{Raw: raw}
	}
	return tok
}

// redirectStrippingCode reissues the current URL without the
// authorization-code parameters.
func (a *SessionAuthenticator) redirectStrippingCode(w http.ResponseWriter, r *http.Request) {
	u := *r.URL
	q := u.Query()
	q.Del("code")
	q.Del("state")
	q.Del("session_state")
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// endExpiredSession handles the ExpiredSession state: clear the store and
// send the caller to the provider's logout endpoint. No protocol calls;
// expiry is expected steady-state, not a fault.
func (a *SessionAuthenticator) endExpiredSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := a.store.Forget(r.Context(), sessionID); err != nil {
		slogx.FromContext(r.Context()).Error("clear expired session", "error", err)
	}
	a.clearSessionCookie(w)
	http.Redirect(w, r, a.cfg.LogoutRedirectURL, http.StatusFound)
}

// refreshSession handles the NearExpirySession state: exchange the stored
// refresh token for a new pair and replace the set atomically.
func (a *SessionAuthenticator) refreshSession(
	w http.ResponseWriter,
	r *http.Request,
	sessionID string,
	next http.Handler,
) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	// Near expiry implies a refresh token was stored; its absence is a
	// fault, not a first visit.
	stored, err := a.store.Get(ctx, sessionID, tokenstore.RoleRefresh)
	if err != nil {
		log.Error("refresh token missing for near-expiry session", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError)
		return
	}

	resp, err := a.client.Refresh(ctx, stored.Raw)
	if err != nil {
		log.Warn("token refresh failed", "error", err)
		httpx.WriteError(w, http.StatusUnauthorized)
		return
	}

	identity, err := a.policy.Parse(resp.IDToken)
	if err != nil {
		log.Warn("refreshed identity token rejected", "error", err)
		httpx.WriteError(w, http.StatusUnauthorized)
		return
	}

	refresh := resp.RefreshToken
	if refresh == "" {
		// Provider rotated nothing; keep the old refresh token.
		refresh = stored.Raw
	}

	set := tokenstore.Set{
		Identity: identity,
		Refresh:  refresh,
	}
	set.Access = a.parseAccess(resp.AccessToken, log)

	if err := a.store.Put(ctx, sessionID, set); err != nil {
		log.Error("persist refreshed tokens", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError)
		return
	}

	log.Debug("session refreshed", "sub", identity.Claims.Subject())

	active := set.Access
	if active == nil {
		active = identity
	}
	next.ServeHTTP(w, r.WithContext(httpx.WithToken(ctx, active)))
}

// sessionStillActive asks the provider whether the session token has been
// revoked. A failed or malformed introspection counts as inactive.
func (a *SessionAuthenticator) sessionStillActive(ctx context.Context, sessionID string, tok *jwtx.Token) bool {
	result, err := a.client.Introspect(ctx, tok.Raw)
	if err != nil {
		slogx.FromContext(ctx).Warn("introspection failed", "session", sessionID, "error", err)
		return false
	}
	return result.Active
}

// revokeSession clears a session the provider no longer recognises.
func (a *SessionAuthenticator) revokeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := a.store.Forget(r.Context(), sessionID); err != nil {
		slogx.FromContext(r.Context()).Error("clear revoked session", "error", err)
	}
	a.clearSessionCookie(w)
	http.Redirect(w, r, a.cfg.DefaultRedirectPath, http.StatusFound)
}
