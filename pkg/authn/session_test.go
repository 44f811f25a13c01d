package authn_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/oidcgate/pkg/authn"
	"github.com/aussiebroadwan/oidcgate/pkg/httpx"
	"github.com/aussiebroadwan/oidcgate/pkg/idx"
	"github.com/aussiebroadwan/oidcgate/pkg/jwtx"
	"github.com/aussiebroadwan/oidcgate/pkg/oidcx"
	"github.com/aussiebroadwan/oidcgate/pkg/tokenstore"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://issuer.test"

var signingKey = []byte("0123456789abcdef0123456789abcdef")

func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	if _, ok := claims["iss"]; !ok {
		claims["iss"] = testIssuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	require.NoError(t, err)
	return signed
}

func testPolicy(t *testing.T) *jwtx.Policy {
	t.Helper()

	policy, err := jwtx.NewPolicy(jwtx.IssuerMatches(testIssuer))
	require.NoError(t, err)
	return policy
}

// fakeClient is a scripted ProtocolClient that counts every call.
type fakeClient struct {
	authResp     *oidcx.TokenResponse
	authErr      error
	authRedirect bool

	refreshResp *oidcx.TokenResponse
	refreshErr  error
	lastRefresh string

	introspection *oidcx.Introspection
	introspectErr error

	authCalls, refreshCalls, introspectCalls int
}

func (f *fakeClient) Authenticate(w http.ResponseWriter, r *http.Request) (*oidcx.TokenResponse, error) {
	f.authCalls++
	if f.authRedirect {
		http.Redirect(w, r, "https://provider.test/authorize", http.StatusFound)
		return nil, nil
	}
	return f.authResp, f.authErr
}

func (f *fakeClient) Refresh(_ context.Context, refreshToken string) (*oidcx.TokenResponse, error) {
	f.refreshCalls++
	f.lastRefresh = refreshToken
	return f.refreshResp, f.refreshErr
}

func (f *fakeClient) Introspect(context.Context, string) (*oidcx.Introspection, error) {
	f.introspectCalls++
	return f.introspection, f.introspectErr
}

func (f *fakeClient) protocolCalls() int {
	return f.authCalls + f.refreshCalls + f.introspectCalls
}

type fixture struct {
	auth   *authn.SessionAuthenticator
	client *fakeClient
	store  tokenstore.Store
	policy *jwtx.Policy
	events []authn.UserAuthorized
	now    time.Time
}

func newFixture(t *testing.T, cfg authn.SessionConfig) *fixture {
	t.Helper()

	f := &fixture{
		client: &fakeClient{},
		store:  tokenstore.NewMemoryStore(time.Hour),
		policy: testPolicy(t),
		now:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	f.auth = authn.NewSessionAuthenticator(
		f.policy,
		f.client,
		f.store,
		cfg,
		authn.WithClock(func() time.Time { return f.now }),
		authn.WithListener(authn.AuthorizedFunc(func(_ context.Context, ev authn.UserAuthorized) {
			f.events = append(f.events, ev)
		})),
	)
	return f
}

// seedSession stores an identity token with the given window under a new
// session id and returns that id.
func (f *fixture) seedSession(t *testing.T, issuedAt, expiry time.Time, refresh string) string {
	t.Helper()

	raw := mintToken(t, jwt.MapClaims{
		"sub": "u1",
		"iat": issuedAt.Unix(),
		"exp": expiry.Unix(),
	})
	tok, err := f.policy.Parse(raw)
	require.NoError(t, err)

	sid := idx.New().String()
	require.NoError(t, f.store.Put(context.Background(), sid, tokenstore.Set{
		Identity: tok,
		Refresh:  refresh,
	}))
	return sid
}

func (f *fixture) request(target, sessionID string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	if sessionID != "" {
		r.AddCookie(&http.Cookie{Name: "oidcgate_session", Value: sessionID})
	}
	return r
}

// run pushes a request through the middleware and reports whether the
// next handler ran and with which context token.
func (f *fixture) run(r *http.Request) (*httptest.ResponseRecorder, bool, *jwtx.Token) {
	var (
		nextRan  bool
		ctxToken *jwtx.Token
	)
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		nextRan = true
		ctxToken = httpx.TokenFromContext(r.Context())
	})

	rec := httptest.NewRecorder()
	f.auth.Middleware()(next).ServeHTTP(rec, r)
	return rec, nextRan, ctxToken
}

func TestNoSessionAuthorizes(t *testing.T) {
	f := newFixture(t, authn.SessionConfig{})
	f.client.authResp = &oidcx.TokenResponse{
		IDToken: mintToken(t, jwt.MapClaims{
			"sub":   "u1",
			"name":  "Ann",
			"email": "a@x.com",
			"iat":   f.now.Unix(),
			"exp":   f.now.Add(time.Hour).Unix(),
		}),
		RefreshToken: "refresh-1",
	}

	rec, nextRan, ctxToken := f.run(f.request("http://app.test/dashboard", ""))

	require.True(t, nextRan)
	require.NotNil(t, ctxToken)
	require.Equal(t, "u1", ctxToken.Claims.Subject())

	// Exactly one authorized event with the claim triple.
	require.Len(t, f.events, 1)
	require.Equal(t, authn.UserAuthorized{
		Subject:     "u1",
		DisplayName: "Ann",
		Email:       "a@x.com",
	}, f.events[0])

	// A session cookie was minted and the tokens stored under it.
	var sid string
	for _, c := range rec.Result().Cookies() {
		if c.Name == "oidcgate_session" {
			sid = c.Value
		}
	}
	require.NotEmpty(t, sid)

	stored, err := f.store.Get(context.Background(), sid, tokenstore.RoleIdentity)
	require.NoError(t, err)
	require.Equal(t, "u1", stored.Claims.Subject())

	refresh, err := f.store.Get(context.Background(), sid, tokenstore.RoleRefresh)
	require.NoError(t, err)
	require.Equal(t, "refresh-1", refresh.Raw)
}

func TestNoSessionRedirectsToProvider(t *testing.T) {
	f := newFixture(t, authn.SessionConfig{})
	f.client.authRedirect = true

	rec, nextRan, _ := f.run(f.request("http://app.test/dashboard", ""))

	require.False(t, nextRan)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Empty(t, f.events)
}

func TestNoSessionProtocolFailure(t *testing.T) {
	f := newFixture(t, authn.SessionConfig{})
	f.client.authErr = oidcx.ErrProtocol

	rec, nextRan, _ := f.run(f.request("http://app.test/dashboard", ""))

	require.False(t, nextRan)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNoSessionConfigFailure(t *testing.T) {
	f := newFixture(t, authn.SessionConfig{})
	f.client.authErr = oidcx.ErrConfig

	rec, nextRan, _ := f.run(f.request("http://app.test/dashboard", ""))

	require.False(t, nextRan)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCodeStripRedirect(t *testing.T) {
	f := newFixture(t, authn.SessionConfig{})
	f.client.authResp = &oidcx.TokenResponse{
		IDToken: mintToken(t, jwt.MapClaims{
			"sub": "u1",
			"iat": f.now.Unix(),
			"exp": f.now.Add(time.Hour).Unix(),
		}),
	}

	longCode := strings.Repeat("c", 801)
	rec, nextRan, _ := f.run(f.request("http://app.test/dashboard?code="+longCode+"&state=s1", ""))

	require.False(t, nextRan)
	require.Equal(t, http.StatusFound, rec.Code)

	loc := rec.Header().Get("Location")
	require.Contains(t, loc, "/dashboard")
	require.NotContains(t, loc, "code=")
	require.NotContains(t, loc, "state=")

	// The exchange still happened and the event still fired once.
	require.Equal(t, 1, f.client.authCalls)
	require.Len(t, f.events, 1)
}

func TestExpiredSessionClearsAndRedirects(t *testing.T) {
	f := newFixture(t, authn.SessionConfig{
		LogoutRedirectURL: "https://provider.test/logout",
	})
	sid := f.seedSession(t, f.now.Add(-2*time.Hour), f.now.Add(-time.Hour), "refresh-1")

	rec, nextRan, _ := f.run(f.request("http://app.test/dashboard", sid))

	require.False(t, nextRan)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://provider.test/logout", rec.Header().Get("Location"))

	// No provider round-trips; expiry is steady-state.
	require.Zero(t, f.client.protocolCalls())

	tok, err := f.store.Find(context.Background(), sid, tokenstore.RoleIdentity)
	require.NoError(t, err)
	require.Nil(t, tok)
}

func TestNearExpiryThreshold(t *testing.T) {
	issued := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	expiry := issued.Add(3600 * time.Second)

	t.Run("refreshes at 25 percent remaining", func(t *testing.T) {
		f := newFixture(t, authn.SessionConfig{})
		f.now = issued.Add(2700 * time.Second)
		sid := f.seedSession(t, issued, expiry, "refresh-1")
		f.client.refreshResp = &oidcx.TokenResponse{
			IDToken: mintToken(t, jwt.MapClaims{
				"sub": "u1",
				"iat": f.now.Unix(),
				"exp": f.now.Add(time.Hour).Unix(),
			}),
			RefreshToken: "refresh-2",
		}

		_, nextRan, _ := f.run(f.request("http://app.test/dashboard", sid))

		require.True(t, nextRan)
		require.Equal(t, 1, f.client.refreshCalls)
		require.Equal(t, "refresh-1", f.client.lastRefresh)

		stored, err := f.store.Get(context.Background(), sid, tokenstore.RoleRefresh)
		require.NoError(t, err)
		require.Equal(t, "refresh-2", stored.Raw)
	})

	t.Run("passes through just above the threshold", func(t *testing.T) {
		f := newFixture(t, authn.SessionConfig{})
		f.now = issued.Add(2699 * time.Second)
		sid := f.seedSession(t, issued, expiry, "refresh-1")

		_, nextRan, _ := f.run(f.request("http://app.test/dashboard", sid))

		require.True(t, nextRan)
		require.Zero(t, f.client.protocolCalls())
	})
}

func TestNearExpiryWithoutRefreshTokenIsFatal(t *testing.T) {
	f := newFixture(t, authn.SessionConfig{})
	issued := f.now.Add(-50 * time.Minute)
	sid := f.seedSession(t, issued, issued.Add(time.Hour), "")

	rec, nextRan, _ := f.run(f.request("http://app.test/dashboard", sid))

	require.False(t, nextRan)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Zero(t, f.client.refreshCalls)
}

func TestRefreshKeepsOldTokenWhenNotRotated(t *testing.T) {
	f := newFixture(t, authn.SessionConfig{})
	issued := f.now.Add(-50 * time.Minute)
	sid := f.seedSession(t, issued, issued.Add(time.Hour), "refresh-1")
	f.client.refreshResp = &oidcx.TokenResponse{
		IDToken: mintToken(t, jwt.MapClaims{
			"sub": "u1",
			"iat": f.now.Unix(),
			"exp": f.now.Add(time.Hour).Unix(),
		}),
		// Provider did not rotate the refresh token.
		RefreshToken: "",
	}

	_, nextRan, _ := f.run(f.request("http://app.test/dashboard", sid))
	require.True(t, nextRan)

	stored, err := f.store.Get(context.Background(), sid, tokenstore.RoleRefresh)
	require.NoError(t, err)
	require.Equal(t, "refresh-1", stored.Raw)
}

func TestRefreshNeverFiresAuthorizedEvent(t *testing.T) {
	f := newFixture(t, authn.SessionConfig{})
	issued := f.now.Add(-50 * time.Minute)
	sid := f.seedSession(t, issued, issued.Add(time.Hour), "refresh-1")
	f.client.refreshResp = &oidcx.TokenResponse{
		IDToken: mintToken(t, jwt.MapClaims{
			"sub": "u1",
			"iat": f.now.Unix(),
			"exp": f.now.Add(time.Hour).Unix(),
		}),
	}

	_, nextRan, _ := f.run(f.request("http://app.test/dashboard", sid))
	require.True(t, nextRan)
	require.Empty(t, f.events)
}

func TestValidSessionIsIdempotent(t *testing.T) {
	f := newFixture(t, authn.SessionConfig{})
	sid := f.seedSession(t, f.now, f.now.Add(time.Hour), "refresh-1")

	for i := 0; i < 2; i++ {
		_, nextRan, ctxToken := f.run(f.request("http://app.test/dashboard", sid))
		require.True(t, nextRan)
		require.NotNil(t, ctxToken)
		require.Equal(t, "u1", ctxToken.Claims.Subject())
	}

	require.Zero(t, f.client.protocolCalls())
	require.Empty(t, f.events)
}

func TestIntrospectionRevokesInactiveSession(t *testing.T) {
	f := newFixture(t, authn.SessionConfig{
		Introspect:          true,
		DefaultRedirectPath: "/signed-out",
	})
	sid := f.seedSession(t, f.now, f.now.Add(time.Hour), "refresh-1")
	f.client.introspection = &oidcx.Introspection{Active: false}

	rec, nextRan, _ := f.run(f.request("http://app.test/dashboard", sid))

	require.False(t, nextRan)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/signed-out", rec.Header().Get("Location"))

	tok, err := f.store.Find(context.Background(), sid, tokenstore.RoleIdentity)
	require.NoError(t, err)
	require.Nil(t, tok)
}

func TestIntrospectionPassesActiveSession(t *testing.T) {
	f := newFixture(t, authn.SessionConfig{Introspect: true})
	sid := f.seedSession(t, f.now, f.now.Add(time.Hour), "refresh-1")
	f.client.introspection = &oidcx.Introspection{Active: true}

	_, nextRan, _ := f.run(f.request("http://app.test/dashboard", sid))

	require.True(t, nextRan)
	require.Equal(t, 1, f.client.introspectCalls)
}

func TestIntrospectionFailureRevokes(t *testing.T) {
	f := newFixture(t, authn.SessionConfig{Introspect: true})
	sid := f.seedSession(t, f.now, f.now.Add(time.Hour), "refresh-1")
	f.client.introspectErr = oidcx.ErrProtocol

	rec, nextRan, _ := f.run(f.request("http://app.test/dashboard", sid))

	require.False(t, nextRan)
	require.Equal(t, http.StatusFound, rec.Code)
}

func TestLogoutPathPassesThrough(t *testing.T) {
	f := newFixture(t, authn.SessionConfig{})

	_, nextRan, _ := f.run(f.request("http://app.test/auth/logout", ""))

	require.True(t, nextRan)
	require.Zero(t, f.client.protocolCalls())
}
