package authn

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/oidcgate/pkg/httpx"
	"github.com/aussiebroadwan/oidcgate/pkg/jwtx"
	"github.com/aussiebroadwan/oidcgate/pkg/slogx"
)

const bearerPrefix = "Bearer "

// BearerAuthenticator guards machine-to-machine routes. Stateless per
// request: the caller proves the credential fresh on every call, so there
// is no store, no refresh and no introspection here.
type BearerAuthenticator struct {
	policy *jwtx.Policy
	realm  string
}

func NewBearerAuthenticator(policy *jwtx.Policy) *BearerAuthenticator {
	return &BearerAuthenticator{policy: policy, realm: "oidcgate"}
}

// Middleware rejects requests without a valid bearer token and attaches
// the verified token to the request context for the next handler.
func (a *BearerAuthenticator) Middleware() httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := slogx.FromContext(r.Context())

			raw, ok := bearerToken(r)
			if !ok {
				a.challenge(w)
				return
			}

			tok, err := a.policy.Parse(raw)
			if err != nil {
				log.Warn("bearer token rejected", "error", err)
				a.challenge(w)
				return
			}

			if violations := a.policy.Assert(tok); len(violations) > 0 {
				for _, v := range violations {
					log.Warn("bearer token rejected", "error", v)
				}
				a.challenge(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(httpx.WithToken(r.Context(), tok)))
		})
	}
}

func (a *BearerAuthenticator) challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+a.realm+`"`)
	httpx.WriteError(w, http.StatusUnauthorized)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}
