package http

import (
	"net/http"

	"github.com/aussiebroadwan/oidcgate/pkg/httpx"
	"github.com/aussiebroadwan/oidcgate/pkg/slogx"
	"github.com/aussiebroadwan/oidcgate/pkg/tokenstore"
)

// WhoAmIResponse echoes the identity the middleware attached to the
// request. It doubles as the demo page for a freshly authorized session.
type WhoAmIResponse struct {
	Subject     string `json:"sub"`
	DisplayName string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
}

func HandleWhoAmI(w http.ResponseWriter, r *http.Request) {
	tok := httpx.TokenFromContext(r.Context())
	if tok == nil {
		// The middleware always attaches a token; reaching here means a
		// route was mounted without it.
		httpx.WriteError(w, http.StatusInternalServerError)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, WhoAmIResponse{
		Subject:     tok.Claims.Subject(),
		DisplayName: tok.Claims.DisplayName(),
		Email:       tok.Claims.Email(),
	})
}

// LogoutHandler clears the stored session and sends the caller to the
// provider's logout endpoint. The session middleware passes logout paths
// through untouched, so this is the only place sessions end voluntarily.
func LogoutHandler(store tokenstore.Store, cookieName, redirectURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			if err := store.Forget(r.Context(), c.Value); err != nil {
				slogx.FromContext(r.Context()).Error("clear session on logout", "error", err)
			}
		}

		http.SetCookie(w, &http.Cookie{
			Name:     cookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})

		http.Redirect(w, r, redirectURL, http.StatusFound)
	}
}
