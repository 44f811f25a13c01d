package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/oidcgate/pkg/httpx"
	"github.com/aussiebroadwan/oidcgate/pkg/tokenstore"
)

// HealthResponse is the body of both health probes.
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime,omitempty"`
	Version string `json:"version,omitempty"`
}

// LivezHandler always reports ok while the process is up.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler reports ready once the token store answers. A probe
// lookup against a session id that never exists exercises the backend
// round-trip without touching real sessions.
func ReadyzHandler(store tokenstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := store.Find(r.Context(), "readyz-probe", tokenstore.RoleIdentity); err != nil {
			httpx.WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
	}
}
