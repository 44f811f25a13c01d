package httpx

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes a JSON response with the given status code.
// It automatically sets the Content-Type and Cache-Control headers.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a minimal JSON error body for the given status code.
// The body intentionally carries no internal detail; anything worth
// diagnosing has already been logged server-side.
func WriteError(w http.ResponseWriter, code int) {
	WriteJSON(w, code, map[string]string{
		"error": http.StatusText(code),
	})
}

// NoCache sets the Cache-Control and Pragma headers to prevent caching.
// This is required for responses derived from tokens.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}
