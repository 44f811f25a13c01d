package oidcx

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Flow cookie names. They live only for the duration of one authorization
// round-trip.
const (
	stateCookie = "oidcgate_auth_state"
	nonceCookie = "oidcgate_auth_nonce"
	pkceCookie  = "oidcgate_auth_pkce"
)

const flowCookieTTL = 10 * time.Minute

// Client drives protocol-level calls against one provider. It holds no
// per-request state; flow state (state, nonce, PKCE verifier) rides in
// short-lived cookies on the caller's browser.
type Client struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	oauth    oauth2.Config
	http     *http.Client

	appURL           string
	usePKCE          bool
	clientID         string
	clientSecret     string
	introspectionURL string
}

// TokenResponse is the credential set returned by a completed exchange or
// refresh. RefreshToken is empty when the provider rotated nothing.
type TokenResponse struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Authenticate drives the authorization-code flow for the current request.
//
// With no code parameter present it writes a redirect to the provider's
// authorization endpoint and returns (nil, nil); the caller must not touch
// the response further. With a code present it validates state and nonce,
// exchanges the code and returns the resulting tokens. The redirect URL is
// the application base plus the request's own path, so the round-trip
// lands back where it started.
func (c *Client) Authenticate(w http.ResponseWriter, r *http.Request) (*TokenResponse, error) {
	q := r.URL.Query()

	if e := q.Get("error"); e != "" {
		return nil, fmt.Errorf("%w: provider returned %q: %s", ErrProtocol, e, q.Get("error_description"))
	}

	cfg := c.oauth
	cfg.RedirectURL = c.appURL + r.URL.Path

	code := q.Get("code")
	if code == "" {
		return nil, c.beginFlow(w, r, cfg)
	}

	return c.finishFlow(w, r, cfg, code)
}

func (c *Client) beginFlow(w http.ResponseWriter, r *http.Request, cfg oauth2.Config) error {
	state, err := randToken()
	if err != nil {
		return err
	}
	nonce, err := randToken()
	if err != nil {
		return err
	}

	c.setFlowCookie(w, r, stateCookie, state)
	c.setFlowCookie(w, r, nonceCookie, nonce)

	opts := []oauth2.AuthCodeOption{oidc.Nonce(nonce)}
	if c.usePKCE {
		verifier := oauth2.GenerateVerifier()
		c.setFlowCookie(w, r, pkceCookie, verifier)
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}

	http.Redirect(w, r, cfg.AuthCodeURL(state, opts...), http.StatusFound)
	return nil
}

func (c *Client) finishFlow(
	w http.ResponseWriter,
	r *http.Request,
	cfg oauth2.Config,
	code string,
) (*TokenResponse, error) {
	state, err := r.Cookie(stateCookie)
	if err != nil || state.Value == "" || state.Value != r.URL.Query().Get("state") {
		return nil, fmt.Errorf("%w: authorization state mismatch", ErrProtocol)
	}

	var opts []oauth2.AuthCodeOption
	if c.usePKCE {
		verifier, err := r.Cookie(pkceCookie)
		if err != nil || verifier.Value == "" {
			return nil, fmt.Errorf("%w: missing PKCE verifier", ErrProtocol)
		}
		opts = append(opts, oauth2.VerifierOption(verifier.Value))
	}

	tok, err := cfg.Exchange(oidc.ClientContext(r.Context(), c.http), code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange: %w", ErrProtocol, err)
	}

	rawID, ok := tok.Extra("id_token").(string)
	if !ok || rawID == "" {
		return nil, fmt.Errorf("%w: token response carries no id_token", ErrProtocol)
	}

	idToken, err := c.verifier.Verify(oidc.ClientContext(r.Context(), c.http), rawID)
	if err != nil {
		return nil, fmt.Errorf("%w: id_token verification: %w", ErrProtocol, err)
	}

	if nonce, err := r.Cookie(nonceCookie); err != nil || idToken.Nonce != nonce.Value {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrProtocol)
	}

	c.clearFlowCookies(w, r)

	return &TokenResponse{
		IDToken:      rawID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

// Refresh exchanges a refresh token for a fresh credential set.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: empty refresh token", ErrProtocol)
	}

	src := c.oauth.TokenSource(
		oidc.ClientContext(ctx, c.http),
		&oauth2.Token{RefreshToken: refreshToken},
	)

	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh grant: %w", ErrProtocol, err)
	}

	resp := &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if rawID, ok := tok.Extra("id_token").(string); ok {
		resp.IDToken = rawID
	}

	return resp, nil
}

func (c *Client) setFlowCookie(w http.ResponseWriter, r *http.Request, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(flowCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *Client) clearFlowCookies(w http.ResponseWriter, r *http.Request) {
	for _, name := range []string{stateCookie, nonceCookie, pkceCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func randToken() (string, error) {
	var b [20]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("oidcx: entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
