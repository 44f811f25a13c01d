// Package oidcx wraps the OpenID Connect protocol round-trips the gateway
// needs: the authorization-code flow, refresh grants and RFC 7662 token
// introspection. Everything cryptographic or wire-level is delegated to
// coreos/go-oidc and golang.org/x/oauth2; this package only configures
// and sequences them.
package oidcx

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

var (
	// ErrConfig reports missing or malformed client configuration.
	ErrConfig = errors.New("oidcx: invalid client configuration")

	// ErrProtocol reports a failed provider round-trip: network errors,
	// provider rejections, bad authorization codes.
	ErrProtocol = errors.New("oidcx: protocol error")
)

// Config is the immutable configuration a protocol client is built from.
type Config struct {
	// Endpoint is the OIDC issuer base URL used for discovery. Required.
	Endpoint string

	// ClientID identifies this relying party at the provider. Required.
	ClientID string

	// ClientSecret authenticates a confidential client. Required unless
	// UsePKCE is set; with PKCE no secret is sent at all.
	ClientSecret string

	// UsePKCE switches to the public-client flow with an S256 code
	// challenge instead of a client secret.
	UsePKCE bool

	// AppURL is the externally visible base URL of the protected
	// application. Required.
	AppURL string

	// RedirectPath is appended to AppURL to form the registered redirect
	// URL. The flow itself redirects back to the path the user was on.
	RedirectPath string

	// Scopes are requested in addition to "openid".
	Scopes []string

	// IntrospectionURL overrides the introspection endpoint advertised
	// by discovery. Optional.
	IntrospectionURL string

	// VerifyPeer and VerifyHost toggle TLS verification towards the
	// provider. Disabling either disables certificate verification
	// entirely; Go's TLS stack does not split the two checks.
	VerifyPeer bool
	VerifyHost bool
}

// Builder assembles protocol clients from configuration. Build performs
// provider discovery, so it needs a context and network access; it is
// meant to run once at startup.
type Builder struct {
	cfg Config
}

func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg}
}

// Build validates the configuration, discovers the provider's endpoints
// and returns a ready client.
func (b *Builder) Build(ctx context.Context) (*Client, error) {
	return b.build(ctx, b.cfg.UsePKCE)
}

// BuildPublic is Build but forces the public-client (PKCE) flow
// regardless of configuration.
func (b *Builder) BuildPublic(ctx context.Context) (*Client, error) {
	return b.build(ctx, true)
}

func (b *Builder) build(ctx context.Context, usePKCE bool) (*Client, error) {
	if b.cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: provider endpoint is required", ErrConfig)
	}
	if b.cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: client id is required", ErrConfig)
	}
	if b.cfg.AppURL == "" {
		return nil, fmt.Errorf("%w: application base URL is required", ErrConfig)
	}
	if !usePKCE && b.cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: confidential client requires a secret", ErrConfig)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	if !b.cfg.VerifyPeer || !b.cfg.VerifyHost {
		httpClient.Transport = &http.Transport{
			// #nosec G402 -- operator explicitly disabled verification
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), b.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: discovery against %s: %w", ErrProtocol, b.cfg.Endpoint, err)
	}

	secret := b.cfg.ClientSecret
	if usePKCE {
		secret = ""
	}

	appURL := strings.TrimRight(b.cfg.AppURL, "/")

	oauthCfg := oauth2.Config{
		ClientID:     b.cfg.ClientID,
		ClientSecret: secret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  appURL + b.cfg.RedirectPath,
		Scopes:       append([]string{oidc.ScopeOpenID}, b.cfg.Scopes...),
	}

	introspectionURL := b.cfg.IntrospectionURL
	if introspectionURL == "" {
		// RFC 8414 metadata; absent from many discovery documents.
		var meta struct {
			IntrospectionEndpoint string `json:"introspection_endpoint"`
		}
		if err := provider.Claims(&meta); err == nil {
			introspectionURL = meta.IntrospectionEndpoint
		}
	}

	return &Client{
		provider:         provider,
		verifier:         provider.Verifier(&oidc.Config{ClientID: b.cfg.ClientID}),
		oauth:            oauthCfg,
		http:             httpClient,
		appURL:           appURL,
		usePKCE:          usePKCE,
		clientID:         b.cfg.ClientID,
		clientSecret:     secret,
		introspectionURL: introspectionURL,
	}, nil
}
