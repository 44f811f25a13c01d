package oidcx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Introspection is an RFC 7662 token introspection result. Per the RFC an
// inactive token carries only the active flag.
type Introspection struct {
	Active bool `json:"active"`

	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Iss       string `json:"iss,omitempty"`
	Jti       string `json:"jti,omitempty"`
}

const maxIntrospectionResponse = 64 * 1024

// Introspect asks the provider whether a token is still active. It fails
// when no introspection endpoint is configured or discovered, and on any
// malformed response; callers treat both the same as an inactive token.
func (c *Client) Introspect(ctx context.Context, token string) (*Introspection, error) {
	if c.introspectionURL == "" {
		return nil, fmt.Errorf("%w: no introspection endpoint", ErrConfig)
	}

	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", "access_token")

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.introspectionURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: build introspection request: %w", ErrProtocol, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.clientID != "" && c.clientSecret != "" {
		req.SetBasicAuth(c.clientID, c.clientSecret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: introspection request: %w", ErrProtocol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIntrospectionResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: read introspection response: %w", ErrProtocol, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: introspection returned HTTP %d", ErrProtocol, resp.StatusCode)
	}

	var result Introspection
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: malformed introspection response: %w", ErrProtocol, err)
	}

	return &result, nil
}
