package jwtx

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNoValidityWindow reports a token missing the iat/exp pair needed
	// to compute remaining validity.
	ErrNoValidityWindow = errors.New("jwtx: token has no validity window")
)

// Claims is the decoded claim set of a token. Values keep their JSON
// representation (strings, float64 numbers, nested maps).
type Claims map[string]any

// Has distinguishes "absent" from "present but null".
func (c Claims) Has(name string) bool {
	_, ok := c[name]
	return ok
}

// Get returns the raw claim value, or nil for unknown keys.
func (c Claims) Get(name string) any {
	return c[name]
}

// String returns the claim as a string, or "" when absent or not a string.
func (c Claims) String(name string) string {
	s, _ := c[name].(string)
	return s
}

// Time returns a temporal claim (exp, iat, nbf) as a UTC time. The second
// return is false when the claim is absent or not numeric.
//
// Numeric dates survive two serialization paths here: golang-jwt parsing
// (float64) and the token store's JSON round trip (float64 or json.Number),
// so all numeric encodings are accepted.
func (c Claims) Time(name string) (time.Time, bool) {
	raw, ok := c[name]
	if !ok {
		return time.Time{}, false
	}

	var secs float64
	switch v := raw.(type) {
	case float64:
		secs = v
	case int64:
		secs = float64(v)
	case int:
		secs = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		secs = f
	default:
		return time.Time{}, false
	}

	return time.Unix(int64(secs), 0).UTC(), true
}

// Issuer returns the iss claim, or "".
func (c Claims) Issuer() string { return c.String("iss") }

// Subject returns the sub claim, or "".
func (c Claims) Subject() string { return c.String("sub") }

// Email returns the email claim, or "".
func (c Claims) Email() string { return c.String("email") }

// DisplayName returns the user's display name, preferring the nickname
// claim and falling back to name.
func (c Claims) DisplayName() string {
	if n := c.String("nickname"); n != "" {
		return n
	}
	return c.String("name")
}

// Token is an immutable decoded credential: the original serialized form
// plus its claim set. Construct it through Policy.Parse.
type Token struct {
	Raw    string `json:"raw"`
	Claims Claims `json:"claims"`
}

// IsExpired reports whether the token's exp claim has passed. A token
// without an exp claim never expires.
func (t *Token) IsExpired(now time.Time) bool {
	exp, ok := t.Claims.Time("exp")
	if !ok {
		return false
	}
	return !now.Before(exp)
}

// RemainingPercent reports how much of the token's validity window is left
// at now, as a percentage: 100 at iat, 0 at exp, negative past expiry.
// Both iat and exp must be present and form a non-empty window.
func (t *Token) RemainingPercent(now time.Time) (float64, error) {
	issuedAt, ok := t.Claims.Time("iat")
	if !ok {
		return 0, ErrNoValidityWindow
	}
	expiresAt, ok := t.Claims.Time("exp")
	if !ok {
		return 0, ErrNoValidityWindow
	}

	validity := expiresAt.Sub(issuedAt).Seconds()
	if validity <= 0 {
		return 0, ErrNoValidityWindow
	}

	left := expiresAt.Sub(now).Seconds()
	return (left / validity) * 100, nil
}
