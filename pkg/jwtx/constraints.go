package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")
	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
)

// Constraint is a single pass/fail rule a token must satisfy during
// verification.
type Constraint interface {
	Name() string
	Check(t *Token) error
}

// IssuerMatches returns a constraint requiring the token's iss claim to
// equal expected.
func IssuerMatches(expected string) Constraint {
	return issuerMatches{expected: expected}
}

type issuerMatches struct {
	expected string
}

func (issuerMatches) Name() string { return "issuer" }

func (c issuerMatches) Check(t *Token) error {
	if got := t.Claims.Issuer(); got != c.expected {
		return fmt.Errorf("%w: got %q, want %q", ErrIssuer, got, c.expected)
	}
	return nil
}

// SignatureMatches returns a constraint requiring the token to carry a
// valid HS256 signature under the given symmetric key.
func SignatureMatches(key []byte) Constraint {
	return signatureMatches{key: key}
}

type signatureMatches struct {
	key []byte
}

func (signatureMatches) Name() string { return "signature" }

func (c signatureMatches) Check(t *Token) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	)

	_, err := parser.Parse(t.Raw, func(*jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSig, err)
	}
	return nil
}

// TemporallyValid returns a constraint requiring the token to be inside
// its exp/nbf window, with leeway for clock skew.
func TemporallyValid(leeway time.Duration) Constraint {
	return temporallyValid{leeway: leeway, now: time.Now}
}

// TemporallyValidAt is TemporallyValid with an injectable clock, for tests.
func TemporallyValidAt(leeway time.Duration, now func() time.Time) Constraint {
	return temporallyValid{leeway: leeway, now: now}
}

type temporallyValid struct {
	leeway time.Duration
	now    func() time.Time
}

func (temporallyValid) Name() string { return "temporal" }

func (c temporallyValid) Check(t *Token) error {
	now := c.now().UTC()

	if exp, ok := t.Claims.Time("exp"); ok && now.After(exp.Add(c.leeway)) {
		return ErrExpired
	}

	if nbf, ok := t.Claims.Time("nbf"); ok && now.Before(nbf.Add(-c.leeway)) {
		return ErrNotYetValid
	}

	return nil
}
