package jwtx

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoConstraints reports an attempt to build a policy that would
	// accept any token. A policy with zero constraints accepts forged
	// issuers, so construction refuses it outright.
	ErrNoConstraints = errors.New("jwtx: policy has no constraints")

	// ErrConfig reports missing or malformed policy configuration.
	ErrConfig = errors.New("jwtx: invalid policy configuration")
)

// Policy is an assembled verification policy: a parser plus the ordered
// set of constraints an accepted token must satisfy.
type Policy struct {
	constraints []Constraint
}

// NewPolicy assembles a policy from constraints. At least one constraint
// is required.
func NewPolicy(constraints ...Constraint) (*Policy, error) {
	if len(constraints) == 0 {
		return nil, ErrNoConstraints
	}
	return &Policy{constraints: constraints}, nil
}

// Parse decodes a serialized token into a Token without asserting any
// constraints. Decode failures (bad structure, bad encoding) wrap
// ErrMalformed.
func (p *Policy) Parse(raw string) (*Token, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return &Token{Raw: raw, Claims: Claims(claims)}, nil
}

// Assert checks every active constraint against the token and returns one
// error per violation, in constraint order. An empty result means the
// token is accepted.
func (p *Policy) Assert(t *Token) []error {
	var violations []error
	for _, c := range p.constraints {
		if err := c.Check(t); err != nil {
			violations = append(violations, fmt.Errorf("constraint %s: %w", c.Name(), err))
		}
	}
	return violations
}

// Constraints returns the active constraint set.
func (p *Policy) Constraints() []Constraint {
	return p.constraints
}

// PolicyConfig is the immutable configuration a verification policy is
// built from.
//
// The issuer constraint is always active. Signature and temporal checks
// are deployment decisions that must be set explicitly: some deployments
// treat the symmetric key purely as a shared secret and validate issuer
// identity only, others verify the full signature and expiry window.
// Disabling signature verification defeats the purpose of signing, which
// is why there is no silent default here; the gateway config layer
// defaults both switches to true and makes turning them off a visible act.
type PolicyConfig struct {
	// Issuer is the expected iss claim value. Required.
	Issuer string

	// KeyBase64 is the symmetric key material, base64 encoded. Required
	// when RequireSignature is set.
	KeyBase64 string

	// RequireSignature enables the HS256 signature constraint.
	RequireSignature bool

	// RequireExpiry enables the temporal validity constraint.
	RequireExpiry bool

	// Leeway allows small clock skew when validating exp/nbf.
	Leeway time.Duration
}

// PolicyBuilder assembles a verification policy from configuration.
type PolicyBuilder struct {
	cfg PolicyConfig
}

func NewPolicyBuilder(cfg PolicyConfig) *PolicyBuilder {
	return &PolicyBuilder{cfg: cfg}
}

// Build validates the configuration and assembles the policy. It fails
// when the issuer is missing, or when signature verification is requested
// with absent or undecodable key material.
func (b *PolicyBuilder) Build() (*Policy, error) {
	if b.cfg.Issuer == "" {
		return nil, fmt.Errorf("%w: issuer is required", ErrConfig)
	}

	constraints := []Constraint{IssuerMatches(b.cfg.Issuer)}

	if b.cfg.RequireSignature {
		if b.cfg.KeyBase64 == "" {
			return nil, fmt.Errorf("%w: signature verification requires key material", ErrConfig)
		}

		key, err := base64.StdEncoding.DecodeString(b.cfg.KeyBase64)
		if err != nil {
			return nil, fmt.Errorf("%w: key material is not valid base64: %w", ErrConfig, err)
		}
		if len(key) == 0 {
			return nil, fmt.Errorf("%w: key material is empty", ErrConfig)
		}

		constraints = append(constraints, SignatureMatches(key))
	}

	if b.cfg.RequireExpiry {
		constraints = append(constraints, TemporallyValid(b.cfg.Leeway))
	}

	return NewPolicy(constraints...)
}
