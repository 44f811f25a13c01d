// Package tokenstore defines the persistence contract for session tokens
// and ships three adaptors: in-process memory (default), Redis, and SQLite.
//
// A store holds at most one token per role per gateway session. The
// identity and access roles hold parsed tokens; the refresh role holds an
// opaque string. Put replaces the whole set atomically so an access token
// and its paired refresh token are never observed half-updated.
package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/oidcgate/pkg/jwtx"
)

// Role identifies which credential of a session is being addressed.
type Role string

const (
	RoleIdentity Role = "id"
	RoleAccess   Role = "access"
	RoleRefresh  Role = "refresh"
)

// Versioned storage keys. Bump the version when the serialized form
// changes so stale sessions from an old deployment read as absent instead
// of failing to decode.
const (
	keyIdentity = "oidcgate.v1.id_token"
	keyAccess   = "oidcgate.v1.access_token"
	keyRefresh  = "oidcgate.v1.refresh_token"
)

var (
	// ErrMissingToken reports a Get for a role with no stored token.
	ErrMissingToken = errors.New("tokenstore: missing token")

	// ErrUnknownRole reports an unrecognised token role.
	ErrUnknownRole = errors.New("tokenstore: unknown role")

	// ErrUnknownAdaptor reports a configured adaptor name with no
	// registered implementation.
	ErrUnknownAdaptor = errors.New("tokenstore: unknown adaptor")
)

// Set is the session credential triple. Put replaces it wholesale.
type Set struct {
	Identity *jwtx.Token
	Access   *jwtx.Token
	Refresh  string // opaque, "" when the provider issued none
}

// Store is the pluggable persistence contract for session tokens. The
// concrete adaptor is resolved once at startup from configuration, never
// per request.
type Store interface {
	// Find returns the stored token for a role, or (nil, nil) when absent.
	Find(ctx context.Context, sessionID string, role Role) (*jwtx.Token, error)

	// Get returns the stored token for a role, failing with
	// ErrMissingToken when absent.
	Get(ctx context.Context, sessionID string, role Role) (*jwtx.Token, error)

	// Put atomically replaces the session's credential set.
	Put(ctx context.Context, sessionID string, set Set) error

	// Forget clears every role for the session.
	Forget(ctx context.Context, sessionID string) error
}

func storageKey(role Role) (string, error) {
	switch role {
	case RoleIdentity:
		return keyIdentity, nil
	case RoleAccess:
		return keyAccess, nil
	case RoleRefresh:
		return keyRefresh, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
}

// encodeRole serializes the credential a Set holds for a role. The second
// return is false when the Set has nothing for that role.
func encodeRole(set Set, role Role) ([]byte, bool, error) {
	switch role {
	case RoleIdentity:
		if set.Identity == nil {
			return nil, false, nil
		}
		b, err := json.Marshal(set.Identity)
		return b, err == nil, err
	case RoleAccess:
		if set.Access == nil {
			return nil, false, nil
		}
		b, err := json.Marshal(set.Access)
		return b, err == nil, err
	case RoleRefresh:
		if set.Refresh == "" {
			return nil, false, nil
		}
		return []byte(set.Refresh), true, nil
	default:
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
}

// decodeRole reverses encodeRole. Refresh tokens are opaque, so they come
// back as a Token with only the raw form set.
func decodeRole(data []byte, role Role) (*jwtx.Token, error) {
	if role == RoleRefresh {
		return &jwtx.Token{Raw: string(data)}, nil
	}

	var tok jwtx.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("tokenstore: decode %s token: %w", role, err)
	}
	return &tok, nil
}

// getOrMissing implements Get in terms of Find for every adaptor.
func getOrMissing(ctx context.Context, s Store, sessionID string, role Role) (*jwtx.Token, error) {
	tok, err := s.Find(ctx, sessionID, role)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, fmt.Errorf("%w: role %q", ErrMissingToken, role)
	}
	return tok, nil
}

var roles = []Role{RoleIdentity, RoleAccess, RoleRefresh}
