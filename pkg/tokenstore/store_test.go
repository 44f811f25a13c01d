package tokenstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/oidcgate/pkg/jwtx"
	"github.com/aussiebroadwan/oidcgate/pkg/tokenstore"
	"github.com/stretchr/testify/require"
)

func sampleSet(sub string) tokenstore.Set {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	claims := jwtx.Claims{
		"sub": sub,
		"iat": float64(now.Unix()),
		"exp": float64(now.Add(time.Hour).Unix()),
	}

	return tokenstore.Set{
		Identity: &jwtx.Token{Raw: "id." + sub, Claims: claims},
		Access:   &jwtx.Token{Raw: "access." + sub, Claims: claims},
		Refresh:  "refresh." + sub,
	}
}

// testStoreConformance exercises the contract every adaptor must satisfy.
func testStoreConformance(t *testing.T, s tokenstore.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("find on empty session returns nil", func(t *testing.T) {
		for _, role := range []tokenstore.Role{
			tokenstore.RoleIdentity, tokenstore.RoleAccess, tokenstore.RoleRefresh,
		} {
			tok, err := s.Find(ctx, "sess-empty", role)
			require.NoError(t, err)
			require.Nil(t, tok)
		}
	})

	t.Run("get on empty session fails", func(t *testing.T) {
		_, err := s.Get(ctx, "sess-empty", tokenstore.RoleAccess)
		require.ErrorIs(t, err, tokenstore.ErrMissingToken)
	})

	t.Run("put then get round trips", func(t *testing.T) {
		set := sampleSet("u1")
		require.NoError(t, s.Put(ctx, "sess-1", set))

		access, err := s.Get(ctx, "sess-1", tokenstore.RoleAccess)
		require.NoError(t, err)
		require.Equal(t, set.Access.Raw, access.Raw)
		require.Equal(t, "u1", access.Claims.Subject())

		id, err := s.Get(ctx, "sess-1", tokenstore.RoleIdentity)
		require.NoError(t, err)
		require.Equal(t, set.Identity.Raw, id.Raw)

		refresh, err := s.Get(ctx, "sess-1", tokenstore.RoleRefresh)
		require.NoError(t, err)
		require.Equal(t, "refresh.u1", refresh.Raw)
	})

	t.Run("put replaces the whole set", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "sess-2", sampleSet("old")))

		// New set without a refresh token must not leave the old one behind.
		next := sampleSet("new")
		next.Refresh = ""
		require.NoError(t, s.Put(ctx, "sess-2", next))

		access, err := s.Get(ctx, "sess-2", tokenstore.RoleAccess)
		require.NoError(t, err)
		require.Equal(t, "access.new", access.Raw)

		refresh, err := s.Find(ctx, "sess-2", tokenstore.RoleRefresh)
		require.NoError(t, err)
		require.Nil(t, refresh)
	})

	t.Run("forget clears every role", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "sess-3", sampleSet("u3")))
		require.NoError(t, s.Forget(ctx, "sess-3"))

		for _, role := range []tokenstore.Role{
			tokenstore.RoleIdentity, tokenstore.RoleAccess, tokenstore.RoleRefresh,
		} {
			tok, err := s.Find(ctx, "sess-3", role)
			require.NoError(t, err)
			require.Nil(t, tok)
		}
	})

	t.Run("sessions are isolated", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "sess-a", sampleSet("a")))
		require.NoError(t, s.Put(ctx, "sess-b", sampleSet("b")))
		require.NoError(t, s.Forget(ctx, "sess-a"))

		tok, err := s.Get(ctx, "sess-b", tokenstore.RoleAccess)
		require.NoError(t, err)
		require.Equal(t, "access.b", tok.Raw)
	})

	t.Run("unknown role rejected", func(t *testing.T) {
		_, err := s.Find(ctx, "sess-1", tokenstore.Role("bogus"))
		require.ErrorIs(t, err, tokenstore.ErrUnknownRole)
	})
}
