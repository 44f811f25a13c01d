package cryptox_test

import (
	"testing"

	"github.com/aussiebroadwan/oidcgate/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestBoxRoundTrip(t *testing.T) {
	box, err := cryptox.NewBox([]byte("master key material"))
	require.NoError(t, err)

	sealed, err := box.Seal([]byte(`{"raw":"eyJ...","claims":{"sub":"u1"}}`))
	require.NoError(t, err)

	plain, err := box.Open(sealed)
	require.NoError(t, err)
	require.JSONEq(t, `{"raw":"eyJ...","claims":{"sub":"u1"}}`, string(plain))
}

func TestBoxNonceUniqueness(t *testing.T) {
	box, err := cryptox.NewBox([]byte("master key material"))
	require.NoError(t, err)

	a, err := box.Seal([]byte("same payload"))
	require.NoError(t, err)
	b, err := box.Seal([]byte("same payload"))
	require.NoError(t, err)

	require.NotEqual(t, a, b)
}

func TestBoxRejectsTampering(t *testing.T) {
	box, err := cryptox.NewBox([]byte("master key material"))
	require.NoError(t, err)

	sealed, err := box.Seal([]byte("payload"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = box.Open(sealed)
	require.ErrorIs(t, err, cryptox.ErrOpen)
}

func TestBoxRejectsWrongKey(t *testing.T) {
	a, err := cryptox.NewBox([]byte("key a"))
	require.NoError(t, err)
	b, err := cryptox.NewBox([]byte("key b"))
	require.NoError(t, err)

	sealed, err := a.Seal([]byte("payload"))
	require.NoError(t, err)

	_, err = b.Open(sealed)
	require.ErrorIs(t, err, cryptox.ErrOpen)
}

func TestBoxRejectsTruncated(t *testing.T) {
	box, err := cryptox.NewBox([]byte("master key material"))
	require.NoError(t, err)

	_, err = box.Open([]byte("short"))
	require.ErrorIs(t, err, cryptox.ErrOpen)
}

func TestNewBoxRequiresKey(t *testing.T) {
	_, err := cryptox.NewBox(nil)
	require.ErrorIs(t, err, cryptox.ErrNoKeyMaterial)
}
