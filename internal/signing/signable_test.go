package signing

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

type rawBytes []byte

func (r rawBytes) SigningRepresentation() []byte { return r }

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKey()
	require.NoError(t, err)

	repr := rawBytes("asset:alice:dataset1|asset_collection:alice:published")
	sig := Sign(priv, repr)
	require.True(t, Verify(pub, repr, sig))
}

func TestVerifyRejectsTamperedRepresentation(t *testing.T) {
	pub, priv, err := GenerateKey()
	require.NoError(t, err)

	repr := rawBytes("site:alice:site1|asset:alice:dataset1")
	sig := Sign(priv, repr)

	tampered := rawBytes("site:alice:site2|asset:alice:dataset1")
	require.False(t, Verify(pub, tampered, sig))
}

func TestVerifyRejectsEmptySignature(t *testing.T) {
	pub, _, err := GenerateKey()
	require.NoError(t, err)
	require.False(t, Verify(pub, rawBytes("x"), nil))
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	secret := []byte("correct horse battery staple")

	pub1, priv1, err := DeriveKey(secret, "alice")
	require.NoError(t, err)
	pub2, priv2, err := DeriveKey(secret, "alice")
	require.NoError(t, err)

	require.True(t, bytes.Equal(pub1, pub2))
	require.True(t, bytes.Equal(priv1, priv2))
}

func TestDeriveKeyVariesByNamespace(t *testing.T) {
	secret := []byte("correct horse battery staple")

	pubAlice, _, err := DeriveKey(secret, "alice")
	require.NoError(t, err)
	pubBob, _, err := DeriveKey(secret, "bob")
	require.NoError(t, err)

	require.False(t, bytes.Equal(pubAlice, pubBob))
}

func TestDeriveKeyProducesUsableSignature(t *testing.T) {
	pub, priv, err := DeriveKey([]byte("shared-secret"), "alice")
	require.NoError(t, err)

	repr := rawBytes("party:alice:root|party_collection:alice:trusted")
	sig := Sign(priv, repr)
	require.True(t, Verify(pub, repr, sig))
}
