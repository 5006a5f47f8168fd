package policy

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ddm-federation/mahiru-go/internal/signing"
)

type staticResolver map[string]ed25519.PublicKey

func (r staticResolver) VerificationKey(namespace string) (ed25519.PublicKey, bool) {
	key, ok := r[namespace]
	return key, ok
}

func TestRuleValidatorAcceptsCorrectlySignedRule(t *testing.T) {
	pub, priv, err := signing.GenerateKey()
	require.NoError(t, err)

	asset := id(t, "asset:alice:dataset1:site:site1")
	collection := id(t, "asset_collection:alice:published")
	rule := NewInAssetCollection(asset, collection)
	Sign(rule, priv)

	validator := NewRuleValidator(staticResolver{"alice": pub})
	require.True(t, validator.IsValid(rule))
}

func TestRuleValidatorRejectsWrongKey(t *testing.T) {
	_, priv, err := signing.GenerateKey()
	require.NoError(t, err)
	otherPub, _, err := signing.GenerateKey()
	require.NoError(t, err)

	asset := id(t, "asset:alice:dataset1:site:site1")
	collection := id(t, "asset_collection:alice:published")
	rule := NewInAssetCollection(asset, collection)
	Sign(rule, priv)

	validator := NewRuleValidator(staticResolver{"alice": otherPub})
	require.False(t, validator.IsValid(rule))
}

func TestRuleValidatorRejectsUnknownNamespace(t *testing.T) {
	_, priv, err := signing.GenerateKey()
	require.NoError(t, err)

	asset := id(t, "asset:alice:dataset1:site:site1")
	collection := id(t, "asset_collection:alice:published")
	rule := NewInAssetCollection(asset, collection)
	Sign(rule, priv)

	validator := NewRuleValidator(staticResolver{})
	require.False(t, validator.IsValid(rule))
}
