package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ddm-federation/mahiru-go/internal/assetstore"
	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/policy"
)

type allowAllEvaluator struct{}

func (allowAllEvaluator) PermissionsForAsset(asset ids.Identifier) policy.Permissions {
	return policy.Permissions{}
}

func (allowAllEvaluator) MayAccess(permissions policy.Permissions, site ids.Identifier) bool {
	return true
}

func TestNewStoresProvidesIndependentBackingArchives(t *testing.T) {
	stores := New(time.Minute, allowAllEvaluator{}, t.TempDir())

	asset := ids.MustNew("asset:alice:dataset1:site:site1")
	collection := ids.MustNew("asset_collection:alice:published")
	rule := policy.NewInAssetCollection(asset, collection)
	stores.RuleStore.Insert(rule)

	require.Len(t, stores.RuleStore.Objects(), 1)
	require.Empty(t, stores.PartyStore.Objects())
	require.Empty(t, stores.SiteStore.Objects())

	update := stores.RuleStore.GetUpdatesSince(0)
	require.Len(t, update.Created, 1)
}

func TestNewStoresAssetStoreIsUsable(t *testing.T) {
	stores := New(time.Minute, allowAllEvaluator{}, t.TempDir())
	assetID := ids.MustNew("asset:alice:dataset1:site:site1")

	require.NoError(t, stores.AssetStore.Store(assetstore.Asset{ID: assetID, Kind: assetstore.KindData}, "", false))

	got, err := stores.AssetStore.Retrieve(assetID, ids.MustNew("site:bob:runner"))
	require.NoError(t, err)
	require.Equal(t, assetID, got.ID)
}
