package assetstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/policy"
)

type allowSet struct {
	allowed map[ids.Identifier]bool
}

func (a allowSet) PermissionsForAsset(asset ids.Identifier) policy.Permissions { return policy.Permissions{} }

func (a allowSet) MayAccess(permissions policy.Permissions, site ids.Identifier) bool {
	return a.allowed[site]
}

func TestStoreAndRetrieveGrantsPermittedSite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))

	site := ids.MustNew("site:bob:runner")
	store := NewStore(allowSet{allowed: map[ids.Identifier]bool{site: true}}, dir)

	assetID := ids.MustNew("asset:alice:dataset1:site:site1")
	require.NoError(t, store.Store(Asset{ID: assetID, Kind: KindData}, src, false))

	got, err := store.Retrieve(assetID, site)
	require.NoError(t, err)
	require.Equal(t, assetID, got.ID)
	require.FileExists(t, got.ImagePath)
}

func TestRetrieveDeniesUnpermittedSiteAsNotFound(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(allowSet{allowed: map[ids.Identifier]bool{}}, dir)

	assetID := ids.MustNew("asset:alice:dataset1:site:site1")
	require.NoError(t, store.Store(Asset{ID: assetID, Kind: KindData}, "", false))

	_, err := store.Retrieve(assetID, ids.MustNew("site:bob:runner"))
	require.Error(t, err)
}

func TestRetrieveMissingAssetIsIndistinguishableFromDenial(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(allowSet{allowed: map[ids.Identifier]bool{}}, dir)

	_, errMissing := store.Retrieve(ids.MustNew("asset:alice:dataset1:site:site1"), ids.MustNew("site:bob:runner"))

	require.NoError(t, store.Store(Asset{ID: ids.MustNew("asset:alice:dataset2:site:site1"), Kind: KindData}, "", false))
	_, errDenied := store.Retrieve(ids.MustNew("asset:alice:dataset2:site:site1"), ids.MustNew("site:bob:runner"))

	require.Error(t, errMissing)
	require.Error(t, errDenied)
}

func TestStoreRejectsDuplicateAssetID(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(allowSet{}, dir)
	assetID := ids.MustNew("asset:alice:dataset1:site:site1")

	require.NoError(t, store.Store(Asset{ID: assetID, Kind: KindData}, "", false))
	err := store.Store(Asset{ID: assetID, Kind: KindData}, "", false)
	require.Error(t, err)
}
