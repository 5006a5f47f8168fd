// Package assetstore implements the logical asset store of §4 (component
// table, "AssetStore (logical)") and the access-control half of the
// asset-store contract in §6.4. Storage of container images and the
// container runtime itself are boundary concerns (§1, §6.3) and are not
// part of this package; this package owns asset metadata, payload bytes or
// a path to an on-disk image, and the may_access enforcement at retrieval.
package assetstore

import (
	"io"
	"os"
	"sync"

	"github.com/ddm-federation/mahiru-go/internal/apperrors"
	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/policy"
)

// Kind distinguishes a data-carrying asset from a runnable compute asset.
type Kind string

const (
	KindData    Kind = "data"
	KindCompute Kind = "compute"
)

// Provenance records which subjob produced a result asset and under which
// output name, the attachment carried alongside every stored intermediate
// result (§4.7 "Executing one step").
type Provenance struct {
	SubjobID   string
	OutputName string
}

// Asset is one stored item: either a primary data/compute asset registered
// directly by its owner, or a result produced by workflow execution.
type Asset struct {
	ID          ids.Identifier
	Kind        Kind
	ImagePath   string // path to the on-disk image/blob, owned by this store
	Provenance  *Provenance
	permissions *policy.Permissions // precomputed for results; nil for primary assets
}

// Evaluator is the subset of policy.Evaluator the store needs to compute
// permissions for primary (non-result) assets on demand.
type Evaluator interface {
	PermissionsForAsset(asset ids.Identifier) policy.Permissions
	MayAccess(permissions policy.Permissions, site ids.Identifier) bool
}

// Store is the logical asset store: a mutex-guarded map from asset id to
// Asset, plus the directory image bytes are copied into (§5: "the asset
// store owns its stored blobs and is the only writer").
type Store struct {
	mu        sync.RWMutex
	assets    map[ids.Identifier]*Asset
	evaluator Evaluator
	imageDir  string
}

// NewStore creates an empty Store. imageDir is the directory image files are
// copied (or moved) into; it must already exist.
func NewStore(evaluator Evaluator, imageDir string) *Store {
	return &Store{
		assets:    map[ids.Identifier]*Asset{},
		evaluator: evaluator,
		imageDir:  imageDir,
	}
}

// Store registers asset, optionally moving (rather than copying) the image
// at srcPath into the store's image directory. Duplicate ids are rejected
// with AlreadyExists, matching the idempotency contract of §6.4.
func (s *Store) Store(asset Asset, srcPath string, move bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.assets[asset.ID]; exists {
		return apperrors.AlreadyExists("asset", string(asset.ID))
	}

	if srcPath != "" {
		dstPath, err := s.placeImage(asset.ID, srcPath, move)
		if err != nil {
			return err
		}
		asset.ImagePath = dstPath
	}

	copied := asset
	s.assets[asset.ID] = &copied
	return nil
}

// StoreImage attaches an image file to a previously registered asset (§6.4).
func (s *Store) StoreImage(assetID ids.Identifier, srcPath string, move bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[assetID]
	if !ok {
		return apperrors.NotFound("asset", string(assetID))
	}
	dstPath, err := s.placeImage(assetID, srcPath, move)
	if err != nil {
		return err
	}
	asset.ImagePath = dstPath
	return nil
}

// StoreResult registers a workflow result with its precomputed permissions
// and provenance, as the executor does after a step completes (§4.7).
func (s *Store) StoreResult(id ids.Identifier, kind Kind, imagePath string, provenance Provenance, permissions policy.Permissions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.assets[id]; exists {
		return apperrors.AlreadyExists("asset", string(id))
	}
	s.assets[id] = &Asset{
		ID:          id,
		Kind:        kind,
		ImagePath:   imagePath,
		Provenance:  &provenance,
		permissions: &permissions,
	}
	return nil
}

// Retrieve returns asset if requesterSite is permitted to access it.
// Absence and policy denial are deliberately indistinguishable (both return
// NotFound) to prevent existence-leakage (§6.4).
func (s *Store) Retrieve(assetID ids.Identifier, requesterSite ids.Identifier) (Asset, error) {
	s.mu.RLock()
	asset, ok := s.assets[assetID]
	s.mu.RUnlock()
	if !ok {
		return Asset{}, apperrors.NotFound("asset", string(assetID))
	}

	perms := s.permissionsFor(*asset)
	if !s.evaluator.MayAccess(perms, requesterSite) {
		return Asset{}, apperrors.NotFound("asset", string(assetID))
	}
	return *asset, nil
}

// Exists reports whether assetID is registered, without any access check;
// used internally by the executor's is_done polling loop analogue where the
// caller already trusts itself.
func (s *Store) Exists(assetID ids.Identifier) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.assets[assetID]
	return ok
}

func (s *Store) permissionsFor(asset Asset) policy.Permissions {
	if asset.permissions != nil {
		return *asset.permissions
	}
	return s.evaluator.PermissionsForAsset(asset.ID)
}

func (s *Store) placeImage(assetID ids.Identifier, srcPath string, move bool) (string, error) {
	dstPath := s.imageDir + "/" + sanitizeFilename(string(assetID))
	if move {
		if err := os.Rename(srcPath, dstPath); err != nil {
			return "", apperrors.Internal("move asset image", err)
		}
		return dstPath, nil
	}
	if err := copyFile(srcPath, dstPath); err != nil {
		return "", apperrors.Internal("copy asset image", err)
	}
	return dstPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func sanitizeFilename(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c == ':' || c == '/' {
			out[i] = '_'
		} else {
			out[i] = c
		}
	}
	return string(out)
}
