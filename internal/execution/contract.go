// Package execution implements distributed workflow execution (§4.7):
// cross-site dispatch, the per-site JobRun step-scheduling loop, and the
// reference-counted image cache and domain-administrator contract boundary
// of §5 and §6.3.
package execution

import (
	"context"
	"sync"

	"github.com/ddm-federation/mahiru-go/internal/apperrors"
	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/metrics"
	"github.com/ddm-federation/mahiru-go/internal/workflow"
)

// StepResult is returned by the domain administrator after executing a step
// (§6.3): a path to a built artifact image per output, and a cleanup
// function the runner must call once every output has been stored.
type StepResult struct {
	Files   map[string]string // output name -> local path
	Cleanup func() error
}

// DomainAdministrator is the boundary contract of §6.3. Its internals (the
// container runtime isolating the compute container on a private per-job
// network, snapshotting output filesystems) are explicitly out of scope
// (§1); only the interface the core consumes is specified here.
type DomainAdministrator interface {
	ExecuteStep(
		ctx context.Context,
		step workflow.WorkflowStep,
		inputs map[string]ids.Identifier,
		computeAsset ids.Identifier,
		outputBases map[string]ids.Identifier,
		idHashes map[string]string,
		subjob Subjob,
	) (StepResult, error)
}

// ImageCache is the reference-counted cache of §5: EnsureImage increments
// the count for an asset, downloading lazily on first reference and
// deduplicating concurrent downloads for the same asset; FreeImage
// decrements and evicts at zero. A single mutex serializes both operations.
type ImageCache struct {
	mu       sync.Mutex
	refs     map[ids.Identifier]int
	paths    map[ids.Identifier]string
	download func(ctx context.Context, asset ids.Identifier) (string, error)
	pending  map[ids.Identifier]*sync.WaitGroup
	Metrics  *metrics.Metrics // optional; records ImageCacheHits/Misses
}

// NewImageCache creates an ImageCache that calls download to materialize an
// image the first time it is referenced.
func NewImageCache(download func(ctx context.Context, asset ids.Identifier) (string, error)) *ImageCache {
	return &ImageCache{
		refs:     map[ids.Identifier]int{},
		paths:    map[ids.Identifier]string{},
		download: download,
		pending:  map[ids.Identifier]*sync.WaitGroup{},
	}
}

func (c *ImageCache) recordHit() {
	if c.Metrics != nil {
		c.Metrics.ImageCacheHits.Inc()
	}
}

func (c *ImageCache) recordMiss() {
	if c.Metrics != nil {
		c.Metrics.ImageCacheMisses.Inc()
	}
}

// EnsureImage increments asset's reference count, downloading it first if
// this is the first live reference. Concurrent callers for the same asset
// serialize on the cache mutex and share a single download.
func (c *ImageCache) EnsureImage(ctx context.Context, asset ids.Identifier) (string, error) {
	c.mu.Lock()
	if path, ok := c.paths[asset]; ok {
		c.refs[asset]++
		c.mu.Unlock()
		c.recordHit()
		return path, nil
	}
	if wg, inFlight := c.pending[asset]; inFlight {
		c.mu.Unlock()
		wg.Wait()
		c.mu.Lock()
		path, ok := c.paths[asset]
		if !ok {
			c.mu.Unlock()
			return "", apperrors.Internal("image download failed for "+string(asset), nil)
		}
		c.refs[asset]++
		c.mu.Unlock()
		c.recordHit()
		return path, nil
	}

	wg := &sync.WaitGroup{}
	wg.Add(1)
	c.pending[asset] = wg
	c.mu.Unlock()

	c.recordMiss()
	path, err := c.download(ctx, asset)

	c.mu.Lock()
	delete(c.pending, asset)
	wg.Done()
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	c.paths[asset] = path
	c.refs[asset] = 1
	c.mu.Unlock()
	return path, nil
}

// FreeImage decrements asset's reference count, evicting the cache entry
// once it reaches zero.
func (c *ImageCache) FreeImage(asset ids.Identifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs[asset] <= 1 {
		delete(c.refs, asset)
		delete(c.paths, asset)
		return
	}
	c.refs[asset]--
}
