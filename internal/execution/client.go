package execution

import (
	"context"

	"github.com/ddm-federation/mahiru-go/internal/assetstore"
	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/workflow"
)

// SiteClient is how a JobRun and the WorkflowExecutor reach other sites: an
// HTTP implementation lives in internal/httpapi, adapted to this interface
// so the execution core stays transport-agnostic.
type SiteClient interface {
	// RetrieveAsset fetches assetID from site on behalf of requester.
	// Returns apperrors NotFound if the asset is absent or access is denied
	// (the two are indistinguishable by contract, §6.4).
	RetrieveAsset(ctx context.Context, site, assetID, requester ids.Identifier) (assetstore.Asset, error)
	// StartWorkflow dispatches an ExecutionRequest to site (§4.7 "Dispatch").
	StartWorkflow(ctx context.Context, site ids.Identifier, request workflow.ExecutionRequest) error
}
