package execution

import (
	"context"
	"time"

	"github.com/ddm-federation/mahiru-go/internal/apperrors"
	"github.com/ddm-federation/mahiru-go/internal/assetstore"
	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/workflow"
)

// DefaultPollInterval is how often the orchestrator checks is_done while
// waiting for a job's outputs to become retrievable (§4.7: "~5 s interval"),
// used when Executor.PollInterval is left at its zero value.
const DefaultPollInterval = 5 * time.Second

// Executor is the orchestrating side of §4.7: it dispatches an
// ExecutionRequest to every site named in the plan, then polls until every
// workflow output is retrievable.
type Executor struct {
	Client       SiteClient
	SubmitterID  ids.Identifier
	PollInterval time.Duration // <=0 uses DefaultPollInterval
}

// NewExecutor creates an Executor submitting on behalf of submitterID
// (used as the requester identity for the final output retrieval poll).
func NewExecutor(client SiteClient, submitterID ids.Identifier) *Executor {
	return &Executor{Client: client, SubmitterID: submitterID, PollInterval: DefaultPollInterval}
}

// StartWorkflow sends the ExecutionRequest to every distinct site named in
// the plan (§4.7 "Dispatch"). Each site is expected to validate the request
// structurally, spawn a background JobRun, and return immediately.
func (e *Executor) StartWorkflow(ctx context.Context, request workflow.ExecutionRequest) error {
	seen := map[ids.Identifier]struct{}{}
	for _, site := range request.Plan.StepSites {
		if _, already := seen[site]; already {
			continue
		}
		seen[site] = struct{}{}
		if err := e.Client.StartWorkflow(ctx, site, request); err != nil {
			return err
		}
	}
	return nil
}

// IsDone reports whether every workflow output of job is currently
// retrievable, by constructing its expected result:<hash> identifier and
// attempting RetrieveAsset at the site named for the producing step in plan
// (§4.7).
func (e *Executor) IsDone(ctx context.Context, job workflow.Job, plan workflow.Plan) (bool, error) {
	idHashes, err := workflow.IDHashes(job)
	if err != nil {
		return false, err
	}

	for outName, ref := range job.Workflow.Outputs {
		hash, ok := idHashes[outName]
		if !ok {
			return false, nil
		}
		resultID := workflow.ResultIdentifier(hash)

		stepName, _, isStepOutput := parseRef(ref)
		var site ids.Identifier
		if isStepOutput {
			s, ok := plan.StepSites[stepName]
			if !ok {
				return false, apperrors.Internal("plan missing site for step "+stepName, nil)
			}
			site = s
		} else {
			assetID, ok := job.Inputs[ref]
			if !ok {
				return false, nil
			}
			loc, err := assetID.Location()
			if err != nil {
				return false, err
			}
			site = loc
		}

		if _, err := e.Client.RetrieveAsset(ctx, site, resultID, e.SubmitterID); err != nil {
			if apperrors.Is(err, apperrors.ErrCodeNotFound) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

// GetResults blocks, polling IsDone at PollInterval, until every workflow
// output is retrievable, then fetches and returns them (§4.7). A workflow
// fails atomically from the submitter's viewpoint: this call either returns
// every output or keeps waiting until ctx is cancelled/times out (§7).
func (e *Executor) GetResults(ctx context.Context, job workflow.Job, plan workflow.Plan) (map[string]assetstore.Asset, error) {
	interval := e.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	for {
		done, err := e.IsDone(ctx, job, plan)
		if err != nil {
			return nil, err
		}
		if done {
			return e.fetchResults(ctx, job, plan)
		}

		select {
		case <-ctx.Done():
			return nil, apperrors.Timeout("get_results")
		case <-time.After(interval):
		}
	}
}

func (e *Executor) fetchResults(ctx context.Context, job workflow.Job, plan workflow.Plan) (map[string]assetstore.Asset, error) {
	idHashes, err := workflow.IDHashes(job)
	if err != nil {
		return nil, err
	}

	results := map[string]assetstore.Asset{}
	for outName, ref := range job.Workflow.Outputs {
		hash := idHashes[outName]
		resultID := workflow.ResultIdentifier(hash)

		stepName, _, isStepOutput := parseRef(ref)
		var site ids.Identifier
		if isStepOutput {
			site = plan.StepSites[stepName]
		} else if assetID, ok := job.Inputs[ref]; ok {
			site, _ = assetID.Location()
		}

		asset, err := e.Client.RetrieveAsset(ctx, site, resultID, e.SubmitterID)
		if err != nil {
			return nil, err
		}
		results[outName] = asset
	}
	return results, nil
}
