package httpapi

import (
	"net/http"

	"github.com/ddm-federation/mahiru-go/internal/execution"
	"github.com/ddm-federation/mahiru-go/internal/workflow"
)

// SubmitHandlers exposes workflow submission (§4.6 "Submission", §4.7
// "Dispatch" from the submitter's side): a client POSTs a Job, this site's
// WorkflowPlanner picks a legal Plan, the Executor dispatches it and blocks
// until every output is retrievable.
type SubmitHandlers struct {
	Planner  *workflow.Planner
	Executor *execution.Executor
	Sites    RunnerSites
}

func NewSubmitHandlers(planner *workflow.Planner, executor *execution.Executor, sites RunnerSites) *SubmitHandlers {
	return &SubmitHandlers{Planner: planner, Executor: executor, Sites: sites}
}

type submitResponse struct {
	Outputs map[string]submittedAsset `json:"outputs"`
}

type submittedAsset struct {
	ID       string `json:"id"`
	ImageURL string `json:"image_url"`
}

// Submit handles POST /submit.
func (h *SubmitHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	var job workflow.Job
	if err := DecodeJSON(r, &job); err != nil {
		WriteError(w, err)
		return
	}
	if err := job.Workflow.Validate(); err != nil {
		WriteError(w, err)
		return
	}

	// The submitting site is this one: workflow outputs must be retrievable
	// here for the submitter to collect them (§4.6 step 2).
	candidates := h.Sites.RunnerCapableSites()
	plan, err := h.Planner.RequirePlan(h.Executor.SubmitterID, job, candidates, string(job.Submitter))
	if err != nil {
		WriteError(w, err)
		return
	}

	ctx := r.Context()
	request := workflow.ExecutionRequest{Job: job, Plan: plan}
	if err := h.Executor.StartWorkflow(ctx, request); err != nil {
		WriteError(w, err)
		return
	}

	results, err := h.Executor.GetResults(ctx, job, plan)
	if err != nil {
		WriteError(w, err)
		return
	}

	out := make(map[string]submittedAsset, len(results))
	for name, asset := range results {
		out[name] = submittedAsset{ID: string(asset.ID), ImageURL: asset.ImagePath}
	}
	WriteJSON(w, http.StatusOK, submitResponse{Outputs: out})
}
