package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ddm-federation/mahiru-go/internal/assetstore"
	"github.com/ddm-federation/mahiru-go/internal/execution"
	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/metrics"
	"github.com/ddm-federation/mahiru-go/internal/policy"
	"github.com/ddm-federation/mahiru-go/internal/workflow"
)

// RunnerSites supplies the candidate site set a dispatched JobRun
// re-verifies legality against (§4.7 "local legality re-verification").
type RunnerSites interface {
	RunnerCapableSites() []ids.Identifier
}

// ExecutionHandlers exposes the dispatch half of §4.7 ("Dispatch") over
// HTTP: POST /execute accepts an ExecutionRequest, structurally validates
// it, and spawns a background JobRun, returning immediately.
type ExecutionHandlers struct {
	ThisSite    ids.Identifier
	Calculator  *workflow.PermissionCalculator
	Evaluator   *policy.Evaluator
	Client      execution.SiteClient
	LocalStore  *assetstore.Store
	DomainAdmin execution.DomainAdministrator
	Sites       RunnerSites
	SubjobIDGen func() string
	Logger      *logrus.Entry
	Metrics     *metrics.Metrics // optional; records JobRuns{Started,Completed,Failed}

	// ScanInterval overrides each dispatched JobRun's step-scheduling
	// backoff; <=0 leaves execution.DefaultScanInterval in effect.
	ScanInterval time.Duration
}

func NewExecutionHandlers(thisSite ids.Identifier, calculator *workflow.PermissionCalculator, evaluator *policy.Evaluator, client execution.SiteClient, localStore *assetstore.Store, admin execution.DomainAdministrator, sites RunnerSites, subjobIDGen func() string) *ExecutionHandlers {
	return &ExecutionHandlers{
		ThisSite: thisSite, Calculator: calculator, Evaluator: evaluator,
		Client: client, LocalStore: localStore, DomainAdmin: admin,
		Sites: sites, SubjobIDGen: subjobIDGen,
		Logger: logrus.WithField("component", "execution_handler"),
	}
}

// Dispatch handles POST /execute.
func (h *ExecutionHandlers) Dispatch(w http.ResponseWriter, r *http.Request) {
	var request workflow.ExecutionRequest
	if err := DecodeJSON(r, &request); err != nil {
		WriteError(w, err)
		return
	}

	if err := request.Job.Workflow.Validate(); err != nil {
		WriteError(w, err)
		return
	}

	run := execution.NewJobRun(
		h.ThisSite, request.Job, request.Plan, h.Calculator, h.Evaluator,
		h.Client, h.LocalStore, h.DomainAdmin, h.SubjobIDGen, h.Logger,
	)
	if h.ScanInterval > 0 {
		run.ScanInterval = h.ScanInterval
	}

	if h.Metrics != nil {
		h.Metrics.JobRunsStarted.Inc()
	}
	go func() {
		ctx := context.Background()
		if err := run.Run(ctx, h.Sites.RunnerCapableSites()); err != nil {
			h.Logger.WithError(err).Error("job run failed")
			if h.Metrics != nil {
				h.Metrics.JobRunsFailed.Inc()
			}
			return
		}
		if h.Metrics != nil {
			h.Metrics.JobRunsCompleted.Inc()
		}
	}()

	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
