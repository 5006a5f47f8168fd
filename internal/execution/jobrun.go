package execution

import (
	"context"
	"time"

	"github.com/ddm-federation/mahiru-go/internal/apperrors"
	"github.com/ddm-federation/mahiru-go/internal/assetstore"
	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/policy"
	"github.com/ddm-federation/mahiru-go/internal/workflow"
	"github.com/sirupsen/logrus"
)

// DefaultScanInterval is how long a JobRun sleeps between scans of its
// remaining steps when none were executable in a pass (§4.7: "~500 ms"),
// used when JobRun.ScanInterval is left at its zero value.
const DefaultScanInterval = 500 * time.Millisecond

// JobRun executes the steps of a job assigned to one site (§4.7). It is a
// single cooperative task: it blocks only on network I/O (RetrieveAsset) and
// on its scan-interval sleep, never on internal state (§5).
type JobRun struct {
	ThisSite     ids.Identifier
	Job          workflow.Job
	Plan         workflow.Plan
	Calculator   *workflow.PermissionCalculator
	Evaluator    *policy.Evaluator
	Client       SiteClient
	LocalStore   *assetstore.Store
	DomainAdmin  DomainAdministrator
	SubjobIDGen  func() string
	ScanInterval time.Duration // <=0 uses DefaultScanInterval
	logger       *logrus.Entry
}

// NewJobRun constructs a JobRun. logger may be nil, in which case a
// package-level default logger is used.
func NewJobRun(thisSite ids.Identifier, job workflow.Job, plan workflow.Plan, calculator *workflow.PermissionCalculator, evaluator *policy.Evaluator, client SiteClient, store *assetstore.Store, admin DomainAdministrator, subjobIDGen func() string, logger *logrus.Entry) *JobRun {
	if logger == nil {
		logger = logrus.WithField("component", "jobrun")
	}
	return &JobRun{
		ThisSite: thisSite, Job: job, Plan: plan, Calculator: calculator,
		Evaluator: evaluator, Client: client, LocalStore: store,
		DomainAdmin: admin, SubjobIDGen: subjobIDGen,
		ScanInterval: DefaultScanInterval, logger: logger,
	}
}

// Run re-verifies legality locally, then executes every step assigned to
// this site in dependency order, blocking (via the scan/sleep loop) on
// inputs produced by steps running at other sites (§4.7).
//
// Run is NOT starvation-free against an adversarial remote site that never
// produces its output; callers must enforce a job-wide deadline via ctx
// (§5 "Cancellation/timeout").
func (j *JobRun) Run(ctx context.Context, candidateSites []ids.Identifier) error {
	legal, err := j.Calculator.IsLegal(j.Job, j.Plan, candidateSites)
	if err != nil {
		return err
	}
	if !legal {
		return apperrors.PolicyDenied("plan failed local legality re-verification")
	}

	perms, err := j.Calculator.CalculatePermissions(j.Job)
	if err != nil {
		return err
	}

	idHashes, err := workflow.IDHashes(j.Job)
	if err != nil {
		return err
	}

	mySteps := map[string]workflow.WorkflowStep{}
	for name, step := range j.Job.Workflow.Steps {
		if j.Plan.StepSites[name] == j.ThisSite {
			mySteps[name] = step
		}
	}

	scanInterval := j.ScanInterval
	if scanInterval <= 0 {
		scanInterval = DefaultScanInterval
	}

	for len(mySteps) > 0 {
		select {
		case <-ctx.Done():
			return apperrors.Timeout("job run")
		default:
		}

		executedOne := false
		for name, step := range mySteps {
			ready, err := j.tryExecuteStep(ctx, step, idHashes, perms)
			if err != nil {
				return err
			}
			if ready {
				delete(mySteps, name)
				executedOne = true
			}
		}

		if !executedOne {
			select {
			case <-ctx.Done():
				return apperrors.Timeout("job run")
			case <-time.After(scanInterval):
			}
		}
	}

	return nil
}

// tryExecuteStep attempts to execute step if all of its inputs are
// currently retrievable. Returns (false, nil) if an input is not yet ready,
// so the caller retries on the next scan (§4.7).
func (j *JobRun) tryExecuteStep(ctx context.Context, step workflow.WorkflowStep, idHashes map[string]string, perms map[string]policy.Permissions) (bool, error) {
	inputs := map[string]ids.Identifier{}
	for paramName, ref := range step.Inputs {
		site, assetID, err := j.resolveSource(ref, idHashes)
		if err != nil {
			return false, err
		}
		if _, err := j.Client.RetrieveAsset(ctx, site, assetID, j.ThisSite); err != nil {
			if apperrors.Is(err, errCodeNotFound) {
				return false, nil
			}
			return false, err
		}
		inputs[paramName] = assetID
	}

	computeSite, err := step.ComputeAsset.Location()
	if err != nil {
		return false, err
	}
	if _, err := j.Client.RetrieveAsset(ctx, computeSite, step.ComputeAsset, j.ThisSite); err != nil {
		if apperrors.Is(err, errCodeNotFound) {
			return false, nil
		}
		return false, err
	}

	outputBases := map[string]ids.Identifier{}
	for outputName, base := range step.Outputs {
		if base == "" {
			continue
		}
		baseSite, err := base.Location()
		if err != nil {
			return false, err
		}
		if _, err := j.Client.RetrieveAsset(ctx, baseSite, base, j.ThisSite); err != nil {
			if apperrors.Is(err, errCodeNotFound) {
				return false, nil
			}
			return false, err
		}
		outputBases[outputName] = base
	}

	subjob := BuildSubjob(j.Job, step.Name, j.SubjobIDGen)
	result, err := j.DomainAdmin.ExecuteStep(ctx, step, inputs, step.ComputeAsset, outputBases, idHashes, subjob)
	if err != nil {
		return false, apperrors.Internal("step execution failed: "+step.Name, err)
	}

	for outputName, imagePath := range result.Files {
		outHash, ok := idHashes[step.Name+"."+outputName]
		if !ok {
			continue
		}
		resultID := workflow.ResultIdentifier(outHash)
		outPerm := perms[step.Name+"."+outputName]
		if storeErr := j.LocalStore.StoreResult(resultID, assetstore.KindData, imagePath, assetstore.Provenance{
			SubjobID:   subjob.ID,
			OutputName: outputName,
		}, outPerm); storeErr != nil && !apperrors.Is(storeErr, errCodeAlreadyExists) {
			if result.Cleanup != nil {
				result.Cleanup()
			}
			return false, storeErr
		}
	}

	if result.Cleanup != nil {
		if err := result.Cleanup(); err != nil {
			j.logger.WithError(err).Warn("step cleanup failed")
		}
	}

	return true, nil
}

// resolveSource resolves a step-input source reference to the site and
// asset id it must be fetched from (§4.7 "Executing one step").
func (j *JobRun) resolveSource(ref string, idHashes map[string]string) (ids.Identifier, ids.Identifier, error) {
	if depStep, depOutput, isStepOutput := parseRef(ref); isStepOutput {
		site, ok := j.Plan.StepSites[depStep]
		if !ok {
			return "", "", apperrors.Internal("plan missing site for step "+depStep, nil)
		}
		hash, ok := idHashes[depStep+"."+depOutput]
		if !ok {
			return "", "", apperrors.Internal("missing id-hash for "+ref, nil)
		}
		return site, workflow.ResultIdentifier(hash), nil
	}

	assetID, ok := j.Job.Inputs[ref]
	if !ok {
		return "", "", apperrors.Internal("job missing binding for input "+ref, nil)
	}
	site, err := assetID.Location()
	if err != nil {
		return "", "", err
	}
	return site, assetID, nil
}

func parseRef(ref string) (step, output string, isStepOutput bool) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '.' {
			return ref[:i], ref[i+1:], true
		}
	}
	return "", "", false
}

const (
	errCodeNotFound      = apperrors.ErrCodeNotFound
	errCodeAlreadyExists = apperrors.ErrCodeAlreadyExists
)
