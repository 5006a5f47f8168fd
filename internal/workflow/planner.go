package workflow

import (
	"github.com/ddm-federation/mahiru-go/internal/apperrors"
	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/metrics"
	"github.com/ddm-federation/mahiru-go/internal/policy"
)

// DefaultMaxPlans bounds the Cartesian-product enumeration of Planner.
// MakePlans (§4.6: "implementations may cap enumeration at a configurable
// bound and must document any such cap"). The tie-break policy is
// first-found-in-topological-then-registry order; callers needing a
// different ordering should post-filter the returned slice.
const DefaultMaxPlans = 1000

// Planner implements WorkflowPlanner (§4.6): it derives permissions for a
// job, verifies the submitter may access every workflow output, topologically
// orders the steps, and enumerates every legal site assignment up to MaxPlans.
type Planner struct {
	evaluator  *policy.Evaluator
	calculator *PermissionCalculator
	MaxPlans   int
	Metrics    *metrics.Metrics // optional; records PlansEnumerated
}

// NewPlanner creates a Planner. If maxPlans <= 0, DefaultMaxPlans is used.
func NewPlanner(evaluator *policy.Evaluator, maxPlans int) *Planner {
	if maxPlans <= 0 {
		maxPlans = DefaultMaxPlans
	}
	return &Planner{
		evaluator:  evaluator,
		calculator: NewPermissionCalculator(evaluator),
		MaxPlans:   maxPlans,
	}
}

// MakePlans returns every legal Plan for job given candidateSites (the
// runner-capable sites known to the registry), in enumeration order, capped
// at MaxPlans. Returns an empty slice (not an error) if the submitter cannot
// access some workflow output, or if no site is permitted for some step:
// callers should surface NoLegalPlan for an empty result (§7).
func (p *Planner) MakePlans(submittingSite ids.Identifier, job Job, candidateSites []ids.Identifier) ([]Plan, error) {
	perms, err := p.calculator.CalculatePermissions(job)
	if err != nil {
		return nil, err
	}

	for outName := range job.Workflow.Outputs {
		outPerm, ok := perms[outName]
		if !ok {
			return nil, nil
		}
		if !p.evaluator.MayAccess(outPerm, submittingSite) {
			return nil, nil
		}
	}

	order, err := job.Workflow.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	permitted := p.calculator.PermittedSites(job, candidateSites, perms)
	for _, stepName := range order {
		if len(permitted[stepName]) == 0 {
			return nil, nil
		}
	}

	var plans []Plan
	assignment := map[string]ids.Identifier{}
	p.enumerate(order, 0, permitted, assignment, &plans)
	if p.Metrics != nil {
		p.Metrics.PlansEnumerated.Observe(float64(len(plans)))
	}
	return plans, nil
}

func (p *Planner) enumerate(order []string, idx int, permitted map[string][]ids.Identifier, assignment map[string]ids.Identifier, plans *[]Plan) {
	if len(*plans) >= p.MaxPlans {
		return
	}
	if idx == len(order) {
		copied := make(map[string]ids.Identifier, len(assignment))
		for k, v := range assignment {
			copied[k] = v
		}
		*plans = append(*plans, Plan{StepSites: copied})
		return
	}
	stepName := order[idx]
	for _, site := range permitted[stepName] {
		if len(*plans) >= p.MaxPlans {
			return
		}
		assignment[stepName] = site
		p.enumerate(order, idx+1, permitted, assignment, plans)
	}
	delete(assignment, stepName)
}

// RequirePlan is a convenience wrapping MakePlans that returns NoLegalPlan
// when enumeration is empty, matching the submission-time contract of §7.
func (p *Planner) RequirePlan(submittingSite ids.Identifier, job Job, candidateSites []ids.Identifier, jobID string) (Plan, error) {
	plans, err := p.MakePlans(submittingSite, job, candidateSites)
	if err != nil {
		return Plan{}, err
	}
	if len(plans) == 0 {
		return Plan{}, apperrors.NoLegalPlan(jobID)
	}
	return plans[0], nil
}
