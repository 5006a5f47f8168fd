package workflow

import (
	"fmt"

	"github.com/ddm-federation/mahiru-go/internal/apperrors"
	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/policy"
)

// PermissionCalculator evaluates policies pertaining to a given workflow
// (§4.5), producing a Permissions record for every workflow value: each
// workflow input, each step input and output, each step's compute asset,
// each output base, and each workflow output.
type PermissionCalculator struct {
	evaluator *policy.Evaluator
}

func NewPermissionCalculator(evaluator *policy.Evaluator) *PermissionCalculator {
	return &PermissionCalculator{evaluator: evaluator}
}

// outputBaseKey and stepKey are the naming conventions for the permission
// map: step inputs/outputs are "step.param", output bases are "step.@param",
// and the step's own compute-asset permission is keyed by the step name.
func outputBaseKey(step, param string) string { return fmt.Sprintf("%s.@%s", step, param) }
func valueKey(step, param string) string      { return fmt.Sprintf("%s.%s", step, param) }

// CalculatePermissions computes Permissions for every named value in job's
// workflow. It iterates over steps in any order, skipping a step whose
// inputs are not all available yet, until a fixpoint; workflow acyclicity
// (enforced by Workflow.Validate) guarantees termination. A step that never
// becomes ready signals CyclicWorkflow (§4.5).
func (c *PermissionCalculator) CalculatePermissions(job Job) (map[string]policy.Permissions, error) {
	perms := map[string]policy.Permissions{}

	for _, inputName := range job.Workflow.Inputs {
		assetID, ok := job.Inputs[inputName]
		if !ok {
			continue
		}
		perms[inputName] = c.evaluator.PermissionsForAsset(assetID)
	}

	remaining := map[string]WorkflowStep{}
	for name, step := range job.Workflow.Steps {
		remaining[name] = step
	}

	for len(remaining) > 0 {
		progressed := false
		for name, step := range remaining {
			if !c.stepReady(step, perms) {
				continue
			}
			c.evaluateStep(step, perms)
			delete(remaining, name)
			progressed = true
		}
		if !progressed {
			names := make([]string, 0, len(remaining))
			for name := range remaining {
				names = append(names, name)
			}
			return nil, apperrors.CyclicWorkflow(fmt.Sprintf("steps never became ready: %v", names))
		}
	}

	for outName, ref := range job.Workflow.Outputs {
		if p, ok := perms[ref]; ok {
			perms[outName] = p
		}
	}

	return perms, nil
}

func (c *PermissionCalculator) stepReady(step WorkflowStep, perms map[string]policy.Permissions) bool {
	for _, ref := range step.Inputs {
		if _, ok := perms[ref]; !ok {
			return false
		}
	}
	return true
}

func (c *PermissionCalculator) evaluateStep(step WorkflowStep, perms map[string]policy.Permissions) {
	perms[step.Name] = c.evaluator.PermissionsForAsset(step.ComputeAsset)

	var inputPerms []policy.Permissions
	for paramName, ref := range step.Inputs {
		perms[valueKey(step.Name, paramName)] = perms[ref]
		inputPerms = append(inputPerms, perms[ref])
	}

	for outputName, baseAsset := range step.Outputs {
		all := inputPerms
		if baseAsset != "" {
			basePerm := c.evaluator.PermissionsForAsset(baseAsset)
			perms[outputBaseKey(step.Name, outputName)] = basePerm
			all = append(append([]policy.Permissions{}, inputPerms...), basePerm)
		}
		perms[valueKey(step.Name, outputName)] = c.evaluator.PropagatePermissions(all, step.ComputeAsset, outputName)
	}
}

// PermittedSites returns, for every step in job's workflow, the subset of
// candidateSites that may legally host it: every permission touching that
// step (its compute asset, its inputs, its output bases, its outputs) must
// be may_access-satisfied for the site (§4.5).
func (c *PermissionCalculator) PermittedSites(job Job, candidateSites []ids.Identifier, perms map[string]policy.Permissions) map[string][]ids.Identifier {
	result := map[string][]ids.Identifier{}
	for stepName, step := range job.Workflow.Steps {
		var permitted []ids.Identifier
		for _, site := range candidateSites {
			if c.siteLegalForStep(step, perms, site) {
				permitted = append(permitted, site)
			}
		}
		result[stepName] = permitted
	}
	return result
}

func (c *PermissionCalculator) siteLegalForStep(step WorkflowStep, perms map[string]policy.Permissions, site ids.Identifier) bool {
	keys := []string{step.Name}
	for paramName := range step.Inputs {
		keys = append(keys, valueKey(step.Name, paramName))
	}
	for outputName, baseAsset := range step.Outputs {
		keys = append(keys, valueKey(step.Name, outputName))
		if baseAsset != "" {
			keys = append(keys, outputBaseKey(step.Name, outputName))
		}
	}
	for _, key := range keys {
		p, ok := perms[key]
		if !ok {
			continue
		}
		if !c.evaluator.MayAccess(p, site) {
			return false
		}
	}
	return true
}

// IsLegal reports whether plan assigns every step of job to a site among its
// PermittedSites (§4.5).
func (c *PermissionCalculator) IsLegal(job Job, plan Plan, candidateSites []ids.Identifier) (bool, error) {
	perms, err := c.CalculatePermissions(job)
	if err != nil {
		return false, err
	}
	permitted := c.PermittedSites(job, candidateSites, perms)
	for stepName := range job.Workflow.Steps {
		site, ok := plan.StepSites[stepName]
		if !ok {
			return false, nil
		}
		if !containsIdentifier(permitted[stepName], site) {
			return false, nil
		}
	}
	return true, nil
}

func containsIdentifier(list []ids.Identifier, target ids.Identifier) bool {
	for _, id := range list {
		if id == target {
			return true
		}
	}
	return false
}
