// Package workflow implements the workflow data model (§3), id-hash
// provenance (§3), permission calculation across a whole workflow (§4.5),
// and the legal-plan planner (§4.6).
package workflow

import (
	"fmt"

	"github.com/ddm-federation/mahiru-go/internal/apperrors"
	"github.com/ddm-federation/mahiru-go/internal/ids"
)

// WorkflowStep is one node of a workflow DAG: it consumes named inputs
// (each sourced from a workflow input or another step's output), runs a
// compute asset, and produces named outputs, some of which may declare a
// base asset to build their output image from.
type WorkflowStep struct {
	Name string
	// Inputs maps a step-local parameter name to a source reference: either
	// a workflow-input name, or "stepName.outputName".
	Inputs map[string]string
	// Outputs maps an output parameter name to an optional base asset id
	// ("" if the output has no declared base).
	Outputs      map[string]ids.Identifier
	ComputeAsset ids.Identifier
}

// Workflow is a DAG of steps plus its external inputs and outputs (§3).
type Workflow struct {
	Inputs  []string
	Outputs map[string]string // workflow output name -> "stepName.outName"
	Steps   map[string]WorkflowStep
}

// Validate checks the uniqueness invariant of §3 and that the step graph is
// acyclic, returning a CyclicWorkflow ServiceError if not (§9: "detect at
// construction by Kahn's algorithm; reject early").
func (w *Workflow) Validate() error {
	seen := map[string]struct{}{}
	for _, in := range w.Inputs {
		if _, dup := seen[in]; dup {
			return apperrors.InvalidInput("workflow.inputs", fmt.Sprintf("duplicate name %q", in))
		}
		seen[in] = struct{}{}
	}
	for name := range w.Steps {
		if _, dup := seen[name]; dup {
			return apperrors.InvalidInput("workflow.steps", fmt.Sprintf("duplicate name %q", name))
		}
		seen[name] = struct{}{}
	}
	for outName := range w.Outputs {
		if _, dup := seen[outName]; dup {
			return apperrors.InvalidInput("workflow.outputs", fmt.Sprintf("duplicate name %q", outName))
		}
		seen[outName] = struct{}{}
	}

	for stepName, step := range w.Steps {
		local := map[string]struct{}{}
		for paramName := range step.Inputs {
			if _, dup := local[paramName]; dup {
				return apperrors.InvalidInput("step."+stepName, fmt.Sprintf("duplicate parameter %q", paramName))
			}
			local[paramName] = struct{}{}
		}
		for paramName := range step.Outputs {
			if _, dup := local[paramName]; dup {
				return apperrors.InvalidInput("step."+stepName, fmt.Sprintf("duplicate parameter %q", paramName))
			}
			local[paramName] = struct{}{}
		}
	}

	if _, err := w.TopologicalOrder(); err != nil {
		return err
	}
	return nil
}

// TopologicalOrder returns the step names in an order such that every step
// appears after every step that produces one of its inputs (Kahn's
// algorithm). Returns CyclicWorkflow if the step graph is not a DAG.
func (w *Workflow) TopologicalOrder() ([]string, error) {
	indegree := map[string]int{}
	dependents := map[string][]string{}
	for name := range w.Steps {
		indegree[name] = 0
	}
	for name, step := range w.Steps {
		for _, ref := range step.Inputs {
			depStep, _, isStepOutput := parseSourceRef(ref)
			if !isStepOutput {
				continue
			}
			if _, ok := w.Steps[depStep]; !ok {
				continue
			}
			indegree[name]++
			dependents[depStep] = append(dependents[depStep], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}

	var order []string
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(w.Steps) {
		return nil, apperrors.CyclicWorkflow(fmt.Sprintf("%d of %d steps reachable", len(order), len(w.Steps)))
	}
	return order, nil
}

// parseSourceRef splits a step-input source reference into (stepName,
// outputName, true) if it refers to a step output, or ("", "", false) if it
// is a workflow-input name.
func parseSourceRef(ref string) (step, output string, isStepOutput bool) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '.' {
			return ref[:i], ref[i+1:], true
		}
	}
	return "", "", false
}

// Job is a submitted workflow plus concrete input bindings (§3).
type Job struct {
	Submitter ids.Identifier
	Workflow  Workflow
	Inputs    map[string]ids.Identifier // workflow input name -> asset id
}

// Plan assigns every step of a Job's workflow to an executing site (§3).
type Plan struct {
	StepSites map[string]ids.Identifier
}

// ExecutionRequest bundles a Job with its chosen Plan for dispatch to every
// participating site (§3, §4.7).
type ExecutionRequest struct {
	Job  Job
	Plan Plan
}
