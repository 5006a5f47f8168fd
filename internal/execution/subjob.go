package execution

import (
	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/workflow"
)

// Subjob is the minimal workflow producing a given step's outputs: that
// step and its transitive input-providing steps, no workflow outputs, and
// exactly the job inputs it actually references. It is the provenance
// record attached to every stored result (§4.7).
type Subjob struct {
	ID       string
	Workflow workflow.Workflow
	Inputs   map[string]ids.Identifier
}

// BuildSubjob computes the Subjob for stepName within job: the transitive
// closure of step dependencies walked backward from stepName, with no
// workflow outputs and only the referenced job inputs retained.
func BuildSubjob(job workflow.Job, stepName string, idGen func() string) Subjob {
	steps := map[string]workflow.WorkflowStep{}
	inputNames := map[string]struct{}{}

	var visit func(name string)
	visit = func(name string) {
		if _, already := steps[name]; already {
			return
		}
		step, ok := job.Workflow.Steps[name]
		if !ok {
			return
		}
		steps[name] = step
		for _, ref := range step.Inputs {
			depStep, _, isStepOutput := splitRef(ref)
			if isStepOutput {
				visit(depStep)
			} else {
				inputNames[ref] = struct{}{}
			}
		}
	}
	visit(stepName)

	inputs := map[string]ids.Identifier{}
	var inputList []string
	for name := range inputNames {
		inputList = append(inputList, name)
		if assetID, ok := job.Inputs[name]; ok {
			inputs[name] = assetID
		}
	}

	return Subjob{
		ID: idGen(),
		Workflow: workflow.Workflow{
			Inputs:  inputList,
			Outputs: map[string]string{},
			Steps:   steps,
		},
		Inputs: inputs,
	}
}

func splitRef(ref string) (step, output string, isStepOutput bool) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '.' {
			return ref[:i], ref[i+1:], true
		}
	}
	return "", "", false
}
