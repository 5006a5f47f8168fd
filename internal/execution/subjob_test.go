package execution

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/workflow"
)

func chainJob(t *testing.T) workflow.Job {
	t.Helper()
	return workflow.Job{
		Submitter: ids.MustNew("party:alice:alice"),
		Inputs: map[string]ids.Identifier{
			"raw1": ids.MustNew("asset:alice:raw1:alice:site1"),
			"raw2": ids.MustNew("asset:alice:raw2:alice:site1"),
		},
		Workflow: workflow.Workflow{
			Inputs: []string{"raw1", "raw2"},
			Steps: map[string]workflow.WorkflowStep{
				"combine": {
					Name:         "combine",
					Inputs:       map[string]string{"a": "raw1", "b": "raw2"},
					Outputs:      map[string]ids.Identifier{"combined": ""},
					ComputeAsset: ids.MustNew("asset:bob:combine:bob:site3"),
				},
				"aggregate": {
					Name:         "aggregate",
					Inputs:       map[string]string{"in": "combine.combined"},
					Outputs:      map[string]ids.Identifier{"out": ""},
					ComputeAsset: ids.MustNew("asset:bob:aggregate:bob:site3"),
				},
			},
			Outputs: map[string]string{"final": "aggregate.out"},
		},
	}
}

func TestBuildSubjobIncludesOnlyTransitiveDependencies(t *testing.T) {
	job := chainJob(t)

	sub := BuildSubjob(job, "aggregate", func() string { return "subjob-1" })

	require.Equal(t, "subjob-1", sub.ID)
	require.Contains(t, sub.Workflow.Steps, "aggregate")
	require.Contains(t, sub.Workflow.Steps, "combine")
	require.Empty(t, sub.Workflow.Outputs, "a subjob has no workflow outputs (§4.7)")

	require.ElementsMatch(t, []string{"raw1", "raw2"}, sub.Workflow.Inputs)
	require.Equal(t, job.Inputs["raw1"], sub.Inputs["raw1"])
	require.Equal(t, job.Inputs["raw2"], sub.Inputs["raw2"])
}

func TestBuildSubjobForLeafStepOnlyReferencesItsOwnInputs(t *testing.T) {
	job := chainJob(t)

	sub := BuildSubjob(job, "combine", func() string { return "subjob-combine" })

	require.Len(t, sub.Workflow.Steps, 1)
	require.Contains(t, sub.Workflow.Steps, "combine")
	require.ElementsMatch(t, []string{"raw1", "raw2"}, sub.Workflow.Inputs)
}

func TestBuildSubjobForUnknownStepIsEmpty(t *testing.T) {
	job := chainJob(t)

	sub := BuildSubjob(job, "does-not-exist", func() string { return "subjob-x" })

	require.Empty(t, sub.Workflow.Steps)
	require.Empty(t, sub.Workflow.Inputs)
}
