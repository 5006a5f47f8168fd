package execution

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/workflow"
)

// LocalAdministrator is a reference DomainAdministrator for local
// development and tests: it "executes" a step by copying the file of one
// of its inputs to every declared output (with several inputs, which one is
// not defined; with none, the compute asset's file, or an empty file if that
// cannot be resolved), skipping the actual container runtime and
// network isolation the real domain administrator owns (§6.3, out of
// scope). Production deployments supply their own DomainAdministrator.
type LocalAdministrator struct {
	WorkDir string // scratch directory for output files
	Resolve func(ctx context.Context, assetID ids.Identifier) (string, error)
}

// NewLocalAdministrator creates a LocalAdministrator writing scratch output
// files under workDir, resolving input/compute asset ids to local file
// paths via resolve.
func NewLocalAdministrator(workDir string, resolve func(ctx context.Context, assetID ids.Identifier) (string, error)) *LocalAdministrator {
	return &LocalAdministrator{WorkDir: workDir, Resolve: resolve}
}

// ExecuteStep implements DomainAdministrator.
func (a *LocalAdministrator) ExecuteStep(
	ctx context.Context,
	step workflow.WorkflowStep,
	inputs map[string]ids.Identifier,
	computeAsset ids.Identifier,
	outputBases map[string]ids.Identifier,
	idHashes map[string]string,
	subjob Subjob,
) (StepResult, error) {
	var sourcePath string
	for _, assetID := range inputs {
		path, err := a.Resolve(ctx, assetID)
		if err != nil {
			return StepResult{}, err
		}
		sourcePath = path
	}
	if sourcePath == "" {
		if path, err := a.Resolve(ctx, computeAsset); err == nil {
			sourcePath = path
		}
	}

	files := map[string]string{}
	for outputName := range step.Outputs {
		dst := filepath.Join(a.WorkDir, subjob.ID+"-"+outputName)
		if sourcePath != "" {
			if err := copyFile(sourcePath, dst); err != nil {
				return StepResult{}, err
			}
		} else if err := os.WriteFile(dst, nil, 0o644); err != nil {
			return StepResult{}, err
		}
		files[outputName] = dst
	}

	return StepResult{
		Files:   files,
		Cleanup: func() error { return nil },
	}, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
