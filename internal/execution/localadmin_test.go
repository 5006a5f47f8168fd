package execution

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/workflow"
)

func TestLocalAdministratorCopiesInputToEveryOutput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "input.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	inputAsset := ids.MustNew("asset:alice:dataset1:site:site1")
	admin := NewLocalAdministrator(dir, func(ctx context.Context, assetID ids.Identifier) (string, error) {
		require.Equal(t, inputAsset, assetID)
		return src, nil
	})

	step := workflow.WorkflowStep{
		Name:    "step1",
		Outputs: map[string]ids.Identifier{"out1": "", "out2": ""},
	}
	subjob := Subjob{ID: "subjob-1"}

	result, err := admin.ExecuteStep(
		context.Background(),
		step,
		map[string]ids.Identifier{"data": inputAsset},
		"",
		nil,
		nil,
		subjob,
	)
	require.NoError(t, err)
	require.Len(t, result.Files, 2)

	for _, path := range result.Files {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, "payload", string(data))
	}
	require.NoError(t, result.Cleanup())
}
