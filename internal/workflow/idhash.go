package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/ddm-federation/mahiru-go/internal/ids"
)

// IDHashes computes the content-derived provenance hash of every value in
// job's workflow (§3): a workflow input's hash is SHA-256 of its bound asset
// id; a step output's hash is SHA-256 of its sorted input hashes, its
// compute asset id, and its output name, chained from its ancestors. This
// makes every intermediate result's result:<hash> identifier deterministic
// given identical provenance (§3).
func IDHashes(job Job) (map[string]string, error) {
	order, err := job.Workflow.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	hashes := map[string]string{}
	for _, inputName := range job.Workflow.Inputs {
		assetID, ok := job.Inputs[inputName]
		if !ok {
			continue
		}
		hashes[inputName] = sha256Hex([]byte(assetID))
	}

	for _, stepName := range order {
		step := job.Workflow.Steps[stepName]

		paramNames := make([]string, 0, len(step.Inputs))
		for paramName := range step.Inputs {
			paramNames = append(paramNames, paramName)
		}
		sort.Strings(paramNames)

		h := sha256.New()
		for _, paramName := range paramNames {
			ref := step.Inputs[paramName]
			srcHash, ok := hashes[ref]
			if !ok {
				return nil, fmt.Errorf("id-hash: source %q for %s.%s not yet computed", ref, stepName, paramName)
			}
			fmt.Fprintf(h, "%s:%s:%s;", paramName, ref, srcHash)
		}
		fmt.Fprintf(h, "%s;", step.ComputeAsset)

		for outputName := range step.Outputs {
			outHash := sha256.Sum256(append(h.Sum(nil), []byte(outputName)...))
			hashes[fmt.Sprintf("%s.%s", stepName, outputName)] = hex.EncodeToString(outHash[:])
		}
	}

	for outName, ref := range job.Workflow.Outputs {
		if h, ok := hashes[ref]; ok {
			hashes[outName] = h
		}
	}

	return hashes, nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ResultIdentifier builds the result:<hash> Identifier for a workflow value
// given its precomputed id-hash.
func ResultIdentifier(idHash string) ids.Identifier {
	return ids.FromIDHash(idHash)
}
