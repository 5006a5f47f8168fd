package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ddm-federation/mahiru-go/internal/apperrors"
	"github.com/ddm-federation/mahiru-go/internal/assetstore"
	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/policy"
	"github.com/ddm-federation/mahiru-go/internal/workflow"
)

// fabric is an in-process federation: one asset store per site, a SiteClient
// that routes retrievals to the owning site's store, and a StartWorkflow that
// spawns a real JobRun goroutine per receiving site, the way the HTTP layer
// does in production.
type fabric struct {
	mu         sync.Mutex
	stores     map[ids.Identifier]*assetstore.Store
	payloads   map[ids.Identifier]string    // asset id -> payload file, recorded on retrieval
	notBefore  map[ids.Identifier]time.Time // asset id -> earliest instant the owning store serves it
	attempts   map[ids.Identifier]int
	evaluator  *policy.Evaluator
	calculator *workflow.PermissionCalculator
	admin      DomainAdministrator
	candidates []ids.Identifier
	scan       time.Duration
	runCtx     context.Context
	wg         sync.WaitGroup
	runErrs    chan error
}

func newFabric(evaluator *policy.Evaluator, runCtx context.Context) *fabric {
	return &fabric{
		stores:     map[ids.Identifier]*assetstore.Store{},
		payloads:   map[ids.Identifier]string{},
		notBefore:  map[ids.Identifier]time.Time{},
		attempts:   map[ids.Identifier]int{},
		evaluator:  evaluator,
		calculator: workflow.NewPermissionCalculator(evaluator),
		scan:       10 * time.Millisecond,
		runCtx:     runCtx,
		runErrs:    make(chan error, 16),
	}
}

func (f *fabric) addSite(t *testing.T, site ids.Identifier) *assetstore.Store {
	t.Helper()
	store := assetstore.NewStore(f.evaluator, t.TempDir())
	f.stores[site] = store
	f.candidates = append(f.candidates, site)
	return store
}

// seedData registers a primary data asset at its owning site with a JSON
// payload file.
func (f *fabric) seedData(t *testing.T, assetID ids.Identifier, value interface{}) {
	t.Helper()
	site, err := assetID.Location()
	require.NoError(t, err)
	data, err := json.Marshal(value)
	require.NoError(t, err)
	src := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(src, data, 0o644))
	require.NoError(t, f.stores[site].Store(assetstore.Asset{ID: assetID, Kind: assetstore.KindData}, src, false))
}

func (f *fabric) seedCompute(t *testing.T, assetID ids.Identifier) {
	t.Helper()
	site, err := assetID.Location()
	require.NoError(t, err)
	require.NoError(t, f.stores[site].Store(assetstore.Asset{ID: assetID, Kind: assetstore.KindCompute}, "", false))
}

func (f *fabric) RetrieveAsset(ctx context.Context, site, assetID, requester ids.Identifier) (assetstore.Asset, error) {
	f.mu.Lock()
	readyAt, gated := f.notBefore[assetID]
	f.attempts[assetID]++
	store := f.stores[site]
	f.mu.Unlock()

	if gated && time.Now().Before(readyAt) {
		return assetstore.Asset{}, apperrors.NotFound("asset", string(assetID))
	}
	if store == nil {
		return assetstore.Asset{}, apperrors.NotFound("asset", string(assetID))
	}
	asset, err := store.Retrieve(assetID, requester)
	if err != nil {
		return assetstore.Asset{}, err
	}
	if asset.ImagePath != "" {
		f.mu.Lock()
		f.payloads[assetID] = asset.ImagePath
		f.mu.Unlock()
	}
	return asset, nil
}

func (f *fabric) StartWorkflow(ctx context.Context, site ids.Identifier, request workflow.ExecutionRequest) error {
	store, ok := f.stores[site]
	if !ok {
		return apperrors.NotFound("site", string(site))
	}
	seq := 0
	run := NewJobRun(site, request.Job, request.Plan, f.calculator, f.evaluator, f, store, f.admin,
		func() string { seq++; return fmt.Sprintf("%s-subjob-%d", site, seq) }, nil)
	run.ScanInterval = f.scan
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if err := run.Run(f.runCtx, f.candidates); err != nil {
			f.runErrs <- err
		}
	}()
	return nil
}

func (f *fabric) payload(assetID ids.Identifier) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path, ok := f.payloads[assetID]
	return path, ok
}

func (f *fabric) retrievalAttempts(assetID ids.Identifier) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[assetID]
}

func (f *fabric) requireNoRunErrors(t *testing.T) {
	t.Helper()
	f.wg.Wait()
	close(f.runErrs)
	for err := range f.runErrs {
		t.Fatalf("job run failed: %v", err)
	}
}

// pipelineAdmin is a DomainAdministrator interpreting compute assets by
// name: addition sums its inputs, combine concatenates lists, anonymise
// subtracts 10 from each element, aggregate averages, relay copies its input
// through unchanged. Payloads are JSON numbers or lists of numbers.
type pipelineAdmin struct {
	fabric  *fabric
	workDir string
}

func (a *pipelineAdmin) ExecuteStep(ctx context.Context, step workflow.WorkflowStep, inputs map[string]ids.Identifier, computeAsset ids.Identifier, outputBases map[string]ids.Identifier, idHashes map[string]string, subjob Subjob) (StepResult, error) {
	paramNames := make([]string, 0, len(inputs))
	for name := range inputs {
		paramNames = append(paramNames, name)
	}
	sort.Strings(paramNames)

	var values [][]float64
	for _, name := range paramNames {
		path, ok := a.fabric.payload(inputs[name])
		if !ok {
			return StepResult{}, fmt.Errorf("no payload retrieved for %s", inputs[name])
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return StepResult{}, err
		}
		values = append(values, decodeNumbers(data))
	}

	name, err := computeAsset.Name()
	if err != nil {
		return StepResult{}, err
	}

	var out interface{}
	switch name {
	case "addition":
		sum := 0.0
		for _, v := range values {
			for _, n := range v {
				sum += n
			}
		}
		out = sum
	case "combine":
		var all []float64
		for _, v := range values {
			all = append(all, v...)
		}
		out = all
	case "anonymise":
		var shifted []float64
		for _, n := range values[0] {
			shifted = append(shifted, n-10)
		}
		out = shifted
	case "aggregate":
		sum := 0.0
		for _, n := range values[0] {
			sum += n
		}
		out = sum / float64(len(values[0]))
	case "relay":
		if len(values[0]) == 1 {
			out = values[0][0]
		} else {
			out = values[0]
		}
	default:
		return StepResult{}, fmt.Errorf("unknown compute asset %q", name)
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return StepResult{}, err
	}

	files := map[string]string{}
	for outputName := range step.Outputs {
		dst := filepath.Join(a.workDir, subjob.ID+"-"+outputName+".json")
		if err := os.WriteFile(dst, encoded, 0o644); err != nil {
			return StepResult{}, err
		}
		files[outputName] = dst
	}
	return StepResult{Files: files, Cleanup: func() error { return nil }}, nil
}

func decodeNumbers(data []byte) []float64 {
	var list []float64
	if err := json.Unmarshal(data, &list); err == nil {
		return list
	}
	var scalar float64
	if err := json.Unmarshal(data, &scalar); err == nil {
		return []float64{scalar}
	}
	return nil
}

func readResultValue(t *testing.T, asset assetstore.Asset) float64 {
	t.Helper()
	data, err := os.ReadFile(asset.ImagePath)
	require.NoError(t, err)
	var v float64
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

// Two parties, two sites: site1 owns data1=42, site2 owns data2=3 and the
// addition compute. Policy permits either site to run the addition with both
// inputs; the submitting site must see y = 45.
func TestSaaSWithDataAcrossTwoParties(t *testing.T) {
	site1 := ids.MustNew("site:party1:site1")
	site2 := ids.MustNew("site:party2:site2")
	data1 := ids.MustNew("asset:party1:data1:party1:site1")
	data2 := ids.MustNew("asset:party2:data2:party2:site2")
	addition := ids.MustNew("asset:party2:addition:party2:site2")
	results1 := ids.MustNew("asset_collection:party1:results1")
	results2 := ids.MustNew("asset_collection:party2:results2")
	additionResults := ids.MustNew("asset_collection:party2:additionresults")

	var rules []policy.Rule
	for _, site := range []ids.Identifier{site1, site2} {
		for _, target := range []ids.Identifier{data1, data2, addition, results1, results2, additionResults} {
			rules = append(rules, policy.NewMayAccess(site, target))
		}
	}
	rules = append(rules,
		policy.NewResultOfDataIn(data1, addition, "y", results1),
		policy.NewResultOfDataIn(data2, addition, "y", results2),
		policy.NewResultOfComputeIn(ids.Wildcard, addition, "y", additionResults),
	)

	evaluator := policy.NewEvaluator(&policy.StaticCollection{Rules: rules})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fab := newFabric(evaluator, ctx)
	fab.addSite(t, site1)
	fab.addSite(t, site2)
	fab.admin = &pipelineAdmin{fabric: fab, workDir: t.TempDir()}

	fab.seedData(t, data1, 42)
	fab.seedData(t, data2, 3)
	fab.seedCompute(t, addition)

	job := workflow.Job{
		Submitter: ids.MustNew("party:party1:party1"),
		Inputs:    map[string]ids.Identifier{"x1": data1, "x2": data2},
		Workflow: workflow.Workflow{
			Inputs: []string{"x1", "x2"},
			Steps: map[string]workflow.WorkflowStep{
				"add": {
					Name:         "add",
					Inputs:       map[string]string{"x1": "x1", "x2": "x2"},
					Outputs:      map[string]ids.Identifier{"y": ""},
					ComputeAsset: addition,
				},
			},
			Outputs: map[string]string{"y": "add.y"},
		},
	}
	require.NoError(t, job.Workflow.Validate())

	planner := workflow.NewPlanner(evaluator, 0)
	plans, err := planner.MakePlans(site1, job, fab.candidates)
	require.NoError(t, err)
	require.Len(t, plans, 2, "either site may execute the addition")

	assigned := map[ids.Identifier]bool{}
	for _, plan := range plans {
		legal, err := fab.calculator.IsLegal(job, plan, fab.candidates)
		require.NoError(t, err)
		require.True(t, legal, "every enumerated plan must be legal")
		assigned[plan.StepSites["add"]] = true
	}
	require.True(t, assigned[site1] && assigned[site2], "both legal assignments must be enumerated")

	// Run the cross-site assignment so the executing site has to fetch
	// data1 from its peer.
	var plan workflow.Plan
	for _, p := range plans {
		if p.StepSites["add"] == site2 {
			plan = p
		}
	}

	executor := NewExecutor(fab, site1)
	executor.PollInterval = 10 * time.Millisecond
	require.NoError(t, executor.StartWorkflow(ctx, workflow.ExecutionRequest{Job: job, Plan: plan}))

	results, err := executor.GetResults(ctx, job, plan)
	require.NoError(t, err)
	require.Equal(t, 45.0, readResultValue(t, results["y"]))
	fab.requireNoRunErrors(t)
}

// piiPipelineRules builds the three-party policy of the PII scenario: each
// data owner classifies their asset under a ScienceOnly collection that only
// site3 (and the owner's own site) may access, and — when liftToPublic is
// set — routes aggregate results into a publicly accessible collection.
func piiPipelineRules(liftToPublic bool) ([]policy.Rule, map[string]ids.Identifier) {
	named := map[string]ids.Identifier{
		"site1":     ids.MustNew("site:party1:site1"),
		"site2":     ids.MustNew("site:party2:site2"),
		"site3":     ids.MustNew("site:party3:site3"),
		"pii1":      ids.MustNew("asset:party1:pii1:party1:site1"),
		"pii2":      ids.MustNew("asset:party2:pii2:party2:site2"),
		"combine":   ids.MustNew("asset:party3:combine:party3:site3"),
		"anonymise": ids.MustNew("asset:party3:anonymise:party3:site3"),
		"aggregate": ids.MustNew("asset:party3:aggregate:party3:site3"),
	}
	scienceOnly1 := ids.MustNew("asset_collection:party1:scienceonly")
	scienceOnly2 := ids.MustNew("asset_collection:party2:scienceonly")
	public1 := ids.MustNew("asset_collection:party1:public")
	public2 := ids.MustNew("asset_collection:party2:public")
	publicResults := ids.MustNew("asset_collection:party3:publicresults")

	var rules []policy.Rule

	owners := []struct {
		pii         ids.Identifier
		ownSite     ids.Identifier
		scienceOnly ids.Identifier
		public      ids.Identifier
	}{
		{named["pii1"], named["site1"], scienceOnly1, public1},
		{named["pii2"], named["site2"], scienceOnly2, public2},
	}
	for _, o := range owners {
		rules = append(rules,
			policy.NewInAssetCollection(o.pii, o.scienceOnly),
			policy.NewMayAccess(o.ownSite, o.scienceOnly),
			policy.NewMayAccess(named["site3"], o.scienceOnly),
			policy.NewResultOfDataIn(o.scienceOnly, named["combine"], "*", o.scienceOnly),
			policy.NewResultOfDataIn(o.scienceOnly, named["anonymise"], "*", o.scienceOnly),
			policy.NewResultOfDataIn(o.public, ids.Wildcard, "*", o.public),
			policy.NewMayAccess(ids.Wildcard, o.public),
		)
		if liftToPublic {
			rules = append(rules, policy.NewResultOfDataIn(o.scienceOnly, named["aggregate"], "*", o.public))
		}
	}

	for _, compute := range []ids.Identifier{named["combine"], named["anonymise"], named["aggregate"]} {
		rules = append(rules,
			policy.NewMayAccess(named["site3"], compute),
			policy.NewResultOfComputeIn(ids.Wildcard, compute, "*", publicResults),
		)
	}
	rules = append(rules,
		policy.NewMayAccess(ids.Wildcard, publicResults),
		policy.NewResultOfDataIn(publicResults, ids.Wildcard, "*", publicResults),
	)

	return rules, named
}

func piiPipelineJob(named map[string]ids.Identifier) workflow.Job {
	return workflow.Job{
		Submitter: ids.MustNew("party:party2:party2"),
		Inputs:    map[string]ids.Identifier{"x1": named["pii1"], "x2": named["pii2"]},
		Workflow: workflow.Workflow{
			Inputs: []string{"x1", "x2"},
			Steps: map[string]workflow.WorkflowStep{
				"combine": {
					Name:         "combine",
					Inputs:       map[string]string{"x1": "x1", "x2": "x2"},
					Outputs:      map[string]ids.Identifier{"y": ""},
					ComputeAsset: named["combine"],
				},
				"anonymise": {
					Name:         "anonymise",
					Inputs:       map[string]string{"x1": "combine.y"},
					Outputs:      map[string]ids.Identifier{"y": ""},
					ComputeAsset: named["anonymise"],
				},
				"aggregate": {
					Name:         "aggregate",
					Inputs:       map[string]string{"x1": "anonymise.y"},
					Outputs:      map[string]ids.Identifier{"y": ""},
					ComputeAsset: named["aggregate"],
				},
			},
			Outputs: map[string]string{"result": "aggregate.y"},
		},
	}
}

// Three parties: PII lists held at site1 and site2 may only be combined and
// anonymised at site3; aggregation lifts the result into a public collection
// the submitting site may read. Expected ((42-10)+(3-10))/2 = 12.5.
func TestPIIPipelineAcrossThreeParties(t *testing.T) {
	rules, named := piiPipelineRules(true)
	evaluator := policy.NewEvaluator(&policy.StaticCollection{Rules: rules})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fab := newFabric(evaluator, ctx)
	fab.addSite(t, named["site1"])
	fab.addSite(t, named["site2"])
	fab.addSite(t, named["site3"])
	fab.admin = &pipelineAdmin{fabric: fab, workDir: t.TempDir()}

	fab.seedData(t, named["pii1"], []float64{42})
	fab.seedData(t, named["pii2"], []float64{3})
	fab.seedCompute(t, named["combine"])
	fab.seedCompute(t, named["anonymise"])
	fab.seedCompute(t, named["aggregate"])

	job := piiPipelineJob(named)
	require.NoError(t, job.Workflow.Validate())

	planner := workflow.NewPlanner(evaluator, 0)
	plans, err := planner.MakePlans(named["site2"], job, fab.candidates)
	require.NoError(t, err)
	require.Len(t, plans, 1, "PII policies pin every step to site3")
	for _, site := range plans[0].StepSites {
		require.Equal(t, named["site3"], site)
	}

	executor := NewExecutor(fab, named["site2"])
	executor.PollInterval = 10 * time.Millisecond
	require.NoError(t, executor.StartWorkflow(ctx, workflow.ExecutionRequest{Job: job, Plan: plans[0]}))

	results, err := executor.GetResults(ctx, job, plans[0])
	require.NoError(t, err)
	require.Equal(t, 12.5, readResultValue(t, results["result"]))
	fab.requireNoRunErrors(t)
}

// Same topology as the PII pipeline, but the data owners never route the
// aggregated output into a collection the submitting site may access:
// planning must yield no plans and submission must fail with NoLegalPlan.
func TestPIIPipelineDeniedWorkflowOutputYieldsNoPlan(t *testing.T) {
	rules, named := piiPipelineRules(false)
	evaluator := policy.NewEvaluator(&policy.StaticCollection{Rules: rules})
	job := piiPipelineJob(named)
	require.NoError(t, job.Workflow.Validate())

	candidates := []ids.Identifier{named["site1"], named["site2"], named["site3"]}
	planner := workflow.NewPlanner(evaluator, 0)

	plans, err := planner.MakePlans(named["site2"], job, candidates)
	require.NoError(t, err)
	require.Empty(t, plans)

	_, err = planner.RequirePlan(named["site2"], job, candidates, "job-1")
	require.True(t, apperrors.Is(err, apperrors.ErrCodeNoLegalPlan))
}

// Cross-site staging: step A runs at siteA, step B at siteB, and B's input is
// A's output. A's store is slow to serve the result; B must poll until it
// appears and overall completion stays bounded by the delay plus polling.
func TestCrossSiteStagingPollsThroughSlowUpstream(t *testing.T) {
	siteA := ids.MustNew("site:alice:siteA")
	siteB := ids.MustNew("site:bob:siteB")
	input1 := ids.MustNew("asset:alice:input1:alice:siteA")
	relayA := ids.MustNew("asset:alice:relay:alice:siteA")
	relayB := ids.MustNew("asset:bob:relay:bob:siteB")
	open := ids.MustNew("asset_collection:alice:open")
	relayResultsA := ids.MustNew("asset_collection:alice:relayresults")
	relayResultsB := ids.MustNew("asset_collection:bob:relayresults")

	rules := []policy.Rule{
		policy.NewInAssetCollection(input1, open),
		policy.NewMayAccess(ids.Wildcard, open),
		policy.NewResultOfDataIn(open, ids.Wildcard, "*", open),
		policy.NewMayAccess(ids.Wildcard, relayA),
		policy.NewMayAccess(ids.Wildcard, relayB),
		policy.NewResultOfComputeIn(ids.Wildcard, relayA, "*", relayResultsA),
		policy.NewMayAccess(ids.Wildcard, relayResultsA),
		policy.NewResultOfDataIn(relayResultsA, ids.Wildcard, "*", relayResultsA),
		policy.NewResultOfComputeIn(ids.Wildcard, relayB, "*", relayResultsB),
		policy.NewMayAccess(ids.Wildcard, relayResultsB),
	}
	evaluator := policy.NewEvaluator(&policy.StaticCollection{Rules: rules})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fab := newFabric(evaluator, ctx)
	fab.addSite(t, siteA)
	fab.addSite(t, siteB)
	fab.admin = &pipelineAdmin{fabric: fab, workDir: t.TempDir()}
	fab.seedData(t, input1, 7)
	fab.seedCompute(t, relayA)
	fab.seedCompute(t, relayB)

	job := workflow.Job{
		Submitter: ids.MustNew("party:alice:alice"),
		Inputs:    map[string]ids.Identifier{"x": input1},
		Workflow: workflow.Workflow{
			Inputs: []string{"x"},
			Steps: map[string]workflow.WorkflowStep{
				"stepA": {
					Name:         "stepA",
					Inputs:       map[string]string{"x": "x"},
					Outputs:      map[string]ids.Identifier{"y": ""},
					ComputeAsset: relayA,
				},
				"stepB": {
					Name:         "stepB",
					Inputs:       map[string]string{"x": "stepA.y"},
					Outputs:      map[string]ids.Identifier{"y": ""},
					ComputeAsset: relayB,
				},
			},
			Outputs: map[string]string{"out": "stepB.y"},
		},
	}
	require.NoError(t, job.Workflow.Validate())

	plan := workflow.Plan{StepSites: map[string]ids.Identifier{"stepA": siteA, "stepB": siteB}}
	legal, err := fab.calculator.IsLegal(job, plan, fab.candidates)
	require.NoError(t, err)
	require.True(t, legal)

	idHashes, err := workflow.IDHashes(job)
	require.NoError(t, err)
	intermediate := workflow.ResultIdentifier(idHashes["stepA.y"])
	const upstreamDelay = 200 * time.Millisecond
	start := time.Now()
	fab.notBefore[intermediate] = start.Add(upstreamDelay)

	executor := NewExecutor(fab, siteA)
	executor.PollInterval = 20 * time.Millisecond

	require.NoError(t, executor.StartWorkflow(ctx, workflow.ExecutionRequest{Job: job, Plan: plan}))
	results, err := executor.GetResults(ctx, job, plan)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, 7.0, readResultValue(t, results["out"]))
	require.GreaterOrEqual(t, fab.retrievalAttempts(intermediate), 2, "siteB must poll for the staged input rather than fail")
	require.GreaterOrEqual(t, elapsed, upstreamDelay)
	require.Less(t, elapsed, 3*time.Second, "completion must be bounded by the upstream delay plus polling, not a fixed long timeout")
	fab.requireNoRunErrors(t)
}
