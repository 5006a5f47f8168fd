package policy

import "github.com/ddm-federation/mahiru-go/internal/ids"

// Collection supplies the current set of rules to evaluate against. A
// typical implementation merges the live objects of one or more policy
// Replicas (internal/replication) from every namespace a workflow touches.
type Collection interface {
	Policies() []Rule
}

// Evaluator interprets policies to support planning and execution (§4.4).
// It holds no mutable state of its own; every call takes a fresh snapshot of
// the backing Collection, so it is safe to call concurrently from any task
// (§5: "the policy evaluator is read-only relative to the rule set").
type Evaluator struct {
	collection Collection
}

// NewEvaluator creates an Evaluator backed by collection.
func NewEvaluator(collection Collection) *Evaluator {
	return &Evaluator{collection: collection}
}

// PermissionsForAsset returns the permissions required to access a primary
// asset: a single-element list containing the upward closure of asset under
// InAssetCollection. This must be a primary asset, not an intermediate
// result — results use propagate_permissions instead.
func (e *Evaluator) PermissionsForAsset(asset ids.Identifier) Permissions {
	closure := e.upwardEquivalentAssetCollections(asset)
	return newPermissions(closure)
}

// PropagatePermissions determines the access permissions of a step output,
// given the permissions of its inputs, the compute asset used, and the
// output's name. It matches ResultOfDataIn and ResultOfComputeIn rules
// against each disjunctive input set in turn, appending one new set per
// rule family per input set (§4.5).
func (e *Evaluator) PropagatePermissions(inputPerms []Permissions, computeAsset ids.Identifier, output string) Permissions {
	result := Permissions{}
	for _, inputPerm := range inputPerms {
		for _, assetSet := range inputPerm.sets {
			dataColl, computeColl := e.resultOfInCollections(assetSet, computeAsset, output)
			result = result.appendSets(dataColl, computeColl)
		}
	}
	return result
}

// MayAccess reports whether site is permitted to hold every value that
// permissions requires: for every disjunctive set, at least one identifier
// in it must be reachable by a MayAccess rule naming site, a site category
// site belongs to, or the literal wildcard (§4.4).
func (e *Evaluator) MayAccess(permissions Permissions, site ids.Identifier) bool {
	equivSites := e.upwardEquivalentSiteCategories(site)
	for _, assetSet := range permissions.sets {
		if !e.matchesOne(assetSet, equivSites) {
			return false
		}
	}
	return true
}

func (e *Evaluator) matchesOne(assetSet IdentifierSet, equivSites IdentifierSet) bool {
	if len(assetSet) == 0 {
		return false
	}
	for _, rule := range e.collection.Policies() {
		ma, ok := rule.(*MayAccess)
		if !ok {
			continue
		}
		if _, inSet := assetSet[ma.Asset]; !inSet {
			continue
		}
		if ma.Site.IsWildcard() {
			return true
		}
		if _, matched := equivSites[ma.Site]; matched {
			return true
		}
	}
	return false
}

// MayUseConditions returns the opaque condition strings of every MayUse rule
// that grants party (or a party collection it belongs to, via
// InPartyCollection) use of asset (or an asset collection asset belongs to,
// via InAssetCollection). §7 leaves MayUse enforcement unformalized beyond
// "must be disclosed with the result"; this is that disclosure lookup, not
// an access check — callers decide what to do with the returned conditions.
func (e *Evaluator) MayUseConditions(party, asset ids.Identifier) []string {
	parties := e.equivalentParties(party)
	assetColls := e.upwardEquivalentAssetCollections(asset)

	var conditions []string
	for _, rule := range e.collection.Policies() {
		mu, ok := rule.(*MayUse)
		if !ok {
			continue
		}
		if _, ok := assetColls[mu.Asset]; !ok {
			continue
		}
		for _, p := range parties {
			if mu.Party == p {
				conditions = append(conditions, mu.Conditions)
				break
			}
		}
	}
	return conditions
}

// equivalentParties returns the party itself plus every party collection it
// is directly or indirectly a member of via InPartyCollection rules.
func (e *Evaluator) equivalentParties(party ids.Identifier) []ids.Identifier {
	seen := map[ids.Identifier]struct{}{party: {}}
	frontier := []ids.Identifier{party}
	var out []ids.Identifier
	for len(frontier) > 0 {
		out = append(out, frontier...)
		var next []ids.Identifier
		for _, p := range frontier {
			for _, rule := range e.collection.Policies() {
				ipc, ok := rule.(*InPartyCollection)
				if !ok || ipc.Party != p {
					continue
				}
				if _, already := seen[ipc.Collection]; !already {
					seen[ipc.Collection] = struct{}{}
					next = append(next, ipc.Collection)
				}
			}
		}
		frontier = next
	}
	return out
}

// upwardClosure computes the upward-equivalent objects of obj under grouping
// rules of the given kind: obj itself, plus every group it is directly or
// indirectly in, via a monotone fixpoint over finite sets (§4.4).
func (e *Evaluator) upwardClosure(matches func(Rule) (grouped, group ids.Identifier, ok bool), obj ids.Identifier) IdentifierSet {
	cur := newIdentifierSet(obj)
	for {
		added := false
		for _, rule := range e.collection.Policies() {
			grouped, group, ok := matches(rule)
			if !ok {
				continue
			}
			if _, has := cur[grouped]; !has {
				continue
			}
			if _, has := cur[group]; !has {
				cur.add(group)
				added = true
			}
		}
		if !added {
			return cur
		}
	}
}

// downwardClosure is the symmetric operation: obj itself, plus everything
// directly or indirectly grouped into it.
func (e *Evaluator) downwardClosure(matches func(Rule) (grouped, group ids.Identifier, ok bool), obj ids.Identifier) IdentifierSet {
	cur := newIdentifierSet(obj)
	for {
		added := false
		for _, rule := range e.collection.Policies() {
			grouped, group, ok := matches(rule)
			if !ok {
				continue
			}
			if _, has := cur[group]; !has {
				continue
			}
			if _, has := cur[grouped]; !has {
				cur.add(grouped)
				added = true
			}
		}
		if !added {
			return cur
		}
	}
}

func assetCollectionMatch(rule Rule) (ids.Identifier, ids.Identifier, bool) {
	r, ok := rule.(*InAssetCollection)
	if !ok {
		return "", "", false
	}
	return r.Asset, r.Collection, true
}

func assetCategoryMatch(rule Rule) (ids.Identifier, ids.Identifier, bool) {
	r, ok := rule.(*InAssetCategory)
	if !ok {
		return "", "", false
	}
	return r.Asset, r.Category, true
}

func siteCategoryMatch(rule Rule) (ids.Identifier, ids.Identifier, bool) {
	r, ok := rule.(*InSiteCategory)
	if !ok {
		return "", "", false
	}
	return r.Site, r.Category, true
}

func (e *Evaluator) upwardEquivalentAssetCollections(asset ids.Identifier) IdentifierSet {
	return e.upwardClosure(assetCollectionMatch, asset)
}

func (e *Evaluator) upwardEquivalentSiteCategories(site ids.Identifier) IdentifierSet {
	return e.upwardClosure(siteCategoryMatch, site)
}

func (e *Evaluator) downwardEquivalentAssetCategories(obj ids.Identifier) IdentifierSet {
	return e.downwardClosure(assetCategoryMatch, obj)
}

// resultOfInCollections returns the collections that ResultOfDataIn and
// ResultOfComputeIn rules route inputAssets / computeAsset / output into
// (§4.5). The first return value is the ResultOfDataIn collections, the
// second is the ResultOfComputeIn collections.
func (e *Evaluator) resultOfInCollections(inputAssets IdentifierSet, computeAsset ids.Identifier, output string) (IdentifierSet, IdentifierSet) {
	dataCollections := IdentifierSet{}
	computeCollections := IdentifierSet{}

	inputAssetColls := IdentifierSet{}
	for a := range inputAssets {
		inputAssetColls = inputAssetColls.union(e.upwardEquivalentAssetCollections(a))
	}
	computeAssetColls := e.upwardEquivalentAssetCollections(computeAsset)

	for _, rule := range e.collection.Policies() {
		switch r := rule.(type) {
		case *ResultOfDataIn:
			if !r.MatchesOutput(output) {
				continue
			}
			if _, ok := inputAssetColls[r.DataAsset]; !ok {
				continue
			}
			if r.ComputeAsset.IsWildcard() {
				dataCollections.add(r.Collection)
				continue
			}
			if _, ok := e.downwardEquivalentAssetCategories(r.ComputeAsset)[computeAsset]; ok {
				dataCollections.add(r.Collection)
			}
		case *ResultOfComputeIn:
			if !r.MatchesOutput(output) {
				continue
			}
			if _, ok := computeAssetColls[r.ComputeAsset]; !ok {
				continue
			}
			if r.DataAsset.IsWildcard() {
				computeCollections.add(r.Collection)
				continue
			}
			if inputAssets.intersects(e.downwardEquivalentAssetCategories(r.DataAsset)) {
				computeCollections.add(r.Collection)
			}
		}
	}

	return dataCollections, computeCollections
}
