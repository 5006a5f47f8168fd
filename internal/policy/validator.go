package policy

import "crypto/ed25519"

// KeyResolver looks up the Ed25519 public key that must have signed rules in
// the given namespace. Implemented by the registry (internal/registry),
// backed by a party's published verification key.
type KeyResolver interface {
	VerificationKey(namespace string) (ed25519.PublicKey, bool)
}

// RuleValidator implements replication.Validator[Rule]: it verifies that a
// received rule carries a valid signature from its signing namespace's
// current key, rejecting the whole containing update otherwise (§4.3).
type RuleValidator struct {
	Resolver KeyResolver
}

func NewRuleValidator(resolver KeyResolver) *RuleValidator {
	return &RuleValidator{Resolver: resolver}
}

// IsValid reports whether rule is signed by the key on file for its signing
// namespace.
func (v *RuleValidator) IsValid(rule Rule) bool {
	namespace, err := rule.SigningNamespace()
	if err != nil {
		return false
	}
	key, ok := v.Resolver.VerificationKey(namespace)
	if !ok {
		return false
	}
	return HasValidSignature(rule, key)
}

// replicaCollection adapts a replication.Replica's live objects into a policy
// Collection for the Evaluator to consume.
type replicaCollection struct {
	objects func() []Rule
}

// NewReplicaCollection wraps a function returning the current live rule set
// (typically Replica[Rule].Objects, possibly merged across several
// namespace-scoped replicas) as a Collection.
func NewReplicaCollection(objects func() []Rule) Collection {
	return &replicaCollection{objects: objects}
}

func (c *replicaCollection) Policies() []Rule { return c.objects() }

// StaticCollection is a fixed, in-memory rule set; useful for tests and for
// a single site's locally authored rules before replication is wired in.
type StaticCollection struct {
	Rules []Rule
}

func (c *StaticCollection) Policies() []Rule { return c.Rules }

// MergedCollection merges the live rule sets of several Collections, e.g.
// one Replica per namespace a workflow touches.
type MergedCollection struct {
	Sources []Collection
}

func (c *MergedCollection) Policies() []Rule {
	var out []Rule
	for _, src := range c.Sources {
		out = append(out, src.Policies()...)
	}
	return out
}
