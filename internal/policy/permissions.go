package policy

import "github.com/ddm-federation/mahiru-go/internal/ids"

// IdentifierSet is a disjunctive access requirement: a site is granted
// access to a value if it is permitted to access at least one identifier in
// the set.
type IdentifierSet map[ids.Identifier]struct{}

func newIdentifierSet(ids_ ...ids.Identifier) IdentifierSet {
	s := make(IdentifierSet, len(ids_))
	for _, id := range ids_ {
		s[id] = struct{}{}
	}
	return s
}

func (s IdentifierSet) add(id ids.Identifier) { s[id] = struct{}{} }

func (s IdentifierSet) union(other IdentifierSet) IdentifierSet {
	out := make(IdentifierSet, len(s)+len(other))
	for id := range s {
		out[id] = struct{}{}
	}
	for id := range other {
		out[id] = struct{}{}
	}
	return out
}

func (s IdentifierSet) intersects(other IdentifierSet) bool {
	small, big := s, other
	if len(big) < len(small) {
		small, big = big, small
	}
	for id := range small {
		if _, ok := big[id]; ok {
			return true
		}
	}
	return false
}

// Permissions represents the access requirement for one workflow value: an
// ordered list of IdentifierSets, interpreted as a conjunction across sets of
// disjunctions (§3, §9). An empty set anywhere in the list means "no one may
// access" for that requirement. Sets are never deduplicated: the same
// collection reached by two independent rules is recorded twice, since that
// multiplicity is observable in some of the propagation edge cases (§9).
type Permissions struct {
	sets []IdentifierSet
}

// NewDenyAll returns Permissions that grant no access: a single empty set,
// which no site satisfies since it requires access to "at least one of no
// identifiers". Note that an empty set *list* is the opposite — a vacuous
// conjunction that every site satisfies.
func NewDenyAll() Permissions {
	return Permissions{sets: []IdentifierSet{{}}}
}

// newPermissions wraps a pre-built list of sets; used internally by the
// evaluator.
func newPermissions(sets ...IdentifierSet) Permissions {
	return Permissions{sets: sets}
}

// Sets returns the ordered list of identifier sets. Callers must not mutate
// the returned sets.
func (p Permissions) Sets() []IdentifierSet { return p.sets }

// appendSets appends more disjunctive sets to p, preserving order and
// multiplicity (§9: "never collapse duplicate sets").
func (p Permissions) appendSets(sets ...IdentifierSet) Permissions {
	out := make([]IdentifierSet, 0, len(p.sets)+len(sets))
	out = append(out, p.sets...)
	out = append(out, sets...)
	return Permissions{sets: out}
}
