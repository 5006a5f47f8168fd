package registry

import (
	"crypto/ed25519"

	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/replication"
)

// Registry composes the replicated party and site catalogs a site consults
// for planning (runner-capable sites, §4.6) and for rule-signature
// verification (a namespace's verification key, §4.3).
type Registry struct {
	Parties *replication.Replica[PartyDescription]
	Sites   *replication.Replica[SiteDescription]
}

// NewRegistry wires a Registry around already-constructed party and site
// replicas (typically pulling from a remote site's CanonicalStore, or from a
// local in-memory one for a self-hosted registry).
func NewRegistry(parties *replication.Replica[PartyDescription], sites *replication.Replica[SiteDescription]) *Registry {
	return &Registry{Parties: parties, Sites: sites}
}

// RunnerCapableSites returns the ids of every known site with HasRunner set,
// the candidate set WorkflowPlanner enumerates over (§4.6 step 4).
func (r *Registry) RunnerCapableSites() []ids.Identifier {
	r.Sites.Update()
	var out []ids.Identifier
	for _, site := range r.Sites.Objects() {
		if site.HasRunner {
			out = append(out, site.ID)
		}
	}
	return out
}

// Site looks up a site description by id.
func (r *Registry) Site(id ids.Identifier) (SiteDescription, bool) {
	r.Sites.Update()
	for _, site := range r.Sites.Objects() {
		if site.ID == id {
			return site, true
		}
	}
	return SiteDescription{}, false
}

// Party looks up a party description by id.
func (r *Registry) Party(id ids.Identifier) (PartyDescription, bool) {
	r.Parties.Update()
	for _, party := range r.Parties.Objects() {
		if party.ID == id {
			return party, true
		}
	}
	return PartyDescription{}, false
}

// VerificationKey implements policy.KeyResolver: it resolves a namespace to
// the Ed25519 public key embedded in that party's main certificate's public
// key material.
//
// The reference certificate layer in this module stores the raw Ed25519
// public key as the certificate's public key, which keeps signature
// verification self-contained without requiring a full issuance CA (out of
// scope per §1); production deployments would instead extract this from a
// CA-issued certificate chain.
func (r *Registry) VerificationKey(namespace string) (ed25519.PublicKey, bool) {
	r.Parties.Update()
	for _, party := range r.Parties.Objects() {
		if party.Namespace != namespace {
			continue
		}
		cert, err := parseCertPEM(party.MainCertPEM)
		if err != nil {
			continue
		}
		if key, ok := cert.PublicKey.(ed25519.PublicKey); ok {
			return key, true
		}
	}
	return nil, false
}
