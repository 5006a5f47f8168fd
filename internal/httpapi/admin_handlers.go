package httpapi

import (
	"context"
	"net/http"

	"github.com/ddm-federation/mahiru-go/internal/apperrors"
	"github.com/ddm-federation/mahiru-go/internal/policy"
	"github.com/ddm-federation/mahiru-go/internal/registry"
)

// RuleWriter is the write half of a policy rule's backing store: the
// in-memory replication.Store[policy.Rule] and the Postgres RuleStore both
// satisfy it (the former through a thin ctx-taking adapter, since
// replication.Store's Insert/Delete predate having callers that need a
// context or an error return on Insert).
type RuleWriter interface {
	Insert(ctx context.Context, rule policy.Rule) error
	Delete(ctx context.Context, rule policy.Rule) error
	Objects(ctx context.Context) ([]policy.Rule, error)
}

// PartyWriter is the write half of a party registry record's backing store.
type PartyWriter interface {
	Insert(ctx context.Context, party registry.PartyDescription) error
	Delete(ctx context.Context, party registry.PartyDescription) error
	Objects(ctx context.Context) ([]registry.PartyDescription, error)
}

// SiteWriter is the write half of a site registry record's backing store.
type SiteWriter interface {
	Insert(ctx context.Context, site registry.SiteDescription) error
	Delete(ctx context.Context, site registry.SiteDescription) error
	Objects(ctx context.Context) ([]registry.SiteDescription, error)
}

// AdminHandlers exposes the local publication surface §4.3 assumes exists
// but leaves unspecified ("each party publishes signed rules ... to its own
// site's canonical store"): authoring new policy rules and registry records
// into this site's canonical stores, from which replication then carries
// them to every other site. Every write is re-validated exactly as a
// replica would validate an object received over the wire (§4.3), so a
// rule or record rejected here would also be rejected by
// a peer pulling it.
type AdminHandlers struct {
	Rules         RuleWriter
	RuleValidator *policy.RuleValidator

	Parties        PartyWriter
	PartyValidator registry.RecordValidator[registry.PartyDescription]
	Sites          SiteWriter
	SiteValidator  registry.RecordValidator[registry.SiteDescription]
}

func NewAdminHandlers(rules RuleWriter, ruleValidator *policy.RuleValidator, parties PartyWriter, sites SiteWriter) *AdminHandlers {
	return &AdminHandlers{
		Rules: rules, RuleValidator: ruleValidator,
		Parties: parties, Sites: sites,
	}
}

// PostRule handles POST /admin/policies: publish a newly signed rule.
func (h *AdminHandlers) PostRule(w http.ResponseWriter, r *http.Request) {
	var env policy.Envelope
	if err := DecodeJSON(r, &env); err != nil {
		WriteError(w, err)
		return
	}
	rule, err := policy.FromEnvelope(env)
	if err != nil {
		WriteError(w, err)
		return
	}
	if h.RuleValidator == nil || !h.RuleValidator.IsValid(rule) {
		WriteError(w, apperrors.SignatureInvalid("policy rule"))
		return
	}
	live, err := h.Rules.Objects(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	if ruleAlreadyLive(live, rule) {
		WriteError(w, apperrors.Conflict("an identical rule is already published"))
		return
	}
	if err := h.Rules.Insert(r.Context(), rule); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, env)
}

// DeleteRule handles DELETE /admin/policies: retract a published rule.
func (h *AdminHandlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	var env policy.Envelope
	if err := DecodeJSON(r, &env); err != nil {
		WriteError(w, err)
		return
	}
	rule, err := policy.FromEnvelope(env)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := h.Rules.Delete(r.Context(), rule); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func ruleAlreadyLive(live []policy.Rule, candidate policy.Rule) bool {
	for _, rule := range live {
		if rule.Key() == candidate.Key() {
			return true
		}
	}
	return false
}

// PostParty handles POST /admin/registry/parties.
func (h *AdminHandlers) PostParty(w http.ResponseWriter, r *http.Request) {
	var party registry.PartyDescription
	if err := DecodeJSON(r, &party); err != nil {
		WriteError(w, err)
		return
	}
	if !h.PartyValidator.IsValid(party) {
		WriteError(w, party.Validate())
		return
	}
	if err := h.Parties.Insert(r.Context(), party); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, party)
}

// DeleteParty handles DELETE /admin/registry/parties.
func (h *AdminHandlers) DeleteParty(w http.ResponseWriter, r *http.Request) {
	var party registry.PartyDescription
	if err := DecodeJSON(r, &party); err != nil {
		WriteError(w, err)
		return
	}
	if err := h.Parties.Delete(r.Context(), party); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostSite handles POST /admin/registry/sites.
func (h *AdminHandlers) PostSite(w http.ResponseWriter, r *http.Request) {
	var site registry.SiteDescription
	if err := DecodeJSON(r, &site); err != nil {
		WriteError(w, err)
		return
	}
	if !h.SiteValidator.IsValid(site) {
		WriteError(w, site.Validate())
		return
	}
	if err := h.Sites.Insert(r.Context(), site); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, site)
}

// DeleteSite handles DELETE /admin/registry/sites.
func (h *AdminHandlers) DeleteSite(w http.ResponseWriter, r *http.Request) {
	var site registry.SiteDescription
	if err := DecodeJSON(r, &site); err != nil {
		WriteError(w, err)
		return
	}
	if err := h.Sites.Delete(r.Context(), site); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
