package memory

import (
	"context"

	"github.com/ddm-federation/mahiru-go/internal/policy"
	"github.com/ddm-federation/mahiru-go/internal/registry"
	"github.com/ddm-federation/mahiru-go/internal/replication"
)

// RuleWriter adapts a replication.Store[policy.Rule] to the ctx-taking
// httpapi.RuleWriter shape, so the in-memory default and the Postgres
// RuleStore (whose Insert/Delete already take a context, for the query
// timeout) are interchangeable behind the admin HTTP handlers.
type RuleWriter struct{ Store *replication.Store[policy.Rule] }

func NewRuleWriter(store *replication.Store[policy.Rule]) RuleWriter { return RuleWriter{Store: store} }

func (w RuleWriter) Insert(ctx context.Context, rule policy.Rule) error {
	w.Store.Insert(rule)
	return nil
}

func (w RuleWriter) Delete(ctx context.Context, rule policy.Rule) error {
	return w.Store.Delete(rule)
}

func (w RuleWriter) Objects(ctx context.Context) ([]policy.Rule, error) { return w.Store.Objects(), nil }

// PartyWriter is the party-registry counterpart of RuleWriter.
type PartyWriter struct {
	Store *replication.Store[registry.PartyDescription]
}

func NewPartyWriter(store *replication.Store[registry.PartyDescription]) PartyWriter {
	return PartyWriter{Store: store}
}

func (w PartyWriter) Insert(ctx context.Context, party registry.PartyDescription) error {
	w.Store.Insert(party)
	return nil
}

func (w PartyWriter) Delete(ctx context.Context, party registry.PartyDescription) error {
	return w.Store.Delete(party)
}

func (w PartyWriter) Objects(ctx context.Context) ([]registry.PartyDescription, error) {
	return w.Store.Objects(), nil
}

// SiteWriter is the site-registry counterpart of RuleWriter.
type SiteWriter struct {
	Store *replication.Store[registry.SiteDescription]
}

func NewSiteWriter(store *replication.Store[registry.SiteDescription]) SiteWriter {
	return SiteWriter{Store: store}
}

func (w SiteWriter) Insert(ctx context.Context, site registry.SiteDescription) error {
	w.Store.Insert(site)
	return nil
}

func (w SiteWriter) Delete(ctx context.Context, site registry.SiteDescription) error {
	return w.Store.Delete(site)
}

func (w SiteWriter) Objects(ctx context.Context) ([]registry.SiteDescription, error) {
	return w.Store.Objects(), nil
}
