// Package memory wires the in-memory default backing stores for a site: one
// replication.Archive/Store pair per replicated record type (policy rules,
// party descriptions, site descriptions), used whenever the process is not
// configured with a PostgreSQL DSN.
package memory

import (
	"time"

	"github.com/ddm-federation/mahiru-go/internal/assetstore"
	"github.com/ddm-federation/mahiru-go/internal/policy"
	"github.com/ddm-federation/mahiru-go/internal/registry"
	"github.com/ddm-federation/mahiru-go/internal/replication"
)

// Stores bundles every in-memory canonical store a single site hosts.
type Stores struct {
	RuleArchive  *replication.Archive[policy.Rule]
	RuleStore    *replication.Store[policy.Rule]
	PartyArchive *replication.Archive[registry.PartyDescription]
	PartyStore   *replication.Store[registry.PartyDescription]
	SiteArchive  *replication.Archive[registry.SiteDescription]
	SiteStore    *replication.Store[registry.SiteDescription]
	AssetStore   *assetstore.Store
}

// New creates a fresh set of in-memory stores. maxLag bounds how long a
// pull-based Replica may advertise an update as valid before re-polling
// (§4.3); imageDir is the asset store's backing directory and must already
// exist.
func New(maxLag time.Duration, evaluator assetstore.Evaluator, imageDir string) *Stores {
	ruleArchive := replication.NewArchive[policy.Rule]()
	partyArchive := replication.NewArchive[registry.PartyDescription]()
	siteArchive := replication.NewArchive[registry.SiteDescription]()

	return &Stores{
		RuleArchive:  ruleArchive,
		RuleStore:    replication.NewStore(ruleArchive, maxLag),
		PartyArchive: partyArchive,
		PartyStore:   replication.NewStore(partyArchive, maxLag),
		SiteArchive:  siteArchive,
		SiteStore:    replication.NewStore(siteArchive, maxLag),
		AssetStore:   assetstore.NewStore(evaluator, imageDir),
	}
}
