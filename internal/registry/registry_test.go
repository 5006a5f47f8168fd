package registry

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/replication"
)

func selfSignedCertPEM(t *testing.T, pub ed25519.PublicKey, priv ed25519.PrivateKey) string {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func newPartyReplica(t *testing.T, parties ...PartyDescription) *replication.Replica[PartyDescription] {
	store := replication.NewStore(replication.NewArchive[PartyDescription](), time.Minute)
	for _, p := range parties {
		store.Insert(p)
	}
	replica := replication.NewReplica[PartyDescription](store, nil, nil)
	replica.Update()
	return replica
}

func newSiteReplica(t *testing.T, sites ...SiteDescription) *replication.Replica[SiteDescription] {
	store := replication.NewStore(replication.NewArchive[SiteDescription](), time.Minute)
	for _, s := range sites {
		store.Insert(s)
	}
	replica := replication.NewReplica[SiteDescription](store, nil, nil)
	replica.Update()
	return replica
}

func TestRunnerCapableSitesFiltersByHasRunner(t *testing.T) {
	runner := SiteDescription{ID: ids.MustNew("site:alice:runner"), HasRunner: true, HasStore: true}
	storeOnly := SiteDescription{ID: ids.MustNew("site:alice:store"), HasRunner: false, HasStore: true}

	reg := NewRegistry(newPartyReplica(t), newSiteReplica(t, runner, storeOnly))

	got := reg.RunnerCapableSites()
	require.Equal(t, []ids.Identifier{runner.ID}, got)
}

func TestSiteLookupByID(t *testing.T) {
	site := SiteDescription{ID: ids.MustNew("site:alice:runner"), HasRunner: true, HasStore: true}
	reg := NewRegistry(newPartyReplica(t), newSiteReplica(t, site))

	got, ok := reg.Site(site.ID)
	require.True(t, ok)
	require.Equal(t, site.ID, got.ID)

	_, ok = reg.Site(ids.MustNew("site:bob:unknown"))
	require.False(t, ok)
}

func TestVerificationKeyExtractsEd25519PublicKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	certPEM := selfSignedCertPEM(t, pub, priv)
	party := PartyDescription{ID: ids.MustNew("party:alice:main"), Namespace: "alice", MainCertPEM: certPEM, UserCACertPEM: certPEM}

	reg := NewRegistry(newPartyReplica(t, party), newSiteReplica(t))

	key, ok := reg.VerificationKey("alice")
	require.True(t, ok)
	require.Equal(t, pub, key)

	_, ok = reg.VerificationKey("unknown-namespace")
	require.False(t, ok)
}

func TestSiteDescriptionValidateRejectsRunnerWithoutStore(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	certPEM := selfSignedCertPEM(t, pub, priv)

	site := SiteDescription{ID: ids.MustNew("site:alice:runner"), HasRunner: true, HasStore: false, HTTPSCertPEM: certPEM}
	require.Error(t, site.Validate())

	site.HasStore = true
	require.NoError(t, site.Validate())
}
