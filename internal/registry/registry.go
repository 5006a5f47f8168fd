// Package registry implements the registry core (§3, §4.3's last paragraph,
// §6.1): value-typed party and site descriptions, replicated via
// internal/replication's CanonicalStore/Replica.
package registry

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/ddm-federation/mahiru-go/internal/apperrors"
	"github.com/ddm-federation/mahiru-go/internal/ids"
)

// PartyDescription is a value-typed description of a party: its identifier,
// namespace, verification certificates and the user certificates it has
// issued (§3).
type PartyDescription struct {
	ID            ids.Identifier
	Namespace     string
	MainCertPEM   string
	UserCACertPEM string
	UserCertsPEM  []string
}

// SigningRepresentation is the canonical byte layout of §6.1: the literal
// discriminator, id, namespace, then every PEM certificate in fixed order.
func (p PartyDescription) SigningRepresentation() []byte {
	repr := fmt.Sprintf("PartyDescription|%s|%s|%s|%s", p.ID, p.Namespace, p.MainCertPEM, p.UserCACertPEM)
	for _, cert := range p.UserCertsPEM {
		repr += "|" + cert
	}
	return []byte(repr)
}

// Key implements replication.Keyed: party descriptions are identified by
// their full signing representation, so replacing any certificate is a
// distinct replicated value.
func (p PartyDescription) Key() string {
	return "party:" + string(p.SigningRepresentation())
}

// Validate checks structural well-formedness: the main certificate and
// user-CA certificate must each parse as PEM-encoded X.509 certificates.
func (p PartyDescription) Validate() error {
	if _, err := parseCertPEM(p.MainCertPEM); err != nil {
		return apperrors.InvalidInput("party.main_cert", err.Error())
	}
	if _, err := parseCertPEM(p.UserCACertPEM); err != nil {
		return apperrors.InvalidInput("party.user_ca_cert", err.Error())
	}
	for _, cert := range p.UserCertsPEM {
		if _, err := parseCertPEM(cert); err != nil {
			return apperrors.InvalidInput("party.user_cert", err.Error())
		}
	}
	return nil
}

// SiteDescription is a value-typed description of a site: its identifier,
// owning and administering parties, HTTPS endpoint, certificate, and which
// roles it fulfills (§3). The invariant has_runner ⇒ has_store is checked by
// Validate.
type SiteDescription struct {
	ID           ids.Identifier
	Owner        ids.Identifier
	Admin        ids.Identifier
	Endpoint     string
	HTTPSCertPEM string
	HasRunner    bool
	HasStore     bool
	HasPolicies  bool
}

// SigningRepresentation is the canonical byte layout of §6.1.
func (s SiteDescription) SigningRepresentation() []byte {
	return []byte(fmt.Sprintf("SiteDescription|%s|%s|%s|%s|%s|%t|%t|%t",
		s.ID, s.Owner, s.Admin, s.Endpoint, s.HTTPSCertPEM, s.HasRunner, s.HasStore, s.HasPolicies))
}

// Key implements replication.Keyed.
func (s SiteDescription) Key() string {
	return "site:" + string(s.SigningRepresentation())
}

// Validate enforces has_runner ⇒ has_store and certificate well-formedness.
func (s SiteDescription) Validate() error {
	if s.HasRunner && !s.HasStore {
		return apperrors.InvalidInput("site.has_runner", "a runner site must also have a store")
	}
	if _, err := parseCertPEM(s.HTTPSCertPEM); err != nil {
		return apperrors.InvalidInput("site.https_cert", err.Error())
	}
	return nil
}

func parseCertPEM(certPEM string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, fmt.Errorf("not a valid PEM block")
	}
	return x509.ParseCertificate(block.Bytes)
}

// RecordValidator implements replication.Validator for registry records by
// delegating to their structural Validate method. The core spec describes
// this as a "certificate-chain check"; this module performs certificate
// well-formedness checking, since full CA chain validation is delegated to
// the identity/X.509 issuance layer (out of scope, §1).
type RecordValidator[T interface{ Validate() error }] struct{}

func (RecordValidator[T]) IsValid(obj T) bool {
	return obj.Validate() == nil
}
