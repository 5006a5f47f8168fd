// Package ids implements the typed identifier scheme used throughout the
// federation: parties, sites, assets, collections, categories and
// content-addressed results are all represented as a single validated string
// type so that rules, permissions and the registry can treat them uniformly.
package ids

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ddm-federation/mahiru-go/internal/apperrors"
)

// Kind identifies which of the eight identifier shapes a given Identifier has.
type Kind string

const (
	KindParty            Kind = "party"
	KindPartyCategory    Kind = "party_category"
	KindSite             Kind = "site"
	KindSiteCategory     Kind = "site_category"
	KindAsset            Kind = "asset"
	KindAssetCollection  Kind = "asset_collection"
	KindAssetCategory    Kind = "asset_category"
	KindResult           Kind = "result"
	wildcardLiteral           = "*"
)

var segmentLengths = map[Kind]int{
	KindParty:           3,
	KindPartyCategory:   3,
	KindSite:            3,
	KindSiteCategory:    3,
	KindAsset:           5,
	KindAssetCollection: 3,
	KindAssetCategory:   3,
	KindResult:          2,
}

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]*$`)

// Identifier is a structurally validated string identifying a party, site,
// asset, grouping or content-addressed result. The zero value is not a valid
// Identifier; always construct one via New.
type Identifier string

// Wildcard is the literal "*" identifier, valid only inside rules.
const Wildcard Identifier = wildcardLiteral

// New validates s and returns it as an Identifier, or an InvalidIdentifier
// ServiceError if s does not match any recognized shape.
func New(s string) (Identifier, error) {
	if s == wildcardLiteral {
		return Identifier(s), nil
	}

	segments := strings.Split(s, ":")
	kind := Kind(segments[0])
	want, ok := segmentLengths[kind]
	if !ok {
		return "", apperrors.InvalidIdentifier(s, fmt.Sprintf("unknown identifier kind %q", segments[0]))
	}
	if len(segments) != want {
		return "", apperrors.InvalidIdentifier(s, fmt.Sprintf("expected %d segments for kind %q, got %d", want, kind, len(segments)))
	}
	for _, seg := range segments {
		if !segmentPattern.MatchString(seg) {
			return "", apperrors.InvalidIdentifier(s, fmt.Sprintf("invalid segment %q", seg))
		}
	}
	return Identifier(s), nil
}

// MustNew is New but panics on error; for use with compile-time-known literals.
func MustNew(s string) Identifier {
	id, err := New(s)
	if err != nil {
		panic(err)
	}
	return id
}

// FromIDHash builds the result:<hash> identifier for an intermediate value
// whose provenance hashes to idHash (a lowercase hex SHA-256 digest).
func FromIDHash(idHash string) Identifier {
	return Identifier(fmt.Sprintf("result:%s", idHash))
}

// Kind returns the identifier's kind, or "" for the wildcard.
func (id Identifier) Kind() Kind {
	if id == Wildcard {
		return ""
	}
	return Kind(id.Segments()[0])
}

// Segments splits the identifier on ':'.
func (id Identifier) Segments() []string {
	return strings.Split(string(id), ":")
}

// Namespace returns the authority segment of the identifier: the party whose
// signature is required over rules naming this object.
func (id Identifier) Namespace() (string, error) {
	if id.Kind() == KindResult {
		return "", apperrors.NotApplicable(string(id), "namespace")
	}
	segs := id.Segments()
	if len(segs) < 2 {
		return "", apperrors.NotApplicable(string(id), "namespace")
	}
	return segs[1], nil
}

// Name returns the name segment of the identifier.
func (id Identifier) Name() (string, error) {
	if id.Kind() == KindResult {
		return "", apperrors.NotApplicable(string(id), "name")
	}
	segs := id.Segments()
	if len(segs) < 3 {
		return "", apperrors.NotApplicable(string(id), "name")
	}
	return segs[2], nil
}

// Location returns the identifier of the site hosting this concrete asset.
// Only valid for KindAsset identifiers.
func (id Identifier) Location() (Identifier, error) {
	if id.Kind() != KindAsset {
		return "", apperrors.NotApplicable(string(id), "location")
	}
	segs := id.Segments()
	return Identifier(fmt.Sprintf("site:%s:%s", segs[3], segs[4])), nil
}

// IsWildcard reports whether id is the literal "*".
func (id Identifier) IsWildcard() bool {
	return id == Wildcard
}

// String implements fmt.Stringer.
func (id Identifier) String() string {
	return string(id)
}
