// Package policy implements the rule algebra and permission evaluator of
// §4.4–§4.5: the tagged union of rule variants, their canonical signed
// representations, and the closure and propagation algorithms that decide
// who may access an asset or a derived result.
package policy

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/signing"
)

// RuleType discriminates the eight rule variants on the wire (§6.1, §6.2),
// since Go has no closed sum type and replicated objects are serialized
// structurally.
type RuleType string

const (
	RuleInAssetCollection RuleType = "InAssetCollection"
	RuleInAssetCategory   RuleType = "InAssetCategory"
	RuleInSiteCategory    RuleType = "InSiteCategory"
	RuleInPartyCollection RuleType = "InPartyCollection"
	RuleMayAccess         RuleType = "MayAccess"
	RuleMayUse            RuleType = "MayUse"
	RuleResultOfDataIn    RuleType = "ResultOfDataIn"
	RuleResultOfComputeIn RuleType = "ResultOfComputeIn"
)

// Rule is the common interface satisfied by every rule variant: it can
// produce the bytes that get signed, it knows which namespace must sign it,
// and it can be used as a replication value (see internal/replication).
type Rule interface {
	signing.Representer
	Type() RuleType
	// SigningNamespace returns the party namespace whose key must sign this
	// rule for it to be considered authorized.
	SigningNamespace() (string, error)
	// Signature returns the signature bytes currently attached to the rule,
	// or nil if unsigned.
	Signature() []byte
	// Key returns a stable string uniquely identifying this rule's value,
	// including its signature bytes (§9: "replication objects as values").
	Key() string
}

// GroupingRule is implemented by the four rules the closure operations of
// §4.4 walk: InAssetCollection, InAssetCategory, InSiteCategory and
// InPartyCollection. Grouped() is the member, Group() is the container.
type GroupingRule interface {
	Rule
	Grouped() ids.Identifier
	Group() ids.Identifier
}

func keyOf(ruleType RuleType, repr []byte, sig []byte) string {
	return fmt.Sprintf("%s|%s|%s", ruleType, base64.StdEncoding.EncodeToString(repr), base64.StdEncoding.EncodeToString(sig))
}

// --- InAssetCollection ---

// InAssetCollection says that Asset is in AssetCollection: anyone permitted
// to access the collection is permitted to access the asset (§4.4).
type InAssetCollection struct {
	Asset      ids.Identifier
	Collection ids.Identifier
	sig        []byte
}

func NewInAssetCollection(asset, collection ids.Identifier) *InAssetCollection {
	return &InAssetCollection{Asset: asset, Collection: collection}
}

func (r *InAssetCollection) Type() RuleType { return RuleInAssetCollection }
func (r *InAssetCollection) SigningRepresentation() []byte {
	return []byte(fmt.Sprintf("%s|%s", r.Asset, r.Collection))
}
func (r *InAssetCollection) SigningNamespace() (string, error) { return r.Asset.Namespace() }
func (r *InAssetCollection) Signature() []byte                { return r.sig }
func (r *InAssetCollection) SetSignature(sig []byte)           { r.sig = sig }
func (r *InAssetCollection) Grouped() ids.Identifier           { return r.Asset }
func (r *InAssetCollection) Group() ids.Identifier             { return r.Collection }
func (r *InAssetCollection) Key() string {
	return keyOf(r.Type(), r.SigningRepresentation(), r.sig)
}

// --- InAssetCategory ---

// InAssetCategory says that Asset is in AssetCategory, the category-kind
// analogue of InAssetCollection used to match ResultOfIn compute-asset rules.
type InAssetCategory struct {
	Asset    ids.Identifier
	Category ids.Identifier
	sig      []byte
}

func NewInAssetCategory(asset, category ids.Identifier) *InAssetCategory {
	return &InAssetCategory{Asset: asset, Category: category}
}

func (r *InAssetCategory) Type() RuleType { return RuleInAssetCategory }
func (r *InAssetCategory) SigningRepresentation() []byte {
	return []byte(fmt.Sprintf("%s|%s", r.Asset, r.Category))
}
func (r *InAssetCategory) SigningNamespace() (string, error) { return r.Asset.Namespace() }
func (r *InAssetCategory) Signature() []byte                 { return r.sig }
func (r *InAssetCategory) SetSignature(sig []byte)            { r.sig = sig }
func (r *InAssetCategory) Grouped() ids.Identifier            { return r.Asset }
func (r *InAssetCategory) Group() ids.Identifier              { return r.Category }
func (r *InAssetCategory) Key() string {
	return keyOf(r.Type(), r.SigningRepresentation(), r.sig)
}

// --- InSiteCategory ---

// InSiteCategory says that Site is in SiteCategory, walked by may_access to
// recognize sites that belong to a category a MayAccess rule names.
type InSiteCategory struct {
	Site     ids.Identifier
	Category ids.Identifier
	sig      []byte
}

func NewInSiteCategory(site, category ids.Identifier) *InSiteCategory {
	return &InSiteCategory{Site: site, Category: category}
}

func (r *InSiteCategory) Type() RuleType { return RuleInSiteCategory }
func (r *InSiteCategory) SigningRepresentation() []byte {
	return []byte(fmt.Sprintf("%s|%s", r.Site, r.Category))
}
func (r *InSiteCategory) SigningNamespace() (string, error) { return r.Site.Namespace() }
func (r *InSiteCategory) Signature() []byte                 { return r.sig }
func (r *InSiteCategory) SetSignature(sig []byte)            { r.sig = sig }
func (r *InSiteCategory) Grouped() ids.Identifier            { return r.Site }
func (r *InSiteCategory) Group() ids.Identifier              { return r.Category }
func (r *InSiteCategory) Key() string {
	return keyOf(r.Type(), r.SigningRepresentation(), r.sig)
}

// --- InPartyCollection ---

// InPartyCollection says that Party is in PartyCollection. Signed by the
// collection's namespace, since the collection owner controls who is in it.
type InPartyCollection struct {
	Party      ids.Identifier
	Collection ids.Identifier
	sig        []byte
}

func NewInPartyCollection(party, collection ids.Identifier) *InPartyCollection {
	return &InPartyCollection{Party: party, Collection: collection}
}

func (r *InPartyCollection) Type() RuleType { return RuleInPartyCollection }
func (r *InPartyCollection) SigningRepresentation() []byte {
	return []byte(fmt.Sprintf("%s|%s", r.Party, r.Collection))
}
func (r *InPartyCollection) SigningNamespace() (string, error) { return r.Collection.Namespace() }
func (r *InPartyCollection) Signature() []byte                 { return r.sig }
func (r *InPartyCollection) SetSignature(sig []byte)            { r.sig = sig }
func (r *InPartyCollection) Grouped() ids.Identifier            { return r.Party }
func (r *InPartyCollection) Group() ids.Identifier              { return r.Collection }
func (r *InPartyCollection) Key() string {
	return keyOf(r.Type(), r.SigningRepresentation(), r.sig)
}

// --- MayAccess ---

// MayAccess says that Site may access Asset.
type MayAccess struct {
	Site  ids.Identifier
	Asset ids.Identifier
	sig   []byte
}

func NewMayAccess(site, asset ids.Identifier) *MayAccess {
	return &MayAccess{Site: site, Asset: asset}
}

func (r *MayAccess) Type() RuleType { return RuleMayAccess }
func (r *MayAccess) SigningRepresentation() []byte {
	return []byte(fmt.Sprintf("%s|%s", r.Site, r.Asset))
}
func (r *MayAccess) SigningNamespace() (string, error) { return r.Asset.Namespace() }
func (r *MayAccess) Signature() []byte                 { return r.sig }
func (r *MayAccess) SetSignature(sig []byte)           { r.sig = sig }
func (r *MayAccess) Key() string {
	return keyOf(r.Type(), r.SigningRepresentation(), r.sig)
}

// --- MayUse ---

// MayUse says that Party may use Asset subject to Conditions, an opaque
// string whose enforcement is not formalized beyond disclosure (§9).
type MayUse struct {
	Party      ids.Identifier
	Asset      ids.Identifier
	Conditions string
	sig        []byte
}

func NewMayUse(party, asset ids.Identifier, conditions string) *MayUse {
	return &MayUse{Party: party, Asset: asset, Conditions: conditions}
}

func (r *MayUse) Type() RuleType { return RuleMayUse }
func (r *MayUse) SigningRepresentation() []byte {
	return []byte(fmt.Sprintf("%s|%s|%s", r.Party, r.Asset, r.Conditions))
}
func (r *MayUse) SigningNamespace() (string, error) { return r.Asset.Namespace() }
func (r *MayUse) Signature() []byte                 { return r.sig }
func (r *MayUse) SetSignature(sig []byte)           { r.sig = sig }
func (r *MayUse) Key() string {
	return keyOf(r.Type(), r.SigningRepresentation(), r.sig)
}

// --- ResultOfDataIn / ResultOfComputeIn ---

// resultOfIn holds the fields shared by ResultOfDataIn and ResultOfComputeIn:
// both say that the result of running ComputeAsset on DataAsset, for the
// named Output (or every output, if Output is the wildcard), belongs to
// Collection. They differ only in whose namespace must sign (§6.1).
type resultOfIn struct {
	DataAsset    ids.Identifier
	ComputeAsset ids.Identifier
	Output       string
	Collection   ids.Identifier
	sig          []byte
}

func (r *resultOfIn) SigningRepresentation() []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s", r.DataAsset, r.ComputeAsset, r.Output, r.Collection))
}
func (r *resultOfIn) Signature() []byte       { return r.sig }
func (r *resultOfIn) SetSignature(sig []byte) { r.sig = sig }

// MatchesOutput reports whether this rule applies to the given step output
// name: either the rule is a wildcard over outputs, or it names this one.
func (r *resultOfIn) MatchesOutput(output string) bool {
	return r.Output == "*" || r.Output == output
}

// ResultOfDataIn is a ResultOfIn rule signed by the data asset's owner.
type ResultOfDataIn struct{ resultOfIn }

func NewResultOfDataIn(dataAsset, computeAsset ids.Identifier, output string, collection ids.Identifier) *ResultOfDataIn {
	return &ResultOfDataIn{resultOfIn{DataAsset: dataAsset, ComputeAsset: computeAsset, Output: output, Collection: collection}}
}

func (r *ResultOfDataIn) Type() RuleType                       { return RuleResultOfDataIn }
func (r *ResultOfDataIn) SigningNamespace() (string, error)    { return r.DataAsset.Namespace() }
func (r *ResultOfDataIn) Key() string {
	return keyOf(r.Type(), r.SigningRepresentation(), r.sig)
}

// ResultOfComputeIn is a ResultOfIn rule signed by the compute asset's owner.
type ResultOfComputeIn struct{ resultOfIn }

func NewResultOfComputeIn(dataAsset, computeAsset ids.Identifier, output string, collection ids.Identifier) *ResultOfComputeIn {
	return &ResultOfComputeIn{resultOfIn{DataAsset: dataAsset, ComputeAsset: computeAsset, Output: output, Collection: collection}}
}

func (r *ResultOfComputeIn) Type() RuleType                    { return RuleResultOfComputeIn }
func (r *ResultOfComputeIn) SigningNamespace() (string, error) { return r.ComputeAsset.Namespace() }
func (r *ResultOfComputeIn) Key() string {
	return keyOf(r.Type(), r.SigningRepresentation(), r.sig)
}

// Sign signs r in place with key, using the Ed25519 scheme of internal/signing.
func Sign(r Rule, key ed25519.PrivateKey) {
	sig := signing.Sign(key, r)
	switch v := r.(type) {
	case *InAssetCollection:
		v.SetSignature(sig)
	case *InAssetCategory:
		v.SetSignature(sig)
	case *InSiteCategory:
		v.SetSignature(sig)
	case *InPartyCollection:
		v.SetSignature(sig)
	case *MayAccess:
		v.SetSignature(sig)
	case *MayUse:
		v.SetSignature(sig)
	case *ResultOfDataIn:
		v.SetSignature(sig)
	case *ResultOfComputeIn:
		v.SetSignature(sig)
	}
}

// HasValidSignature verifies r's signature under key.
func HasValidSignature(r Rule, key ed25519.PublicKey) bool {
	return signing.Verify(key, r, r.Signature())
}
