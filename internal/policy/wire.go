package policy

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/ddm-federation/mahiru-go/internal/ids"
)

// Envelope is the wire/storage serialization of a Rule (§6.2: "objects are
// serialized per the type envelope (type discriminator for rules)"). It
// carries every field any variant needs; unused fields are omitted by
// omitempty.
type Envelope struct {
	Type         RuleType       `json:"type"`
	Asset        ids.Identifier `json:"asset,omitempty"`
	Collection   ids.Identifier `json:"collection,omitempty"`
	Category     ids.Identifier `json:"category,omitempty"`
	Site         ids.Identifier `json:"site,omitempty"`
	Party        ids.Identifier `json:"party,omitempty"`
	DataAsset    ids.Identifier `json:"data_asset,omitempty"`
	ComputeAsset ids.Identifier `json:"compute_asset,omitempty"`
	Output       string         `json:"output,omitempty"`
	Conditions   string         `json:"conditions,omitempty"`
	Signature    string         `json:"signature,omitempty"` // base64
}

// ToEnvelope converts a concrete Rule into its wire Envelope.
func ToEnvelope(r Rule) (Envelope, error) {
	sig := base64.StdEncoding.EncodeToString(r.Signature())
	switch v := r.(type) {
	case *InAssetCollection:
		return Envelope{Type: RuleInAssetCollection, Asset: v.Asset, Collection: v.Collection, Signature: sig}, nil
	case *InAssetCategory:
		return Envelope{Type: RuleInAssetCategory, Asset: v.Asset, Category: v.Category, Signature: sig}, nil
	case *InSiteCategory:
		return Envelope{Type: RuleInSiteCategory, Site: v.Site, Category: v.Category, Signature: sig}, nil
	case *InPartyCollection:
		return Envelope{Type: RuleInPartyCollection, Party: v.Party, Collection: v.Collection, Signature: sig}, nil
	case *MayAccess:
		return Envelope{Type: RuleMayAccess, Site: v.Site, Asset: v.Asset, Signature: sig}, nil
	case *MayUse:
		return Envelope{Type: RuleMayUse, Party: v.Party, Asset: v.Asset, Conditions: v.Conditions, Signature: sig}, nil
	case *ResultOfDataIn:
		return Envelope{Type: RuleResultOfDataIn, DataAsset: v.DataAsset, ComputeAsset: v.ComputeAsset, Output: v.Output, Collection: v.Collection, Signature: sig}, nil
	case *ResultOfComputeIn:
		return Envelope{Type: RuleResultOfComputeIn, DataAsset: v.DataAsset, ComputeAsset: v.ComputeAsset, Output: v.Output, Collection: v.Collection, Signature: sig}, nil
	default:
		return Envelope{}, fmt.Errorf("policy: unknown rule implementation %T", r)
	}
}

// FromEnvelope reconstructs a concrete Rule from its wire Envelope.
func FromEnvelope(e Envelope) (Rule, error) {
	sig, err := base64.StdEncoding.DecodeString(e.Signature)
	if err != nil {
		return nil, fmt.Errorf("policy: invalid signature encoding: %w", err)
	}

	switch e.Type {
	case RuleInAssetCollection:
		r := NewInAssetCollection(e.Asset, e.Collection)
		r.SetSignature(sig)
		return r, nil
	case RuleInAssetCategory:
		r := NewInAssetCategory(e.Asset, e.Category)
		r.SetSignature(sig)
		return r, nil
	case RuleInSiteCategory:
		r := NewInSiteCategory(e.Site, e.Category)
		r.SetSignature(sig)
		return r, nil
	case RuleInPartyCollection:
		r := NewInPartyCollection(e.Party, e.Collection)
		r.SetSignature(sig)
		return r, nil
	case RuleMayAccess:
		r := NewMayAccess(e.Site, e.Asset)
		r.SetSignature(sig)
		return r, nil
	case RuleMayUse:
		r := NewMayUse(e.Party, e.Asset, e.Conditions)
		r.SetSignature(sig)
		return r, nil
	case RuleResultOfDataIn:
		r := NewResultOfDataIn(e.DataAsset, e.ComputeAsset, e.Output, e.Collection)
		r.SetSignature(sig)
		return r, nil
	case RuleResultOfComputeIn:
		r := NewResultOfComputeIn(e.DataAsset, e.ComputeAsset, e.Output, e.Collection)
		r.SetSignature(sig)
		return r, nil
	default:
		return nil, fmt.Errorf("policy: unknown rule type %q", e.Type)
	}
}

// MarshalRule serializes r to its wire JSON form.
func MarshalRule(r Rule) ([]byte, error) {
	env, err := ToEnvelope(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// UnmarshalRule deserializes a Rule from its wire JSON form.
func UnmarshalRule(data []byte) (Rule, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return FromEnvelope(env)
}
