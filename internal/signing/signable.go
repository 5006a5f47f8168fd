// Package signing implements the Signable mixin (§4.2): a deterministic,
// unsalted Ed25519 signature over a pure byte representation, shared by
// every rule variant and registry record in the federation.
package signing

import (
	"crypto/ed25519"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/ddm-federation/mahiru-go/internal/apperrors"
)

// Representer produces the canonical byte representation that gets signed.
// It must be pure: the same logical object always yields the same bytes,
// and the bytes must contain every field that participates in the signature.
type Representer interface {
	SigningRepresentation() []byte
}

// Sign computes an Ed25519 signature over repr's signing representation.
// Ed25519 signing is deterministic and unsalted: signing the same
// representation with the same key always yields the same signature, which
// is what makes rule value-identity across re-signing possible (§4.3, §9).
func Sign(key ed25519.PrivateKey, repr Representer) []byte {
	return ed25519.Sign(key, repr.SigningRepresentation())
}

// Verify reports whether signature is a valid Ed25519 signature over repr's
// signing representation under the given public key.
func Verify(key ed25519.PublicKey, repr Representer, signature []byte) bool {
	if len(signature) == 0 {
		return false
	}
	return ed25519.Verify(key, repr.SigningRepresentation(), signature)
}

// GenerateKey creates a fresh Ed25519 keypair, used by tests and by sites
// bootstrapping a namespace signing identity.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, apperrors.Internal("generate signing key", err)
	}
	return pub, priv, nil
}

// DeriveKey deterministically derives an Ed25519 signing keypair for a
// namespace from an operator-held master secret, using HKDF (RFC 5869) to
// expand the secret into a 32-byte seed bound to namespace via the HKDF
// info parameter. This lets a party re-derive its namespace signing
// identity from one secret on every site it operates, rather than
// distributing and persisting a raw private key file per site.
func DeriveKey(masterSecret []byte, namespace string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	reader := hkdf.New(sha256.New, masterSecret, nil, []byte("mahiru-namespace-signing-key:"+namespace))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return nil, nil, apperrors.Internal("derive signing key", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return pub, priv, nil
}
