// Package authz holds the pluggable authorization contracts (spec §4.5):
// "is this public key permitted for this node / role?", plus public-key
// and signature validation helpers. Concrete verifiers and signers are
// injected at construction time; the admin service only depends on these
// interfaces.
package authz

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

func sha256Sum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Role names the two permission checks a requester's public key can be
// asked about (spec §4.5).
type Role string

const (
	RoleVoter    Role = "voter"
	RoleProposer Role = "proposer"
)

// KeyVerifier answers "is this public key permitted to act as this node?"
type KeyVerifier interface {
	IsPermitted(nodeID string, publicKey []byte) (bool, error)
}

// KeyPermissionManager answers "is this public key permitted to perform
// this role?"
type KeyPermissionManager interface {
	IsPermitted(publicKey []byte, role Role) (bool, error)
}

// SignatureVerifier checks a detached signature over a header under a
// claimed public key. It is injected so the admin service never picks a
// signature scheme itself (spec §1 Non-goals: cryptographic primitive
// design).
type SignatureVerifier interface {
	Verify(header, signature, publicKey []byte) (bool, error)
}

// expectedPublicKeyLen is the length of a compressed secp256k1 public key
// (spec §4.5).
const expectedPublicKeyLen = 33

// ErrInvalidPublicKey is returned by ValidatePublicKey for anything that
// is not exactly 33 bytes and a valid compressed secp256k1 point.
var ErrInvalidPublicKey = errors.New("authz: invalid public key")

// ValidatePublicKey enforces the compressed-secp256k1, 33-byte requirement
// spec §4.5 places on every requester/voter public key.
func ValidatePublicKey(publicKey []byte) error {
	if len(publicKey) != expectedPublicKeyLen {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPublicKey, expectedPublicKeyLen, len(publicKey))
	}
	if _, err := secp256k1.ParsePubKey(publicKey); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return nil
}

// Secp256k1Verifier is the reference SignatureVerifier: DER-encoded ECDSA
// signatures over a SHA-256 digest of the header, under a compressed
// secp256k1 public key.
type Secp256k1Verifier struct{}

// Verify implements SignatureVerifier.
func (Secp256k1Verifier) Verify(header, signature, publicKey []byte) (bool, error) {
	if err := ValidatePublicKey(publicKey); err != nil {
		return false, err
	}
	pub, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false, fmt.Errorf("authz: malformed signature: %w", err)
	}
	digest := sha256Sum(header)
	return sig.Verify(digest[:], pub), nil
}

var _ SignatureVerifier = Secp256k1Verifier{}
