// Package peer models the identity a node uses to reach a remote circuit
// member: a PeerAuthorizationToken (trust-by-node-id or challenge-by-key),
// paired with the local authorization used to reach it.
package peer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/luxfi/ids"
)

// AuthType discriminates the two PeerAuthorizationToken variants.
type AuthType uint8

const (
	// AuthTrust authorizes a peer by its node id alone.
	AuthTrust AuthType = iota
	// AuthChallenge authorizes a peer by a public key it must prove ownership of.
	AuthChallenge
)

func (t AuthType) String() string {
	switch t {
	case AuthTrust:
		return "Trust"
	case AuthChallenge:
		return "Challenge"
	default:
		return "Unknown"
	}
}

// AuthorizationToken is the sum type `Trust(node_id)` / `Challenge(public_key)`
// from spec §3. It is a plain comparable struct so it can be used directly
// as a map key and compared with `==`; hashing and stringification beyond
// structural equality go through Hash and IDAsString.
type AuthorizationToken struct {
	kind      AuthType
	peerID    string
	pubKeyHex string
}

// Trust builds a node-id-authorized token.
func Trust(nodeID string) AuthorizationToken {
	return AuthorizationToken{kind: AuthTrust, peerID: nodeID}
}

// Challenge builds a public-key-authorized token.
func Challenge(publicKey []byte) AuthorizationToken {
	return AuthorizationToken{kind: AuthChallenge, pubKeyHex: hex.EncodeToString(publicKey)}
}

// Kind reports which variant this token is.
func (t AuthorizationToken) Kind() AuthType { return t.kind }

// NodeID returns the node id for a Trust token.
func (t AuthorizationToken) NodeID() (string, bool) {
	if t.kind != AuthTrust {
		return "", false
	}
	return t.peerID, true
}

// PublicKey returns the public key for a Challenge token.
func (t AuthorizationToken) PublicKey() ([]byte, bool) {
	if t.kind != AuthChallenge {
		return nil, false
	}
	raw, err := hex.DecodeString(t.pubKeyHex)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Equal reports structural equality; tokens are plain comparable structs so
// this is equivalent to `t == other`, exposed for readability at call sites.
func (t AuthorizationToken) Equal(other AuthorizationToken) bool {
	return t == other
}

// Hash computes a stable hash over the variant discriminant and payload
// bytes, per spec §4.1.
func (t AuthorizationToken) Hash() ids.ID {
	h := sha256.New()
	h.Write([]byte{byte(t.kind)})
	switch t.kind {
	case AuthTrust:
		h.Write([]byte(t.peerID))
	case AuthChallenge:
		if raw, ok := t.PublicKey(); ok {
			h.Write(raw)
		}
	}
	id, err := ids.ToID(h.Sum(nil))
	if err != nil {
		// sha256 always yields exactly 32 bytes, which ids.ToID always accepts.
		panic(fmt.Sprintf("peer: unreachable hash error: %v", err))
	}
	return id
}

// IDAsString returns node_id for Trust and public_key::<hex> for Challenge,
// per spec §4.1.
func (t AuthorizationToken) IDAsString() string {
	switch t.kind {
	case AuthTrust:
		return t.peerID
	case AuthChallenge:
		return "public_key::" + t.pubKeyHex
	default:
		return ""
	}
}

func (t AuthorizationToken) String() string {
	return fmt.Sprintf("%s(%s)", t.kind, t.IDAsString())
}

// TokenPair pairs the remote authorization a peer presents with the local
// authorization this node uses to reach it. Two directions to the same node
// with distinct local auths are distinct pairs (spec §3).
type TokenPair struct {
	Remote AuthorizationToken
	Local  AuthorizationToken
}

func (p TokenPair) String() string {
	return fmt.Sprintf("{remote: %s, local: %s}", p.Remote, p.Local)
}

// Node is a remote peer's connection info: its token, admin service address
// and ordered endpoint list (spec §3 PeerNode).
type Node struct {
	Token        AuthorizationToken
	AdminService string
	Endpoints    []string
}

// ErrInvalidServiceID is returned by ParseServiceID when the input does not
// match either admin service address format.
var ErrInvalidServiceID = fmt.Errorf("invalid admin service id")

const servicePrefix = "admin::"
const publicKeyTag = "public_key::"

// ServiceID formats the admin service address for a token pair, per spec
// §4.1: `admin::<id_as_string>` for Trust, and
// `admin::public_key::<peer_hex>::public_key::<local_hex>` for Challenge.
func ServiceID(pair TokenPair) (string, error) {
	switch pair.Remote.Kind() {
	case AuthTrust:
		return servicePrefix + pair.Remote.IDAsString(), nil
	case AuthChallenge:
		remoteHex, ok := pair.Remote.PublicKey()
		if !ok {
			return "", ErrInvalidServiceID
		}
		localHex, ok := pair.Local.PublicKey()
		if !ok {
			return "", ErrInvalidServiceID
		}
		return fmt.Sprintf("%s%s%s::%s%s", servicePrefix, publicKeyTag,
			hex.EncodeToString(remoteHex), publicKeyTag, hex.EncodeToString(localHex)), nil
	default:
		return "", ErrInvalidServiceID
	}
}

// SelfServiceID formats the admin service address this node advertises for
// itself: always Trust-by-node-id, matching `admin_service_id` in the
// Splinter daemon.
func SelfServiceID(nodeID string) string {
	return servicePrefix + nodeID
}

// ParseServiceID is the total inverse of ServiceID: malformed input fails
// with ErrInvalidServiceID rather than panicking.
func ParseServiceID(s string) (TokenPair, error) {
	rest, ok := strings.CutPrefix(s, servicePrefix)
	if !ok || rest == "" {
		return TokenPair{}, ErrInvalidServiceID
	}
	if remainder, ok := strings.CutPrefix(rest, publicKeyTag); ok {
		parts := strings.SplitN(remainder, "::"+publicKeyTag, 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return TokenPair{}, ErrInvalidServiceID
		}
		remoteKey, err := hex.DecodeString(parts[0])
		if err != nil {
			return TokenPair{}, ErrInvalidServiceID
		}
		localKey, err := hex.DecodeString(parts[1])
		if err != nil {
			return TokenPair{}, ErrInvalidServiceID
		}
		return TokenPair{Remote: Challenge(remoteKey), Local: Challenge(localKey)}, nil
	}
	return TokenPair{Remote: Trust(rest)}, nil
}
