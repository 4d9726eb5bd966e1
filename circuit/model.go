// Package circuit holds the shared Splinter data model: circuits, their
// member nodes and service roster, and the proposals that mutate them.
// These types are pure data plus structural invariant checks (spec §3,
// I2-I5 and I9); nothing here talks to a store, a peer, or a clock.
package circuit

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"regexp"

	"github.com/splinter-dev/splinter/peer"
)

// AuthType mirrors peer.AuthType at the circuit level: whether members are
// authorized to each other by node id (Trust) or by public key (Challenge).
type AuthType = peer.AuthType

const (
	AuthTrust     = peer.AuthTrust
	AuthChallenge = peer.AuthChallenge
)

// Status is the circuit's lifecycle state (spec §3 circuit_status).
type Status string

const (
	StatusActive     Status = "Active"
	StatusDisbanded  Status = "Disbanded"
	StatusAbandoned  Status = "Abandoned"
)

// Persistence, Durability and RouteType are opaque circuit configuration
// knobs; only the values exercised elsewhere in this module are given
// constants here. The types remain open strings so a store or wire codec
// can round-trip values this package doesn't know about.
type (
	Persistence string
	Durability  string
	RouteType   string
)

const (
	PersistenceAny        Persistence = "Any"
	DurabilityNoDurability Durability  = "NoDurability"
	RoutesAny             RouteType   = "Any"
)

var circuitIDPattern = regexp.MustCompile(`^[0-9A-Za-z]{5}-[0-9A-Za-z]{5}$`)
var serviceIDPattern = regexp.MustCompile(`^[0-9A-Za-z]{4}$`)

// ValidCircuitID reports whether id matches the required shape (spec §3).
func ValidCircuitID(id string) bool {
	return circuitIDPattern.MatchString(id)
}

// ValidServiceID reports whether id is exactly 4 base62 characters.
func ValidServiceID(id string) bool {
	return serviceIDPattern.MatchString(id)
}

// Node is a circuit member (spec §3 CircuitNode).
type Node struct {
	NodeID    string
	Endpoints []string
	// PublicKey is required iff the owning circuit's AuthType is Challenge (I4).
	PublicKey []byte
}

// Service is a named, typed process bound to one circuit and one member
// node (spec §3 Service).
type Service struct {
	ServiceID   string
	ServiceType string
	NodeID      string
	Arguments   []Argument
}

// Argument is one ordered key/value pair in a Service's argument list.
type Argument struct {
	Key   string
	Value string
}

// Circuit is the persisted, agreed-upon membership and roster for a named
// circuit (spec §3 Circuit).
type Circuit struct {
	ID             string
	Members        []Node
	Roster         []Service
	AuthType       AuthType
	Persistence    Persistence
	Durability     Durability
	Routes         RouteType
	ManagementType string
	DisplayName    string
	CircuitVersion uint32
	CircuitStatus  Status
}

// MemberNodeIDs returns the ordered list of member node ids.
func (c *Circuit) MemberNodeIDs() []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.NodeID
	}
	return ids
}

// HasMember reports whether nodeID is a circuit member.
func (c *Circuit) HasMember(nodeID string) bool {
	for _, m := range c.Members {
		if m.NodeID == nodeID {
			return true
		}
	}
	return false
}

// Hash computes the SHA-256 digest used as CircuitProposal.circuit_hash.
// It is a deterministic, order-sensitive encoding of every field a vote
// must agree on; two Circuit values that differ in any of those fields
// (including member or roster order) hash differently. CircuitStatus is
// not part of the encoding, so a status change alone leaves the hash
// unchanged.
func (c *Circuit) Hash() [32]byte {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%s\x00%s\x00%s\x00%d\x00%s\x00",
		c.ID, c.ManagementType, c.AuthType, c.Persistence, c.Durability, c.Routes,
		c.CircuitVersion, c.DisplayName)
	for _, m := range c.Members {
		fmt.Fprintf(h, "M\x00%s\x00%v\x00%x\x00", m.NodeID, m.Endpoints, m.PublicKey)
	}
	for _, s := range c.Roster {
		fmt.Fprintf(h, "S\x00%s\x00%s\x00%s\x00%v\x00", s.ServiceID, s.ServiceType, s.NodeID, s.Arguments)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Validate checks I2, I3 and I4 against the circuit in isolation (no store
// access, so I1 - global id uniqueness - is checked by the caller that has
// the store in hand).
func (c *Circuit) Validate() error {
	if !ValidCircuitID(c.ID) {
		return fmt.Errorf("%w: circuit id %q does not match required shape", ErrInvalidCircuit, c.ID)
	}
	if len(c.Members) == 0 {
		return fmt.Errorf("%w: circuit has no members", ErrInvalidCircuit)
	}
	endpoints := make(map[string]struct{})
	memberIDs := make(map[string]struct{})
	for _, m := range c.Members {
		if len(m.Endpoints) == 0 {
			return fmt.Errorf("%w: member %q has no endpoints", ErrInvalidCircuit, m.NodeID)
		}
		for _, ep := range m.Endpoints {
			if ep == "" {
				return fmt.Errorf("%w: member %q has an empty endpoint", ErrInvalidCircuit, m.NodeID)
			}
			if _, dup := endpoints[ep]; dup {
				return fmt.Errorf("%w: duplicate endpoint %q", ErrInvalidCircuit, ep) // I3
			}
			endpoints[ep] = struct{}{}
		}
		if c.AuthType == AuthChallenge && len(m.PublicKey) == 0 {
			return fmt.Errorf("%w: member %q missing required public key for Challenge auth", ErrInvalidCircuit, m.NodeID) // I4
		}
		memberIDs[m.NodeID] = struct{}{}
	}
	if c.AuthType == AuthChallenge && c.CircuitVersion < 2 {
		return fmt.Errorf("%w: Challenge auth requires circuit_version >= 2", ErrInvalidCircuit) // I4
	}
	for _, s := range c.Roster {
		if !ValidServiceID(s.ServiceID) {
			return fmt.Errorf("%w: service id %q does not match required shape", ErrInvalidCircuit, s.ServiceID)
		}
		if _, ok := memberIDs[s.NodeID]; !ok {
			return fmt.Errorf("%w: service %q assigned to non-member node %q", ErrInvalidCircuit, s.ServiceID, s.NodeID) // I2
		}
	}
	return nil
}

// ErrInvalidCircuit is the sentinel wrapped by Circuit.Validate failures.
var ErrInvalidCircuit = errors.New("invalid circuit")

// ProposalType distinguishes create from disband proposals (spec §3).
type ProposalType string

const (
	ProposalCreate  ProposalType = "Create"
	ProposalDisband ProposalType = "Disband"
)

// Vote is a voter's choice (spec §3).
type Vote string

const (
	VoteAccept Vote = "Accept"
	VoteReject Vote = "Reject"
)

// VoteRecord is one member's recorded vote on a proposal (spec §3).
type VoteRecord struct {
	VoterNodeID string
	PublicKey   []byte
	Vote        Vote
}

// Proposal is a signed request that, once every non-requester member has
// voted Accept, mutates the circuit store (spec §3 CircuitProposal).
type Proposal struct {
	ProposalType     ProposalType
	CircuitID        string
	CircuitHash      [32]byte
	ProposedCircuit  Circuit
	Requester        []byte
	RequesterNodeID  string
	Votes            []VoteRecord
}

// HasVoted reports whether nodeID already cast a vote (I5).
func (p *Proposal) HasVoted(nodeID string) bool {
	for _, v := range p.Votes {
		if v.VoterNodeID == nodeID {
			return true
		}
	}
	return false
}

// RequiredVoters returns members() \ {requester_node_id}, the set that
// must all vote Accept for the proposal to be accepted (I9).
func (p *Proposal) RequiredVoters() []string {
	var out []string
	for _, m := range p.ProposedCircuit.Members {
		if m.NodeID != p.RequesterNodeID {
			out = append(out, m.NodeID)
		}
	}
	return out
}

// Outcome classifies a proposal's acceptance state per I9.
type Outcome int

const (
	// OutcomePending means not every required voter has voted yet, and no
	// Reject has been recorded.
	OutcomePending Outcome = iota
	OutcomeAccepted
	OutcomeRejected
)

// Classify implements I9: accepted iff every non-requester member recorded
// Accept and no Reject exists; rejected as soon as any Reject is recorded;
// otherwise pending.
func (p *Proposal) Classify() Outcome {
	accepted := make(map[string]struct{})
	for _, v := range p.Votes {
		if v.Vote == VoteReject {
			return OutcomeRejected
		}
		accepted[v.VoterNodeID] = struct{}{}
	}
	for _, nodeID := range p.RequiredVoters() {
		if _, ok := accepted[nodeID]; !ok {
			return OutcomePending
		}
	}
	return OutcomeAccepted
}

// UninitializedCircuit tracks per-circuit member readiness between an
// accepted proposal's commit and every member signalling MEMBER_READY
// (spec §3, §4.9).
type UninitializedCircuit struct {
	Circuit      *Proposal
	ReadyMembers map[string]struct{}
}

// NewUninitializedCircuit creates a tracker for proposal p with no members
// ready yet.
func NewUninitializedCircuit(p *Proposal) *UninitializedCircuit {
	return &UninitializedCircuit{Circuit: p, ReadyMembers: make(map[string]struct{})}
}

// AddReady records nodeID as ready; repeating the same id is a no-op.
func (u *UninitializedCircuit) AddReady(nodeID string) {
	u.ReadyMembers[nodeID] = struct{}{}
}

// IsReady reports whether every member in want is present in ReadyMembers.
func (u *UninitializedCircuit) IsReady(want []string) bool {
	for _, id := range want {
		if _, ok := u.ReadyMembers[id]; !ok {
			return false
		}
	}
	return true
}
