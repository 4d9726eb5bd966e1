// Package store defines the AdminStore contract (spec §4.2): persistence
// for circuit proposals, active/disbanded/abandoned circuits, and the
// admin event log. Concrete backends (YAML, SQL, or the KV-backed
// implementation in this package) are injected behind this interface; the
// rest of the admin service only depends on it.
package store

import (
	"errors"
	"time"

	"github.com/splinter-dev/splinter/circuit"
)

// Sentinel errors returned by AdminStore implementations. Callers should
// compare with errors.Is; implementations may wrap these with additional
// context.
var (
	ErrProposalNotFound = errors.New("store: proposal not found")
	ErrProposalExists   = errors.New("store: proposal already exists")
	ErrCircuitNotFound  = errors.New("store: circuit not found")
	ErrCircuitExists    = errors.New("store: circuit already exists")
)

// Event is a sequenced, durable admin event (spec §4.2, §6).
type Event struct {
	ID             int64
	EventType      string
	ManagementType string
	Proposal       *circuit.Proposal
	Signer         []byte
	Timestamp      time.Time
}

// CircuitPredicate filters ListCircuits results; all given predicates must
// match (logical AND).
type CircuitPredicate func(*circuit.Circuit) bool

// ProposalPredicate filters ListProposals results; all given predicates
// must match (logical AND).
type ProposalPredicate func(*circuit.Proposal) bool

// AdminStore is the persistence contract consumed by the admin service
// (spec §4.2). Implementations must make UpgradeProposalToCircuit atomic:
// either both the proposal-delete and circuit-insert happen, or neither
// does.
type AdminStore interface {
	GetProposal(circuitID string) (*circuit.Proposal, error)
	AddProposal(p *circuit.Proposal) error
	UpdateProposal(p *circuit.Proposal) error
	RemoveProposal(circuitID string) error

	// UpgradeProposalToCircuit atomically deletes the proposal for
	// circuitID and inserts c, failing if the proposal is missing or c
	// already exists.
	UpgradeProposalToCircuit(circuitID string, c *circuit.Circuit) error

	GetCircuit(circuitID string) (*circuit.Circuit, error)
	UpdateCircuit(c *circuit.Circuit) error
	RemoveCircuit(circuitID string) error

	ListCircuits(predicates ...CircuitPredicate) ([]*circuit.Circuit, error)
	ListProposals(predicates ...ProposalPredicate) ([]*circuit.Proposal, error)
	CountCircuits(predicates ...CircuitPredicate) (int, error)
	CountProposals(predicates ...ProposalPredicate) (int, error)

	// AddEvent appends event, assigning it the next monotonically
	// increasing id, and returns the sequenced copy. Concurrent callers
	// observe a total order.
	AddEvent(event Event) (Event, error)
	ListEventsSince(id int64) ([]Event, error)
	ListEventsByManagementTypeSince(managementType string, id int64) ([]Event, error)
}

// WithManagementType returns a CircuitPredicate matching a management type.
func WithManagementType(mt string) CircuitPredicate {
	return func(c *circuit.Circuit) bool { return c.ManagementType == mt }
}

// WithStatus returns a CircuitPredicate matching a circuit_status.
func WithStatus(s circuit.Status) CircuitPredicate {
	return func(c *circuit.Circuit) bool { return c.CircuitStatus == s }
}

// WithRequesterNodeID returns a ProposalPredicate matching a requester node.
func WithRequesterNodeID(nodeID string) ProposalPredicate {
	return func(p *circuit.Proposal) bool { return p.RequesterNodeID == nodeID }
}
