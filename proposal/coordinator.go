// Package proposal implements the Proposal Coordinator (spec §4.8): the
// single-pending-slot state machine an external consensus engine drives
// through propose_change/commit/rollback, and the effects a committed
// proposal has on the store, routing table, and member-ready tracking.
package proposal

import (
	"errors"
	"fmt"
	"sync"

	"github.com/splinter-dev/splinter/circuit"
	"github.com/splinter-dev/splinter/event"
	"github.com/splinter-dev/splinter/peer"
	"github.com/splinter-dev/splinter/peering"
	"github.com/splinter-dev/splinter/ready"
	"github.com/splinter-dev/splinter/routing"
	"github.com/splinter-dev/splinter/store"
	"github.com/splinter-dev/splinter/wire"
)

// ErrPendingChangeExists is returned by ProposeChange when a change is
// already pending (spec §4.8: exactly one pending_changes slot).
var ErrPendingChangeExists = errors.New("proposal: a change is already pending")

// ErrNoPendingChange is returned by Commit/Rollback with nothing pending.
var ErrNoPendingChange = errors.New("proposal: no pending change")

// Broadcaster delivers a MEMBER_READY message to a remote member once a
// proposal affecting it has been accepted (spec §4.8).
type Broadcaster interface {
	SendMemberReady(token peer.TokenPair, circuitID, localNodeID string) error
}

type pendingChange struct {
	proposal  *circuit.Proposal
	verifiers []peer.TokenPair
}

// Coordinator is the reference implementation of C8.
type Coordinator struct {
	mu sync.Mutex

	localNodeID string
	localToken  peer.TokenPair

	store       store.AdminStore
	routing     routing.Writer
	gate        *peering.Gate
	ready       *ready.Synchronizer
	mailbox     *event.Mailbox
	broadcaster Broadcaster
	counters    *event.Counters

	pending *pendingChange
}

// New constructs a Coordinator. counters may be nil.
func New(localNodeID string, localToken peer.TokenPair, adminStore store.AdminStore, routingTable routing.Writer, gate *peering.Gate, sync *ready.Synchronizer, mailbox *event.Mailbox, broadcaster Broadcaster, counters *event.Counters) *Coordinator {
	return &Coordinator{
		localNodeID: localNodeID,
		localToken:  localToken,
		store:       adminStore,
		routing:     routingTable,
		gate:        gate,
		ready:       sync,
		mailbox:     mailbox,
		broadcaster: broadcaster,
		counters:    counters,
	}
}

// CurrentConsensusVerifiers returns the member token list published for
// the pending change, or nil if nothing is pending (spec §4.8).
func (c *Coordinator) CurrentConsensusVerifiers() []peer.TokenPair {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	return append([]peer.TokenPair(nil), c.pending.verifiers...)
}

// ProposeChange drains any expired held peer refs (spec §4.7's hold
// window, invoked "at the start of every propose_change"), builds the
// CircuitProposal p describes, and records it as the single pending
// change. p's action must be Create, Vote, or Disband; Purge, Abandon and
// RemoveProposal never go through consensus (spec §4.11).
func (c *Coordinator) ProposeChange(p wire.Payload) (expectedHash [32]byte, proposal *circuit.Proposal, err error) {
	if c.gate != nil {
		c.gate.CleanupHeldPeerRefs()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return [32]byte{}, nil, ErrPendingChangeExists
	}

	built, verifiers, err := c.buildProposal(p)
	if err != nil {
		return [32]byte{}, nil, err
	}
	c.pending = &pendingChange{proposal: built, verifiers: verifiers}
	return built.CircuitHash, built, nil
}

func (c *Coordinator) buildProposal(p wire.Payload) (*circuit.Proposal, []peer.TokenPair, error) {
	switch p.Header.Action {
	case wire.ActionCreate:
		proposed := p.Body.Create.Circuit
		prop := &circuit.Proposal{
			ProposalType:    circuit.ProposalCreate,
			CircuitID:       proposed.ID,
			CircuitHash:     proposed.Hash(),
			ProposedCircuit: proposed,
			Requester:       p.Header.Requester,
			RequesterNodeID: p.Header.RequesterNodeID,
		}
		return prop, tokensFor(&proposed), nil

	case wire.ActionDisband:
		existing, err := c.store.GetCircuit(p.Body.Disband.CircuitID)
		if err != nil {
			return nil, nil, fmt.Errorf("proposal: disband target: %w", err)
		}
		target := *existing
		target.CircuitStatus = circuit.StatusDisbanded
		prop := &circuit.Proposal{
			ProposalType:    circuit.ProposalDisband,
			CircuitID:       target.ID,
			CircuitHash:     target.Hash(),
			ProposedCircuit: target,
			Requester:       p.Header.Requester,
			RequesterNodeID: p.Header.RequesterNodeID,
		}
		return prop, tokensFor(&target), nil

	case wire.ActionVote:
		existing, err := c.store.GetProposal(p.Body.Vote.CircuitID)
		if err != nil {
			return nil, nil, fmt.Errorf("proposal: vote target: %w", err)
		}
		updated := *existing
		updated.Votes = append(append([]circuit.VoteRecord(nil), existing.Votes...), circuit.VoteRecord{
			VoterNodeID: p.Header.RequesterNodeID,
			PublicKey:   p.Header.Requester,
			Vote:        p.Body.Vote.Vote,
		})
		return &updated, tokensFor(&updated.ProposedCircuit), nil

	default:
		return nil, nil, fmt.Errorf("proposal: action %q does not go through consensus", p.Header.Action)
	}
}

// tokensFor builds the token pair for every member of c, in member order.
func tokensFor(c *circuit.Circuit) []peer.TokenPair {
	out := make([]peer.TokenPair, 0, len(c.Members))
	for _, m := range c.Members {
		if c.AuthType == circuit.AuthChallenge {
			out = append(out, peer.TokenPair{Remote: peer.Challenge(m.PublicKey)})
		} else {
			out = append(out, peer.TokenPair{Remote: peer.Trust(m.NodeID)})
		}
	}
	return out
}

func (c *Coordinator) remoteOf(tokens []peer.TokenPair) []peer.TokenPair {
	out := make([]peer.TokenPair, 0, len(tokens))
	for _, t := range tokens {
		if t == c.localToken {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Rollback discards the pending change (spec §4.8).
func (c *Coordinator) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return ErrNoPendingChange
	}
	c.pending = nil
	return nil
}

// Commit consumes the pending change, classifies it per I9, and performs
// the corresponding effect (spec §4.8).
func (c *Coordinator) Commit() (*circuit.Proposal, circuit.Outcome, error) {
	c.mu.Lock()
	p := c.pending
	if p == nil {
		c.mu.Unlock()
		return nil, 0, ErrNoPendingChange
	}
	c.pending = nil
	c.mu.Unlock()

	outcome := p.proposal.Classify()
	switch outcome {
	case circuit.OutcomeAccepted:
		return p.proposal, outcome, c.commitAccepted(p)
	case circuit.OutcomeRejected:
		return p.proposal, outcome, c.commitRejected(p)
	default:
		return p.proposal, outcome, c.commitPending(p)
	}
}

func (c *Coordinator) commitPending(p *pendingChange) error {
	var err error
	var eventType string
	if len(p.proposal.Votes) > 0 {
		err = c.store.UpdateProposal(p.proposal)
		eventType = "ProposalVote"
	} else {
		err = c.store.AddProposal(p.proposal)
		eventType = "ProposalSubmitted"
		if c.counters != nil {
			c.counters.ProposalsSubmitted.Inc()
		}
	}
	if err != nil {
		return err
	}
	return c.emit(eventType, p.proposal)
}

func (c *Coordinator) commitAccepted(p *pendingChange) error {
	finalCircuit := p.proposal.ProposedCircuit
	switch p.proposal.ProposalType {
	case circuit.ProposalCreate:
		// The wire-level ProposedCircuit may leave circuit_status unset (it
		// must be unset under protocol v1, payload/validateCreate); either
		// way the accepted circuit is stored as Active once committed.
		finalCircuit.CircuitStatus = circuit.StatusActive
		if err := c.store.UpgradeProposalToCircuit(p.proposal.CircuitID, &finalCircuit); err != nil {
			return err
		}
		c.routing.AddCircuit(finalCircuit.ID, &finalCircuit, finalCircuit.Members)
	case circuit.ProposalDisband:
		if err := c.store.UpdateCircuit(&finalCircuit); err != nil {
			return err
		}
		if err := c.store.RemoveProposal(p.proposal.CircuitID); err != nil && !errors.Is(err, store.ErrProposalNotFound) {
			return err
		}
	}

	for _, token := range c.remoteOf(p.verifiers) {
		if c.broadcaster != nil {
			_ = c.broadcaster.SendMemberReady(token, p.proposal.CircuitID, c.localNodeID)
		}
	}
	if c.ready != nil {
		if err := c.ready.AddUninitializedCircuit(p.proposal); err != nil {
			return err
		}
	}
	if c.counters != nil {
		c.counters.ProposalsAccepted.Inc()
	}
	return c.emit("ProposalAccepted", p.proposal)
}

func (c *Coordinator) commitRejected(p *pendingChange) error {
	if err := c.store.RemoveProposal(p.proposal.CircuitID); err != nil && !errors.Is(err, store.ErrProposalNotFound) {
		return err
	}
	if c.gate != nil {
		c.gate.ReleasePeerRefs(c.remoteOf(p.verifiers))
	}
	if c.counters != nil {
		c.counters.ProposalsRejected.Inc()
	}
	return c.emit("ProposalRejected", p.proposal)
}

func (c *Coordinator) emit(eventType string, p *circuit.Proposal) error {
	if c.mailbox == nil {
		return nil
	}
	_, err := c.mailbox.BroadcastByType(store.Event{
		EventType:      eventType,
		ManagementType: p.ProposedCircuit.ManagementType,
		Proposal:       p,
		Signer:         p.Requester,
	})
	return err
}
