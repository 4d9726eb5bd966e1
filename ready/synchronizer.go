// Package ready implements the Member-Ready Synchronizer (spec §4.9):
// after a Create or Disband proposal is accepted, every member
// (including the local node) must signal readiness before the circuit's
// local effects - service initialization or teardown - actually run.
package ready

import (
	"errors"
	"fmt"
	"sync"

	"github.com/splinter-dev/splinter/circuit"
	"github.com/splinter-dev/splinter/event"
	"github.com/splinter-dev/splinter/orchestrator"
	"github.com/splinter-dev/splinter/peer"
	"github.com/splinter-dev/splinter/routing"
	"github.com/splinter-dev/splinter/store"
)

// ErrUnknownCircuit is returned by OnMemberReady for a circuit with no
// tracked UninitializedCircuit (already completed, or never accepted).
var ErrUnknownCircuit = errors.New("ready: unknown uninitialized circuit")

// PeerRefReleaser schedules the peer refs of members for release; the
// admin service wires this to peering.Gate.ReleasePeerRefs.
type PeerRefReleaser func(tokens []peer.TokenPair)

// Synchronizer is the reference implementation of C9.
type Synchronizer struct {
	mu           sync.Mutex
	localNodeID  string
	circuits     map[string]*circuit.UninitializedCircuit
	orchestrator orchestrator.Orchestrator
	routing      routing.Writer
	mailbox      *event.Mailbox
	releaseRefs  PeerRefReleaser
}

// New constructs a Synchronizer.
func New(localNodeID string, orch orchestrator.Orchestrator, routingTable routing.Writer, mailbox *event.Mailbox, releaseRefs PeerRefReleaser) *Synchronizer {
	return &Synchronizer{
		localNodeID:  localNodeID,
		circuits:     make(map[string]*circuit.UninitializedCircuit),
		orchestrator: orch,
		routing:      routingTable,
		mailbox:      mailbox,
		releaseRefs:  releaseRefs,
	}
}

// AddUninitializedCircuit begins tracking readiness for an accepted
// proposal, marking the local node ready immediately (spec §4.9 "on
// commit, self is added immediately"). If every member is already ready
// - the degenerate single-member case - it completes synchronously.
func (s *Synchronizer) AddUninitializedCircuit(p *circuit.Proposal) error {
	s.mu.Lock()
	u := circuit.NewUninitializedCircuit(p)
	u.AddReady(s.localNodeID)
	s.circuits[p.CircuitID] = u
	done := u.IsReady(p.ProposedCircuit.MemberNodeIDs())
	s.mu.Unlock()

	if done {
		return s.complete(p.CircuitID)
	}
	return nil
}

// OnMemberReady records an inbound MEMBER_READY for memberNodeID on
// circuitID, completing the circuit if every member is now ready.
func (s *Synchronizer) OnMemberReady(circuitID, memberNodeID string) error {
	s.mu.Lock()
	u, ok := s.circuits[circuitID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownCircuit, circuitID)
	}
	u.AddReady(memberNodeID)
	done := u.IsReady(u.Circuit.ProposedCircuit.MemberNodeIDs())
	s.mu.Unlock()

	if done {
		return s.complete(circuitID)
	}
	return nil
}

// complete runs the proposal-type-specific local effects once every
// member has signalled readiness, and stops tracking the circuit.
func (s *Synchronizer) complete(circuitID string) error {
	s.mu.Lock()
	u, ok := s.circuits[circuitID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownCircuit, circuitID)
	}
	delete(s.circuits, circuitID)
	s.mu.Unlock()

	c := u.Circuit.ProposedCircuit
	switch u.Circuit.ProposalType {
	case circuit.ProposalDisband:
		return s.completeDisband(&c)
	default:
		return s.completeCreate(&c)
	}
}

func (s *Synchronizer) completeCreate(c *circuit.Circuit) error {
	for _, svc := range c.Roster {
		if svc.NodeID != s.localNodeID {
			continue
		}
		if !supports(s.orchestrator, svc.ServiceType) {
			continue
		}
		def := orchestrator.Definition{CircuitID: c.ID, ServiceID: svc.ServiceID, ServiceType: svc.ServiceType}
		if err := s.orchestrator.InitializeService(def, svc.Arguments); err != nil {
			return fmt.Errorf("ready: initialize service %s: %w", svc.ServiceID, err)
		}
	}
	if s.mailbox != nil {
		_, err := s.mailbox.BroadcastByType(store.Event{EventType: "CircuitReady", ManagementType: c.ManagementType})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) completeDisband(c *circuit.Circuit) error {
	for _, svc := range c.Roster {
		if svc.NodeID != s.localNodeID {
			continue
		}
		def := orchestrator.Definition{CircuitID: c.ID, ServiceID: svc.ServiceID, ServiceType: svc.ServiceType}
		if err := s.orchestrator.StopService(def); err != nil {
			return fmt.Errorf("ready: stop service %s: %w", svc.ServiceID, err)
		}
	}
	s.routing.RemoveCircuit(c.ID)
	if s.releaseRefs != nil {
		s.releaseRefs(remoteTokens(c, s.localNodeID))
	}
	if s.mailbox != nil {
		_, err := s.mailbox.BroadcastByType(store.Event{EventType: "CircuitDisbanded", ManagementType: c.ManagementType})
		if err != nil {
			return err
		}
	}
	return nil
}

func supports(o orchestrator.Orchestrator, serviceType string) bool {
	for _, t := range o.SupportedServiceTypes() {
		if t == serviceType {
			return true
		}
	}
	return false
}

// remoteTokens builds the peer token for every non-local member of c,
// matching c's AuthType.
func remoteTokens(c *circuit.Circuit, localNodeID string) []peer.TokenPair {
	var out []peer.TokenPair
	for _, m := range c.Members {
		if m.NodeID == localNodeID {
			continue
		}
		if c.AuthType == circuit.AuthChallenge {
			out = append(out, peer.TokenPair{Remote: peer.Challenge(m.PublicKey)})
		} else {
			out = append(out, peer.TokenPair{Remote: peer.Trust(m.NodeID)})
		}
	}
	return out
}
