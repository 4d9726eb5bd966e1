// Package lifecycle implements the admin service's direct lifecycle
// actions (spec §4.11): Purge, Abandon and RemoveProposal never go
// through consensus, unlike Create/Vote/Disband.
package lifecycle

import (
	"fmt"

	"github.com/splinter-dev/splinter/circuit"
	"github.com/splinter-dev/splinter/event"
	"github.com/splinter-dev/splinter/orchestrator"
	"github.com/splinter-dev/splinter/payload"
	"github.com/splinter-dev/splinter/peer"
	"github.com/splinter-dev/splinter/routing"
	"github.com/splinter-dev/splinter/store"
	"github.com/splinter-dev/splinter/wire"
)

// Broadcaster delivers the remote-facing ABANDONED_CIRCUIT and
// REMOVED_PROPOSAL notifications (spec §4.11, §6).
type Broadcaster interface {
	SendAbandonedCircuit(token peer.TokenPair, circuitID, memberNodeID string) error
	SendRemovedProposal(token peer.TokenPair, circuitID string) error
}

// Actions is the reference implementation of C11.
type Actions struct {
	localNodeID string
	validator   *payload.Validator
	store       store.AdminStore
	routing     routing.Writer
	orch        orchestrator.Orchestrator
	mailbox     *event.Mailbox
	broadcaster Broadcaster
	releaseRefs func([]peer.TokenPair)
	counters    *event.Counters
}

// New constructs Actions.
func New(localNodeID string, validator *payload.Validator, adminStore store.AdminStore, routingTable routing.Writer, orch orchestrator.Orchestrator, mailbox *event.Mailbox, broadcaster Broadcaster, releaseRefs func([]peer.TokenPair), counters *event.Counters) *Actions {
	return &Actions{
		localNodeID: localNodeID,
		validator:   validator,
		store:       adminStore,
		routing:     routingTable,
		orch:        orch,
		mailbox:     mailbox,
		broadcaster: broadcaster,
		releaseRefs: releaseRefs,
		counters:    counters,
	}
}

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

// Purge validates p, purges every local service of the target circuit
// through the orchestrator, and removes the circuit from the store (spec
// §4.11). There is no remote notification for Purge: it only affects
// local records.
func (a *Actions) Purge(p wire.Payload, agreedProtocol uint32) error {
	if err := a.validator.Validate(p, agreedProtocol); err != nil {
		return err
	}
	circuitID := p.Body.Purge.CircuitID
	c, err := a.store.GetCircuit(circuitID)
	if err != nil {
		return err
	}
	for _, svc := range c.Roster {
		if svc.NodeID != a.localNodeID {
			continue
		}
		def := orchestrator.Definition{CircuitID: c.ID, ServiceID: svc.ServiceID, ServiceType: svc.ServiceType}
		if err := a.orch.PurgeService(def); err != nil {
			return fmt.Errorf("lifecycle: purge service %s: %w", svc.ServiceID, err)
		}
	}
	return a.store.RemoveCircuit(circuitID)
}

// Abandon validates p, notifies remote members, tears down local
// services and routing, releases peer refs, and marks the circuit
// Abandoned (spec §4.11).
func (a *Actions) Abandon(p wire.Payload, agreedProtocol uint32) error {
	if err := a.validator.Validate(p, agreedProtocol); err != nil {
		return err
	}
	circuitID := p.Body.Abandon.CircuitID
	return a.abandon(circuitID, true)
}

// OnRemoteAbandon processes an inbound AbandonedCircuit notification:
// the originating node has authority over its own abandon, so this is
// not revalidated (spec §4.11), and it is not broadcast again.
func (a *Actions) OnRemoteAbandon(circuitID string) error {
	return a.abandon(circuitID, false)
}

func (a *Actions) abandon(circuitID string, notify bool) error {
	c, err := a.store.GetCircuit(circuitID)
	if err != nil {
		return err
	}

	if notify && a.broadcaster != nil {
		for _, token := range remoteTokens(c, a.localNodeID) {
			_ = a.broadcaster.SendAbandonedCircuit(token, circuitID, a.localNodeID)
		}
	}
	for _, svc := range c.Roster {
		if svc.NodeID != a.localNodeID {
			continue
		}
		def := orchestrator.Definition{CircuitID: c.ID, ServiceID: svc.ServiceID, ServiceType: svc.ServiceType}
		if err := a.orch.StopService(def); err != nil {
			return fmt.Errorf("lifecycle: stop service %s: %w", svc.ServiceID, err)
		}
	}
	a.routing.RemoveCircuit(circuitID)
	if a.releaseRefs != nil {
		a.releaseRefs(remoteTokens(c, a.localNodeID))
	}

	abandoned := *c
	abandoned.CircuitStatus = circuit.StatusAbandoned
	if err := a.store.UpdateCircuit(&abandoned); err != nil {
		return err
	}
	return a.emitCircuitEvent("CircuitAbandoned", &abandoned)
}

// RemoveProposal validates p, notifies remote members, removes the
// pending proposal, and releases peer refs (spec §4.11).
func (a *Actions) RemoveProposal(p wire.Payload, agreedProtocol uint32) error {
	if err := a.validator.Validate(p, agreedProtocol); err != nil {
		return err
	}
	circuitID := p.Body.RemoveProposal.CircuitID
	return a.removeProposal(circuitID)
}

// OnRemoteRemoveProposal processes an inbound RemovedProposal
// notification without revalidating the requester (spec §4.11).
func (a *Actions) OnRemoteRemoveProposal(circuitID string) error {
	return a.removeProposal(circuitID)
}

func (a *Actions) removeProposal(circuitID string) error {
	prop, err := a.store.GetProposal(circuitID)
	if err != nil {
		return err
	}

	if a.broadcaster != nil {
		for _, token := range remoteTokens(&prop.ProposedCircuit, a.localNodeID) {
			_ = a.broadcaster.SendRemovedProposal(token, circuitID)
		}
	}
	if err := a.store.RemoveProposal(circuitID); err != nil {
		return err
	}
	if a.releaseRefs != nil {
		a.releaseRefs(remoteTokens(&prop.ProposedCircuit, a.localNodeID))
	}
	if a.counters != nil {
		a.counters.ProposalsRejected.Inc()
	}
	return a.emitProposalEvent("ProposalRemoved", prop)
}

func (a *Actions) emitProposalEvent(eventType string, p *circuit.Proposal) error {
	if a.mailbox == nil {
		return nil
	}
	_, err := a.mailbox.BroadcastByType(store.Event{EventType: eventType, ManagementType: p.ProposedCircuit.ManagementType, Proposal: p, Signer: p.Requester})
	return err
}

func (a *Actions) emitCircuitEvent(eventType string, c *circuit.Circuit) error {
	if a.mailbox == nil {
		return nil
	}
	_, err := a.mailbox.BroadcastByType(store.Event{EventType: eventType, ManagementType: c.ManagementType})
	return err
}
