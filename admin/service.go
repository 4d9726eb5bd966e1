package admin

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splinter-dev/splinter/circuit"
	"github.com/splinter-dev/splinter/event"
	"github.com/splinter-dev/splinter/lifecycle"
	"github.com/splinter-dev/splinter/orchestrator"
	"github.com/splinter-dev/splinter/payload"
	"github.com/splinter-dev/splinter/peer"
	"github.com/splinter-dev/splinter/peering"
	"github.com/splinter-dev/splinter/proposal"
	"github.com/splinter-dev/splinter/ready"
	"github.com/splinter-dev/splinter/routing"
	"github.com/splinter-dev/splinter/store"
	"github.com/splinter-dev/splinter/wire"
)

// State is the admin service's lifecycle state (spec §5: NotRunning ->
// Running -> ShuttingDown -> Shutdown).
type State int

const (
	StateNotRunning State = iota
	StateRunning
	StateShuttingDown
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateNotRunning:
		return "NotRunning"
	case StateRunning:
		return "Running"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// ErrNotStarted is returned by SubmitPayload, the peer callbacks,
// Commit/Rollback, OnMemberReady and the OnRemote* entry points while
// the service is NotRunning (spec §7); the query methods, AddSubscriber
// and Metrics do not check the state.
var ErrNotStarted = errors.New("admin: service not started")

// ErrShuttingDown is returned for new submissions once the service has
// begun shutting down (spec §5, §7).
var ErrShuttingDown = errors.New("admin: service shutting down")

// AdminService composes C1-C11 behind a single exclusive lock (spec §5).
// Construct one with Builder, never directly.
type AdminService struct {
	mu    sync.Mutex
	state State

	cfg    Config
	logger log.Logger

	registry *prometheus.Registry

	store   store.AdminStore
	routing routing.Writer
	orch    orchestrator.Orchestrator

	gate        *peering.Gate
	coordinator *proposal.Coordinator
	ready       *ready.Synchronizer
	mailbox     *event.Mailbox
	validator   *payload.Validator
	lifecycle   *lifecycle.Actions
}

// Start transitions NotRunning -> Running. Starting twice is an error.
func (s *AdminService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNotRunning {
		return fmt.Errorf("admin: cannot start from state %s", s.state)
	}
	s.state = StateRunning
	s.logger.Info("admin service started", "node_id", s.cfg.NodeID)
	return nil
}

// BeginShutdown transitions Running -> ShuttingDown. New submissions
// start failing with ErrShuttingDown; in-flight operations, which hold
// the same lock this call takes, have already completed by the time it
// returns.
func (s *AdminService) BeginShutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return fmt.Errorf("admin: cannot begin shutdown from state %s", s.state)
	}
	s.state = StateShuttingDown
	s.logger.Info("admin service shutting down", "node_id", s.cfg.NodeID)
	return nil
}

// FinishShutdown transitions ShuttingDown -> Shutdown.
func (s *AdminService) FinishShutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateShuttingDown {
		return fmt.Errorf("admin: cannot finish shutdown from state %s", s.state)
	}
	s.state = StateShutdown
	s.logger.Info("admin service shutdown complete", "node_id", s.cfg.NodeID)
	return nil
}

// State reports the current lifecycle state.
func (s *AdminService) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Metrics exposes the registry admin-owned counters are registered
// against, for a process-wide metrics endpoint to scrape (spec §11
// domain stack: mirrors api/metrics.Registry).
func (s *AdminService) Metrics() *prometheus.Registry {
	return s.registry
}

func (s *AdminService) checkRunning() error {
	switch s.state {
	case StateNotRunning:
		return ErrNotStarted
	case StateShuttingDown, StateShutdown:
		return ErrShuttingDown
	default:
		return nil
	}
}

// SubmitPayload is the single admin entry point for every
// CircuitManagementPayload, local or remote (spec §4.6-§4.11). Purge,
// Abandon and RemoveProposal apply immediately; Create, Vote and Disband
// are handed to the peering gate and only validated/proposed once every
// member is peered and protocol-agreed.
func (s *AdminService) SubmitPayload(p wire.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRunning(); err != nil {
		return err
	}

	switch p.Header.Action {
	case wire.ActionPurge:
		return s.lifecycle.Purge(p, s.cfg.CircuitProtocolVersion)
	case wire.ActionAbandon:
		return s.lifecycle.Abandon(p, s.cfg.CircuitProtocolVersion)
	case wire.ActionRemoveProposal:
		return s.lifecycle.RemoveProposal(p, s.cfg.CircuitProtocolVersion)
	case wire.ActionCreate, wire.ActionVote, wire.ActionDisband:
		return s.submitForConsensus(p)
	default:
		return fmt.Errorf("admin: unknown action %q", p.Header.Action)
	}
}

func (s *AdminService) submitForConsensus(p wire.Payload) error {
	s.gate.CleanupHeldPeerRefs()
	members, err := s.membersFor(p)
	if err != nil {
		return err
	}
	if err := s.gate.Submit(peering.KindConsensus, p, members, s.cfg.AdminServiceProtocolVersion); err != nil {
		return err
	}
	return s.drainConsensusReady()
}

// OnPeerConnected, OnPeerDisconnected and OnProtocolAgreement wire the
// network layer's peer-manager and protocol-negotiation callbacks into
// the gate, draining any payloads that graduate as a result (spec §4.7
// steps 3-5).
func (s *AdminService) OnPeerConnected(token peer.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRunning(); err != nil {
		return err
	}
	s.gate.OnPeerConnected(token, s.cfg.AdminServiceProtocolVersion)
	return s.drainConsensusReady()
}

func (s *AdminService) OnPeerDisconnected(token peer.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRunning(); err != nil {
		return err
	}
	s.gate.OnPeerDisconnected(token)
	return nil
}

func (s *AdminService) OnProtocolAgreement(token peer.TokenPair, version uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRunning(); err != nil {
		return err
	}
	s.gate.OnProtocolAgreement(token, version)
	return s.drainConsensusReady()
}

// drainConsensusReady validates and proposes every payload the gate has
// graduated since the last drain. Validation failures release the
// payload's peer refs rather than leaking them, since a payload that
// fails validation never reaches the coordinator to release them later.
func (s *AdminService) drainConsensusReady() error {
	for {
		p, ok := s.gate.PopConsensusReady()
		if !ok {
			return nil
		}
		members, err := s.membersFor(p)
		if err != nil {
			s.logger.Warn("admin: could not resolve members for graduated payload", "err", err)
			continue
		}
		agreedProtocol, ok := s.gate.AgreedVersion(s.cfg.CircuitProtocolVersion, members)
		if !ok {
			s.logger.Warn("admin: graduated payload missing an agreed protocol version, dropping")
			s.gate.ReleasePeerRefs(members)
			continue
		}
		if err := s.validator.Validate(p, agreedProtocol); err != nil {
			s.logger.Warn("admin: validation failed for graduated payload", "err", err)
			s.gate.ReleasePeerRefs(members)
			continue
		}
		if _, _, err := s.coordinator.ProposeChange(p); err != nil {
			s.logger.Error("admin: propose_change failed for graduated payload", "err", err)
			s.gate.ReleasePeerRefs(members)
		}
	}
}

// membersFor resolves the remote peer tokens a payload's consensus round
// must gate on: the proposed circuit's members for Create, or the
// existing proposal/circuit's members for Vote/Disband.
func (s *AdminService) membersFor(p wire.Payload) ([]peer.TokenPair, error) {
	var c circuit.Circuit
	switch p.Header.Action {
	case wire.ActionCreate:
		if p.Body.Create == nil {
			return nil, fmt.Errorf("admin: create payload missing body")
		}
		c = p.Body.Create.Circuit
	case wire.ActionVote:
		if p.Body.Vote == nil {
			return nil, fmt.Errorf("admin: vote payload missing body")
		}
		prop, err := s.store.GetProposal(p.Body.Vote.CircuitID)
		if err != nil {
			return nil, err
		}
		c = prop.ProposedCircuit
	case wire.ActionDisband:
		if p.Body.Disband == nil {
			return nil, fmt.Errorf("admin: disband payload missing body")
		}
		existing, err := s.store.GetCircuit(p.Body.Disband.CircuitID)
		if err != nil {
			return nil, err
		}
		c = *existing
	default:
		return nil, fmt.Errorf("admin: action %q does not gate on peers", p.Header.Action)
	}

	out := make([]peer.TokenPair, 0, len(c.Members))
	for _, m := range c.Members {
		if m.NodeID == s.cfg.NodeID {
			continue
		}
		if c.AuthType == circuit.AuthChallenge {
			out = append(out, peer.TokenPair{Remote: peer.Challenge(m.PublicKey)})
		} else {
			out = append(out, peer.TokenPair{Remote: peer.Trust(m.NodeID)})
		}
	}
	return out, nil
}

// Commit and Rollback are the consensus engine's entry points into the
// pending-change slot (spec §4.8); an external consensus driver (out of
// scope, spec §1 Non-goals) calls these once it has decided the
// proposal's fate.
func (s *AdminService) Commit() (*circuit.Proposal, circuit.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRunning(); err != nil {
		return nil, 0, err
	}
	return s.coordinator.Commit()
}

func (s *AdminService) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRunning(); err != nil {
		return err
	}
	return s.coordinator.Rollback()
}

// CurrentConsensusVerifiers reports the pending change's member token
// list, published for the external consensus engine (spec §4.8).
func (s *AdminService) CurrentConsensusVerifiers() []peer.TokenPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coordinator.CurrentConsensusVerifiers()
}

// OnMemberReady records an inbound MEMBER_READY (spec §4.9, §6).
func (s *AdminService) OnMemberReady(circuitID, memberNodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRunning(); err != nil {
		return err
	}
	return s.ready.OnMemberReady(circuitID, memberNodeID)
}

// OnRemoteAbandon and OnRemoteRemoveProposal process inbound
// ABANDONED_CIRCUIT/REMOVED_PROPOSAL notifications without revalidating
// the requester (spec §4.11).
func (s *AdminService) OnRemoteAbandon(circuitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRunning(); err != nil {
		return err
	}
	return s.lifecycle.OnRemoteAbandon(circuitID)
}

func (s *AdminService) OnRemoteRemoveProposal(circuitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRunning(); err != nil {
		return err
	}
	return s.lifecycle.OnRemoteRemoveProposal(circuitID)
}

// AddSubscriber registers sub for events of managementType, or every
// type for event.WildcardType (spec §4.10).
func (s *AdminService) AddSubscriber(managementType string, sub event.Subscriber) {
	s.mailbox.AddSubscriber(managementType, sub)
}

// GetEventsSince returns the catch-up event stream for a newly-attached
// subscriber (spec §4.10).
func (s *AdminService) GetEventsSince(since int64, managementType string) ([]store.Event, error) {
	return s.mailbox.GetEventsSince(since, managementType)
}
