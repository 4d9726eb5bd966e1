// Package peering implements the admin service's peering and protocol
// gate (spec §4.7): every circuit-management payload names a set of
// remote members, each of which needs both a live peer connection and an
// agreed wire protocol version before the payload may proceed to
// consensus or to the circuit queue. Gate buffers payloads until both
// conditions hold for every member.
package peering

import (
	"errors"
	"sync"
	"time"

	"github.com/splinter-dev/splinter/peer"
	"github.com/splinter-dev/splinter/wire"
)

// Kind distinguishes where a graduated payload is delivered.
type Kind int

const (
	// KindCircuit payloads graduate onto the circuit queue (consumed by
	// whatever feeds the application's CircuitDirectMessage handling).
	KindCircuit Kind = iota
	// KindConsensus payloads graduate back onto the proposal channel
	// (consumed by the Proposal Coordinator, C8).
	KindConsensus
)

// DefaultHoldPeerDuration is DEFAULT_HOLD_PEER_SECS (spec §4.7): peer
// refs scheduled for release are held this long before actually being
// released, so a peer dropped by one proposal and immediately needed by
// another isn't needlessly torn down and rebuilt.
const DefaultHoldPeerDuration = 10 * time.Second

// ErrNoCommonProtocol is recorded internally when a peer reports version
// 0 (no acceptable common protocol version).
var ErrNoCommonProtocol = errors.New("peering: no common protocol version")

// PeerRef is a held reference to a peer connection, released exactly
// once its owning Gate has no more outstanding uses for it.
type PeerRef interface {
	Release()
}

// Connector establishes (or reuses) a ref-counted connection to a peer,
// identified by its token pair (spec §4.7: "peer_connector.add_peer_ref").
type Connector interface {
	AddPeerRef(token peer.TokenPair) (PeerRef, error)
}

// ProtocolSender transmits the small admin<->admin protocol messages
// (spec §6) used to negotiate a version with a newly connected peer.
type ProtocolSender interface {
	SendProtocolVersionRequest(token peer.TokenPair, min, max uint32) error
}

// PendingPayload is one payload buffered by the gate, tracking which of
// its members still lack a peer connection or an agreed protocol
// version (spec §4.7).
type PendingPayload struct {
	Kind             Kind
	Payload          wire.Payload
	Members          []peer.TokenPair
	MissingProtocols map[peer.TokenPair]struct{}
	Unpeered         map[peer.TokenPair]struct{}
}

func (p *PendingPayload) hasMember(token peer.TokenPair) bool {
	for _, m := range p.Members {
		if m == token {
			return true
		}
	}
	return false
}

type removalBatch struct {
	deadline time.Time
	tokens   []peer.TokenPair
}

// Gate is the reference implementation of C7. A single mutex guards all
// of its collections, matching the admin service's single-writer-lock
// discipline (spec §5).
type Gate struct {
	mu sync.Mutex

	connector Connector
	sender    ProtocolSender
	now       func() time.Time
	hold      time.Duration

	connected        map[peer.TokenPair]struct{}
	serviceProtocols map[peer.TokenPair]uint32
	peerRefs         map[peer.TokenPair][]PeerRef

	unpeeredPayloads        []*PendingPayload
	pendingProtocolPayloads []*PendingPayload
	pendingCircuitPayloads  []wire.Payload
	pendingConsensusReady   []wire.Payload

	peersToBeRemoved []removalBatch
}

// New constructs a Gate. connector and sender are required collaborators;
// the local node's own token should never appear in a payload's member
// list passed to Submit.
func New(connector Connector, sender ProtocolSender) *Gate {
	return &Gate{
		connector:        connector,
		sender:           sender,
		now:              time.Now,
		hold:             DefaultHoldPeerDuration,
		connected:        make(map[peer.TokenPair]struct{}),
		serviceProtocols: make(map[peer.TokenPair]uint32),
		peerRefs:         make(map[peer.TokenPair][]PeerRef),
	}
}

// SetHoldDuration overrides the default_hold_peer_secs hold window
// (spec §6); intended to be called once at construction time, before any
// payload is submitted.
func (g *Gate) SetHoldDuration(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hold = d
}

// MinVersion is the minimum protocol version a member must report to be
// accepted (spec §4.7 "version >= min").
const MinVersion = 1

// Submit runs the §4.7 step 1-2 algorithm for payload p addressed to
// members, who must not include the local node. kind selects where p
// graduates to once every member is peered and protocol-agreed. If every
// member is already peered and agreed, p graduates immediately.
func (g *Gate) Submit(kind Kind, p wire.Payload, members []peer.TokenPair, localVersionMax uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	pending := &PendingPayload{
		Kind:             kind,
		Payload:          p,
		Members:          members,
		MissingProtocols: make(map[peer.TokenPair]struct{}),
		Unpeered:         make(map[peer.TokenPair]struct{}),
	}

	for _, m := range members {
		ref, err := g.connector.AddPeerRef(m)
		if err != nil {
			return err
		}
		g.peerRefs[m] = append(g.peerRefs[m], ref)

		if _, known := g.serviceProtocols[m]; !known {
			pending.MissingProtocols[m] = struct{}{}
		}
		if _, connected := g.connected[m]; !connected {
			pending.Unpeered[m] = struct{}{}
		} else if _, known := g.serviceProtocols[m]; !known {
			// Already connected but no protocol yet: request one now,
			// mirroring what OnPeerConnected does at connection time.
			_ = g.sender.SendProtocolVersionRequest(m, MinVersion, localVersionMax)
		}
	}

	if len(pending.MissingProtocols) == 0 {
		g.graduate(pending)
		return nil
	}
	if len(pending.Unpeered) != 0 {
		g.unpeeredPayloads = append(g.unpeeredPayloads, pending)
	} else {
		g.pendingProtocolPayloads = append(g.pendingProtocolPayloads, pending)
	}
	return nil
}

// graduate delivers a fully peered, fully agreed payload to its kind's
// output queue.
func (g *Gate) graduate(p *PendingPayload) {
	switch p.Kind {
	case KindConsensus:
		g.pendingConsensusReady = append(g.pendingConsensusReady, p.Payload)
	default:
		g.pendingCircuitPayloads = append(g.pendingCircuitPayloads, p.Payload)
	}
}

// PopCircuitReady dequeues the next payload graduated for the circuit
// queue, if any.
func (g *Gate) PopCircuitReady() (wire.Payload, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pendingCircuitPayloads) == 0 {
		return wire.Payload{}, false
	}
	p := g.pendingCircuitPayloads[0]
	g.pendingCircuitPayloads = g.pendingCircuitPayloads[1:]
	return p, true
}

// PopConsensusReady dequeues the next payload graduated back to the
// proposal coordinator, if any.
func (g *Gate) PopConsensusReady() (wire.Payload, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pendingConsensusReady) == 0 {
		return wire.Payload{}, false
	}
	p := g.pendingConsensusReady[0]
	g.pendingConsensusReady = g.pendingConsensusReady[1:]
	return p, true
}

// OnPeerConnected implements §4.7 step 3.
func (g *Gate) OnPeerConnected(token peer.TokenPair, localVersionMax uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected[token] = struct{}{}

	var stillUnpeered []*PendingPayload
	for _, p := range g.unpeeredPayloads {
		delete(p.Unpeered, token)
		if len(p.Unpeered) == 0 {
			g.pendingProtocolPayloads = append(g.pendingProtocolPayloads, p)
			if len(p.MissingProtocols) == 0 {
				// Shouldn't happen (would have graduated already), but
				// stay consistent if it does.
				g.dropFromPendingProtocol(p)
				g.graduate(p)
			}
		} else {
			stillUnpeered = append(stillUnpeered, p)
		}
	}
	g.unpeeredPayloads = stillUnpeered

	if _, known := g.serviceProtocols[token]; !known {
		_ = g.sender.SendProtocolVersionRequest(token, MinVersion, localVersionMax)
	}
}

// OnPeerDisconnected implements §4.7 step 4.
func (g *Gate) OnPeerDisconnected(token peer.TokenPair) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.connected, token)
	delete(g.serviceProtocols, token)

	var stillPending []*PendingPayload
	for _, p := range g.pendingProtocolPayloads {
		if p.hasMember(token) {
			p.MissingProtocols[token] = struct{}{}
			p.Unpeered[token] = struct{}{}
			g.unpeeredPayloads = append(g.unpeeredPayloads, p)
			continue
		}
		stillPending = append(stillPending, p)
	}
	g.pendingProtocolPayloads = stillPending

	for _, p := range g.unpeeredPayloads {
		if p.hasMember(token) {
			p.MissingProtocols[token] = struct{}{}
		}
	}
}

// OnProtocolAgreement implements §4.7 step 5. version 0 means the peer
// reported no acceptable common protocol; the affected payloads are
// dropped and their peer refs released.
func (g *Gate) OnProtocolAgreement(token peer.TokenPair, version uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if version == 0 {
		g.dropPayloadsMissing(token)
		return
	}
	g.serviceProtocols[token] = version

	var stillPending []*PendingPayload
	for _, p := range g.pendingProtocolPayloads {
		delete(p.MissingProtocols, token)
		if len(p.MissingProtocols) == 0 {
			g.graduate(p)
			continue
		}
		stillPending = append(stillPending, p)
	}
	g.pendingProtocolPayloads = stillPending

	for _, p := range g.unpeeredPayloads {
		delete(p.MissingProtocols, token)
	}
}

// AgreedVersion computes the §4.7 "protocol choice": min(current,
// minimum over members of service_protocols[member]). ok is false if any
// member's protocol is not yet known.
func (g *Gate) AgreedVersion(current uint32, members []peer.TokenPair) (version uint32, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	version = current
	for _, m := range members {
		v, known := g.serviceProtocols[m]
		if !known {
			return 0, false
		}
		if v < version {
			version = v
		}
	}
	return version, true
}

func (g *Gate) dropFromPendingProtocol(target *PendingPayload) {
	for i, p := range g.pendingProtocolPayloads {
		if p == target {
			g.pendingProtocolPayloads = append(g.pendingProtocolPayloads[:i], g.pendingProtocolPayloads[i+1:]...)
			return
		}
	}
}

// dropPayloadsMissing discards every buffered payload whose
// MissingProtocols still includes token and releases its peer refs
// immediately (a protocol mismatch is not subject to the hold window).
func (g *Gate) dropPayloadsMissing(token peer.TokenPair) {
	keep := func(payloads []*PendingPayload) []*PendingPayload {
		var out []*PendingPayload
		for _, p := range payloads {
			if _, missing := p.MissingProtocols[token]; missing {
				g.releaseNow(p.Members)
				continue
			}
			out = append(out, p)
		}
		return out
	}
	g.unpeeredPayloads = keep(g.unpeeredPayloads)
	g.pendingProtocolPayloads = keep(g.pendingProtocolPayloads)
}

// ReleasePeerRefs schedules members' peer refs for release after the
// hold window (spec §4.7, used by the Proposal Coordinator on reject and
// by Lifecycle Actions on abandon/remove-proposal).
func (g *Gate) ReleasePeerRefs(members []peer.TokenPair) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.peersToBeRemoved = append(g.peersToBeRemoved, removalBatch{
		deadline: g.now().Add(g.hold),
		tokens:   members,
	})
}

// releaseNow releases members' peer refs immediately, bypassing the hold
// window (used for protocol-mismatch drops, which are never subject to
// a hold).
func (g *Gate) releaseNow(members []peer.TokenPair) {
	for _, m := range members {
		g.releaseOne(m)
	}
}

func (g *Gate) releaseOne(token peer.TokenPair) {
	refs := g.peerRefs[token]
	if len(refs) == 0 {
		return
	}
	refs[len(refs)-1].Release()
	refs = refs[:len(refs)-1]
	if len(refs) == 0 {
		delete(g.peerRefs, token)
		return
	}
	g.peerRefs[token] = refs
}

// CleanupHeldPeerRefs drains peers_to_be_removed, releasing any batch
// whose deadline has passed (spec §4.7). Callers invoke this at the
// start of every propose_change.
func (g *Gate) CleanupHeldPeerRefs() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	var remaining []removalBatch
	for _, b := range g.peersToBeRemoved {
		if !now.Before(b.deadline) {
			g.releaseNow(b.tokens)
			continue
		}
		remaining = append(remaining, b)
	}
	g.peersToBeRemoved = remaining
}
