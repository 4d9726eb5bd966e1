package admin

import (
	"github.com/splinter-dev/splinter/peer"
	"github.com/splinter-dev/splinter/peering"
)

// NoopNetwork is a Network that never actually dials a transport: every
// peer ref is granted immediately and released as a no-op, every send
// succeeds trivially. It satisfies a single-node deployment (no remote
// circuit members ever named), matching spec §1's exclusion of the
// transport stack from this module's scope.
type NoopNetwork struct{}

type noopPeerRef struct{}

func (noopPeerRef) Release() {}

func (NoopNetwork) AddPeerRef(peer.TokenPair) (peering.PeerRef, error) { return noopPeerRef{}, nil }

func (NoopNetwork) SendProtocolVersionRequest(peer.TokenPair, uint32, uint32) error { return nil }

func (NoopNetwork) SendMemberReady(peer.TokenPair, string, string) error { return nil }

func (NoopNetwork) SendAbandonedCircuit(peer.TokenPair, string, string) error { return nil }

func (NoopNetwork) SendRemovedProposal(peer.TokenPair, string) error { return nil }

var _ Network = NoopNetwork{}
