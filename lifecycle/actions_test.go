package lifecycle

import (
	"crypto/sha256"
	"encoding/json"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/require"

	"github.com/splinter-dev/splinter/authz"
	"github.com/splinter-dev/splinter/circuit"
	"github.com/splinter-dev/splinter/event"
	"github.com/splinter-dev/splinter/orchestrator"
	"github.com/splinter-dev/splinter/payload"
	"github.com/splinter-dev/splinter/peer"
	"github.com/splinter-dev/splinter/routing"
	"github.com/splinter-dev/splinter/store"
	"github.com/splinter-dev/splinter/wire"
)

type fakeFactory struct{ purges, stops int }

func (f *fakeFactory) Start(orchestrator.Definition, []circuit.Argument) error { return nil }
func (f *fakeFactory) Stop(orchestrator.Definition) error                     { f.stops++; return nil }
func (f *fakeFactory) PurgeState(orchestrator.Definition) error               { f.purges++; return nil }

type fakeBroadcaster struct {
	abandoned []string
	removed   []string
}

func (b *fakeBroadcaster) SendAbandonedCircuit(_ peer.TokenPair, circuitID, _ string) error {
	b.abandoned = append(b.abandoned, circuitID)
	return nil
}

func (b *fakeBroadcaster) SendRemovedProposal(_ peer.TokenPair, circuitID string) error {
	b.removed = append(b.removed, circuitID)
	return nil
}

func signedHeader(t *testing.T, priv *secp256k1.PrivateKey, header wire.Header) []byte {
	t.Helper()
	raw, err := json.Marshal(header)
	require.NoError(t, err)
	digest := sha256.Sum256(raw)
	return ecdsa.Sign(priv, digest[:]).Serialize()
}

func twoMemberCircuit(status circuit.Status) circuit.Circuit {
	return circuit.Circuit{
		ID:             "01234-ABCDE",
		ManagementType: "test_app",
		AuthType:       circuit.AuthTrust,
		CircuitVersion: 2,
		CircuitStatus:  status,
		Members: []circuit.Node{
			{NodeID: "node_a", Endpoints: []string{"tcps://a:8000"}},
			{NodeID: "node_b", Endpoints: []string{"tcps://b:8000"}},
		},
		Roster: []circuit.Service{{ServiceID: "abcd", ServiceType: "test", NodeID: "node_a"}},
	}
}

func harness(t *testing.T) (*Actions, store.AdminStore, *routing.Table, *fakeFactory, *fakeBroadcaster, *secp256k1.PrivateKey, []byte) {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	pub := priv.PubKey().SerializeCompressed()

	s := store.NewMemStore()
	table := routing.NewTable()
	reg := orchestrator.NewRegistry()
	factory := &fakeFactory{}
	reg.Register("test", factory)
	mailbox := event.NewMailbox(s, nil)
	broadcaster := &fakeBroadcaster{}

	v := payload.NewValidator(
		payload.Config{LocalNodeID: "node_a", CircuitProtocolVersion: 2},
		s,
		authz.MapKeyVerifier{"node_a": {string(pub): {}}, "node_b": {string(pub): {}}},
		authz.AllowAllPermissionManager{},
		authz.Secp256k1Verifier{},
	)
	var released []peer.TokenPair
	a := New("node_a", v, s, table, reg, mailbox, broadcaster, func(t []peer.TokenPair) { released = append(released, t...) }, nil)
	return a, s, table, factory, broadcaster, priv, pub
}

func TestPurgeRejectsActiveCircuit(t *testing.T) {
	a, s, _, _, _, priv, pub := harness(t)
	c := twoMemberCircuit(circuit.StatusActive)
	require.NoError(t, s.(*store.MemStore).AddProposal(&circuit.Proposal{CircuitID: c.ID}))
	require.NoError(t, s.(*store.MemStore).UpgradeProposalToCircuit(c.ID, &c))

	header := wire.Header{Action: wire.ActionPurge, Requester: pub, RequesterNodeID: "node_a"}
	p := wire.Payload{Header: header, Signature: signedHeader(t, priv, header), Body: wire.Body{Purge: &wire.PurgeRequest{CircuitID: c.ID}}}
	err := a.Purge(p, 2)
	require.Error(t, err)
}

func TestPurgeDisbandedCircuitPurgesAndRemoves(t *testing.T) {
	a, s, _, factory, _, priv, pub := harness(t)
	c := twoMemberCircuit(circuit.StatusDisbanded)
	require.NoError(t, s.(*store.MemStore).AddProposal(&circuit.Proposal{CircuitID: c.ID}))
	require.NoError(t, s.(*store.MemStore).UpgradeProposalToCircuit(c.ID, &c))

	header := wire.Header{Action: wire.ActionPurge, Requester: pub, RequesterNodeID: "node_a"}
	p := wire.Payload{Header: header, Signature: signedHeader(t, priv, header), Body: wire.Body{Purge: &wire.PurgeRequest{CircuitID: c.ID}}}
	require.NoError(t, a.Purge(p, 2))

	require.Equal(t, 1, factory.purges)
	_, err := s.GetCircuit(c.ID)
	require.ErrorIs(t, err, store.ErrCircuitNotFound)
}

func TestAbandonNotifiesStopsAndUpdatesStatus(t *testing.T) {
	a, s, table, factory, broadcaster, priv, pub := harness(t)
	c := twoMemberCircuit(circuit.StatusActive)
	require.NoError(t, s.(*store.MemStore).AddProposal(&circuit.Proposal{CircuitID: c.ID}))
	require.NoError(t, s.(*store.MemStore).UpgradeProposalToCircuit(c.ID, &c))
	table.AddCircuit(c.ID, &c, c.Members)
	require.NoError(t, a.orch.InitializeService(orchestrator.Definition{CircuitID: c.ID, ServiceID: "abcd", ServiceType: "test"}, nil))

	header := wire.Header{Action: wire.ActionAbandon, Requester: pub, RequesterNodeID: "node_a"}
	p := wire.Payload{Header: header, Signature: signedHeader(t, priv, header), Body: wire.Body{Abandon: &wire.AbandonRequest{CircuitID: c.ID}}}
	require.NoError(t, a.Abandon(p, 2))

	require.Equal(t, 1, factory.stops)
	require.Equal(t, []string{c.ID}, broadcaster.abandoned)
	_, ok := table.Lookup(c.ID)
	require.False(t, ok)
	got, err := s.GetCircuit(c.ID)
	require.NoError(t, err)
	require.Equal(t, circuit.StatusAbandoned, got.CircuitStatus)
}

func TestOnRemoteAbandonSkipsValidation(t *testing.T) {
	a, s, _, factory, broadcaster, _, _ := harness(t)
	c := twoMemberCircuit(circuit.StatusActive)
	require.NoError(t, s.(*store.MemStore).AddProposal(&circuit.Proposal{CircuitID: c.ID}))
	require.NoError(t, s.(*store.MemStore).UpgradeProposalToCircuit(c.ID, &c))
	require.NoError(t, a.orch.InitializeService(orchestrator.Definition{CircuitID: c.ID, ServiceID: "abcd", ServiceType: "test"}, nil))

	require.NoError(t, a.OnRemoteAbandon(c.ID))
	require.Equal(t, 1, factory.stops)
	require.Empty(t, broadcaster.abandoned, "no re-broadcast of a notification we just received")
}

func TestRemoveProposalRejectsRemoteRequester(t *testing.T) {
	a, s, _, _, _, priv, pub := harness(t)
	require.NoError(t, s.(*store.MemStore).AddProposal(&circuit.Proposal{CircuitID: "01234-ABCDE", RequesterNodeID: "node_a"}))

	header := wire.Header{Action: wire.ActionRemoveProposal, Requester: pub, RequesterNodeID: "node_b"}
	p := wire.Payload{Header: header, Signature: signedHeader(t, priv, header), Body: wire.Body{RemoveProposal: &wire.RemoveProposalRequest{CircuitID: "01234-ABCDE"}}}
	err := a.RemoveProposal(p, 2)
	require.ErrorContains(t, err, "request came from a remote node")
}

func TestRemoveProposalHappyPath(t *testing.T) {
	a, s, _, _, broadcaster, priv, pub := harness(t)
	c := twoMemberCircuit(circuit.StatusActive)
	require.NoError(t, s.(*store.MemStore).AddProposal(&circuit.Proposal{CircuitID: c.ID, ProposedCircuit: c, RequesterNodeID: "node_a"}))

	header := wire.Header{Action: wire.ActionRemoveProposal, Requester: pub, RequesterNodeID: "node_a"}
	p := wire.Payload{Header: header, Signature: signedHeader(t, priv, header), Body: wire.Body{RemoveProposal: &wire.RemoveProposalRequest{CircuitID: c.ID}}}
	require.NoError(t, a.RemoveProposal(p, 2))

	_, err := s.GetProposal(c.ID)
	require.ErrorIs(t, err, store.ErrProposalNotFound)
	require.Equal(t, []string{c.ID}, broadcaster.removed)
}
