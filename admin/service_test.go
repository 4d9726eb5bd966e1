package admin

import (
	"crypto/sha256"
	"encoding/json"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/require"

	"github.com/splinter-dev/splinter/authz"
	"github.com/splinter-dev/splinter/circuit"
	"github.com/splinter-dev/splinter/orchestrator"
	"github.com/splinter-dev/splinter/peer"
	"github.com/splinter-dev/splinter/peering"
	"github.com/splinter-dev/splinter/routing"
	"github.com/splinter-dev/splinter/store"
	"github.com/splinter-dev/splinter/wire"
)

type scenarioFactory struct{ starts, stops int }

func (f *scenarioFactory) Start(orchestrator.Definition, []circuit.Argument) error { f.starts++; return nil }
func (f *scenarioFactory) Stop(orchestrator.Definition) error                     { f.stops++; return nil }
func (f *scenarioFactory) PurgeState(orchestrator.Definition) error               { return nil }

type scenarioRef struct{ released *int }

func (r scenarioRef) Release() { *r.released++ }

type scenarioNetwork struct {
	released       int
	protocolReqs   []peer.TokenPair
	membersReady   []string
	abandoned      []string
	removed        []string
}

func (n *scenarioNetwork) AddPeerRef(peer.TokenPair) (peering.PeerRef, error) {
	return scenarioRef{&n.released}, nil
}

func (n *scenarioNetwork) SendProtocolVersionRequest(token peer.TokenPair, _, _ uint32) error {
	n.protocolReqs = append(n.protocolReqs, token)
	return nil
}

func (n *scenarioNetwork) SendMemberReady(_ peer.TokenPair, circuitID, _ string) error {
	n.membersReady = append(n.membersReady, circuitID)
	return nil
}

func (n *scenarioNetwork) SendAbandonedCircuit(_ peer.TokenPair, circuitID, _ string) error {
	n.abandoned = append(n.abandoned, circuitID)
	return nil
}

func (n *scenarioNetwork) SendRemovedProposal(_ peer.TokenPair, circuitID string) error {
	n.removed = append(n.removed, circuitID)
	return nil
}

var _ Network = (*scenarioNetwork)(nil)

type scenarioKey struct {
	priv *secp256k1.PrivateKey
	pub  []byte
}

func newScenarioKey(t *testing.T) scenarioKey {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return scenarioKey{priv: priv, pub: priv.PubKey().SerializeCompressed()}
}

func sign(t *testing.T, key scenarioKey, header wire.Header) []byte {
	t.Helper()
	raw, err := json.Marshal(header)
	require.NoError(t, err)
	digest := sha256.Sum256(raw)
	return ecdsa.Sign(key.priv, digest[:]).Serialize()
}

func sampleCreateCircuit() circuit.Circuit {
	return circuit.Circuit{
		ID:             "01234-ABCDE",
		ManagementType: "test_app",
		AuthType:       circuit.AuthTrust,
		CircuitVersion: 2,
		Members: []circuit.Node{
			{NodeID: "node_a", Endpoints: []string{"tcps://a:8000"}},
			{NodeID: "node_b", Endpoints: []string{"tcps://b:8000"}},
		},
		Roster: []circuit.Service{
			{ServiceID: "0123", ServiceType: "type_a", NodeID: "node_a"},
			{ServiceID: "ABCD", ServiceType: "type_a", NodeID: "node_b"},
		},
	}
}

type scenarioHarness struct {
	service    *AdminService
	s          store.AdminStore
	table      *routing.Table
	factory    *scenarioFactory
	network    *scenarioNetwork
	keyA, keyB scenarioKey
	tokenB     peer.TokenPair
}

func newScenarioHarness(t *testing.T) *scenarioHarness {
	t.Helper()
	keyA := newScenarioKey(t)
	keyB := newScenarioKey(t)

	s := store.NewMemStore()
	table := routing.NewTable()
	reg := orchestrator.NewRegistry()
	factory := &scenarioFactory{}
	reg.Register("type_a", factory)
	network := &scenarioNetwork{}

	verifier := authz.MapKeyVerifier{
		"node_a": {string(keyA.pub): {}},
		"node_b": {string(keyB.pub): {}},
	}

	service, err := NewBuilder().
		WithNodeID("node_a").
		WithCoordinatorTimeout(5 * time.Second).
		WithCircuitProtocolVersion(2).
		WithDefaultHoldPeerSecs(10).
		WithAdminServiceStore(s).
		WithRoutingTableWriter(table).
		WithServiceOrchestrator(reg).
		WithAdminKeyVerifier(verifier).
		WithKeyPermissionManager(authz.AllowAllPermissionManager{}).
		WithSignatureVerifier(authz.Secp256k1Verifier{}).
		WithPeerManagerConnector(network).
		Build()
	require.NoError(t, err)
	require.NoError(t, service.Start())

	return &scenarioHarness{
		service: service, s: s, table: table, factory: factory, network: network,
		keyA: keyA, keyB: keyB,
		tokenB: peer.TokenPair{Remote: peer.Trust("node_b")},
	}
}

func (h *scenarioHarness) createPayload(t *testing.T, c circuit.Circuit) wire.Payload {
	header := wire.Header{Action: wire.ActionCreate, Requester: h.keyA.pub, RequesterNodeID: "node_a"}
	return wire.Payload{Header: header, Signature: sign(t, h.keyA, header), Body: wire.Body{Create: &wire.CreateRequest{Circuit: c}}}
}

func (h *scenarioHarness) votePayload(t *testing.T, circuitID string, hash [32]byte, vote circuit.Vote) wire.Payload {
	header := wire.Header{Action: wire.ActionVote, Requester: h.keyB.pub, RequesterNodeID: "node_b"}
	return wire.Payload{Header: header, Signature: sign(t, h.keyB, header), Body: wire.Body{Vote: &wire.VoteRequest{CircuitID: circuitID, CircuitHash: hash, Vote: vote}}}
}

// peerUp drives B through peering and protocol agreement (spec §4.7 steps 3/5).
func (h *scenarioHarness) peerUp(t *testing.T) {
	t.Helper()
	require.NoError(t, h.service.OnPeerConnected(h.tokenB))
	require.NoError(t, h.service.OnProtocolAgreement(h.tokenB, 2))
}

// commitSubmission drives the external consensus engine's commit of a
// just-graduated submission round (Create or Disband with no votes yet):
// the coordinator classifies a zero-vote proposal as Pending and stores it
// (proposal.Coordinator.commitPending), exactly like the vote round that
// follows it.
func (h *scenarioHarness) commitSubmission(t *testing.T) {
	t.Helper()
	_, outcome, err := h.service.Commit()
	require.NoError(t, err)
	require.Equal(t, circuit.OutcomePending, outcome)
}

// TestS1TwoNodeCreateHappyPath exercises spec §8 scenario S1.
func TestS1TwoNodeCreateHappyPath(t *testing.T) {
	h := newScenarioHarness(t)
	c := sampleCreateCircuit()

	require.NoError(t, h.service.SubmitPayload(h.createPayload(t, c)))
	_, err := h.s.GetProposal(c.ID)
	require.ErrorIs(t, err, store.ErrProposalNotFound, "buffered until B is peered and protocol-agreed")

	h.peerUp(t)
	h.commitSubmission(t)
	stored, err := h.s.GetProposal(c.ID)
	require.NoError(t, err)
	require.Len(t, stored.Votes, 0)

	require.NoError(t, h.service.SubmitPayload(h.votePayload(t, c.ID, stored.CircuitHash, circuit.VoteAccept)))
	_, outcome, err := h.service.Commit()
	require.NoError(t, err)
	require.Equal(t, circuit.OutcomeAccepted, outcome)
	require.Equal(t, []string{c.ID}, h.network.membersReady)

	gotCircuit, err := h.s.GetCircuit(c.ID)
	require.NoError(t, err)
	require.Equal(t, circuit.StatusActive, gotCircuit.CircuitStatus)
	require.Equal(t, 0, h.factory.starts, "still waiting on node_b's MEMBER_READY")

	require.NoError(t, h.service.OnMemberReady(c.ID, "node_b"))
	require.Equal(t, 1, h.factory.starts)
	_, ok := h.table.Lookup(c.ID)
	require.True(t, ok)
}

// TestS2ProtocolMismatchDropsPayload exercises spec §8 scenario S2.
func TestS2ProtocolMismatchDropsPayload(t *testing.T) {
	h := newScenarioHarness(t)
	c := sampleCreateCircuit()

	require.NoError(t, h.service.SubmitPayload(h.createPayload(t, c)))
	require.NoError(t, h.service.OnPeerConnected(h.tokenB))
	require.NoError(t, h.service.OnProtocolAgreement(h.tokenB, 0))

	_, err := h.s.GetProposal(c.ID)
	require.ErrorIs(t, err, store.ErrProposalNotFound)
	require.Equal(t, 1, h.network.released, "peer ref released immediately on protocol mismatch")
}

// TestS3RejectVoteRemovesProposal exercises spec §8 scenario S3.
func TestS3RejectVoteRemovesProposal(t *testing.T) {
	h := newScenarioHarness(t)
	c := sampleCreateCircuit()

	require.NoError(t, h.service.SubmitPayload(h.createPayload(t, c)))
	h.peerUp(t)
	h.commitSubmission(t)
	stored, err := h.s.GetProposal(c.ID)
	require.NoError(t, err)

	require.NoError(t, h.service.SubmitPayload(h.votePayload(t, c.ID, stored.CircuitHash, circuit.VoteReject)))
	_, outcome, err := h.service.Commit()
	require.NoError(t, err)
	require.Equal(t, circuit.OutcomeRejected, outcome)

	_, err = h.s.GetProposal(c.ID)
	require.ErrorIs(t, err, store.ErrProposalNotFound)
	require.Equal(t, 0, h.factory.starts, "CircuitReady never fires for a rejected proposal")
}

// TestS4Disband exercises spec §8 scenario S4.
func TestS4Disband(t *testing.T) {
	h := newScenarioHarness(t)
	c := sampleCreateCircuit()

	require.NoError(t, h.service.SubmitPayload(h.createPayload(t, c)))
	h.peerUp(t)
	h.commitSubmission(t)
	stored, err := h.s.GetProposal(c.ID)
	require.NoError(t, err)
	require.NoError(t, h.service.SubmitPayload(h.votePayload(t, c.ID, stored.CircuitHash, circuit.VoteAccept)))
	_, _, err = h.service.Commit()
	require.NoError(t, err)
	require.NoError(t, h.service.OnMemberReady(c.ID, "node_b"))

	disbandHeader := wire.Header{Action: wire.ActionDisband, Requester: h.keyA.pub, RequesterNodeID: "node_a"}
	disbandPayload := wire.Payload{Header: disbandHeader, Signature: sign(t, h.keyA, disbandHeader), Body: wire.Body{Disband: &wire.DisbandRequest{CircuitID: c.ID}}}
	require.NoError(t, h.service.SubmitPayload(disbandPayload))
	h.commitSubmission(t)

	disbandProp, err := h.s.GetProposal(c.ID)
	require.NoError(t, err)
	require.Equal(t, circuit.ProposalDisband, disbandProp.ProposalType)

	voteHeader := wire.Header{Action: wire.ActionVote, Requester: h.keyB.pub, RequesterNodeID: "node_b"}
	votePayload := wire.Payload{Header: voteHeader, Signature: sign(t, h.keyB, voteHeader), Body: wire.Body{Vote: &wire.VoteRequest{CircuitID: c.ID, CircuitHash: disbandProp.CircuitHash, Vote: circuit.VoteAccept}}}
	require.NoError(t, h.service.SubmitPayload(votePayload))
	_, outcome, err := h.service.Commit()
	require.NoError(t, err)
	require.Equal(t, circuit.OutcomeAccepted, outcome)

	require.NoError(t, h.service.OnMemberReady(c.ID, "node_b"))
	require.Equal(t, 1, h.factory.stops)
	_, ok := h.table.Lookup(c.ID)
	require.False(t, ok)
	gotCircuit, err := h.s.GetCircuit(c.ID)
	require.NoError(t, err)
	require.Equal(t, circuit.StatusDisbanded, gotCircuit.CircuitStatus)
}

// TestS5PurgeRejectsActiveCircuit exercises spec §8 scenario S5.
func TestS5PurgeRejectsActiveCircuit(t *testing.T) {
	h := newScenarioHarness(t)
	c := sampleCreateCircuit()
	require.NoError(t, h.service.SubmitPayload(h.createPayload(t, c)))
	h.peerUp(t)
	h.commitSubmission(t)
	stored, err := h.s.GetProposal(c.ID)
	require.NoError(t, err)
	require.NoError(t, h.service.SubmitPayload(h.votePayload(t, c.ID, stored.CircuitHash, circuit.VoteAccept)))
	_, _, err = h.service.Commit()
	require.NoError(t, err)

	header := wire.Header{Action: wire.ActionPurge, Requester: h.keyA.pub, RequesterNodeID: "node_a"}
	payload := wire.Payload{Header: header, Signature: sign(t, h.keyA, header), Body: wire.Body{Purge: &wire.PurgeRequest{CircuitID: c.ID}}}
	err = h.service.SubmitPayload(payload)
	require.ErrorContains(t, err, "Attempting to purge a circuit that is still active")
}

// TestS6RemoveProposalFromRemoteNode exercises spec §8 scenario S6.
func TestS6RemoveProposalFromRemoteNode(t *testing.T) {
	h := newScenarioHarness(t)
	c := sampleCreateCircuit()
	require.NoError(t, h.service.SubmitPayload(h.createPayload(t, c)))

	header := wire.Header{Action: wire.ActionRemoveProposal, Requester: h.keyB.pub, RequesterNodeID: "node_b"}
	payload := wire.Payload{Header: header, Signature: sign(t, h.keyB, header), Body: wire.Body{RemoveProposal: &wire.RemoveProposalRequest{CircuitID: c.ID}}}
	err := h.service.SubmitPayload(payload)
	require.ErrorContains(t, err, "request came from a remote node")
}
