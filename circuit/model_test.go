package circuit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleCircuit() Circuit {
	return Circuit{
		ID:             "01234-ABCDE",
		ManagementType: "test_app",
		AuthType:       AuthTrust,
		Persistence:    PersistenceAny,
		Durability:     DurabilityNoDurability,
		Routes:         RoutesAny,
		CircuitVersion: 2,
		CircuitStatus:  StatusActive,
		Members: []Node{
			{NodeID: "node_a", Endpoints: []string{"tcp://node_a:8000"}},
			{NodeID: "node_b", Endpoints: []string{"tcp://node_b:8000"}},
		},
		Roster: []Service{
			{ServiceID: "0123", ServiceType: "type_a", NodeID: "node_a"},
			{ServiceID: "ABCD", ServiceType: "type_a", NodeID: "node_b"},
		},
	}
}

func TestCircuitValidateHappyPath(t *testing.T) {
	c := sampleCircuit()
	require.NoError(t, c.Validate())
}

func TestCircuitValidateRejectsBadID(t *testing.T) {
	c := sampleCircuit()
	c.ID = "too-short"
	require.ErrorIs(t, c.Validate(), ErrInvalidCircuit)
}

func TestCircuitValidateEnforcesI2ServiceMembership(t *testing.T) {
	c := sampleCircuit()
	c.Roster[0].NodeID = "node_z"
	require.ErrorIs(t, c.Validate(), ErrInvalidCircuit)
}

func TestCircuitValidateEnforcesI3UniqueEndpoints(t *testing.T) {
	c := sampleCircuit()
	c.Members[1].Endpoints = []string{"tcp://node_a:8000"}
	require.ErrorIs(t, c.Validate(), ErrInvalidCircuit)
}

func TestCircuitValidateEnforcesI4ChallengeRequiresKeyAndVersion(t *testing.T) {
	c := sampleCircuit()
	c.AuthType = AuthChallenge
	err := c.Validate()
	require.ErrorIs(t, err, ErrInvalidCircuit)

	c.Members[0].PublicKey = []byte{0x01}
	c.Members[1].PublicKey = []byte{0x02}
	require.NoError(t, c.Validate())

	c.CircuitVersion = 1
	require.ErrorIs(t, c.Validate(), ErrInvalidCircuit)
}

func TestCircuitHashIsDeterministicAndSensitiveToFields(t *testing.T) {
	a := sampleCircuit()
	b := sampleCircuit()
	require.Equal(t, a.Hash(), b.Hash())

	b.DisplayName = "renamed"
	require.NotEqual(t, a.Hash(), b.Hash())
}

func TestProposalClassifyI9(t *testing.T) {
	c := sampleCircuit()
	p := &Proposal{
		ProposalType:    ProposalCreate,
		CircuitID:       c.ID,
		ProposedCircuit: c,
		RequesterNodeID: "node_a",
	}
	require.Equal(t, OutcomePending, p.Classify())

	p.Votes = append(p.Votes, VoteRecord{VoterNodeID: "node_b", Vote: VoteAccept})
	require.Equal(t, OutcomeAccepted, p.Classify())
}

func TestProposalClassifyRejectWins(t *testing.T) {
	c := sampleCircuit()
	c.Members = append(c.Members, Node{NodeID: "node_c", Endpoints: []string{"tcp://node_c:8000"}})
	p := &Proposal{ProposedCircuit: c, RequesterNodeID: "node_a"}
	p.Votes = []VoteRecord{
		{VoterNodeID: "node_b", Vote: VoteAccept},
		{VoterNodeID: "node_c", Vote: VoteReject},
	}
	require.Equal(t, OutcomeRejected, p.Classify())
}

func TestProposalHasVotedI5(t *testing.T) {
	p := &Proposal{Votes: []VoteRecord{{VoterNodeID: "node_b", Vote: VoteAccept}}}
	require.True(t, p.HasVoted("node_b"))
	require.False(t, p.HasVoted("node_c"))
}

func TestUninitializedCircuitReadiness(t *testing.T) {
	u := NewUninitializedCircuit(&Proposal{})
	want := []string{"node_a", "node_b"}
	require.False(t, u.IsReady(want))
	u.AddReady("node_a")
	require.False(t, u.IsReady(want))
	u.AddReady("node_b")
	require.True(t, u.IsReady(want))
	u.AddReady("node_b") // repeat is a no-op
	require.True(t, u.IsReady(want))
}
