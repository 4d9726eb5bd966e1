package wire

import (
	"encoding/json"
	"fmt"

	"github.com/splinter-dev/splinter/circuit"
)

// Action names the CircuitManagementPayload variant (spec §3, §4.6).
type Action string

const (
	ActionCreate         Action = "Create"
	ActionVote           Action = "Vote"
	ActionDisband        Action = "Disband"
	ActionPurge          Action = "Purge"
	ActionAbandon        Action = "Abandon"
	ActionRemoveProposal Action = "RemoveProposal"
)

// Header carries the fields every payload's signature covers (spec §4.6).
type Header struct {
	Action          Action `json:"action"`
	Requester       []byte `json:"requester"`
	RequesterNodeID string `json:"requester_node_id"`
}

// CreateRequest proposes a new circuit.
type CreateRequest struct {
	Circuit circuit.Circuit `json:"circuit"`
}

// VoteRequest casts a vote on an existing proposal.
type VoteRequest struct {
	CircuitID   string      `json:"circuit_id"`
	CircuitHash [32]byte    `json:"circuit_hash"`
	Vote        circuit.Vote `json:"vote"`
}

// DisbandRequest proposes disbanding an active circuit.
type DisbandRequest struct {
	CircuitID string `json:"circuit_id"`
}

// PurgeRequest removes all local record of a disbanded/abandoned circuit.
type PurgeRequest struct {
	CircuitID string `json:"circuit_id"`
}

// AbandonRequest unilaterally abandons a circuit the requester is a member of.
type AbandonRequest struct {
	CircuitID string `json:"circuit_id"`
}

// RemoveProposalRequest withdraws a pending proposal the requester submitted.
type RemoveProposalRequest struct {
	CircuitID string `json:"circuit_id"`
}

// Body is the tagged union of payload bodies (spec §6); exactly one field
// is set, matching Header.Action.
type Body struct {
	Create         *CreateRequest         `json:"create,omitempty"`
	Vote           *VoteRequest           `json:"vote,omitempty"`
	Disband        *DisbandRequest        `json:"disband,omitempty"`
	Purge          *PurgeRequest          `json:"purge,omitempty"`
	Abandon        *AbandonRequest        `json:"abandon,omitempty"`
	RemoveProposal *RemoveProposalRequest `json:"remove_proposal,omitempty"`
}

// Payload is a CircuitManagementPayload: opaque bytes = (header, signature,
// body) (spec §6).
type Payload struct {
	Header    Header `json:"header"`
	Signature []byte `json:"signature"`
	Body      Body   `json:"body"`
}

// Encode serializes p to its opaque wire form.
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload is the inverse of Encode.
func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("wire: decode payload: %w", err)
	}
	return p, nil
}

// CircuitID extracts the target circuit id from whichever body variant is
// set, or "" if none is (a malformed payload, caught by validation).
func (b Body) CircuitID() string {
	switch {
	case b.Create != nil:
		return b.Create.Circuit.ID
	case b.Vote != nil:
		return b.Vote.CircuitID
	case b.Disband != nil:
		return b.Disband.CircuitID
	case b.Purge != nil:
		return b.Purge.CircuitID
	case b.Abandon != nil:
		return b.Abandon.CircuitID
	case b.RemoveProposal != nil:
		return b.RemoveProposal.CircuitID
	default:
		return ""
	}
}
