// Package wire defines the admin service's on-the-wire message shapes
// (spec §6): the small inter-admin-service protocol messages
// (protocol version negotiation, MEMBER_READY, ABANDONED_CIRCUIT,
// REMOVED_PROPOSAL) and the CircuitManagementPayload envelope carried
// inside CircuitDirectMessage/CircuitManagementMessage application
// traffic. Framing of the underlying transport itself is explicitly out
// of scope (spec §1); this package only defines what gets encoded, via
// encoding/json rather than a generated protobuf, since no protoc step is
// available to this build (see DESIGN.md).
package wire

import "encoding/json"

// MessageType tags an AdminMessage (spec §6).
type MessageType string

const (
	MsgProtocolVersionRequest  MessageType = "SERVICE_PROTOCOL_VERSION_REQUEST"
	MsgProtocolVersionResponse MessageType = "SERVICE_PROTOCOL_VERSION_RESPONSE"
	MsgMemberReady             MessageType = "MEMBER_READY"
	MsgAbandonedCircuit        MessageType = "ABANDONED_CIRCUIT"
	MsgRemovedProposal         MessageType = "REMOVED_PROPOSAL"
)

// ProtocolVersionRequest asks a peer's admin service for its supported
// protocol range.
type ProtocolVersionRequest struct {
	Min uint32 `json:"min"`
	Max uint32 `json:"max"`
}

// ProtocolVersionResponse answers with the chosen version; 0 means no
// acceptable common version (spec §6).
type ProtocolVersionResponse struct {
	Version uint32 `json:"version"`
}

// MemberReady signals that a member's local post-consensus preparation is
// complete for circuit_id (spec §4.9, §6).
type MemberReady struct {
	CircuitID     string `json:"circuit_id"`
	MemberNodeID  string `json:"member_node_id"`
}

// AbandonedCircuit notifies remote members that the requester abandoned
// circuit_id (spec §4.11, §6).
type AbandonedCircuit struct {
	CircuitID    string `json:"circuit_id"`
	MemberNodeID string `json:"member_node_id"`
}

// RemovedProposal notifies remote members that a pending proposal for
// circuit_id was withdrawn (spec §4.11, §6).
type RemovedProposal struct {
	CircuitID string `json:"circuit_id"`
}

// AdminMessage is the tagged union of small admin<->admin protocol
// messages (spec §6). Exactly one of the variant fields is set,
// matching MessageType.
type AdminMessage struct {
	MessageType             MessageType              `json:"message_type"`
	ProtocolVersionRequest  *ProtocolVersionRequest  `json:"protocol_version_request,omitempty"`
	ProtocolVersionResponse *ProtocolVersionResponse `json:"protocol_version_response,omitempty"`
	MemberReady             *MemberReady             `json:"member_ready,omitempty"`
	AbandonedCircuit        *AbandonedCircuit        `json:"abandoned_circuit,omitempty"`
	RemovedProposal         *RemovedProposal         `json:"removed_proposal,omitempty"`
}

// Encode serializes m to its opaque wire form.
func (m AdminMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeAdminMessage is the inverse of Encode.
func DecodeAdminMessage(raw []byte) (AdminMessage, error) {
	var m AdminMessage
	err := json.Unmarshal(raw, &m)
	return m, err
}

func NewProtocolVersionRequest(min, max uint32) AdminMessage {
	return AdminMessage{MessageType: MsgProtocolVersionRequest, ProtocolVersionRequest: &ProtocolVersionRequest{Min: min, Max: max}}
}

func NewProtocolVersionResponse(version uint32) AdminMessage {
	return AdminMessage{MessageType: MsgProtocolVersionResponse, ProtocolVersionResponse: &ProtocolVersionResponse{Version: version}}
}

func NewMemberReady(circuitID, memberNodeID string) AdminMessage {
	return AdminMessage{MessageType: MsgMemberReady, MemberReady: &MemberReady{CircuitID: circuitID, MemberNodeID: memberNodeID}}
}

func NewAbandonedCircuit(circuitID, memberNodeID string) AdminMessage {
	return AdminMessage{MessageType: MsgAbandonedCircuit, AbandonedCircuit: &AbandonedCircuit{CircuitID: circuitID, MemberNodeID: memberNodeID}}
}

func NewRemovedProposal(circuitID string) AdminMessage {
	return AdminMessage{MessageType: MsgRemovedProposal, RemovedProposal: &RemovedProposal{CircuitID: circuitID}}
}
