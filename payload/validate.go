// Package payload implements the pure admin payload validator (spec
// §4.6): every CircuitManagementPayload is checked against a fixed
// ordering of header/signature/permission checks, then against
// action-specific rules, before anything else in the admin service acts
// on it. Validate never mutates state and may be called speculatively.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/splinter-dev/splinter/authz"
	"github.com/splinter-dev/splinter/circuit"
	"github.com/splinter-dev/splinter/store"
	"github.com/splinter-dev/splinter/wire"
)

// ErrValidationFailed is the sentinel every validation failure wraps
// (spec §7 ValidationFailed).
var ErrValidationFailed = errors.New("payload: validation failed")

// Error is a validation failure with a human-readable reason, reported to
// the submitter and never retried (spec §7).
type Error struct {
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("validation failed: %s", e.Reason) }
func (e *Error) Unwrap() error { return ErrValidationFailed }

func fail(format string, args ...any) error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// Config holds the locally-known, per-node constants validation needs
// (spec §6 Configuration).
type Config struct {
	LocalNodeID            string
	CircuitProtocolVersion uint32 // CIRCUIT_PROTOCOL_VERSION
}

// Validator is the pure §4.6 payload validator. It reads the store for
// action-specific existence checks but never writes to it.
type Validator struct {
	cfg               Config
	store             store.AdminStore
	keyVerifier       authz.KeyVerifier
	permissionManager authz.KeyPermissionManager
	signer            authz.SignatureVerifier
}

// NewValidator constructs a Validator from its injected collaborators
// (spec §9: store, key verifier, permission manager, and signature
// verifier are each a narrow capability-typed abstraction).
func NewValidator(cfg Config, adminStore store.AdminStore, keyVerifier authz.KeyVerifier, permissionManager authz.KeyPermissionManager, signer authz.SignatureVerifier) *Validator {
	return &Validator{cfg: cfg, store: adminStore, keyVerifier: keyVerifier, permissionManager: permissionManager, signer: signer}
}

// roleFor maps an action to the role permission check §4.6 step 5 asks
// the permission manager about: voters are checked as "voter", every
// proposal-originating or self-service action as "proposer".
func roleFor(action wire.Action) authz.Role {
	if action == wire.ActionVote {
		return authz.RoleVoter
	}
	return authz.RoleProposer
}

// Validate runs the full §4.6 ordering against p: common header/signature
// checks (1-5), then action-specific rules. agreedProtocol is the
// negotiated protocol version for this payload's members (0 if unknown;
// callers must not invoke Validate for payloads still awaiting agreement).
func (v *Validator) Validate(p wire.Payload, agreedProtocol uint32) error {
	if err := v.validateCommon(p); err != nil {
		return err
	}
	switch p.Header.Action {
	case wire.ActionCreate:
		return v.validateCreate(p, agreedProtocol)
	case wire.ActionVote:
		return v.validateVote(p)
	case wire.ActionDisband:
		return v.validateDisband(p, agreedProtocol)
	case wire.ActionPurge:
		return v.validatePurge(p)
	case wire.ActionAbandon:
		return v.validateAbandon(p)
	case wire.ActionRemoveProposal:
		return v.validateRemoveProposal(p)
	default:
		return fail("unknown action %q", p.Header.Action)
	}
}

// validateCommon implements §4.6 steps 1-5.
func (v *Validator) validateCommon(p wire.Payload) error {
	if len(p.Signature) == 0 {
		return fail("signature is empty")
	}
	if p.Header.Action == "" {
		return fail("header is empty")
	}
	if len(p.Header.Requester) == 0 {
		return fail("requester is empty")
	}
	if p.Header.RequesterNodeID == "" {
		return fail("requester_node_id is empty")
	}
	if err := authz.ValidatePublicKey(p.Header.Requester); err != nil {
		return fail("requester is not a valid public key: %v", err)
	}
	headerBytes, err := json.Marshal(p.Header)
	if err != nil {
		return fail("unable to serialize header: %v", err)
	}
	ok, err := v.signer.Verify(headerBytes, p.Signature, p.Header.Requester)
	if err != nil {
		return fail("signature verification error: %v", err)
	}
	if !ok {
		return fail("signature does not verify under requester public key")
	}
	permitted, err := v.keyVerifier.IsPermitted(p.Header.RequesterNodeID, p.Header.Requester)
	if err != nil {
		return fail("key verifier error: %v", err)
	}
	if !permitted {
		return fail("requester public key is not permitted for node %q", p.Header.RequesterNodeID)
	}
	role := roleFor(p.Header.Action)
	permitted, err = v.permissionManager.IsPermitted(p.Header.Requester, role)
	if err != nil {
		return fail("permission manager error: %v", err)
	}
	if !permitted {
		return fail("requester is not permitted to act as %s", role)
	}
	return nil
}

func (v *Validator) validateCreate(p wire.Payload, agreedProtocol uint32) error {
	req := p.Body.Create
	if req == nil {
		return fail("create payload missing body")
	}
	c := req.Circuit
	if err := c.Validate(); err != nil {
		return fail("%v", err)
	}
	if _, err := v.store.GetProposal(c.ID); err == nil {
		return fail("a proposal for circuit %q already exists", c.ID) // I1
	}
	if _, err := v.store.GetCircuit(c.ID); err == nil {
		return fail("a circuit %q already exists", c.ID) // I1
	}
	if agreedProtocol == 1 {
		if c.DisplayName != "" {
			return fail("protocol version 1 does not support display_name")
		}
		if c.CircuitStatus != "" {
			return fail("protocol version 1 does not support circuit_status")
		}
	}
	if c.CircuitVersion > v.cfg.CircuitProtocolVersion {
		return fail("circuit_version %d exceeds locally supported version %d", c.CircuitVersion, v.cfg.CircuitProtocolVersion)
	}
	return nil
}

func (v *Validator) validateVote(p wire.Payload) error {
	req := p.Body.Vote
	if req == nil {
		return fail("vote payload missing body")
	}
	existing, err := v.store.GetProposal(req.CircuitID)
	if err != nil {
		return fail("no proposal exists for circuit %q", req.CircuitID)
	}
	if existing.CircuitHash != req.CircuitHash {
		return fail("vote circuit_hash does not match stored proposal for %q", req.CircuitID)
	}
	if p.Header.RequesterNodeID == existing.RequesterNodeID {
		return fail("proposal requester cannot vote on its own proposal")
	}
	if existing.HasVoted(p.Header.RequesterNodeID) {
		return fail("node %q has already voted on circuit %q", p.Header.RequesterNodeID, req.CircuitID) // I5
	}
	if req.Vote != circuit.VoteAccept && req.Vote != circuit.VoteReject {
		return fail("vote must be Accept or Reject, got %q", req.Vote)
	}
	return nil
}

func (v *Validator) validateDisband(p wire.Payload, agreedProtocol uint32) error {
	req := p.Body.Disband
	if req == nil {
		return fail("disband payload missing body")
	}
	if agreedProtocol < 2 {
		return fail("disband requires protocol version >= 2, agreed %d", agreedProtocol)
	}
	existing, err := v.store.GetCircuit(req.CircuitID)
	if err != nil {
		return fail("no circuit exists with id %q", req.CircuitID) // I6
	}
	if existing.CircuitStatus != circuit.StatusActive {
		return fail("circuit %q is not active", req.CircuitID) // I6
	}
	if existing.CircuitVersion < 2 {
		return fail("circuit %q predates disband support (circuit_version < 2)", req.CircuitID) // I6
	}
	return nil
}

func (v *Validator) validatePurge(p wire.Payload) error {
	req := p.Body.Purge
	if req == nil {
		return fail("purge payload missing body")
	}
	if p.Header.RequesterNodeID != v.cfg.LocalNodeID {
		return fail("request came from a remote node")
	}
	existing, err := v.store.GetCircuit(req.CircuitID)
	if err != nil {
		return fail("no circuit exists with id %q", req.CircuitID)
	}
	if existing.CircuitStatus == circuit.StatusActive {
		return fail("Attempting to purge a circuit that is still active") // S5, I7
	}
	return nil
}

func (v *Validator) validateAbandon(p wire.Payload) error {
	req := p.Body.Abandon
	if req == nil {
		return fail("abandon payload missing body")
	}
	if p.Header.RequesterNodeID != v.cfg.LocalNodeID {
		return fail("request came from a remote node")
	}
	existing, err := v.store.GetCircuit(req.CircuitID)
	if err != nil {
		return fail("no circuit exists with id %q", req.CircuitID)
	}
	if existing.CircuitStatus != circuit.StatusActive {
		return fail("circuit %q is not active", req.CircuitID) // I8
	}
	return nil
}

func (v *Validator) validateRemoveProposal(p wire.Payload) error {
	req := p.Body.RemoveProposal
	if req == nil {
		return fail("remove-proposal payload missing body")
	}
	if p.Header.RequesterNodeID != v.cfg.LocalNodeID {
		return fail("request came from a remote node") // S6
	}
	if _, err := v.store.GetProposal(req.CircuitID); err != nil {
		return fail("no proposal exists for circuit %q", req.CircuitID)
	}
	return nil
}
