package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/database"

	"github.com/splinter-dev/splinter/circuit"
)

// Key prefixes partition the flat KV namespace into the three logical
// tables spec §6 describes: proposals keyed by circuit_id, circuits keyed
// by circuit_id, and an append-only event log keyed by monotonic i64.
const (
	proposalPrefix = "p/"
	circuitPrefix  = "c/"
	eventPrefix    = "e/"
	eventSeqKey    = "e-seq"
)

// KVStore is an AdminStore backed by a github.com/luxfi/database key/value
// handle, giving the abstract "Persisted state layout" (spec §6) a
// concrete, swappable backing store the way Splinter itself swaps
// SQL/YAML stores behind a trait. A single mutex serializes access so
// read-then-write sequences (e.g. UpgradeProposalToCircuit) stay atomic
// even though the underlying database.Database has no transaction type of
// its own in this contract.
type KVStore struct {
	mu  sync.Mutex
	db  database.Database
}

// NewKVStore wraps db as an AdminStore.
func NewKVStore(db database.Database) *KVStore {
	return &KVStore{db: db}
}

func proposalKey(circuitID string) []byte { return []byte(proposalPrefix + circuitID) }
func circuitKey(circuitID string) []byte  { return []byte(circuitPrefix + circuitID) }
func eventKey(id int64) []byte {
	b := make([]byte, len(eventPrefix)+8)
	copy(b, eventPrefix)
	binary.BigEndian.PutUint64(b[len(eventPrefix):], uint64(id))
	return b
}

func (s *KVStore) getProposalLocked(circuitID string) (*circuit.Proposal, error) {
	raw, err := s.db.Get(proposalKey(circuitID))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrProposalNotFound
		}
		return nil, fmt.Errorf("store: get proposal: %w", err)
	}
	var p circuit.Proposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("store: decode proposal: %w", err)
	}
	return &p, nil
}

func (s *KVStore) GetProposal(circuitID string) (*circuit.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getProposalLocked(circuitID)
}

func (s *KVStore) AddProposal(p *circuit.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	has, err := s.db.Has(proposalKey(p.CircuitID))
	if err != nil {
		return fmt.Errorf("store: has proposal: %w", err)
	}
	if has {
		return ErrProposalExists
	}
	return s.putProposalLocked(p)
}

func (s *KVStore) putProposalLocked(p *circuit.Proposal) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("store: encode proposal: %w", err)
	}
	if err := s.db.Put(proposalKey(p.CircuitID), raw); err != nil {
		return fmt.Errorf("store: put proposal: %w", err)
	}
	return nil
}

func (s *KVStore) UpdateProposal(p *circuit.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	has, err := s.db.Has(proposalKey(p.CircuitID))
	if err != nil {
		return fmt.Errorf("store: has proposal: %w", err)
	}
	if !has {
		return ErrProposalNotFound
	}
	return s.putProposalLocked(p)
}

func (s *KVStore) RemoveProposal(circuitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	has, err := s.db.Has(proposalKey(circuitID))
	if err != nil {
		return fmt.Errorf("store: has proposal: %w", err)
	}
	if !has {
		return ErrProposalNotFound
	}
	if err := s.db.Delete(proposalKey(circuitID)); err != nil {
		return fmt.Errorf("store: delete proposal: %w", err)
	}
	return nil
}

func (s *KVStore) UpgradeProposalToCircuit(circuitID string, c *circuit.Circuit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hasProposal, err := s.db.Has(proposalKey(circuitID))
	if err != nil {
		return fmt.Errorf("store: has proposal: %w", err)
	}
	if !hasProposal {
		return ErrProposalNotFound
	}
	hasCircuit, err := s.db.Has(circuitKey(circuitID))
	if err != nil {
		return fmt.Errorf("store: has circuit: %w", err)
	}
	if hasCircuit {
		return ErrCircuitExists
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("store: encode circuit: %w", err)
	}
	if err := s.db.Put(circuitKey(circuitID), raw); err != nil {
		return fmt.Errorf("store: put circuit: %w", err)
	}
	if err := s.db.Delete(proposalKey(circuitID)); err != nil {
		_ = s.db.Delete(circuitKey(circuitID))
		return fmt.Errorf("store: delete proposal: %w", err)
	}
	return nil
}

func (s *KVStore) GetCircuit(circuitID string) (*circuit.Circuit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.db.Get(circuitKey(circuitID))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrCircuitNotFound
		}
		return nil, fmt.Errorf("store: get circuit: %w", err)
	}
	var c circuit.Circuit
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("store: decode circuit: %w", err)
	}
	return &c, nil
}

func (s *KVStore) UpdateCircuit(c *circuit.Circuit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	has, err := s.db.Has(circuitKey(c.ID))
	if err != nil {
		return fmt.Errorf("store: has circuit: %w", err)
	}
	if !has {
		return ErrCircuitNotFound
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("store: encode circuit: %w", err)
	}
	if err := s.db.Put(circuitKey(c.ID), raw); err != nil {
		return fmt.Errorf("store: put circuit: %w", err)
	}
	return nil
}

func (s *KVStore) RemoveCircuit(circuitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	has, err := s.db.Has(circuitKey(circuitID))
	if err != nil {
		return fmt.Errorf("store: has circuit: %w", err)
	}
	if !has {
		return ErrCircuitNotFound
	}
	if err := s.db.Delete(circuitKey(circuitID)); err != nil {
		return fmt.Errorf("store: delete circuit: %w", err)
	}
	return nil
}

func (s *KVStore) ListCircuits(predicates ...CircuitPredicate) ([]*circuit.Circuit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.db.NewIteratorWithPrefix([]byte(circuitPrefix))
	defer it.Release()
	var out []*circuit.Circuit
	for it.Next() {
		var c circuit.Circuit
		if err := json.Unmarshal(it.Value(), &c); err != nil {
			return nil, fmt.Errorf("store: decode circuit: %w", err)
		}
		if matchesCircuit(&c, predicates) {
			out = append(out, &c)
		}
	}
	return out, it.Error()
}

func (s *KVStore) ListProposals(predicates ...ProposalPredicate) ([]*circuit.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.db.NewIteratorWithPrefix([]byte(proposalPrefix))
	defer it.Release()
	var out []*circuit.Proposal
	for it.Next() {
		var p circuit.Proposal
		if err := json.Unmarshal(it.Value(), &p); err != nil {
			return nil, fmt.Errorf("store: decode proposal: %w", err)
		}
		if matchesProposal(&p, predicates) {
			out = append(out, &p)
		}
	}
	return out, it.Error()
}

func (s *KVStore) CountCircuits(predicates ...CircuitPredicate) (int, error) {
	all, err := s.ListCircuits(predicates...)
	return len(all), err
}

func (s *KVStore) CountProposals(predicates ...ProposalPredicate) (int, error) {
	all, err := s.ListProposals(predicates...)
	return len(all), err
}

func (s *KVStore) AddEvent(event Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := int64(1)
	if raw, err := s.db.Get([]byte(eventSeqKey)); err == nil {
		next = int64(binary.BigEndian.Uint64(raw)) + 1
	} else if !errors.Is(err, database.ErrNotFound) {
		return Event{}, fmt.Errorf("store: read event sequence: %w", err)
	}
	event.ID = next
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return Event{}, fmt.Errorf("store: encode event: %w", err)
	}
	if err := s.db.Put(eventKey(next), raw); err != nil {
		return Event{}, fmt.Errorf("store: put event: %w", err)
	}
	seq := make([]byte, 8)
	binary.BigEndian.PutUint64(seq, uint64(next))
	if err := s.db.Put([]byte(eventSeqKey), seq); err != nil {
		return Event{}, fmt.Errorf("store: advance event sequence: %w", err)
	}
	return event, nil
}

func (s *KVStore) ListEventsSince(id int64) ([]Event, error) {
	return s.listEvents(id, "")
}

func (s *KVStore) ListEventsByManagementTypeSince(managementType string, id int64) ([]Event, error) {
	return s.listEvents(id, managementType)
}

func (s *KVStore) listEvents(sinceID int64, managementType string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.db.NewIteratorWithStartAndPrefix(eventKey(sinceID+1), []byte(eventPrefix))
	defer it.Release()
	var out []Event
	for it.Next() {
		var e Event
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			return nil, fmt.Errorf("store: decode event: %w", err)
		}
		if e.ID <= sinceID {
			continue
		}
		if managementType != "" && e.ManagementType != managementType {
			continue
		}
		out = append(out, e)
	}
	return out, it.Error()
}

var _ AdminStore = (*KVStore)(nil)
