package store

import (
	"sync"
	"time"

	"github.com/splinter-dev/splinter/circuit"
)

// MemStore is an in-memory AdminStore, the reference implementation used
// by tests and by deployments that don't need durability across restarts.
// A single mutex guards all state, mirroring the rest of this codebase's
// single-writer-lock discipline (spec §5).
type MemStore struct {
	mu        sync.Mutex
	proposals map[string]*circuit.Proposal
	circuits  map[string]*circuit.Circuit
	events    []Event
	nextEvent int64
	now       func() time.Time
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		proposals: make(map[string]*circuit.Proposal),
		circuits:  make(map[string]*circuit.Circuit),
		nextEvent: 1,
		now:       time.Now,
	}
}

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func (s *MemStore) GetProposal(circuitID string) (*circuit.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[circuitID]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return clone(p), nil
}

func (s *MemStore) AddProposal(p *circuit.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.CircuitID]; ok {
		return ErrProposalExists
	}
	s.proposals[p.CircuitID] = clone(p)
	return nil
}

func (s *MemStore) UpdateProposal(p *circuit.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.CircuitID]; !ok {
		return ErrProposalNotFound
	}
	s.proposals[p.CircuitID] = clone(p)
	return nil
}

func (s *MemStore) RemoveProposal(circuitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[circuitID]; !ok {
		return ErrProposalNotFound
	}
	delete(s.proposals, circuitID)
	return nil
}

func (s *MemStore) UpgradeProposalToCircuit(circuitID string, c *circuit.Circuit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[circuitID]; !ok {
		return ErrProposalNotFound
	}
	if _, ok := s.circuits[circuitID]; ok {
		return ErrCircuitExists
	}
	delete(s.proposals, circuitID)
	s.circuits[circuitID] = clone(c)
	return nil
}

func (s *MemStore) GetCircuit(circuitID string) (*circuit.Circuit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.circuits[circuitID]
	if !ok {
		return nil, ErrCircuitNotFound
	}
	return clone(c), nil
}

func (s *MemStore) UpdateCircuit(c *circuit.Circuit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.circuits[c.ID]; !ok {
		return ErrCircuitNotFound
	}
	s.circuits[c.ID] = clone(c)
	return nil
}

func (s *MemStore) RemoveCircuit(circuitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.circuits[circuitID]; !ok {
		return ErrCircuitNotFound
	}
	delete(s.circuits, circuitID)
	return nil
}

func (s *MemStore) ListCircuits(predicates ...CircuitPredicate) ([]*circuit.Circuit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*circuit.Circuit
	for _, c := range s.circuits {
		if matchesCircuit(c, predicates) {
			out = append(out, clone(c))
		}
	}
	return out, nil
}

func (s *MemStore) ListProposals(predicates ...ProposalPredicate) ([]*circuit.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*circuit.Proposal
	for _, p := range s.proposals {
		if matchesProposal(p, predicates) {
			out = append(out, clone(p))
		}
	}
	return out, nil
}

func (s *MemStore) CountCircuits(predicates ...CircuitPredicate) (int, error) {
	all, _ := s.ListCircuits(predicates...)
	return len(all), nil
}

func (s *MemStore) CountProposals(predicates ...ProposalPredicate) (int, error) {
	all, _ := s.ListProposals(predicates...)
	return len(all), nil
}

func (s *MemStore) AddEvent(event Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.ID = s.nextEvent
	s.nextEvent++
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	s.events = append(s.events, event)
	return event, nil
}

func (s *MemStore) ListEventsSince(id int64) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.ID > id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemStore) ListEventsByManagementTypeSince(managementType string, id int64) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.ID > id && e.ManagementType == managementType {
			out = append(out, e)
		}
	}
	return out, nil
}

func matchesCircuit(c *circuit.Circuit, predicates []CircuitPredicate) bool {
	for _, p := range predicates {
		if !p(c) {
			return false
		}
	}
	return true
}

func matchesProposal(p *circuit.Proposal, predicates []ProposalPredicate) bool {
	for _, pred := range predicates {
		if !pred(p) {
			return false
		}
	}
	return true
}

var _ AdminStore = (*MemStore)(nil)
