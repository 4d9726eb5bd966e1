// Package routing defines the in-memory routing table writer contract
// (spec §4.3): the dispatch index message handlers use to translate
// circuit+service pairs to transport addresses. Only mutation is in
// scope here; readers consume it through whatever dispatch path the
// transport layer provides (out of scope, spec §1).
package routing

import (
	"sync"

	"github.com/splinter-dev/splinter/circuit"
)

// Writer is the contract the admin service mutates the routing table
// through (spec §4.3).
type Writer interface {
	// AddCircuit replaces any prior entry for id.
	AddCircuit(id string, def *circuit.Circuit, nodes []circuit.Node)
	// RemoveCircuit is idempotent.
	RemoveCircuit(id string)
}

// Entry is one routing table row.
type Entry struct {
	Definition *circuit.Circuit
	Nodes      []circuit.Node
}

// Table is the reference Writer implementation: a serialized, mutex-guarded
// map. Operations are serialized so readers observe a consistent snapshot
// per call (spec §4.3).
type Table struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewTable creates an empty routing table.
func NewTable() *Table {
	return &Table{entries: make(map[string]Entry)}
}

func (t *Table) AddCircuit(id string, def *circuit.Circuit, nodes []circuit.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = Entry{Definition: def, Nodes: append([]circuit.Node(nil), nodes...)}
}

func (t *Table) RemoveCircuit(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// Lookup returns the entry for id, if any, and whether it was present.
func (t *Table) Lookup(id string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	return e, ok
}

// Len reports the number of routed circuits, for tests and metrics.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

var _ Writer = (*Table)(nil)
