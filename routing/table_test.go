package routing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/splinter-dev/splinter/circuit"
)

func TestTableAddReplacesPriorEntry(t *testing.T) {
	tbl := NewTable()
	c1 := &circuit.Circuit{ID: "01234-ABCDE", ManagementType: "v1"}
	c2 := &circuit.Circuit{ID: "01234-ABCDE", ManagementType: "v2"}

	tbl.AddCircuit(c1.ID, c1, nil)
	tbl.AddCircuit(c2.ID, c2, nil)

	entry, ok := tbl.Lookup(c1.ID)
	require.True(t, ok)
	require.Equal(t, "v2", entry.Definition.ManagementType)
	require.Equal(t, 1, tbl.Len())
}

func TestTableRemoveIsIdempotent(t *testing.T) {
	tbl := NewTable()
	tbl.RemoveCircuit("missing")
	tbl.RemoveCircuit("missing")

	c := &circuit.Circuit{ID: "01234-ABCDE"}
	tbl.AddCircuit(c.ID, c, nil)
	tbl.RemoveCircuit(c.ID)
	tbl.RemoveCircuit(c.ID)

	_, ok := tbl.Lookup(c.ID)
	require.False(t, ok)
	require.Equal(t, 0, tbl.Len())
}
