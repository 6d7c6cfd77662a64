package table_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relsync/relsync/internal/table"
)

func TestProjectRestrictsAndFillsNil(t *testing.T) {
	in := table.New("id", "name", "extra")
	in.Append(table.Row{"id": "p1", "name": "Ada", "extra": "x"})
	in.Append(table.Row{"id": "p2"})

	out := in.Project([]string{"id", "name"})
	require.Equal(t, []string{"id", "name"}, out.Columns)
	require.Equal(t, "Ada", out.Rows[0]["name"])
	require.Nil(t, out.Rows[1]["name"])
	require.NotContains(t, out.Rows[0], "extra")
}

func TestKeyCanonicalizesRepresentations(t *testing.T) {
	require.Equal(t, table.Key("1"), table.Key([]byte("1")))
	require.Equal(t, table.Key(int32(7)), table.Key(int64(7)))
	require.Equal(t, table.Key(1), table.Key(uint16(1)))
}

func TestKeyedPreservesFirstSeenOrder(t *testing.T) {
	in := table.New("id")
	in.Append(table.Row{"id": "b"})
	in.Append(table.Row{"id": "a"})
	in.Append(table.Row{"id": "b"})

	rows, order := in.Keyed("id")
	require.Equal(t, []string{"b", "a"}, order)
	require.Len(t, rows, 2)
}

func TestEqualValues(t *testing.T) {
	require.True(t, table.EqualValues([]byte("x"), "x"))
	require.True(t, table.EqualValues(int32(3), int64(3)))
	require.True(t, table.EqualValues(int64(3), float64(3)))
	require.True(t, table.EqualValues(float32(1.5), float64(1.5)))
	require.True(t, table.EqualValues(true, int64(1)))
	require.True(t, table.EqualValues(false, int64(0)))
	require.False(t, table.EqualValues(true, int64(5)))
	require.True(t, table.EqualValues(nil, nil))
	require.False(t, table.EqualValues(nil, "x"))
	require.False(t, table.EqualValues("3", int64(3)))
}

func TestRowsEqualComparesListedColumnsOnly(t *testing.T) {
	a := table.Row{"id": "p1", "name": "Ada", "extra": "x"}
	b := table.Row{"id": "p1", "name": "Ada", "extra": "y"}
	require.True(t, table.RowsEqual(a, b, []string{"id", "name"}))
	require.False(t, table.RowsEqual(a, b, []string{"id", "name", "extra"}))
}

func TestSortedColumns(t *testing.T) {
	in := table.New("zeta", "alpha")
	require.Equal(t, []string{"alpha", "zeta"}, in.SortedColumns())
	require.Equal(t, []string{"zeta", "alpha"}, in.Columns)
}
