package upsert_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relsync/relsync/internal/table"
	"github.com/relsync/relsync/internal/upsert"
)

func TestPartitionSplitsInsertsUpdatesUnchanged(t *testing.T) {
	existing := table.New("id", "name")
	existing.Append(table.Row{"id": "k1", "name": "Ada"})
	existing.Append(table.Row{"id": "k2", "name": "Ben"})

	incoming := table.New("id", "name")
	incoming.Append(table.Row{"id": "k1", "name": "Ada"})
	incoming.Append(table.Row{"id": "k2", "name": "Renamed"})
	incoming.Append(table.Row{"id": "k3", "name": "Cal"})

	plan, err := upsert.Partition(existing, incoming, "id")
	require.NoError(t, err)

	require.Equal(t, 1, plan.Inserts.NumRows())
	require.Equal(t, "k3", plan.Inserts.Rows[0]["id"])

	require.Equal(t, 1, plan.Updates.NumRows())
	require.Equal(t, "k2", plan.Updates.Rows[0]["id"])

	require.Equal(t, 1, plan.Unchanged.NumRows())
	require.Equal(t, "k1", plan.Unchanged.Rows[0]["id"])

	require.False(t, plan.Empty())
}

func TestPartitionNeverDeletes(t *testing.T) {
	existing := table.New("id", "name")
	existing.Append(table.Row{"id": "k1", "name": "Ada"})
	existing.Append(table.Row{"id": "k2", "name": "Ben"})

	incoming := table.New("id", "name")
	incoming.Append(table.Row{"id": "k1", "name": "Ada"})

	plan, err := upsert.Partition(existing, incoming, "id")
	require.NoError(t, err)
	require.True(t, plan.Empty())
	require.Equal(t, 1, plan.Unchanged.NumRows())
}

func TestPartitionAgainstEmptyTableInsertsEverything(t *testing.T) {
	incoming := table.New("id", "name")
	incoming.Append(table.Row{"id": "k1", "name": "Ada"})
	incoming.Append(table.Row{"id": "k2", "name": "Ben"})

	plan, err := upsert.Partition(table.New("id", "name"), incoming, "id")
	require.NoError(t, err)
	require.Equal(t, 2, plan.Inserts.NumRows())
	require.Equal(t, 0, plan.Updates.NumRows())
	require.Equal(t, 0, plan.Unchanged.NumRows())
}

func TestPartitionIsIdempotent(t *testing.T) {
	incoming := table.New("id", "name")
	incoming.Append(table.Row{"id": "k1", "name": "Ada"})
	incoming.Append(table.Row{"id": "k2", "name": "Ben"})

	// simulate applying the plan by treating incoming as the new state
	plan, err := upsert.Partition(incoming, incoming, "id")
	require.NoError(t, err)
	require.True(t, plan.Empty())
	require.Equal(t, 2, plan.Unchanged.NumRows())
}

func TestPartitionComparesAcrossValueRepresentations(t *testing.T) {
	// engines without native booleans hand bool columns back as 0/1
	existing := table.New("id", "age", "active")
	existing.Append(table.Row{"id": []byte("k1"), "age": int64(30), "active": int64(1)})

	incoming := table.New("id", "age", "active")
	incoming.Append(table.Row{"id": "k1", "age": 30, "active": true})

	plan, err := upsert.Partition(existing, incoming, "id")
	require.NoError(t, err)
	require.True(t, plan.Empty())
	require.Equal(t, 1, plan.Unchanged.NumRows())
}

func TestPartitionRejectsDuplicateIncomingKeys(t *testing.T) {
	incoming := table.New("id")
	incoming.Append(table.Row{"id": "k1"})
	incoming.Append(table.Row{"id": "k1"})

	_, err := upsert.Partition(table.New("id"), incoming, "id")
	require.Error(t, err)

	var dup *upsert.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, "k1", dup.Key)
}
