package peer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_AddFindRemove(t *testing.T) {
	r := NewRegistry(4)

	a := New("10.0.0.1", 4000, nil)
	b := New("10.0.0.2", 4000, nil)
	require.NoError(t, r.Add(a))
	require.NoError(t, r.Add(b))
	require.Equal(t, 2, r.Len())

	require.Same(t, a, r.Find("10.0.0.1", 4000))
	require.Nil(t, r.Find("10.0.0.1", 4001))

	r.Remove("10.0.0.1", 4000)
	require.Nil(t, r.Find("10.0.0.1", 4000))
	require.Equal(t, 1, r.Len())

	r.Remove("10.0.0.1", 4000) // absent removal is a no-op
	require.Equal(t, 1, r.Len())
}

func TestRegistry_Duplicate(t *testing.T) {
	r := NewRegistry(4)
	require.NoError(t, r.Add(New("10.0.0.1", 4000, nil)))

	err := r.Add(New("10.0.0.1", 4000, nil))
	require.ErrorIs(t, err, ErrDuplicatePeer)
	require.Equal(t, 1, r.Len())
}

func TestRegistry_Capacity(t *testing.T) {
	r := NewRegistry(1)
	require.NoError(t, r.Add(New("10.0.0.1", 4000, nil)))

	err := r.Add(New("10.0.0.2", 4000, nil))
	require.ErrorIs(t, err, ErrPeerCapacity)
	require.Equal(t, 1, r.Len())

	// Capacity frees up after removal.
	r.Remove("10.0.0.1", 4000)
	require.NoError(t, r.Add(New("10.0.0.2", 4000, nil)))
}

func TestRegistry_SnapshotOrdered(t *testing.T) {
	r := NewRegistry(4)
	require.NoError(t, r.Add(New("10.0.0.9", 4000, nil)))
	require.NoError(t, r.Add(New("10.0.0.1", 4000, nil)))

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "10.0.0.1:4000", snap[0].Addr())
	require.Equal(t, "10.0.0.9:4000", snap[1].Addr())
}
