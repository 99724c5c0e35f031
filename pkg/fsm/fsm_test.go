package fsm

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaparticle-io/container-lib/pkg/store"
	"github.com/metaparticle-io/container-lib/pkg/types"
)

var expiry = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

// TestCreateLease tests lease creation
func TestCreateLease(t *testing.T) {
	fsm := NewFSM()

	lease, err := fsm.Apply(types.CreateLeaseCommand{
		Lease: &types.Lease{Name: "my-lock", Owner: "client-1", Expiry: expiry, Version: 42},
	})
	require.NoError(t, err)
	assert.Equal(t, store.InitialVersion, lease.Version, "create ignores the proposed version")

	// Verify lease was stored
	stored, exists := fsm.GetLease("my-lock")
	require.True(t, exists, "lease should exist")
	assert.Equal(t, "client-1", stored.Owner)
	assert.True(t, expiry.Equal(stored.Expiry))
}

// TestCreateExistingLease tests that a second create for a name conflicts
func TestCreateExistingLease(t *testing.T) {
	fsm := NewFSM()

	_, err := fsm.Apply(types.CreateLeaseCommand{Lease: &types.Lease{Name: "my-lock", Owner: "client-1"}})
	require.NoError(t, err)

	_, err = fsm.Apply(types.CreateLeaseCommand{Lease: &types.Lease{Name: "my-lock", Owner: "client-2"}})
	assert.ErrorIs(t, err, types.ErrConflict)

	stored, _ := fsm.GetLease("my-lock")
	assert.Equal(t, "client-1", stored.Owner)
}

// TestUpdateLease tests that updates bump the version by one
func TestUpdateLease(t *testing.T) {
	fsm := NewFSM()

	current, err := fsm.Apply(types.CreateLeaseCommand{Lease: &types.Lease{Name: "my-lock", Owner: "client-1"}})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		next := current.Clone()
		next.Owner = fmt.Sprintf("client-%d", i)
		next.Expiry = expiry.Add(time.Duration(i) * time.Second)

		updated, err := fsm.Apply(types.UpdateLeaseCommand{Lease: next})
		require.NoError(t, err)
		assert.Equal(t, current.Version+1, updated.Version, "versions must grow by exactly one")
		current = updated
	}

	// Final version should be 11
	assert.Equal(t, uint64(11), current.Version)
}

// TestStaleUpdate tests that an update carrying an old version is rejected
func TestStaleUpdate(t *testing.T) {
	fsm := NewFSM()

	created, _ := fsm.Apply(types.CreateLeaseCommand{Lease: &types.Lease{Name: "my-lock", Owner: "client-1"}})

	first := created.Clone()
	first.Owner = "client-2"
	_, err := fsm.Apply(types.UpdateLeaseCommand{Lease: first})
	require.NoError(t, err)

	stale := created.Clone()
	stale.Owner = "client-3"
	_, err = fsm.Apply(types.UpdateLeaseCommand{Lease: stale})
	assert.ErrorIs(t, err, types.ErrConflict)

	stored, _ := fsm.GetLease("my-lock")
	assert.Equal(t, "client-2", stored.Owner)
}

// TestUpdateMissingLease tests that updating an unknown name fails
func TestUpdateMissingLease(t *testing.T) {
	fsm := NewFSM()

	_, err := fsm.Apply(types.UpdateLeaseCommand{Lease: &types.Lease{Name: "missing", Version: 1}})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

// TestNilLease tests that commands without a lease are rejected
func TestNilLease(t *testing.T) {
	fsm := NewFSM()

	_, err := fsm.Apply(types.CreateLeaseCommand{})
	assert.ErrorIs(t, err, types.ErrMalformed)
	_, err = fsm.Apply(types.UpdateLeaseCommand{})
	assert.ErrorIs(t, err, types.ErrMalformed)
}

// TestGetLeaseReturnsCopy tests that callers cannot mutate FSM state
func TestGetLeaseReturnsCopy(t *testing.T) {
	fsm := NewFSM()

	created, _ := fsm.Apply(types.CreateLeaseCommand{Lease: &types.Lease{Name: "my-lock", Owner: "client-1"}})
	created.Owner = "mutated"

	got, _ := fsm.GetLease("my-lock")
	got.Owner = "mutated"

	again, _ := fsm.GetLease("my-lock")
	assert.Equal(t, "client-1", again.Owner)
}

// TestStats tests the lease count
func TestStats(t *testing.T) {
	fsm := NewFSM()

	for i := 0; i < 3; i++ {
		_, err := fsm.Apply(types.CreateLeaseCommand{Lease: &types.Lease{Name: fmt.Sprintf("lock-%d", i)}})
		require.NoError(t, err)
	}

	assert.Equal(t, 3, fsm.Stats().Leases)
}
