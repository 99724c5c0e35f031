package fsm

import (
	"bytes"
	"io"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaparticle-io/container-lib/pkg/types"
)

func applyLog(t *testing.T, rf *RaftFSM, index uint64, cmd types.Command) ApplyResult {
	t.Helper()

	// Serialize to bytes (what Raft does)
	data, err := types.EncodeCommand(cmd)
	require.NoError(t, err)

	result := rf.Apply(&raft.Log{
		Index: index,
		Term:  1,
		Type:  raft.LogCommand,
		Data:  data,
	})

	res, ok := result.(ApplyResult)
	require.True(t, ok, "expected ApplyResult")
	return res
}

// TestRaftFSMApply tests that Apply works with protobuf serialization
func TestRaftFSMApply(t *testing.T) {
	raftFSM := NewRaftFSM()

	res := applyLog(t, raftFSM, 1, types.CreateLeaseCommand{
		Lease: &types.Lease{Name: "my-lock", Owner: "client-1", Expiry: expiry},
	})
	require.NoError(t, res.Err)
	assert.Equal(t, uint64(1), res.Lease.Version)

	// Verify state was updated
	lease, exists := raftFSM.State().GetLease("my-lock")
	require.True(t, exists)
	assert.Equal(t, "client-1", lease.Owner)
	assert.True(t, expiry.Equal(lease.Expiry))
}

// TestRaftFSMApplyConflict tests that FSM errors come back in the result
func TestRaftFSMApplyConflict(t *testing.T) {
	raftFSM := NewRaftFSM()

	cmd := types.CreateLeaseCommand{Lease: &types.Lease{Name: "my-lock", Owner: "client-1"}}
	require.NoError(t, applyLog(t, raftFSM, 1, cmd).Err)

	res := applyLog(t, raftFSM, 2, cmd)
	assert.ErrorIs(t, res.Err, types.ErrConflict)
	assert.Nil(t, res.Lease)
}

// TestRaftFSMApplyGarbage tests that undecodable entries fail without touching state
func TestRaftFSMApplyGarbage(t *testing.T) {
	raftFSM := NewRaftFSM()

	result := raftFSM.Apply(&raft.Log{Index: 1, Type: raft.LogCommand, Data: []byte{0xff, 0x01}})
	res, ok := result.(ApplyResult)
	require.True(t, ok)
	assert.Error(t, res.Err)
	assert.Equal(t, 0, raftFSM.State().Stats().Leases)
}

// TestRaftFSMSnapshot tests snapshot creation
func TestRaftFSMSnapshot(t *testing.T) {
	raftFSM := NewRaftFSM()

	applyLog(t, raftFSM, 1, types.CreateLeaseCommand{Lease: &types.Lease{Name: "lock-1", Owner: "client-1"}})
	applyLog(t, raftFSM, 2, types.CreateLeaseCommand{Lease: &types.Lease{Name: "lock-2", Owner: "client-2"}})

	// Create snapshot
	snapshot, err := raftFSM.Snapshot()
	require.NoError(t, err)

	// Verify snapshot contains state
	fsmSnap := snapshot.(*fsmSnapshot)
	assert.Equal(t, 2, len(fsmSnap.Leases))

	// snapshot must not alias live state
	applyLog(t, raftFSM, 3, types.UpdateLeaseCommand{Lease: &types.Lease{Name: "lock-1", Owner: "client-3", Version: 1}})
	assert.Equal(t, "client-1", fsmSnap.Leases["lock-1"].Owner)
}

// TestRaftFSMRestore tests restoring from snapshot
func TestRaftFSMRestore(t *testing.T) {
	// Create source FSM with state
	source := NewRaftFSM()

	applyLog(t, source, 1, types.CreateLeaseCommand{Lease: &types.Lease{Name: "my-lock", Owner: "client-1", Expiry: expiry}})
	applyLog(t, source, 2, types.UpdateLeaseCommand{Lease: &types.Lease{Name: "my-lock", Owner: "client-2", Expiry: expiry, Version: 1}})

	// Create snapshot
	snapshot, err := source.Snapshot()
	require.NoError(t, err)

	// Persist snapshot to buffer
	var buf bytes.Buffer
	mockSink := &mockSnapshotSink{buffer: &buf}
	err = snapshot.Persist(mockSink)
	require.NoError(t, err)

	// Create new FSM and restore from snapshot
	newFSM := NewRaftFSM()
	err = newFSM.Restore(io.NopCloser(&buf))
	require.NoError(t, err)

	// Verify new FSM has same state
	lease, exists := newFSM.State().GetLease("my-lock")
	require.True(t, exists)
	assert.Equal(t, "client-2", lease.Owner)
	assert.Equal(t, uint64(2), lease.Version)
	assert.True(t, expiry.Equal(lease.Expiry))

	// restored state keeps enforcing versions
	res := applyLog(t, newFSM, 3, types.UpdateLeaseCommand{Lease: &types.Lease{Name: "my-lock", Owner: "client-3", Version: 1}})
	assert.ErrorIs(t, res.Err, types.ErrConflict)
}

// mockSnapshotSink implements raft.SnapshotSink for testing
type mockSnapshotSink struct {
	buffer *bytes.Buffer
}

func (m *mockSnapshotSink) Write(p []byte) (n int, err error) {
	return m.buffer.Write(p)
}

func (m *mockSnapshotSink) Close() error {
	return nil
}

func (m *mockSnapshotSink) ID() string {
	return "mock-snapshot"
}

func (m *mockSnapshotSink) Cancel() error {
	return nil
}
