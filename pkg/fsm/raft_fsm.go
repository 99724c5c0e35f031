package fsm

import (
	"encoding/json"
	"io"

	"github.com/hashicorp/raft"

	"github.com/metaparticle-io/container-lib/pkg/types"
)

// adapter to bridge Raft FSM with our internal FSM
type RaftFSM struct {
	fsm *FSM
}

func NewRaftFSM() *RaftFSM {
	return &RaftFSM{
		fsm: NewFSM(),
	}
}

// the wrapped state machine, read by the raft store after leadership checks
func (rf *RaftFSM) State() *FSM {
	return rf.fsm
}

// result of applying a log entry, handed back through raft.ApplyFuture.Response
type ApplyResult struct {
	Lease *types.Lease
	Err   error
}

func (rf *RaftFSM) Apply(log *raft.Log) any {
	//s1 : decode command from the protobuf log payload
	cmd, err := types.DecodeCommand(log.Data)
	if err != nil {
		return ApplyResult{Err: err}
	}

	//s2 : apply to FSM, errors are part of the replicated outcome
	lease, err := rf.fsm.Apply(cmd)
	return ApplyResult{Lease: lease, Err: err}
}

// create a snapshot of the current FSM state
func (rf *RaftFSM) Snapshot() (raft.FSMSnapshot, error) {
	rf.fsm.mu.RLock()
	defer rf.fsm.mu.RUnlock()

	snapshot := &fsmSnapshot{
		Leases: make(map[string]*types.Lease, len(rf.fsm.leases)),
	}

	//deep copy leases
	for name, lease := range rf.fsm.leases {
		snapshot.Leases[name] = lease.Clone()
	}

	return snapshot, nil
}

// restores FSM state from snapshot
// when a node falls behind and needs to catch up or a new node joins
func (rf *RaftFSM) Restore(snapshot io.ReadCloser) error {
	defer snapshot.Close()

	var snap fsmSnapshot
	if err := json.NewDecoder(snapshot).Decode(&snap); err != nil {
		return err
	}
	if snap.Leases == nil {
		snap.Leases = make(map[string]*types.Lease)
	}

	rf.fsm.mu.Lock()
	defer rf.fsm.mu.Unlock()

	rf.fsm.leases = snap.Leases

	return nil
}

// point-in-time snapshot of FSM state
type fsmSnapshot struct {
	Leases map[string]*types.Lease `json:"leases"`
}

// persist snapshot to given sink
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s); err != nil {
		sink.Cancel() //fail snapshot on error
		return err
	}
	return sink.Close() //mark snapshot as complete
}

// we have no resources to clean up here
func (s *fsmSnapshot) Release() {}
