package fsm

import (
	"fmt"
	"sync"

	"github.com/metaparticle-io/container-lib/pkg/store"
	"github.com/metaparticle-io/container-lib/pkg/types"
)

// replicated lease state
// critical :
// - apply must be deterministic, every replica reaches the same map
// - versions only grow, by exactly one per accepted update
// - expiry is decided by the lease server before the command is proposed, never here
type FSM struct {
	mu sync.RWMutex

	leases map[string]*types.Lease // lease name -> Lease
}

func NewFSM() *FSM {
	return &FSM{
		leases: make(map[string]*types.Lease),
	}
}

// applies a command to the FSM and returns the stored lease or error
func (f *FSM) Apply(cmd types.Command) (*types.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch c := cmd.(type) {
	case types.CreateLeaseCommand:
		return f.applyCreateLease(c)
	case types.UpdateLeaseCommand:
		return f.applyUpdateLease(c)
	default:
		return nil, fmt.Errorf("unknown command type: %T", cmd)
	}
}

func (f *FSM) applyCreateLease(cmd types.CreateLeaseCommand) (*types.Lease, error) {
	if cmd.Lease == nil {
		return nil, types.ErrMalformed
	}
	if _, exists := f.leases[cmd.Lease.Name]; exists {
		return nil, types.ErrConflict
	}

	lease := cmd.Lease.Clone()
	lease.Version = store.InitialVersion
	f.leases[lease.Name] = lease

	return lease.Clone(), nil
}

func (f *FSM) applyUpdateLease(cmd types.UpdateLeaseCommand) (*types.Lease, error) {
	if cmd.Lease == nil {
		return nil, types.ErrMalformed
	}

	current, exists := f.leases[cmd.Lease.Name]
	if !exists {
		return nil, types.ErrNotFound
	}
	//stale version, someone else wrote first
	if current.Version != cmd.Lease.Version {
		return nil, types.ErrConflict
	}

	lease := cmd.Lease.Clone()
	lease.Version = current.Version + 1
	f.leases[lease.Name] = lease

	return lease.Clone(), nil
}

// returns a copy of the lease by name
func (f *FSM) GetLease(name string) (*types.Lease, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	lease, exists := f.leases[name]
	if !exists {
		return nil, false
	}
	return lease.Clone(), true
}

// current fsm stats
type Stats struct {
	Leases int
}

func (f *FSM) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return Stats{
		Leases: len(f.leases),
	}
}
