package store

import (
	"context"
	"sync"

	"github.com/metaparticle-io/container-lib/pkg/types"
)

// Memory is an in-process Store for tests and single-node servers.
type Memory struct {
	mu     sync.Mutex
	leases map[string]*types.Lease
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		leases: make(map[string]*types.Lease),
	}
}

func (m *Memory) Create(ctx context.Context, lease *types.Lease) (*types.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.leases[lease.Name]; exists {
		return nil, types.ErrConflict
	}

	stored := lease.Clone()
	stored.Version = InitialVersion
	m.leases[stored.Name] = stored

	return stored.Clone(), nil
}

func (m *Memory) Update(ctx context.Context, lease *types.Lease) (*types.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.leases[lease.Name]
	if !exists {
		return nil, types.ErrNotFound
	}
	if current.Version != lease.Version {
		return nil, types.ErrConflict
	}

	stored := lease.Clone()
	stored.Version = current.Version + 1
	m.leases[stored.Name] = stored

	return stored.Clone(), nil
}

func (m *Memory) Get(ctx context.Context, name string) (*types.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lease, exists := m.leases[name]
	if !exists {
		return nil, types.ErrNotFound
	}

	return lease.Clone(), nil
}

// number of stored leases
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leases)
}
