package raft

import (
	"context"

	"github.com/metaparticle-io/container-lib/pkg/store"
	"github.com/metaparticle-io/container-lib/pkg/types"
)

// Store serves leases from the replicated FSM.
// every operation runs on the leader, followers answer types.ErrNotLeader
type Store struct {
	node *Node
}

var _ store.Store = (*Store)(nil)

func NewStore(node *Node) *Store {
	return &Store{node: node}
}

func (s *Store) Create(ctx context.Context, lease *types.Lease) (*types.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.node.Apply(ctx, types.CreateLeaseCommand{Lease: lease.Clone()})
}

func (s *Store) Update(ctx context.Context, lease *types.Lease) (*types.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.node.Apply(ctx, types.UpdateLeaseCommand{Lease: lease.Clone()})
}

func (s *Store) Get(ctx context.Context, name string) (*types.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.node.VerifyLeader(ctx); err != nil {
		return nil, err
	}

	lease, ok := s.node.LocalLease(name)
	if !ok {
		return nil, types.ErrNotFound
	}
	return lease, nil
}
