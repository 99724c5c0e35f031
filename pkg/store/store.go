// Package store defines the lease storage contract and its local backends.
//
// Every backend provides atomic per-name check-and-set: Create only succeeds
// for an absent name, Update only succeeds when the caller presents the stored
// version, and both behave as if serialized when racing on the same name.
package store

import (
	"context"

	"github.com/metaparticle-io/container-lib/pkg/types"
)

// InitialVersion is the version assigned to a lease by Create.
const InitialVersion uint64 = 1

// Store is the three-operation contract the lease server relies on.
//
// Create fails with types.ErrConflict if the name exists. Update fails with
// types.ErrNotFound if the name is absent and types.ErrConflict if the stored
// version differs from lease.Version; on success the stored version is
// lease.Version+1. Get fails with types.ErrNotFound if the name is absent.
// Returned leases are copies owned by the caller.
type Store interface {
	Create(ctx context.Context, lease *types.Lease) (*types.Lease, error)
	Update(ctx context.Context, lease *types.Lease) (*types.Lease, error)
	Get(ctx context.Context, name string) (*types.Lease, error)
}
