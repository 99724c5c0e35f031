// Package natskv stores leases in a NATS JetStream key-value bucket.
//
// JetStream revisions are stream sequence numbers shared by every key in the
// bucket, so the lease version lives inside the JSON value and the entry
// revision is only used as the compare-and-set guard for Update.
package natskv

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/metaparticle-io/container-lib/pkg/store"
	"github.com/metaparticle-io/container-lib/pkg/types"
)

// DefaultBucket is the bucket used when none is configured.
const DefaultBucket = "metaparticle-locks"

// Store implements store.Store on top of a JetStream KV bucket.
type Store struct {
	kv jetstream.KeyValue
}

var _ store.Store = (*Store)(nil)

// New binds to bucket, creating it if needed. Only the latest value of each
// key is retained.
func New(ctx context.Context, js jetstream.JetStream, bucket string) (*Store, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "metaparticle lease records",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to bind kv bucket %s: %w", bucket, err)
	}

	return NewWithKeyValue(kv), nil
}

// NewWithKeyValue wraps an already bound bucket, keeping whatever history
// and replication it was created with.
func NewWithKeyValue(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

func (s *Store) Create(ctx context.Context, lease *types.Lease) (*types.Lease, error) {
	stored := lease.Clone()
	stored.Version = store.InitialVersion

	data, err := store.EncodeRecord(stored)
	if err != nil {
		return nil, err
	}

	if _, err := s.kv.Create(ctx, lease.Name, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return nil, types.ErrConflict
		}
		return nil, wrap("create", lease.Name, err)
	}

	return stored, nil
}

func (s *Store) Update(ctx context.Context, lease *types.Lease) (*types.Lease, error) {
	entry, err := s.kv.Get(ctx, lease.Name)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, wrap("get", lease.Name, err)
	}

	current, err := store.DecodeRecord(entry.Value())
	if err != nil {
		return nil, err
	}
	if current.Version != lease.Version {
		return nil, types.ErrConflict
	}

	stored := lease.Clone()
	stored.Version = current.Version + 1
	data, err := store.EncodeRecord(stored)
	if err != nil {
		return nil, err
	}

	//the revision guard turns the read-compare-write above into one atomic step
	if _, err := s.kv.Update(ctx, lease.Name, data, entry.Revision()); err != nil {
		if isWrongRevision(err) {
			return nil, types.ErrConflict
		}
		return nil, wrap("update", lease.Name, err)
	}

	return stored, nil
}

func (s *Store) Get(ctx context.Context, name string) (*types.Lease, error) {
	entry, err := s.kv.Get(ctx, name)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, wrap("get", name, err)
	}

	return store.DecodeRecord(entry.Value())
}

func isWrongRevision(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
		return true
	}
	return errors.Is(err, jetstream.ErrKeyExists)
}

func wrap(op, name string, err error) error {
	if errors.Is(err, jetstream.ErrInvalidKey) {
		return fmt.Errorf("%w: lease name %q is not a valid key", types.ErrMalformed, name)
	}
	return fmt.Errorf("kv %s %s: %w", op, name, err)
}
