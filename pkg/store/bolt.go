package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/metaparticle-io/container-lib/pkg/types"
)

var leasesBucket = []byte("leases")

// Bolt persists leases in a local bbolt file.
// each operation is a single bolt transaction, which bolt serializes
type Bolt struct {
	db *bolt.DB
}

var _ Store = (*Bolt)(nil)

func NewBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(leasesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &Bolt{db: db}, nil
}

func (b *Bolt) Create(ctx context.Context, lease *types.Lease) (*types.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored := lease.Clone()
	stored.Version = InitialVersion

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(leasesBucket)
		if bucket.Get([]byte(lease.Name)) != nil {
			return types.ErrConflict
		}
		data, err := EncodeRecord(stored)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(lease.Name), data)
	})
	if err != nil {
		return nil, err
	}

	return stored, nil
}

func (b *Bolt) Update(ctx context.Context, lease *types.Lease) (*types.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var stored *types.Lease
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(leasesBucket)
		data := bucket.Get([]byte(lease.Name))
		if data == nil {
			return types.ErrNotFound
		}
		current, err := DecodeRecord(data)
		if err != nil {
			return err
		}
		if current.Version != lease.Version {
			return types.ErrConflict
		}

		stored = lease.Clone()
		stored.Version = current.Version + 1
		data, err = EncodeRecord(stored)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(lease.Name), data)
	})
	if err != nil {
		return nil, err
	}

	return stored, nil
}

func (b *Bolt) Get(ctx context.Context, name string) (*types.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var lease *types.Lease
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(leasesBucket).Get([]byte(name))
		if data == nil {
			return types.ErrNotFound
		}
		var err error
		lease, err = DecodeRecord(data)
		return err
	})
	if err != nil {
		return nil, err
	}

	return lease, nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
