// Package zk stores leases as ZooKeeper znodes, one per lease name.
package zk

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/samuel/go-zookeeper/zk"

	"github.com/metaparticle-io/container-lib/pkg/store"
	"github.com/metaparticle-io/container-lib/pkg/types"
)

// DefaultRoot is the parent znode used when none is configured.
const DefaultRoot = "/metaparticle/locks"

// Conn is the subset of *zk.Conn the store uses.
type Conn interface {
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Get(path string) ([]byte, *zk.Stat, error)
	Set(path string, data []byte, version int32) (*zk.Stat, error)
	Exists(path string) (bool, *zk.Stat, error)
}

var _ Conn = (*zk.Conn)(nil)

// Store implements store.Store on ZooKeeper.
// the znode data version guards Set, so read-compare-write is atomic per lease
type Store struct {
	conn Conn
	root string
	acl  []zk.ACL
}

var _ store.Store = (*Store)(nil)

func New(conn Conn, root string) *Store {
	if root == "" {
		root = DefaultRoot
	}
	return &Store{
		conn: conn,
		root: strings.TrimSuffix(root, "/"),
		acl:  zk.WorldACL(zk.PermAll),
	}
}

func (s *Store) nodePath(name string) string {
	return path.Join(s.root, name)
}

func (s *Store) Create(ctx context.Context, lease *types.Lease) (*types.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.Contains(lease.Name, "/") {
		return nil, fmt.Errorf("%w: lease name %q contains '/'", types.ErrMalformed, lease.Name)
	}

	stored := lease.Clone()
	stored.Version = store.InitialVersion
	data, err := store.EncodeRecord(stored)
	if err != nil {
		return nil, err
	}

	_, err = s.conn.Create(s.nodePath(lease.Name), data, 0, s.acl)
	if errors.Is(err, zk.ErrNoNode) {
		//parent missing on first use
		if err = s.createParents(); err != nil {
			return nil, err
		}
		_, err = s.conn.Create(s.nodePath(lease.Name), data, 0, s.acl)
	}
	if err != nil {
		if errors.Is(err, zk.ErrNodeExists) {
			return nil, types.ErrConflict
		}
		return nil, fmt.Errorf("zk create %s: %w", lease.Name, err)
	}

	return stored, nil
}

func (s *Store) Update(ctx context.Context, lease *types.Lease) (*types.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, stat, err := s.conn.Get(s.nodePath(lease.Name))
	if err != nil {
		if errors.Is(err, zk.ErrNoNode) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("zk get %s: %w", lease.Name, err)
	}

	current, err := store.DecodeRecord(data)
	if err != nil {
		return nil, err
	}
	if current.Version != lease.Version {
		return nil, types.ErrConflict
	}

	stored := lease.Clone()
	stored.Version = current.Version + 1
	data, err = store.EncodeRecord(stored)
	if err != nil {
		return nil, err
	}

	if _, err := s.conn.Set(s.nodePath(lease.Name), data, stat.Version); err != nil {
		switch {
		case errors.Is(err, zk.ErrBadVersion):
			return nil, types.ErrConflict
		case errors.Is(err, zk.ErrNoNode):
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("zk set %s: %w", lease.Name, err)
	}

	return stored, nil
}

func (s *Store) Get(ctx context.Context, name string) (*types.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, _, err := s.conn.Get(s.nodePath(name))
	if err != nil {
		if errors.Is(err, zk.ErrNoNode) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("zk get %s: %w", name, err)
	}

	return store.DecodeRecord(data)
}

// creates every component of the root path that does not exist yet
func (s *Store) createParents() error {
	comps := strings.Split(strings.TrimPrefix(s.root, "/"), "/")
	p := ""
	for _, c := range comps {
		p = p + "/" + c
		_, err := s.conn.Create(p, nil, 0, s.acl)
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("zk create parent %s: %w", p, err)
		}
	}
	return nil
}
