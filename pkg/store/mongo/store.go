// Package mongo stores leases as MongoDB documents keyed by lease name.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/metaparticle-io/container-lib/pkg/store"
	"github.com/metaparticle-io/container-lib/pkg/types"
)

const (
	DefaultDatabase   = "metaparticle"
	DefaultCollection = "locks"
)

// bsonLease is the stored document shape.
type bsonLease struct {
	Name    string    `bson:"_id"`
	Owner   string    `bson:"owner"`
	Expiry  time.Time `bson:"expiry"`
	Version int64     `bson:"version"`
}

// Store implements store.Store using a MongoDB collection.
// single-document writes are atomic, so the version filter on UpdateOne is the CAS
type Store struct {
	collection *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// New creates a Store over dbName.collectionName.
func New(client *mongo.Client, dbName, collectionName string) *Store {
	if dbName == "" {
		dbName = DefaultDatabase
	}
	if collectionName == "" {
		collectionName = DefaultCollection
	}
	return &Store{
		collection: client.Database(dbName).Collection(collectionName),
	}
}

func (s *Store) Create(ctx context.Context, lease *types.Lease) (*types.Lease, error) {
	stored := lease.Clone()
	stored.Version = store.InitialVersion

	_, err := s.collection.InsertOne(ctx, toBSON(stored))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, types.ErrConflict
		}
		return nil, fmt.Errorf("mongo insert %s: %w", lease.Name, err)
	}

	return stored, nil
}

func (s *Store) Update(ctx context.Context, lease *types.Lease) (*types.Lease, error) {
	stored := lease.Clone()
	stored.Version = lease.Version + 1

	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": lease.Name, "version": int64(lease.Version)},
		bson.M{"$set": bson.M{
			"owner":   stored.Owner,
			"expiry":  stored.Expiry.UTC(),
			"version": int64(stored.Version),
		}},
	)
	if err != nil {
		return nil, fmt.Errorf("mongo update %s: %w", lease.Name, err)
	}

	if res.MatchedCount == 0 {
		//no match means either no document or a different version
		if _, err := s.Get(ctx, lease.Name); err != nil {
			return nil, err
		}
		return nil, types.ErrConflict
	}

	return stored, nil
}

func (s *Store) Get(ctx context.Context, name string) (*types.Lease, error) {
	var doc bsonLease
	err := s.collection.FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("mongo find %s: %w", name, err)
	}

	return fromBSON(&doc), nil
}

func toBSON(l *types.Lease) *bsonLease {
	return &bsonLease{
		Name:    l.Name,
		Owner:   l.Owner,
		Expiry:  l.Expiry.UTC(),
		Version: int64(l.Version),
	}
}

func fromBSON(d *bsonLease) *types.Lease {
	return &types.Lease{
		Name:    d.Name,
		Owner:   d.Owner,
		Expiry:  d.Expiry,
		Version: uint64(d.Version),
	}
}
