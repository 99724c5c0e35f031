// Package storetest is a conformance suite every store.Store backend runs.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metaparticle-io/container-lib/pkg/store"
	"github.com/metaparticle-io/container-lib/pkg/types"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := map[string]func(*testing.T, store.Store){
		"CreateThenGet":           createThenGet,
		"CreateExistingConflicts": createExistingConflicts,
		"GetMissing":              getMissing,
		"UpdateMissing":           updateMissing,
		"UpdateIncrementsVersion": updateIncrementsVersion,
		"StaleUpdateRejected":     staleUpdateRejected,
		"ReturnedLeaseIsCopy":     returnedLeaseIsCopy,
		"ConcurrentCreateOneWins": concurrentCreateOneWins,
		"ConcurrentUpdateOneWins": concurrentUpdateOneWins,
		"NamesAreIndependent":     namesAreIndependent,
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			test(t, newStore(t))
		})
	}
}

var expiry = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

func newLease(name, owner string) *types.Lease {
	return &types.Lease{Name: name, Owner: owner, Expiry: expiry}
}

func createThenGet(t *testing.T, s store.Store) {
	ctx := context.Background()

	created, err := s.Create(ctx, newLease("x", "a"))
	require.NoError(t, err)
	require.Equal(t, store.InitialVersion, created.Version)
	require.Equal(t, "a", created.Owner)

	got, err := s.Get(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, "x", got.Name)
	require.Equal(t, "a", got.Owner)
	require.Equal(t, store.InitialVersion, got.Version)
	require.True(t, expiry.Equal(got.Expiry), "expiry %s != %s", got.Expiry, expiry)
}

func createExistingConflicts(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Create(ctx, newLease("x", "a"))
	require.NoError(t, err)

	_, err = s.Create(ctx, newLease("x", "b"))
	require.ErrorIs(t, err, types.ErrConflict)

	got, err := s.Get(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, "a", got.Owner, "losing create must not overwrite")
}

func getMissing(t *testing.T, s store.Store) {
	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func updateMissing(t *testing.T, s store.Store) {
	l := newLease("missing", "a")
	l.Version = store.InitialVersion

	_, err := s.Update(context.Background(), l)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func updateIncrementsVersion(t *testing.T, s store.Store) {
	ctx := context.Background()

	current, err := s.Create(ctx, newLease("x", "a"))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		next := current.Clone()
		next.Owner = fmt.Sprintf("owner-%d", i)
		next.Expiry = current.Expiry.Add(time.Second)

		updated, err := s.Update(ctx, next)
		require.NoError(t, err)
		require.Equal(t, current.Version+1, updated.Version, "version must grow by exactly one")
		require.Equal(t, next.Owner, updated.Owner)

		got, err := s.Get(ctx, "x")
		require.NoError(t, err)
		require.Equal(t, updated.Version, got.Version)
		require.Equal(t, next.Owner, got.Owner)
		require.True(t, next.Expiry.Equal(got.Expiry))

		current = got
	}
}

func staleUpdateRejected(t *testing.T, s store.Store) {
	ctx := context.Background()

	created, err := s.Create(ctx, newLease("x", "a"))
	require.NoError(t, err)

	first := created.Clone()
	first.Owner = "b"
	_, err = s.Update(ctx, first)
	require.NoError(t, err)

	//reuse the version that was just consumed
	stale := created.Clone()
	stale.Owner = "c"
	_, err = s.Update(ctx, stale)
	require.ErrorIs(t, err, types.ErrConflict)

	got, err := s.Get(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, "b", got.Owner, "stale update must leave the record unchanged")
	require.Equal(t, store.InitialVersion+1, got.Version)
}

func returnedLeaseIsCopy(t *testing.T, s store.Store) {
	ctx := context.Background()

	created, err := s.Create(ctx, newLease("x", "a"))
	require.NoError(t, err)
	created.Owner = "mutated"

	got, err := s.Get(ctx, "x")
	require.NoError(t, err)
	got.Owner = "mutated-again"

	again, err := s.Get(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, "a", again.Owner)
}

func concurrentCreateOneWins(t *testing.T, s store.Store) {
	const racers = 8
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Create(ctx, newLease("race", fmt.Sprintf("owner-%d", i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case isConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected create error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, winners, "exactly one create must win")
	require.Equal(t, racers-1, conflicts)
}

func concurrentUpdateOneWins(t *testing.T, s store.Store) {
	const racers = 8
	ctx := context.Background()

	created, err := s.Create(ctx, newLease("race", "a"))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := created.Clone()
			next.Owner = fmt.Sprintf("owner-%d", i)
			_, err := s.Update(ctx, next)
			if err != nil && !isConflict(err) {
				t.Errorf("unexpected update error: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				winners = append(winners, next.Owner)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1, "exactly one update per version must win")

	got, err := s.Get(ctx, "race")
	require.NoError(t, err)
	require.Equal(t, created.Version+1, got.Version)
	require.Equal(t, winners[0], got.Owner)
}

func namesAreIndependent(t *testing.T, s store.Store) {
	ctx := context.Background()

	a, err := s.Create(ctx, newLease("first", "a"))
	require.NoError(t, err)
	_, err = s.Create(ctx, newLease("second", "b"))
	require.NoError(t, err)

	_, err = s.Update(ctx, a)
	require.NoError(t, err)

	second, err := s.Get(ctx, "second")
	require.NoError(t, err)
	require.Equal(t, store.InitialVersion, second.Version)
	require.Equal(t, "b", second.Owner)
}

func isConflict(err error) bool {
	return errors.Is(err, types.ErrConflict)
}
