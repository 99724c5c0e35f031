package server

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/metaparticle-io/container-lib/pkg/clock"
	"github.com/metaparticle-io/container-lib/pkg/metrics"
	"github.com/metaparticle-io/container-lib/pkg/store"
	"github.com/metaparticle-io/container-lib/pkg/types"
)

const DefaultTTL = 30 * time.Second

// outcome of judging a request against the stored lease
type action int

const (
	actionReject    action = iota // another owner holds an unexpired lease
	actionTakeover                // lease expired, anyone may claim it
	actionRenew                   // owner past half-life, extend it
	actionHeartbeat               // owner with more than half the ttl left, nothing to write
)

func (a action) String() string {
	switch a {
	case actionTakeover:
		return "takeover"
	case actionRenew:
		return "renew"
	case actionHeartbeat:
		return "heartbeat"
	default:
		return "reject"
	}
}

// the renew-or-takeover rule
// expiry wins over ownership: an expired lease is taken over even by its own owner
func decide(current *types.Lease, requester string, now time.Time, ttl time.Duration) action {
	remaining := current.Remaining(now)
	switch {
	case remaining < 0:
		return actionTakeover
	case current.Owner != requester:
		return actionReject
	case remaining < ttl/2:
		return actionRenew
	default:
		return actionHeartbeat
	}
}

// serves the lease protocol over a store
// holds no lease state of its own, every request is one read plus at most one write
type Server struct {
	store    store.Store
	ttl      time.Duration
	clock    clock.Clock
	identity string
	logger   hclog.Logger
}

type Option func(*Server)

// lease duration granted on create and renewal
func WithTTL(ttl time.Duration) Option {
	return func(s *Server) { s.ttl = ttl }
}

func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// requester used when a request names none, the server acting for its own host
func WithIdentity(id string) Option {
	return func(s *Server) { s.identity = id }
}

func WithLogger(l hclog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func NewServer(st store.Store, opts ...Option) *Server {
	s := &Server{
		store:  st,
		ttl:    DefaultTTL,
		clock:  clock.New(),
		logger: hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) TTL() time.Duration {
	return s.ttl
}

func (s *Server) requester(r string) string {
	if r == "" {
		return s.identity
	}
	return r
}

// returns the stored lease, types.ErrNotFound if absent
func (s *Server) Get(ctx context.Context, name string) (*types.Lease, error) {
	return s.store.Get(ctx, name)
}

// creates the lease for requester, types.ErrConflict if any record exists
func (s *Server) Create(ctx context.Context, name, requester string) (*types.Lease, error) {
	requester = s.requester(requester)

	if _, err := s.store.Get(ctx, name); err == nil {
		return nil, types.ErrConflict
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	return s.create(ctx, name, requester)
}

// claims or renews the lease for requester
// on reject the current lease is returned together with types.ErrLeaseHeld
func (s *Server) Renew(ctx context.Context, name, requester string) (*types.Lease, error) {
	requester = s.requester(requester)

	current, err := s.store.Get(ctx, name)
	if errors.Is(err, types.ErrNotFound) {
		return s.create(ctx, name, requester)
	}
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	act := decide(current, requester, now, s.ttl)
	metrics.LeaseDecisionTotal.WithLabelValues(act.String()).Inc()

	switch act {
	case actionHeartbeat:
		return current, nil

	case actionReject:
		s.logger.Debug("lease held", "name", name, "owner", current.Owner, "requester", requester)
		return current, types.ErrLeaseHeld

	default:
		next := current.Clone()
		next.Owner = requester
		next.Expiry = now.Add(s.ttl)

		updated, err := s.store.Update(ctx, next)
		if err != nil {
			return nil, err
		}

		if act == actionTakeover {
			s.logger.Info("lease taken over", "name", name, "from", current.Owner, "to", requester, "version", updated.Version)
		} else {
			s.logger.Debug("lease renewed", "name", name, "owner", requester, "version", updated.Version)
		}
		return updated, nil
	}
}

func (s *Server) create(ctx context.Context, name, requester string) (*types.Lease, error) {
	created, err := s.store.Create(ctx, &types.Lease{
		Name:   name,
		Owner:  requester,
		Expiry: s.clock.Now().Add(s.ttl),
	})
	if err != nil {
		return nil, err
	}

	metrics.LeaseDecisionTotal.WithLabelValues("create").Inc()
	s.logger.Info("lease created", "name", name, "owner", requester)
	return created, nil
}
