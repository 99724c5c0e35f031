// Package election turns a lock into a one-shot leadership term.
//
// Run blocks while the term lasts: it acquires the lock, reports leadership
// through the acquired callback, and returns after the lost callback once the
// lock is lost or the context is cancelled. Callers that want to keep seeking
// leadership create a new Election and run it again.
package election

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/metaparticle-io/container-lib/pkg/client"
)

var ErrAlreadyRun = errors.New("election has already been run")

type Election struct {
	lock     *client.Lock
	acquired func()
	lost     func()
	logger   hclog.Logger

	ran          atomic.Bool
	acquiredOnce sync.Once
	lostOnce     sync.Once
	lostCh       chan struct{}
}

type options struct {
	lockOpts []client.LockOption
	logger   hclog.Logger
}

type Option func(*options)

func WithInterval(d time.Duration) Option {
	return func(o *options) { o.lockOpts = append(o.lockOpts, client.WithInterval(d)) }
}

func WithReleaseTimeout(d time.Duration) Option {
	return func(o *options) { o.lockOpts = append(o.lockOpts, client.WithReleaseTimeout(d)) }
}

func WithLogger(l hclog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// nil callbacks are allowed
func New(c *client.Client, name string, acquired, lost func(), opts ...Option) *Election {
	o := &options{logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(o)
	}

	e := &Election{
		acquired: acquired,
		lost:     lost,
		logger:   o.logger.With("election", name),
		lostCh:   make(chan struct{}),
	}

	lockOpts := append(o.lockOpts, client.WithListener(listener{e}), client.WithLockLogger(o.logger))
	e.lock = c.NewLock(name, lockOpts...)
	return e
}

// passes through to the underlying lock
func (e *Election) SetFlakyForTesting(src client.RandSource, probability float64) {
	e.lock.SetFlakyForTesting(src, probability)
}

// blocks for one leadership term
// returns nil after leadership was lost, ctx.Err() if cancelled, the lost
// callback has run by then whenever the acquired callback ran
func (e *Election) Run(ctx context.Context) error {
	if !e.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}

	if err := e.lock.Acquire(ctx); err != nil {
		return err
	}

	select {
	case <-e.lostCh:
		return nil
	case <-ctx.Done():
	}

	e.logger.Info("stepping down")
	if err := e.lock.Release(); err != nil && !errors.Is(err, client.ErrNotHeld) {
		e.logger.Warn("failed to release lock", "error", err)
	}
	<-e.lostCh
	return ctx.Err()
}

// adapts the election to client.Listener
type listener struct {
	e *Election
}

func (l listener) Acquired() { l.e.onAcquired() }
func (l listener) Lost()     { l.e.onLost() }

func (e *Election) onAcquired() {
	e.acquiredOnce.Do(func() {
		e.logger.Info("became leader")
		if e.acquired != nil {
			e.acquired()
		}
	})
}

func (e *Election) onLost() {
	e.lostOnce.Do(func() {
		e.logger.Info("lost leadership")
		if e.lost != nil {
			e.lost()
		}
		close(e.lostCh)
	})
}
