package client

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/metaparticle-io/container-lib/pkg/metrics"
)

const (
	DefaultInterval       = 10 * time.Second
	DefaultReleaseTimeout = 10 * time.Second

	// chance per renewal round that fault injection skips the round
	DefaultFaultProbability = 0.5
	// a skipped round waits this many intervals
	FaultMultiplier = 5
)

var (
	ErrNotReentrant = errors.New("lock is already held or being acquired")
	ErrNotHeld      = errors.New("lock is not held")
)

// notified when the lock is gained and when it is lost or released
// both are called from lock goroutines and must not block for long
type Listener interface {
	Acquired()
	Lost()
}

// adapts two funcs to a Listener, nil funcs are skipped
type ListenerFuncs struct {
	OnAcquired func()
	OnLost     func()
}

func (f ListenerFuncs) Acquired() {
	if f.OnAcquired != nil {
		f.OnAcquired()
	}
}

func (f ListenerFuncs) Lost() {
	if f.OnLost != nil {
		f.OnLost()
	}
}

// randomness behind fault injection, *rand.Rand satisfies it
type RandSource interface {
	Float64() float64
}

// a named lease held through one Client
// Acquire blocks until the lease is won, a goroutine then keeps it renewed
// until it is lost or released
type Lock struct {
	client         *Client
	name           string
	interval       time.Duration
	releaseTimeout time.Duration
	listener       Listener
	logger         hclog.Logger
	exit           func(code int)

	mu        sync.Mutex
	acquiring bool
	maint     *maintainer // non-nil while held
	faultSrc  RandSource
	faultProb float64
}

type LockOption func(*Lock)

// wait between acquire attempts and between renewals
func WithInterval(d time.Duration) LockOption {
	return func(l *Lock) { l.interval = d }
}

func WithReleaseTimeout(d time.Duration) LockOption {
	return func(l *Lock) { l.releaseTimeout = d }
}

func WithListener(ln Listener) LockOption {
	return func(l *Lock) { l.listener = ln }
}

func WithLockLogger(lg hclog.Logger) LockOption {
	return func(l *Lock) { l.logger = lg }
}

// replaces os.Exit, called when the lock is lost with no listener registered
func WithExitFunc(fn func(code int)) LockOption {
	return func(l *Lock) { l.exit = fn }
}

func (c *Client) NewLock(name string, opts ...LockOption) *Lock {
	l := &Lock{
		client:         c,
		name:           name,
		interval:       DefaultInterval,
		releaseTimeout: DefaultReleaseTimeout,
		logger:         c.logger.Named("lock").With("lock", name),
		exit:           os.Exit,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Lock) Name() string {
	return l.name
}

// skips renewal rounds at random so the lease lapses, for exercising failover
// a nil src seeds one from the clock
func (l *Lock) SetFlakyForTesting(src RandSource, probability float64) {
	if src == nil {
		src = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.faultSrc = src
	l.faultProb = probability
}

func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maint != nil
}

// blocks until the lease is held or ctx is done
// fails with ErrNotReentrant if held or another Acquire is running
func (l *Lock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.acquiring || l.maint != nil {
		l.mu.Unlock()
		return ErrNotReentrant
	}
	l.acquiring = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.acquiring = false
		l.mu.Unlock()
	}()

	for !l.tryAcquire(ctx) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.interval):
		}
	}

	m := newMaintainer()
	l.mu.Lock()
	l.maint = m
	l.mu.Unlock()

	metrics.Leader.WithLabelValues(l.name).Set(1)
	l.logger.Info("lock acquired", "owner", l.client.OwnerID())

	go l.maintain(m)

	if l.listener != nil {
		l.listener.Acquired()
	}
	close(m.ready)

	return nil
}

// one GET then PUT round, true if the server granted the lease
func (l *Lock) tryAcquire(ctx context.Context) bool {
	resp, err := l.client.Get(ctx, l.name)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Warn("failed to read lock", "error", err)
		}
		metrics.AcquireAttemptsTotal.WithLabelValues(l.name, "error").Inc()
		return false
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		l.logger.Warn("unexpected status reading lock", "status", resp.StatusCode, "message", resp.Message)
		metrics.AcquireAttemptsTotal.WithLabelValues(l.name, "error").Inc()
		return false
	}

	resp, err = l.client.Put(ctx, l.name)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Warn("failed to claim lock", "error", err)
		}
		metrics.AcquireAttemptsTotal.WithLabelValues(l.name, "error").Inc()
		return false
	}

	switch resp.StatusCode {
	case http.StatusOK:
		metrics.AcquireAttemptsTotal.WithLabelValues(l.name, "acquired").Inc()
		return true
	case http.StatusConflict:
		if resp.Lease != nil {
			l.logger.Debug("lock held", "owner", resp.Lease.Owner, "expiry", resp.Lease.Expiry)
		}
		metrics.AcquireAttemptsTotal.WithLabelValues(l.name, "held").Inc()
	default:
		l.logger.Warn("unexpected status claiming lock", "status", resp.StatusCode, "message", resp.Message)
		metrics.AcquireAttemptsTotal.WithLabelValues(l.name, "error").Inc()
	}
	return false
}

// stops maintenance and waits up to the release timeout for it to exit
// the server is not told, the lease lapses at its expiry
func (l *Lock) Release() error {
	l.mu.Lock()
	m := l.maint
	l.mu.Unlock()
	if m == nil {
		return ErrNotHeld
	}

	m.stop()

	select {
	case <-m.done:
	case <-time.After(l.releaseTimeout):
		l.logger.Warn("timed out waiting for lock maintenance to stop", "timeout", l.releaseTimeout)
	}

	l.mu.Lock()
	if l.maint == m {
		l.maint = nil
	}
	l.mu.Unlock()

	l.logger.Info("lock released")
	return nil
}

// handle on the goroutine keeping one acquisition alive
type maintainer struct {
	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{} // closed once Acquired has been delivered
	done   chan struct{} // closed when the goroutine has exited
}

func newMaintainer() *maintainer {
	ctx, cancel := context.WithCancel(context.Background())
	return &maintainer{
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (m *maintainer) stop() {
	m.cancel()
}

func (l *Lock) maintain(m *maintainer) {
	lost := false
	defer func() { l.finish(m, lost) }()

	for {
		l.mu.Lock()
		src, prob := l.faultSrc, l.faultProb
		l.mu.Unlock()

		wait := l.interval
		fault := src != nil && src.Float64() < prob
		if fault {
			wait = FaultMultiplier * l.interval
			metrics.FaultsInjectedTotal.WithLabelValues(l.name).Inc()
			l.logger.Warn("injected fault, skipping renewal", "wait", wait)
		}

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(wait):
		}

		if fault {
			continue
		}
		if l.renew(m.ctx) {
			lost = true
			return
		}
	}
}

// one renewal round, true if the server says the lease is gone
// transport errors are not a loss, the next round retries
func (l *Lock) renew(ctx context.Context) bool {
	resp, err := l.client.Get(ctx, l.name)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Warn("failed to read lock during renewal", "error", err)
		}
		return false
	}
	if resp.StatusCode != http.StatusOK || resp.Lease == nil {
		l.logger.Warn("lock vanished", "status", resp.StatusCode, "message", resp.Message)
		return true
	}
	if resp.Lease.Owner != l.client.OwnerID() {
		l.logger.Warn("lock taken over", "owner", resp.Lease.Owner)
		return true
	}

	resp, err = l.client.Put(ctx, l.name)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Warn("failed to renew lock", "error", err)
		}
		return false
	}
	if resp.StatusCode != http.StatusOK {
		l.logger.Warn("lock renewal refused", "status", resp.StatusCode, "message", resp.Message)
		return true
	}

	l.logger.Trace("lock renewed")
	return false
}

// clears the handle, reports the loss, then marks the goroutine done
func (l *Lock) finish(m *maintainer, lost bool) {
	<-m.ready
	m.cancel()

	l.mu.Lock()
	if l.maint == m {
		l.maint = nil
	}
	l.mu.Unlock()

	metrics.Leader.WithLabelValues(l.name).Set(0)
	metrics.LeaseLostTotal.WithLabelValues(l.name).Inc()

	switch {
	case l.listener != nil:
		l.listener.Lost()
	case lost:
		l.logger.Error("lock lost with no listener, exiting")
		l.exit(1)
	}

	close(m.done)
}
