package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/yourusername/permitfence/store"
)

const (
	// DefaultLease is how long the store keeps a lock entry alive
	DefaultLease = 10 * time.Second

	// DefaultSafetyFactor times the lease bounds how long Lock waits before taking over
	DefaultSafetyFactor = 5

	// DefaultPollInterval between set-if-absent attempts
	DefaultPollInterval = 10 * time.Millisecond
)

// ErrLockTimeout is returned by TryLock when the budget runs out before the lock is won
var ErrLockTimeout = errors.New("lock acquisition timed out")

// LeaseLock is a mutual-exclusion primitive shared by every process using the same store.
// The store entry is the only source of truth; LeaseLock itself holds no lock state.
//
// Lock trades strict exclusivity for liveness: once the safety timeout elapses it
// overwrites the entry even if the previous holder never released it. A holder that
// stalled past that point and then resumes still believes it owns the lock, so two
// holders can overlap for as long as the stalled one keeps running.
type LeaseLock struct {
	key           string
	store         store.Store
	lease         time.Duration
	safetyTimeout time.Duration
	pollInterval  time.Duration
	owners        *IdentitySource
	logger        *slog.Logger
	onTakeover    func(key string)
}

// Option configures a LeaseLock.
type Option func(*LeaseLock)

// WithPollInterval sets the pause between set-if-absent attempts.
func WithPollInterval(d time.Duration) Option {
	return func(l *LeaseLock) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithLogger sets the logger used for acquire, release and takeover events.
func WithLogger(logger *slog.Logger) Option {
	return func(l *LeaseLock) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithIdentity sets the source of owner identities.
func WithIdentity(owners *IdentitySource) Option {
	return func(l *LeaseLock) {
		if owners != nil {
			l.owners = owners
		}
	}
}

// WithTakeoverHook registers fn to be called whenever Lock forcibly overwrites a stale holder.
func WithTakeoverHook(fn func(key string)) Option {
	return func(l *LeaseLock) {
		l.onTakeover = fn
	}
}

// New creates a LeaseLock on key. A zero lease means DefaultLease and a zero
// safetyTimeout means DefaultSafetyFactor times the lease.
func New(key string, s store.Store, lease, safetyTimeout time.Duration, opts ...Option) *LeaseLock {
	if lease <= 0 {
		lease = DefaultLease
	}
	if safetyTimeout <= 0 {
		safetyTimeout = DefaultSafetyFactor * lease
	}

	l := &LeaseLock{
		key:           key,
		store:         s,
		lease:         lease,
		safetyTimeout: safetyTimeout,
		pollInterval:  DefaultPollInterval,
		owners:        defaultIdentity,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key returns the store key guarded by this lock.
func (l *LeaseLock) Key() string { return l.key }

// Lease returns the TTL applied to the lock entry.
func (l *LeaseLock) Lease() time.Duration { return l.lease }

// SafetyTimeout returns how long Lock polls before taking over.
func (l *LeaseLock) SafetyTimeout() time.Duration { return l.safetyTimeout }

// TryLock polls for the lock for at most budget. It returns ErrLockTimeout when
// the budget runs out, or the context error if ctx ends first.
func (l *LeaseLock) TryLock(ctx context.Context, budget time.Duration) (*Lease, error) {
	owner := l.owners.Next()

	won, waited, err := l.poll(ctx, owner, budget)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, fmt.Errorf("%w: %s after %s", ErrLockTimeout, l.key, waited)
	}

	if err := l.store.Expire(ctx, l.key, l.lease); err != nil {
		// an entry without TTL would only be reclaimed by a takeover
		_ = l.store.Delete(context.WithoutCancel(ctx), l.key)
		return nil, err
	}

	l.logger.Debug("lease acquired", "key", l.key, "owner", owner, "waited", waited)
	return &Lease{lock: l, owner: owner}, nil
}

// Lock polls for the lock until it is won or the safety timeout elapses, then
// takes the lock over unconditionally. Only ctx cancellation or a store failure
// makes it return without a Lease.
func (l *LeaseLock) Lock(ctx context.Context) (*Lease, error) {
	owner := l.owners.Next()

	won, waited, err := l.poll(ctx, owner, l.safetyTimeout)
	if err != nil {
		return nil, err
	}

	// the set also refreshes the TTL, so a won entry gets its lease in the same call
	if err := l.store.Set(ctx, l.key, owner, l.lease); err != nil {
		if won {
			_ = l.store.Delete(context.WithoutCancel(ctx), l.key)
		}
		return nil, err
	}

	if !won {
		l.logger.Warn("lease taken over after safety timeout",
			"key", l.key,
			"owner", owner,
			"safety_timeout", l.safetyTimeout)
		if l.onTakeover != nil {
			l.onTakeover(l.key)
		}
	} else {
		l.logger.Debug("lease acquired", "key", l.key, "owner", owner, "waited", waited)
	}

	return &Lease{lock: l, owner: owner, forced: !won}, nil
}

// poll retries set-if-absent every pollInterval until it succeeds or wait elapses.
func (l *LeaseLock) poll(ctx context.Context, owner string, wait time.Duration) (bool, time.Duration, error) {
	start := time.Now()
	for {
		ok, err := l.store.SetIfAbsent(ctx, l.key, owner)
		if err != nil {
			return false, time.Since(start), err
		}
		if ok {
			return true, time.Since(start), nil
		}

		waited := time.Since(start)
		if waited >= wait {
			return false, waited, nil
		}
		if err := sleep(ctx, min(l.pollInterval, wait-waited)); err != nil {
			return false, time.Since(start), err
		}
	}
}

// Lease is a held LeaseLock. Release it exactly once; further calls are no-ops.
type Lease struct {
	lock     *LeaseLock
	owner    string
	forced   bool
	released atomic.Bool
}

// Owner returns the identity written to the store for this lease.
func (le *Lease) Owner() string { return le.owner }

// Forced reports whether the lease was obtained by overwriting a stale holder.
func (le *Lease) Forced() bool { return le.forced }

// Release deletes the lock entry if it still carries this lease's owner.
// If the lease expired and someone else holds the lock now, it is left alone.
//
// The read and the delete are two store calls, so a takeover landing between
// them can still be deleted.
func (le *Lease) Release(ctx context.Context) error {
	if !le.released.CompareAndSwap(false, true) {
		return nil
	}

	l := le.lock
	current, err := l.store.Get(ctx, l.key)
	if errors.Is(err, store.ErrNotFound) {
		l.logger.Debug("lease already expired", "key", l.key, "owner", le.owner)
		return nil
	}
	if err != nil {
		return err
	}
	if current != le.owner {
		l.logger.Debug("lease held by another owner, not releasing",
			"key", l.key,
			"owner", le.owner,
			"current", current)
		return nil
	}

	if err := l.store.Delete(ctx, l.key); err != nil {
		return err
	}
	l.logger.Debug("lease released", "key", l.key, "owner", le.owner)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
