package permitfence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourusername/permitfence/core"
	"github.com/yourusername/permitfence/lock"
	"github.com/yourusername/permitfence/store"
)

const tracerName = "github.com/yourusername/permitfence"

// Recorder receives the outcome of limiter operations.
type Recorder interface {
	RecordDecision(key string, acquired bool, wait time.Duration)
	RecordTakeover(key string)
	RecordStoreError(key string)
}

type noopRecorder struct{}

func (noopRecorder) RecordDecision(string, bool, time.Duration) {}
func (noopRecorder) RecordTakeover(string)                      {}
func (noopRecorder) RecordStoreError(string)                    {}

// Limiter is a token bucket whose state lives in the shared store under Key.
// Every read-modify-write of that state happens while holding the key's lease lock,
// so all processes sharing the store see one consistent schedule.
//
// Limiters are created by a Registry and are safe for concurrent use.
type Limiter struct {
	key              string
	permitsPerSecond int64
	maxBurstSeconds  int64

	lock    *lock.LeaseLock
	store   store.Store
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
	logger  *slog.Logger
	metrics Recorder
	tracer  trace.Tracer
}

// Key returns the store key holding this limiter's permits.
func (l *Limiter) Key() string { return l.key }

// PermitsPerSecond returns the steady refill rate.
func (l *Limiter) PermitsPerSecond() int64 { return l.permitsPerSecond }

// MaxBurstSeconds returns how many seconds of permits can be banked.
func (l *Limiter) MaxBurstSeconds() int64 { return l.maxBurstSeconds }

// ReserveN commits a reservation of tokens and returns how long the caller must
// wait before using them. It does not wait itself, so many callers can queue
// reservations without serializing on the sleep.
func (l *Limiter) ReserveN(ctx context.Context, tokens int64) (time.Duration, error) {
	if err := checkTokens(tokens); err != nil {
		return 0, err
	}

	ctx, span := l.startSpan(ctx, "permitfence.Reserve", tokens)
	defer span.End()

	wait, err := l.reserve(ctx, tokens)
	if err != nil {
		l.fail(span, err)
		return 0, err
	}

	span.SetAttributes(attribute.Int64("permitfence.wait_ms", wait.Milliseconds()))
	l.metrics.RecordDecision(l.key, true, wait)
	return wait, nil
}

// AcquireN reserves tokens and blocks until they may be used.
// It returns the time spent waiting. If ctx ends during the wait the
// reservation stays committed and ctx.Err() is returned.
func (l *Limiter) AcquireN(ctx context.Context, tokens int64) (time.Duration, error) {
	wait, err := l.ReserveN(ctx, tokens)
	if err != nil {
		return 0, err
	}
	if err := l.sleep(ctx, wait); err != nil {
		return wait, err
	}
	return wait, nil
}

// Acquire is AcquireN(ctx, 1).
func (l *Limiter) Acquire(ctx context.Context) (time.Duration, error) {
	return l.AcquireN(ctx, 1)
}

// TryAcquireN acquires tokens only if they become available within timeout.
// When they would not, it returns false straight away and leaves the stored
// state exactly as it found it. Negative timeouts are treated as zero.
func (l *Limiter) TryAcquireN(ctx context.Context, tokens int64, timeout time.Duration) (bool, error) {
	if err := checkTokens(tokens); err != nil {
		return false, err
	}

	ctx, span := l.startSpan(ctx, "permitfence.TryAcquire", tokens)
	defer span.End()

	timeoutMillis := max(timeout.Milliseconds(), 0)
	wait, acquired, err := l.tryReserve(ctx, tokens, timeoutMillis)
	if err != nil {
		l.fail(span, err)
		return false, err
	}

	span.SetAttributes(
		attribute.Bool("permitfence.acquired", acquired),
		attribute.Int64("permitfence.wait_ms", wait.Milliseconds()),
	)
	l.metrics.RecordDecision(l.key, acquired, wait)
	if !acquired {
		return false, nil
	}

	if err := l.sleep(ctx, wait); err != nil {
		return false, err
	}
	return true, nil
}

// TryAcquire is TryAcquireN(ctx, 1, timeout).
func (l *Limiter) TryAcquire(ctx context.Context, timeout time.Duration) (bool, error) {
	return l.TryAcquireN(ctx, 1, timeout)
}

// Peek returns the stored permits without locking or refilling them.
// The bool is false when the key has no state yet.
func (l *Limiter) Peek(ctx context.Context) (core.Permits, bool, error) {
	permits, found, err := l.load(ctx, l.now().UnixMilli())
	if err != nil {
		return core.Permits{}, false, err
	}
	return *permits, found, nil
}

func (l *Limiter) reserve(ctx context.Context, tokens int64) (time.Duration, error) {
	lease, err := l.lock.Lock(ctx)
	if err != nil {
		return 0, err
	}
	defer l.release(ctx, lease)

	nowMillis := l.now().UnixMilli()
	permits, _, err := l.load(ctx, nowMillis)
	if err != nil {
		return 0, err
	}

	waitMillis := permits.Reserve(tokens, nowMillis)
	if err := l.save(ctx, permits, nowMillis); err != nil {
		return 0, err
	}
	return core.MillisToDuration(waitMillis), nil
}

func (l *Limiter) tryReserve(ctx context.Context, tokens, timeoutMillis int64) (time.Duration, bool, error) {
	lease, err := l.lock.Lock(ctx)
	if err != nil {
		return 0, false, err
	}
	defer l.release(ctx, lease)

	nowMillis := l.now().UnixMilli()
	permits, _, err := l.load(ctx, nowMillis)
	if err != nil {
		return 0, false, err
	}

	earliest := permits.EarliestAvailable(tokens, nowMillis)
	if earliest-timeoutMillis > 0 {
		l.logger.Debug("permits not available within timeout",
			"key", l.key,
			"tokens", tokens,
			"earliest_ms", earliest,
			"timeout_ms", timeoutMillis)
		return core.MillisToDuration(earliest), false, nil
	}

	waitMillis := permits.Reserve(tokens, nowMillis)
	if err := l.save(ctx, permits, nowMillis); err != nil {
		return 0, false, err
	}
	return core.MillisToDuration(waitMillis), true, nil
}

// load reads the permits for this key. A missing record yields fresh defaults
// that are only written once a reservation commits.
func (l *Limiter) load(ctx context.Context, nowMillis int64) (*core.Permits, bool, error) {
	value, err := l.store.Get(ctx, l.key)
	if errors.Is(err, store.ErrNotFound) {
		return core.NewPermits(l.permitsPerSecond, l.maxBurstSeconds, nowMillis), false, nil
	}
	if err != nil {
		l.storeFailed(err)
		return nil, false, fmt.Errorf("failed to load permits for %s: %w", l.key, err)
	}

	permits, err := core.Decode(value)
	if err != nil {
		l.logger.Warn("replacing unreadable permits with defaults", "key", l.key, "error", err)
		return core.NewPermits(l.permitsPerSecond, l.maxBurstSeconds, nowMillis), false, nil
	}
	return permits, true, nil
}

func (l *Limiter) save(ctx context.Context, permits *core.Permits, nowMillis int64) error {
	value, err := core.Encode(permits)
	if err != nil {
		return err
	}
	if err := l.store.Set(ctx, l.key, value, permits.Expiry(nowMillis)); err != nil {
		l.storeFailed(err)
		return fmt.Errorf("failed to save permits for %s: %w", l.key, err)
	}
	return nil
}

// release runs on every exit path, including a cancelled ctx.
// A failed release is only logged: the lease expires on its own.
func (l *Limiter) release(ctx context.Context, lease *lock.Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		l.storeFailed(err)
		l.logger.Error("failed to release lease", "key", l.key, "owner", lease.Owner(), "error", err)
	}
}

func (l *Limiter) storeFailed(err error) {
	if errors.Is(err, store.ErrUnavailable) {
		l.metrics.RecordStoreError(l.key)
	}
}

func (l *Limiter) startSpan(ctx context.Context, name string, tokens int64) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("permitfence.key", l.key),
		attribute.Int64("permitfence.tokens", tokens),
	))
}

func (l *Limiter) fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func checkTokens(tokens int64) error {
	if tokens <= 0 {
		return fmt.Errorf("%w: requested tokens %d must be positive", ErrInvalidArgument, tokens)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
