package permitfence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourusername/permitfence/core"
	"github.com/yourusername/permitfence/lock"
	"github.com/yourusername/permitfence/store"
)

// lockSuffix names the lease lock guarding a limiter key
const lockSuffix = "_lock"

// Registry hands out exactly one Limiter per key for the lifetime of the process.
// Entries are never evicted or reconfigured.
type Registry struct {
	limiters map[string]*Limiter
	mu       sync.RWMutex

	store         store.Store
	locks         *lock.Registry
	config        *Config
	lease         time.Duration
	safetyTimeout time.Duration
	pollInterval  time.Duration

	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
	logger  *slog.Logger
	metrics Recorder
	tracer  trace.Tracer
}

// NewRegistry creates a Registry whose limiters coordinate through s.
//
// Example:
//
//	registry, err := NewRegistry(store.NewRedisStore(store.RedisConfig{Addr: "localhost:6379"}),
//	    WithConfigFile("permitfence.yaml"),
//	)
func NewRegistry(s store.Store, opts ...Option) (*Registry, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: store cannot be nil", ErrInvalidConfig)
	}

	r := &Registry{
		limiters:     make(map[string]*Limiter),
		store:        s,
		config:       NewConfig(),
		pollInterval: lock.DefaultPollInterval,
		now:          time.Now,
		sleep:        sleepContext,
		logger:       slog.Default(),
		metrics:      noopRecorder{},
		tracer:       otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// explicit lease options win over the configuration
	if r.lease == 0 {
		r.lease = r.config.Lock.Lease()
		r.safetyTimeout = r.config.Lock.SafetyTimeout()
	}

	r.locks = lock.NewRegistry(s,
		lock.WithLogger(r.logger),
		lock.WithPollInterval(r.pollInterval),
		lock.WithTakeoverHook(r.metrics.RecordTakeover),
	)

	return r, nil
}

// Config returns the configuration the registry was built with.
func (r *Registry) Config() *Config {
	return r.config
}

// Get returns the limiter for key using the rate configured for it,
// or the default rate when the key has no entry.
func (r *Registry) Get(key string) (*Limiter, error) {
	limiter := r.config.LimiterFor(key)
	return r.GetOrCreate(key, limiter.PermitsPerSecond, limiter.MaxBurstSeconds)
}

// GetOrCreate returns the limiter for key, creating it on first use.
// A permitsPerSecond of 0 means 60 and a maxBurstSeconds of 0 means 60.
//
// Once a limiter exists its parameters are fixed: later calls with different
// values get the existing limiter.
func (r *Registry) GetOrCreate(key string, permitsPerSecond, maxBurstSeconds int64) (*Limiter, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	if permitsPerSecond == 0 {
		permitsPerSecond = DefaultPermitsPerSecond
	}
	if permitsPerSecond < 0 || permitsPerSecond > MaxPermitsPerSecond {
		return nil, fmt.Errorf("%w: permits per second must be between 1 and %d, got %d",
			ErrInvalidArgument, MaxPermitsPerSecond, permitsPerSecond)
	}
	if maxBurstSeconds < 0 {
		return nil, fmt.Errorf("%w: max burst seconds cannot be negative, got %d",
			ErrInvalidArgument, maxBurstSeconds)
	}
	if maxBurstSeconds == 0 {
		maxBurstSeconds = core.DefaultMaxBurstSeconds
	}

	// Try read lock first (fast path - limiter exists)
	r.mu.RLock()
	limiter, exists := r.limiters[key]
	r.mu.RUnlock()

	if exists {
		r.checkParams(limiter, permitsPerSecond, maxBurstSeconds)
		return limiter, nil
	}

	// Limiter doesn't exist, acquire write lock to create it
	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check: another goroutine might have created it
	if limiter, exists = r.limiters[key]; exists {
		r.checkParams(limiter, permitsPerSecond, maxBurstSeconds)
		return limiter, nil
	}

	limiter = &Limiter{
		key:              key,
		permitsPerSecond: permitsPerSecond,
		maxBurstSeconds:  maxBurstSeconds,
		lock:             r.locks.Get(key+lockSuffix, r.lease, r.safetyTimeout),
		store:            r.store,
		now:              r.now,
		sleep:            r.sleep,
		logger:           r.logger.With("limiter", key),
		metrics:          r.metrics,
		tracer:           r.tracer,
	}
	r.limiters[key] = limiter

	r.logger.Debug("limiter created",
		"key", key,
		"permits_per_second", permitsPerSecond,
		"max_burst_seconds", maxBurstSeconds)

	return limiter, nil
}

// Len returns the number of limiters created so far.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}

func (r *Registry) checkParams(l *Limiter, permitsPerSecond, maxBurstSeconds int64) {
	if l.permitsPerSecond == permitsPerSecond && l.maxBurstSeconds == maxBurstSeconds {
		return
	}
	r.logger.Debug("limiter already exists with different parameters, keeping existing",
		"key", l.key,
		"permits_per_second", l.permitsPerSecond,
		"max_burst_seconds", l.maxBurstSeconds,
		"requested_permits_per_second", permitsPerSecond,
		"requested_max_burst_seconds", maxBurstSeconds)
}
