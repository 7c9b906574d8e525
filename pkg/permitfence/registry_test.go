package permitfence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/yourusername/permitfence/store"
)

func TestNewRegistry(t *testing.T) {
	tests := []struct {
		name    string
		store   store.Store
		opts    []Option
		wantErr bool
	}{
		{
			name:  "default registry",
			store: store.NewMemoryStore(),
		},
		{
			name:  "with config option",
			store: store.NewMemoryStore(),
			opts:  []Option{WithConfig(NewConfig())},
		},
		{
			name:  "multiple options",
			store: store.NewMemoryStore(),
			opts: []Option{
				WithLease(time.Second, 0),
				WithPollInterval(5 * time.Millisecond),
				WithTracerProvider(noop.NewTracerProvider()),
				WithMetrics(&fakeRecorder{}),
			},
		},
		{
			name:    "nil store",
			store:   nil,
			wantErr: true,
		},
		{
			name:    "nil config",
			store:   store.NewMemoryStore(),
			opts:    []Option{WithConfig(nil)},
			wantErr: true,
		},
		{
			name:    "nil logger",
			store:   store.NewMemoryStore(),
			opts:    []Option{WithLogger(nil)},
			wantErr: true,
		},
		{
			name:    "zero lease",
			store:   store.NewMemoryStore(),
			opts:    []Option{WithLease(0, 0)},
			wantErr: true,
		},
		{
			name:    "zero poll interval",
			store:   store.NewMemoryStore(),
			opts:    []Option{WithPollInterval(0)},
			wantErr: true,
		},
		{
			name:  "invalid config",
			store: store.NewMemoryStore(),
			opts: []Option{WithConfig(&Config{
				Defaults: LimiterConfig{PermitsPerSecond: 5000},
			})},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, err := NewRegistry(tt.store, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewRegistry() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && registry == nil {
				t.Error("NewRegistry() returned nil registry")
			}
		})
	}
}

func TestRegistry_LeaseSettings(t *testing.T) {
	config := NewConfig()
	config.Lock = LockConfig{LeaseSeconds: 3, SafetyTimeoutSeconds: 7}

	registry, _, _ := newTestRegistry(t, store.NewMemoryStore(), WithConfig(config))
	limiter := newTestLimiter(t, registry, "api", 10, 1)

	if got := limiter.lock.Lease(); got != 3*time.Second {
		t.Errorf("Lease() = %v, want 3s", got)
	}
	if got := limiter.lock.SafetyTimeout(); got != 7*time.Second {
		t.Errorf("SafetyTimeout() = %v, want 7s", got)
	}
	if got := limiter.lock.Key(); got != "api_lock" {
		t.Errorf("lock Key() = %q, want api_lock", got)
	}

	// explicit lease wins over the configuration
	registry, _, _ = newTestRegistry(t, store.NewMemoryStore(), WithConfig(config), WithLease(2*time.Second, 0))
	limiter = newTestLimiter(t, registry, "api", 10, 1)
	if got := limiter.lock.SafetyTimeout(); got != 10*time.Second {
		t.Errorf("SafetyTimeout() = %v, want 10s", got)
	}
}

func TestRegistry_GetOrCreateDefaults(t *testing.T) {
	registry, _, _ := newTestRegistry(t, store.NewMemoryStore())

	limiter := newTestLimiter(t, registry, "api", 0, 0)
	if limiter.PermitsPerSecond() != DefaultPermitsPerSecond {
		t.Errorf("PermitsPerSecond() = %d, want %d", limiter.PermitsPerSecond(), DefaultPermitsPerSecond)
	}
	if limiter.MaxBurstSeconds() != 60 {
		t.Errorf("MaxBurstSeconds() = %d, want 60", limiter.MaxBurstSeconds())
	}
	if limiter.Key() != "api" {
		t.Errorf("Key() = %q, want api", limiter.Key())
	}
}

func TestRegistry_GetOrCreateRejectsInvalidArguments(t *testing.T) {
	registry, _, _ := newTestRegistry(t, store.NewMemoryStore())

	tests := []struct {
		name    string
		key     string
		pps     int64
		burst   int64
		wantErr error
	}{
		{name: "empty key", key: "", pps: 10, wantErr: ErrInvalidKey},
		{name: "negative rate", key: "a", pps: -1, wantErr: ErrInvalidArgument},
		{name: "rate above millisecond resolution", key: "a", pps: 1001, wantErr: ErrInvalidArgument},
		{name: "negative burst", key: "a", pps: 10, burst: -1, wantErr: ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.GetOrCreate(tt.key, tt.pps, tt.burst)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("GetOrCreate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if registry.Len() != 0 {
		t.Errorf("Len() = %d, want 0", registry.Len())
	}
}

func TestRegistry_ExistingLimiterWins(t *testing.T) {
	registry, _, _ := newTestRegistry(t, store.NewMemoryStore())

	first := newTestLimiter(t, registry, "api", 10, 5)
	second := newTestLimiter(t, registry, "api", 500, 1)

	if first != second {
		t.Fatal("GetOrCreate() returned a new limiter for an existing key")
	}
	if second.PermitsPerSecond() != 10 || second.MaxBurstSeconds() != 5 {
		t.Errorf("limiter = %d/%d, want original 10/5", second.PermitsPerSecond(), second.MaxBurstSeconds())
	}
}

func TestRegistry_ConstructOnceUnderConcurrency(t *testing.T) {
	registry, _, _ := newTestRegistry(t, store.NewMemoryStore())

	const callers = 64
	limiters := make([]*Limiter, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			limiter, err := registry.GetOrCreate("hot-key", 10, 1)
			if err != nil {
				t.Errorf("GetOrCreate() error: %v", err)
				return
			}
			limiters[i] = limiter
		}(i)
	}
	wg.Wait()

	for i, limiter := range limiters {
		if limiter != limiters[0] {
			t.Fatalf("caller %d got a different limiter", i)
		}
	}
	if registry.Len() != 1 {
		t.Errorf("Len() = %d, want 1", registry.Len())
	}
	if registry.locks.Len() != 1 {
		t.Errorf("locks Len() = %d, want 1", registry.locks.Len())
	}
}

func TestRegistry_GetUsesConfiguredLimiters(t *testing.T) {
	config := NewConfig()
	config.Defaults = LimiterConfig{PermitsPerSecond: 20, MaxBurstSeconds: 2}
	if err := config.SetLimiter("payments", LimiterConfig{PermitsPerSecond: 5, MaxBurstSeconds: 10}); err != nil {
		t.Fatalf("SetLimiter() error: %v", err)
	}

	registry, _, _ := newTestRegistry(t, store.NewMemoryStore(), WithConfig(config))

	tests := []struct {
		key       string
		wantPPS   int64
		wantBurst int64
	}{
		{key: "payments", wantPPS: 5, wantBurst: 10},
		{key: "search", wantPPS: 20, wantBurst: 2},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			limiter, err := registry.Get(tt.key)
			if err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			if limiter.PermitsPerSecond() != tt.wantPPS || limiter.MaxBurstSeconds() != tt.wantBurst {
				t.Errorf("limiter = %d/%d, want %d/%d",
					limiter.PermitsPerSecond(), limiter.MaxBurstSeconds(), tt.wantPPS, tt.wantBurst)
			}
		})
	}
}

func TestRegistry_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newTestRegistry(t, store.NewMemoryStore())

	a := newTestLimiter(t, registry, "a", 1, 1)
	b := newTestLimiter(t, registry, "b", 1, 1)

	if wait, _ := a.ReserveN(ctx, 2); wait != time.Second {
		t.Errorf("a.ReserveN(2) = %v, want 1s", wait)
	}
	if wait, _ := b.ReserveN(ctx, 1); wait != 0 {
		t.Errorf("b.ReserveN(1) = %v, want 0", wait)
	}
}

func TestRegistry_TakeoverIsRecorded(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	recorder := &fakeRecorder{}
	registry, _, _ := newTestRegistry(t, s,
		WithMetrics(recorder),
		WithLease(time.Second, 30*time.Millisecond))
	limiter := newTestLimiter(t, registry, "api", 10, 1)

	// a crashed holder left its lock without a TTL
	_ = s.Set(ctx, "api_lock", "crashed", 0)

	if _, err := limiter.ReserveN(ctx, 1); err != nil {
		t.Fatalf("ReserveN() error: %v", err)
	}
	if recorder.takeovers != 1 {
		t.Errorf("takeovers recorded = %d, want 1", recorder.takeovers)
	}
	if _, err := s.Get(ctx, "api_lock"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("lock not released after takeover: %v", err)
	}
}
