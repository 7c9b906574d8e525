package lock

import (
	"sync"
	"time"

	"github.com/yourusername/permitfence/store"
)

// Registry hands out one LeaseLock per key, so that every caller in the process
// agrees on lease and safety timeout for that key.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*LeaseLock
	store store.Store
	opts  []Option
}

// NewRegistry creates a registry whose locks live in s and share opts.
func NewRegistry(s store.Store, opts ...Option) *Registry {
	return &Registry{
		locks: make(map[string]*LeaseLock),
		store: s,
		opts:  opts,
	}
}

// Get returns the lock for key, creating it with lease and safetyTimeout on first use.
// Later calls for the same key return the existing lock and ignore the durations.
func (r *Registry) Get(key string, lease, safetyTimeout time.Duration) *LeaseLock {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.locks[key]; ok {
		return l
	}

	l := New(key, r.store, lease, safetyTimeout, r.opts...)
	r.locks[key] = l
	return l
}

// Len returns the number of locks created so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
