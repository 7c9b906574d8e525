// Package permitfence provides a rate limiter shared by every process that talks to the same store.
//
// Each limiter is a token bucket whose state lives in a shared key-value store (Redis in
// production). Processes never talk to each other: every decision locks the key with a lease
// lock, reads the bucket, updates it and writes it back before releasing the lock.
//
// # Quick Start
//
//	registry, err := permitfence.NewRegistry(
//	    store.NewRedisStore(store.RedisConfig{Addr: "localhost:6379"}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	limiter, err := registry.GetOrCreate("payments-api", 10, 30)  // 10/sec, bank up to 30s
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Block until a permit is available
//	waited, err := limiter.Acquire(ctx)
//
//	// Or give up when the wait would exceed a deadline
//	ok, err := limiter.TryAcquireN(ctx, 5, 200*time.Millisecond)
//
// # Reservations
//
// ReserveN commits a reservation and returns the wait without sleeping. Callers can queue
// many reservations and each one sleeps on its own. AcquireN is ReserveN followed by a
// context-aware sleep. A rejected TryAcquireN leaves the stored bucket untouched.
//
// # Configuration
//
// Load configuration from YAML file:
//
//	registry, err := permitfence.NewRegistry(s,
//	    permitfence.WithConfigFile("permitfence.yaml"),
//	)
//
// Example YAML configuration:
//
//	store:
//	  addr: "localhost:6379"
//	  prefix: "permitfence:"
//
//	lock:
//	  lease_seconds: 10
//	  safety_timeout_seconds: 50
//
//	defaults:
//	  permits_per_second: 60
//	  max_burst_seconds: 60
//
//	limiters:
//	  "payments-api":
//	    permits_per_second: 5
//	    max_burst_seconds: 10
//
// # Lease Lock
//
// Lock entries are named after the limiter key with a "_lock" suffix. A caller that cannot
// win the lock within the safety timeout takes it over. This keeps a crashed holder from
// blocking the key forever, at the price of a short window in which two holders may overlap.
//
// # Accuracy
//
// Time is counted in integer milliseconds and permits are generated with floor division,
// so rates above 1000 permits per second are rejected. The limiter trusts each process's
// wall clock; hosts with skewed clocks will see skewed schedules.
package permitfence
