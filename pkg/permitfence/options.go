package permitfence

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Option is a functional option for configuring a Registry.
type Option func(*Registry) error

// WithConfig sets the configuration for the registry.
func WithConfig(config *Config) Option {
	return func(r *Registry) error {
		if config == nil {
			return fmt.Errorf("%w: config cannot be nil", ErrInvalidConfig)
		}
		config.SetDefaults()
		if err := config.Validate(); err != nil {
			return err
		}
		r.config = config
		return nil
	}
}

// WithConfigFile loads configuration from a YAML file.
func WithConfigFile(path string) Option {
	return func(r *Registry) error {
		config, err := LoadConfigFromFile(path)
		if err != nil {
			return err
		}
		r.config = config
		return nil
	}
}

// WithLogger sets the structured logger used by limiters and their locks.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidConfig)
		}
		r.logger = logger
		return nil
	}
}

// WithClock sets the time source used for permit accounting.
// Lock polling always uses the wall clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) error {
		if now == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidConfig)
		}
		r.now = now
		return nil
	}
}

// WithMetrics sets the recorder notified of every decision.
func WithMetrics(recorder Recorder) Option {
	return func(r *Registry) error {
		if recorder == nil {
			return fmt.Errorf("%w: metrics recorder cannot be nil", ErrInvalidConfig)
		}
		r.metrics = recorder
		return nil
	}
}

// WithTracerProvider sets the provider limiters get their tracer from.
// Default: the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Registry) error {
		if tp == nil {
			return fmt.Errorf("%w: tracer provider cannot be nil", ErrInvalidConfig)
		}
		r.tracer = tp.Tracer(tracerName)
		return nil
	}
}

// WithLease overrides the lock lease and safety timeout from the configuration.
// A zero safetyTimeout means 5x the lease.
func WithLease(lease, safetyTimeout time.Duration) Option {
	return func(r *Registry) error {
		if lease <= 0 {
			return fmt.Errorf("%w: lease must be positive", ErrInvalidConfig)
		}
		if safetyTimeout < 0 {
			return fmt.Errorf("%w: safety timeout cannot be negative", ErrInvalidConfig)
		}
		r.lease = lease
		r.safetyTimeout = safetyTimeout
		return nil
	}
}

// WithPollInterval sets how often a waiting caller retries the lock.
// Default: 10 milliseconds
func WithPollInterval(interval time.Duration) Option {
	return func(r *Registry) error {
		if interval <= 0 {
			return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
		}
		r.pollInterval = interval
		return nil
	}
}
