package permitfence

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/yourusername/permitfence/lock"
)

const (
	// DefaultPermitsPerSecond is used when a limiter is created with a rate of 0
	DefaultPermitsPerSecond = 60

	// MaxPermitsPerSecond keeps the permit interval at one millisecond or more
	MaxPermitsPerSecond = 1000
)

// Config holds the limiter configuration.
// It supports global defaults and per-key overrides.
type Config struct {
	// Store selects the shared store. An empty Addr means an in-process store
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Lock tunes the lease lock guarding each limiter key
	Lock LockConfig `yaml:"lock" mapstructure:"lock"`

	// Defaults are applied to every key without an entry in Limiters
	Defaults LimiterConfig `yaml:"defaults" mapstructure:"defaults"`

	// Limiters maps limiter keys to their own rate
	// Example: "payments-api" -> 5 permits/sec, "search" -> 200 permits/sec
	Limiters map[string]LimiterConfig `yaml:"limiters,omitempty" mapstructure:"limiters" validate:"dive"`
}

// StoreConfig points at the shared Redis store.
type StoreConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db" validate:"min=0"`
	Prefix   string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

// LockConfig defines the lease lock timings, in seconds.
type LockConfig struct {
	// LeaseSeconds is the TTL of a lock entry (default: 10)
	LeaseSeconds int `yaml:"lease_seconds" mapstructure:"lease_seconds" validate:"min=0"`

	// SafetyTimeoutSeconds is how long to wait before taking over a stale lock (default: 5x lease)
	SafetyTimeoutSeconds int `yaml:"safety_timeout_seconds" mapstructure:"safety_timeout_seconds" validate:"min=0"`
}

// LimiterConfig defines the rate of a single limiter key.
type LimiterConfig struct {
	// PermitsPerSecond is the steady refill rate
	PermitsPerSecond int64 `yaml:"permits_per_second" mapstructure:"permits_per_second" validate:"min=1,max=1000"`

	// MaxBurstSeconds bounds how many seconds of permits can be banked (0 = 60)
	MaxBurstSeconds int64 `yaml:"max_burst_seconds" mapstructure:"max_burst_seconds" validate:"min=0"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	config := &Config{
		Defaults: LimiterConfig{
			PermitsPerSecond: DefaultPermitsPerSecond,
		},
		Limiters: make(map[string]LimiterConfig),
	}
	config.SetDefaults()
	return config
}

// LoadConfigFromFile loads configuration from a YAML file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// SetDefaults fills unset fields. Limiters without a rate inherit the default rate.
func (c *Config) SetDefaults() {
	if c.Defaults.PermitsPerSecond == 0 {
		c.Defaults.PermitsPerSecond = DefaultPermitsPerSecond
	}
	if c.Lock.LeaseSeconds == 0 {
		c.Lock.LeaseSeconds = int(lock.DefaultLease / time.Second)
	}
	if c.Lock.SafetyTimeoutSeconds == 0 {
		c.Lock.SafetyTimeoutSeconds = lock.DefaultSafetyFactor * c.Lock.LeaseSeconds
	}
	if c.Limiters == nil {
		c.Limiters = make(map[string]LimiterConfig)
	}
	for key, limiter := range c.Limiters {
		if limiter.PermitsPerSecond == 0 {
			limiter.PermitsPerSecond = c.Defaults.PermitsPerSecond
			c.Limiters[key] = limiter
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, formatValidationErrors(err))
	}

	for key := range c.Limiters {
		if key == "" {
			return fmt.Errorf("%w: limiters: %v", ErrInvalidConfig, ErrInvalidKey)
		}
	}

	return nil
}

// LimiterFor returns the configuration for a given key.
// If no specific entry exists for the key, returns the defaults.
func (c *Config) LimiterFor(key string) LimiterConfig {
	if limiter, exists := c.Limiters[key]; exists {
		return limiter
	}
	return c.Defaults
}

// SetLimiter sets the configuration for a specific key.
func (c *Config) SetLimiter(key string, limiter LimiterConfig) error {
	if key == "" {
		return ErrInvalidKey
	}
	if err := validator.New().Struct(limiter); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, formatValidationErrors(err))
	}
	if c.Limiters == nil {
		c.Limiters = make(map[string]LimiterConfig)
	}
	c.Limiters[key] = limiter
	return nil
}

// Lease returns the lock TTL as a duration.
func (l LockConfig) Lease() time.Duration {
	return time.Duration(l.LeaseSeconds) * time.Second
}

// SafetyTimeout returns the takeover deadline as a duration.
func (l LockConfig) SafetyTimeout() time.Duration {
	return time.Duration(l.SafetyTimeoutSeconds) * time.Second
}

// formatValidationErrors turns validator errors into one readable line.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		field := e.Namespace()
		switch e.Tag() {
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", field, e.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", field, e.Param()))
		case "hostname_port":
			messages = append(messages, fmt.Sprintf("%s must be a valid host:port", field))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation: %s", field, e.Tag()))
		}
	}
	return errors.New(strings.Join(messages, "; "))
}
