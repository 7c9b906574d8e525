package permitfence

import (
	"errors"

	"github.com/yourusername/permitfence/lock"
	"github.com/yourusername/permitfence/store"
)

var (
	// ErrInvalidArgument is returned when a token count is not positive
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidKey is returned when the limiter key is empty
	ErrInvalidKey = errors.New("limiter key cannot be empty")

	// ErrLockTimeout is returned when a lease lock could not be won within its budget
	ErrLockTimeout = lock.ErrLockTimeout

	// ErrStoreUnavailable is returned when the shared store cannot be reached
	ErrStoreUnavailable = store.ErrUnavailable
)
