package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired
	ErrNotFound = errors.New("key not found")

	// ErrUnavailable is returned when the shared store cannot be reached
	ErrUnavailable = errors.New("store unavailable")
)

// Store is the shared key-value store every process coordinates through.
// No multi-key atomicity is assumed. A ttl of 0 means no expiry.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key, value string) (bool, error)
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
