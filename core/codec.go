package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorruptPermits is returned when a stored record cannot be decoded into usable state
var ErrCorruptPermits = errors.New("corrupt permits record")

// Encode serializes permits into the string form kept in the shared store.
func Encode(p *Permits) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode parses a stored record. A record that would divide by zero on refill
// or violates the stored permits bound is rejected.
func Decode(value string) (*Permits, error) {
	var p Permits
	if err := json.Unmarshal([]byte(value), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPermits, err)
	}
	if p.IntervalMillis <= 0 {
		return nil, fmt.Errorf("%w: interval_millis must be positive, got %d", ErrCorruptPermits, p.IntervalMillis)
	}
	if p.StoredPermits < 0 || p.StoredPermits > p.MaxPermits {
		return nil, fmt.Errorf("%w: stored_permits %d outside [0, %d]", ErrCorruptPermits, p.StoredPermits, p.MaxPermits)
	}
	return &p, nil
}
