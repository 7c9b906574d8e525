package lock

import (
	"os"
	"strconv"

	"github.com/google/uuid"
)

var defaultIdentity = NewIdentitySource("")

// IdentitySource hands out owner identities for lock entries.
// Every acquisition gets its own identity so that a holder can never
// release a lease it does not own, even within the same process.
type IdentitySource struct {
	prefix string
}

// NewIdentitySource returns a source whose identities start with name.
// An empty name uses "<hostname>-<pid>".
func NewIdentitySource(name string) *IdentitySource {
	if name == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "unknown"
		}
		name = host + "-" + strconv.Itoa(os.Getpid())
	}
	return &IdentitySource{prefix: name}
}

// Prefix returns the process part shared by every identity from this source.
func (s *IdentitySource) Prefix() string { return s.prefix }

// Next returns a new identity of the form "<prefix>-<uuid>".
func (s *IdentitySource) Next() string {
	return s.prefix + "-" + uuid.NewString()
}
