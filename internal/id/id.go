package id

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// UUID generates a UUID v4 (random).
// Returns a string in the format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
func UUID() string {
	return uuid.NewString()
}

// ULID returns a time-sortable ULID encoded as a 26-character string.
// IDs generated within the same millisecond are monotonically increasing.
func ULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Prefixed returns prefix + "-" + ULID, e.g. "ws-01J9Z3...".
func Prefixed(prefix string) string {
	if prefix == "" {
		return ULID()
	}
	return prefix + "-" + ULID()
}
