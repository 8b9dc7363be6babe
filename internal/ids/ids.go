package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a lexicographically sortable identifier suitable for document keys.
func New() string {
	return newAt(time.Now())
}

// NewUID returns an account identifier. UIDs are lower-cased ULIDs so they
// survive case-insensitive transports unchanged.
func NewUID() string {
	return strings.ToLower(newAt(time.Now()))
}

// Valid reports whether s parses as a ULID in either case.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(strings.ToUpper(s))
	return err == nil
}

func newAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
