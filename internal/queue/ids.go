package queue

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const idPrefix = "q_"

var (
	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
)

// NewID returns a lowercase, time-ordered q_* identifier.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	if entropy == nil {
		entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	}
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return idPrefix + strings.ToLower(id.String())
}

// IsValidID reports whether value is a q_* ULID.
func IsValidID(value string) bool {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, idPrefix) {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(strings.TrimPrefix(value, idPrefix)))
	return err == nil
}
