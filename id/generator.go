package id

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator provides unique string IDs for sessions and logged rows.
// IDs are lexically sortable by creation time.
type Generator interface {
	NextID() string
}

// ULIDGenerator generates ULIDs with monotonic entropy, so IDs made within
// the same millisecond still sort in creation order.
// Thread-safe.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewULIDGenerator creates a new ID generator
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NextID generates an ID stamped with the current time
func (g *ULIDGenerator) NextID() string {
	return g.At(time.Now())
}

// At generates an ID stamped with t
func (g *ULIDGenerator) At(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), g.entropy)
	if err != nil {
		// Entropy overflow within one millisecond, fall back to fresh randomness
		return ulid.Make().String()
	}
	return id.String()
}
