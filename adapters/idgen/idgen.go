// Package idgen provides ID generation implementations.
package idgen

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/artpar/faunagate/ports"
)

// UUID generates UUIDs. Used for token ids and one-time keys.
type UUID struct{}

// New generates a new UUID v4.
func (UUID) New() string {
	return uuid.New().String()
}

// Numeric generates document ids in the backend's format: decimal strings
// of the creation time in milliseconds shifted left by 12 bits, plus a
// per-millisecond sequence. Ids from one generator increase strictly.
type Numeric struct {
	clock ports.Clock

	mu   sync.Mutex
	last int64
}

// NewNumeric creates a numeric id generator reading time from clock.
func NewNumeric(clock ports.Clock) *Numeric {
	return &Numeric{clock: clock}
}

// New generates the next id.
func (n *Numeric) New() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.clock.Now().UnixMilli() << 12
	if id <= n.last {
		id = n.last + 1
	}
	n.last = id
	return strconv.FormatInt(id, 10)
}

// Sequential generates sequential IDs (for testing).
type Sequential struct {
	prefix  string
	counter uint64
}

// NewSequential creates a sequential ID generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New generates the next sequential ID.
func (s *Sequential) New() string {
	n := atomic.AddUint64(&s.counter, 1)
	return s.prefix + strconv.FormatUint(n, 10)
}

// Reset resets the counter (for testing).
func (s *Sequential) Reset() {
	atomic.StoreUint64(&s.counter, 0)
}

// Ensure interface compliance.
var (
	_ ports.IDGenerator = UUID{}
	_ ports.IDGenerator = (*Numeric)(nil)
	_ ports.IDGenerator = (*Sequential)(nil)
)
