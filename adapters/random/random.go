// Package random provides Random implementations. Verification and
// password-reset keys and generated signing keys are drawn from it.
package random

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/artpar/faunagate/ports"
)

// Real uses crypto/rand.
type Real struct{}

// Bytes generates n cryptographically secure random bytes.
func (Real) Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// String generates a random hex string of n characters.
func (r Real) String(n int) (string, error) {
	return hexString(r, n)
}

// Fake provides deterministic randomness for testing.
type Fake struct {
	mu      sync.Mutex
	counter int
	values  [][]byte
}

// NewFake creates a fake random source. Preset values are returned first,
// padded or truncated to the requested length.
func NewFake(values ...[]byte) *Fake {
	return &Fake{values: values}
}

// Bytes returns the next preset value or counter-derived bytes.
func (f *Fake) Bytes(n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := make([]byte, n)
	if len(f.values) > 0 {
		copy(b, f.values[0])
		f.values = f.values[1:]
		return b, nil
	}

	f.counter++
	for i := range b {
		b[i] = byte((f.counter + i) % 256)
	}
	return b, nil
}

// String returns a deterministic hex string.
func (f *Fake) String(n int) (string, error) {
	return hexString(f, n)
}

func hexString(r ports.Random, n int) (string, error) {
	b, err := r.Bytes((n + 1) / 2)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b)[:n], nil
}

var (
	_ ports.Random = Real{}
	_ ports.Random = (*Fake)(nil)
)
