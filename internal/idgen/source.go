// Package idgen provides the randomness abstraction used to draw session and
// room identifiers.
package idgen

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand/v2"
	"sync"
)

// Source is the randomness provider for identifier draws.
//
// Implementations MUST be safe for concurrent use.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
}

// cryptoSource implements Source using crypto/rand.
type cryptoSource struct{}

// NewCryptoSource returns a Source backed by crypto/rand.
//
// Postcondition: Every value returned by Intn is in [0, n).
func NewCryptoSource() Source {
	return &cryptoSource{}
}

// Intn returns a cryptographically secure random int in [0, n).
//
// Precondition: n > 0. Panics with "idgen: Intn called with n <= 0" if n <= 0.
func (c *cryptoSource) Intn(n int) int {
	if n <= 0 {
		panic("idgen: Intn called with n <= 0")
	}
	val, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("idgen: crypto/rand failure: " + err.Error())
	}
	return int(val.Int64())
}

// seededSource is a deterministic Source for tests and replays.
type seededSource struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

// NewSeededSource returns a deterministic Source. Two sources built from the
// same seed produce the same sequence.
func NewSeededSource(seed uint64) Source {
	return &seededSource{rng: mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Intn implements Source.
func (s *seededSource) Intn(n int) int {
	if n <= 0 {
		panic("idgen: Intn called with n <= 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// FixedSource replays a fixed sequence of values, wrapping around at the end.
// Each value is reduced modulo n.
type FixedSource struct {
	mu     sync.Mutex
	values []int
	next   int
}

// NewFixedSource returns a FixedSource replaying values.
//
// Precondition: values must be non-empty and non-negative.
func NewFixedSource(values ...int) *FixedSource {
	if len(values) == 0 {
		panic("idgen: NewFixedSource requires at least one value")
	}
	return &FixedSource{values: values}
}

// Intn implements Source.
func (f *FixedSource) Intn(n int) int {
	if n <= 0 {
		panic("idgen: Intn called with n <= 0")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.values[f.next%len(f.values)]
	f.next++
	return v % n
}

// Range is a half-open interval [Min, Max) of identifiers.
type Range struct {
	Min int16
	Max int16
}

// Size returns the number of identifiers in the range.
func (r Range) Size() int {
	return int(r.Max) - int(r.Min)
}

// Contains reports whether id lies in the range.
func (r Range) Contains(id int16) bool {
	return id >= r.Min && id < r.Max
}

// Draw returns a uniformly drawn identifier from r.
//
// Precondition: r.Size() > 0.
func (r Range) Draw(src Source) int16 {
	return r.Min + int16(src.Intn(r.Size()))
}
