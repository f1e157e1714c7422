// Package entropy provides the single random stream a simulation run draws
// from. Every stochastic decision goes through a Source so that a run is
// bit-reproducible for a given seed and unit tests can inject fixed draws.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	mrand "math/rand/v2"
)

// Source is the random stream shared by all agents and markets of one run.
type Source interface {
	Float64() float64     // uniform in [0, 1)
	NormFloat64() float64 // standard normal
	IntN(n int) int       // uniform in [0, n)
}

// Seeded is a deterministic PCG stream.
type Seeded struct {
	rng *mrand.Rand
}

// NewSeeded creates a stream for seed. Two streams with the same seed
// produce the same sequence.
func NewSeeded(seed int64) *Seeded {
	s := uint64(seed)
	return &Seeded{rng: mrand.New(mrand.NewPCG(s, s^0x9e3779b97f4a7c15))}
}

func (s *Seeded) Float64() float64     { return s.rng.Float64() }
func (s *Seeded) NormFloat64() float64 { return s.rng.NormFloat64() }
func (s *Seeded) IntN(n int) int       { return s.rng.IntN(n) }

// Sequence replays fixed draws, for tests. Uniform and normal draws come from
// separate queues; IntN consumes a uniform draw. An exhausted queue repeats
// its last value (or yields 0 if it was empty).
type Sequence struct {
	Uniform []float64
	Normal  []float64

	ui, ni int
}

func (s *Sequence) Float64() float64 {
	return next(s.Uniform, &s.ui)
}

func (s *Sequence) NormFloat64() float64 {
	return next(s.Normal, &s.ni)
}

func (s *Sequence) IntN(n int) int {
	i := int(s.Float64() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}

// Drawn returns how many uniform and normal values have been consumed.
func (s *Sequence) Drawn() (uniform, normal int) {
	return s.ui, s.ni
}

func next(vals []float64, i *int) float64 {
	if len(vals) == 0 {
		*i++
		return 0
	}
	idx := *i
	if idx >= len(vals) {
		idx = len(vals) - 1
	}
	*i++
	return vals[idx]
}

// Gaussian returns mean + sd*N(0,1).
func Gaussian(src Source, mean, sd float64) float64 {
	return mean + sd*src.NormFloat64()
}

// LogNormal draws exp(mu + sigma*N(0,1)).
func LogNormal(src Source, mu, sigma float64) float64 {
	return math.Exp(mu + sigma*src.NormFloat64())
}

// RandomSeed returns a non-deterministic seed from crypto/rand, for runs
// started without an explicit seed.
func RandomSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 1
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
}
