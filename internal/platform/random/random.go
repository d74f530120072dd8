// Package random wraps a seedable PCG generator with the draws the
// reliability engine needs: uniform ranges, percent trials, a truncated
// positive gaussian and a regression-weighted integer.
//
// A Source is not safe for concurrent use. Each entity manager owns one;
// use Split to derive independent streams from a root seed.
package random

import (
	"math"
	"math/rand/v2"
)

const gaussianAttempts = 64

type Source struct {
	r *rand.Rand
}

// New returns a deterministic source for the given seed.
func New(seed uint64) *Source {
	return &Source{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewUnseeded returns a source seeded from the runtime's global generator.
func NewUnseeded() *Source {
	return &Source{r: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// Split derives a child source whose stream is fixed by the parent's state.
func (s *Source) Split() *Source {
	return New(s.r.Uint64())
}

func (s *Source) Float64() float64 {
	return s.r.Float64()
}

// Uniform returns a value in [lo, hi).
func (s *Source) Uniform(lo, hi float64) float64 {
	return lo + s.r.Float64()*(hi-lo)
}

// Percent reports whether a trial with the given percentage chance succeeds.
// Values at or below zero never succeed; values at or above 100 always do.
func (s *Source) Percent(p float64) bool {
	if p <= 0 {
		return false
	}
	return s.r.Float64()*100 < p
}

// IntRange returns an integer in [lo, hi] inclusive.
func (s *Source) IntRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.r.IntN(hi-lo+1)
}

// IntN returns an integer in [0, n). It returns 0 when n <= 0.
func (s *Source) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	return s.r.IntN(n)
}

func (s *Source) Shuffle(n int, swap func(i, j int)) {
	s.r.Shuffle(n, swap)
}

// PositiveGaussian draws from a normal distribution reflected into the
// positive half and truncated at ceiling. A non-positive mean yields 0.
func (s *Source) PositiveGaussian(mean, stdDev, ceiling float64) float64 {
	if mean <= 0 {
		return 0
	}
	if ceiling <= 0 {
		ceiling = math.Inf(1)
	}
	for i := 0; i < gaussianAttempts; i++ {
		v := math.Abs(mean + stdDev*s.r.NormFloat64())
		if v <= ceiling {
			return v
		}
	}
	return math.Min(mean, ceiling)
}

// RegressionInt returns an integer in [1, ceiling] where each step up is
// half as likely as the one below it.
func (s *Source) RegressionInt(ceiling int) int {
	if ceiling <= 1 {
		return 1
	}
	n := 1
	for n < ceiling && s.r.Float64() < 0.5 {
		n++
	}
	return n
}
