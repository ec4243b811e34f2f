// Package simrand adapts math/rand into the three draws the simulation core
// needs: exponential (block solve times, network latency jitter), uniform
// (gossip peer selection, attacker election) and normal (per-node raw hash
// power). It is deliberately built on math/rand rather than a pack dependency
// such as github.com/NebulousLabs/fastrand: fastrand reads from the OS CSPRNG
// and cannot be seeded, which breaks the `-r` reproducible-seed requirement.
// See DESIGN.md for the full justification.
package simrand

import "math/rand"

// Source is a per-run seeded random source. It is not safe for concurrent
// use; internal/simnode gives each node its own Source.
type Source struct {
	r *rand.Rand
}

// New returns a Source seeded deterministically from seed.
func New(seed int64) *Source {
	return &Source{r: rand.New(rand.NewSource(seed))}
}

// Derive produces a new, independent Source for node offset n, seeded from
// the next draw of s combined with n, so it is deterministic given the parent
// seed and the draws already taken from s. (internal/simnode's per-node
// streams use seed + node id instead and do not call Derive.)
func (s *Source) Derive(n int64) *Source {
	return New(s.r.Int63()*1_000_003 + n)
}

// Exponential draws from an exponential distribution with the given mean.
func (s *Source) Exponential(mean float64) float64 {
	return s.r.ExpFloat64() * mean
}

// Normal draws from a normal distribution with the given mean and standard
// deviation.
func (s *Source) Normal(mean, stddev float64) float64 {
	return s.r.NormFloat64()*stddev + mean
}

// Float64 draws a uniform value in [0, 1).
func (s *Source) Float64() float64 {
	return s.r.Float64()
}

// IntRange draws a uniform integer in [lo, hi].
func (s *Source) IntRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.r.Intn(hi-lo+1)
}

// Uint64N draws a uniform integer in [0, n).
func (s *Source) Uint64N(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	return uint64(s.r.Int63n(int64(n)))
}
