// Package util provides small helpers shared across MoodPipe components.
package util

import (
	"math/rand/v2"
)

// RandSource is the subset of *rand.Rand used for uniform picks. Tests inject a fixed
// implementation to pin otherwise random choices.
type RandSource interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// DefaultRand returns a RandSource backed by the math/rand/v2 global generator.
// It is safe for concurrent use.
func DefaultRand() RandSource {
	return globalRand{}
}

// FixedRand always returns the same index, clamped to [0,n).
type FixedRand int

// IntN implements RandSource.
func (f FixedRand) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	i := int(f)
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// PickString returns a uniformly chosen element of pool, or "" if pool is empty.
// A nil src uses DefaultRand.
func PickString(src RandSource, pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	if src == nil {
		src = DefaultRand()
	}
	i := src.IntN(len(pool))
	if i < 0 || i >= len(pool) {
		i = 0
	}
	return pool[i]
}
