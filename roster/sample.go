package roster

import (
	"errors"
	"math/rand/v2"
)

var (
	// ErrNoCandidates is returned when sampling from an empty pool.
	ErrNoCandidates = errors.New("no candidates to draw from")
	// ErrInvalidCount is returned when fewer than one winner is requested.
	ErrInvalidCount = errors.New("requested count must be at least 1")
)

// Draw is the outcome of one sample.
type Draw struct {
	// Winners in draw order. The order carries no meaning.
	Winners   []string
	Requested int
	// Short is set when the pool held fewer members than requested and the
	// draw was clamped to the whole pool.
	Short bool
}

// Sampler draws members uniformly at random without replacement.
type Sampler struct {
	// IntN returns a uniform int in [0, n). Defaults to math/rand/v2.IntN.
	IntN func(n int) int
}

// DefaultSampler uses the process-wide generator from math/rand/v2.
var DefaultSampler = Sampler{}

func (s Sampler) intN(n int) int {
	if s.IntN != nil {
		return s.IntN(n)
	}
	return rand.IntN(n) //nolint:gosec // G404: selection fairness, not a security boundary
}

// Sample draws n members of pool. When n exceeds the pool size the draw is
// clamped and Draw.Short is set. pool is never modified.
func (s Sampler) Sample(pool Set, n int) (Draw, error) {
	return s.SampleSlice(pool.Slice(), n)
}

// SampleSlice is Sample over an already deduplicated slice. The slice is
// copied before shuffling.
func (s Sampler) SampleSlice(pool []string, n int) (Draw, error) {
	if n < 1 {
		return Draw{}, ErrInvalidCount
	}
	if len(pool) == 0 {
		return Draw{Requested: n}, ErrNoCandidates
	}
	d := Draw{Requested: n}
	if n > len(pool) {
		n = len(pool)
		d.Short = true
	}
	work := make([]string, len(pool))
	copy(work, pool)
	// partial Fisher-Yates: the first n slots end up a uniform n-subset
	for i := 0; i < n; i++ {
		j := i + s.intN(len(work)-i)
		work[i], work[j] = work[j], work[i]
	}
	d.Winners = work[:n:n]
	return d, nil
}
