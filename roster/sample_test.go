package roster

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleReturnsUniqueMembers(t *testing.T) {
	pool := New("a", "b", "c", "d", "e", "f")
	for n := 1; n <= pool.Len(); n++ {
		d, err := DefaultSampler.Sample(pool, n)
		require.NoError(t, err)
		assert.Len(t, d.Winners, n)
		assert.False(t, d.Short)
		assert.Equal(t, n, New(d.Winners...).Len(), "duplicate winner in %v", d.Winners)
		for _, w := range d.Winners {
			assert.True(t, pool.Contains(w))
		}
	}
	assert.Equal(t, 6, pool.Len())
}

func TestSampleClampsWhenShort(t *testing.T) {
	pool := New("a", "b", "c")
	d, err := DefaultSampler.Sample(pool, 5)
	require.NoError(t, err)
	assert.True(t, d.Short)
	assert.Equal(t, 5, d.Requested)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, d.Winners)
}

func TestSampleEmptyPool(t *testing.T) {
	_, err := DefaultSampler.Sample(New(), 1)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestSampleInvalidCount(t *testing.T) {
	_, err := DefaultSampler.Sample(New("a"), 0)
	assert.ErrorIs(t, err, ErrInvalidCount)
}

func TestSampleDoesNotMutateSlice(t *testing.T) {
	in := []string{"a", "b", "c", "d"}
	_, err := DefaultSampler.SampleSlice(in, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, in)
}

func TestSampleEverySubsetReachable(t *testing.T) {
	pool := New("a", "b", "c", "d")
	seen := map[string]int{}
	const trials = 6000
	for i := 0; i < trials; i++ {
		d, err := DefaultSampler.Sample(pool, 2)
		require.NoError(t, err)
		key := strings.Join(New(d.Winners...).Slice(), ",")
		seen[key]++
	}
	// C(4,2) = 6 subsets, each expected ~1000 times
	require.Len(t, seen, 6)
	for subset, count := range seen {
		assert.InDelta(t, trials/6, count, 250, "subset %s drawn %d times", subset, count)
	}
}

func TestSampleUsesInjectedSource(t *testing.T) {
	// always pick the last remaining slot
	s := Sampler{IntN: func(n int) int { return n - 1 }}
	d, err := s.SampleSlice([]string{"a", "b", "c"}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, d.Winners)
}
