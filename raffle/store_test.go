package raffle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/shoutout-companion/roster"
)

func TestEnterDedupsCaseInsensitively(t *testing.T) {
	s := NewStore(roster.DefaultSampler)
	assert.True(t, s.Enter("Bob"))
	assert.False(t, s.Enter("bob"))
	assert.False(t, s.Enter("  BOB "))
	assert.False(t, s.Enter(""))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, []string{"bob"}, s.Entrants())
}

func TestDrawExactCountEmptiesStore(t *testing.T) {
	s := NewStore(roster.DefaultSampler)
	for _, id := range []string{"a", "b", "c"} {
		s.Enter(id)
	}

	winners, err := s.Draw(3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, winners)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, StateDrawn, s.State())
	assert.Equal(t, winners, s.Snapshot().LastDraw)
}

func TestDrawTooManyLeavesStoreUntouched(t *testing.T) {
	s := NewStore(roster.DefaultSampler)
	s.Enter("a")
	s.Enter("b")

	_, err := s.Draw(3)
	require.ErrorIs(t, err, ErrNotEnoughEntrants)
	assert.Contains(t, err.Error(), "have 2, need 3")
	assert.Equal(t, []string{"a", "b"}, s.Entrants())
	assert.Equal(t, StateOpen, s.State())
}

func TestDrawInvalidCount(t *testing.T) {
	s := NewStore(roster.DefaultSampler)
	s.Enter("a")
	_, err := s.Draw(0)
	assert.ErrorIs(t, err, ErrInvalidCount)
	assert.Equal(t, 1, s.Len())
}

func TestRaffleCycle(t *testing.T) {
	s := NewStore(roster.DefaultSampler)
	for _, id := range []string{"sam", "sam", "lee"} {
		s.Enter(id)
	}
	require.Equal(t, []string{"sam", "lee"}, s.Entrants())

	winners, err := s.Draw(2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sam", "lee"}, winners)
	assert.Equal(t, 0, s.Len())

	// a previous winner may enter the next raffle; the first entry reopens it
	assert.True(t, s.Enter("sam"))
	assert.Equal(t, StateOpen, s.State())
	assert.Empty(t, s.Snapshot().LastDraw)
	assert.Equal(t, 1, s.Len())
}

func TestDrawUsesSampler(t *testing.T) {
	s := NewStore(roster.Sampler{IntN: func(n int) int { return n - 1 }})
	for _, id := range []string{"a", "b", "c"} {
		s.Enter(id)
	}
	winners, err := s.Draw(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, winners)
}

func TestClearReopens(t *testing.T) {
	s := NewStore(roster.DefaultSampler)
	s.Enter("a")
	_, err := s.Draw(1)
	require.NoError(t, err)
	s.Enter("b")
	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, StateOpen, s.State())
}

func TestOnChangeReceivesSnapshots(t *testing.T) {
	s := NewStore(roster.DefaultSampler)
	var snaps []Snapshot
	s.OnChange(func(snap Snapshot) {
		// hooks run outside the lock, so reading the store here must not deadlock
		_ = s.Len()
		snaps = append(snaps, snap)
	})

	s.Enter("a")
	s.Enter("a") // no change, no notification
	s.Enter("b")
	_, err := s.Draw(1)
	require.NoError(t, err)

	require.Len(t, snaps, 3)
	assert.Equal(t, []string{"a", "b"}, snaps[1].Entrants)
	assert.Equal(t, StateDrawn, snaps[2].State)
	assert.Empty(t, snaps[2].Entrants)
	assert.Len(t, snaps[2].LastDraw, 1)
}

func TestConcurrentEnterAndDraw(t *testing.T) {
	s := NewStore(roster.DefaultSampler)
	var wg sync.WaitGroup
	drawn := make(chan []string, 100)
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.Enter(string(rune('a'+i%26)) + "user")
		}(i)
		go func() {
			defer wg.Done()
			if w, err := s.Draw(1); err == nil {
				drawn <- w
			}
		}()
	}
	wg.Wait()
	close(drawn)

	for w := range drawn {
		require.Len(t, w, 1)
	}
	entrants := s.Entrants()
	unique := roster.New(entrants...)
	assert.Equal(t, len(entrants), unique.Len(), "entrants must stay unique")
	assert.LessOrEqual(t, len(entrants), 26)
}
