package selection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndCurrent(t *testing.T) {
	s := NewState()
	assert.True(t, s.Current().Empty())

	viewers := []string{"b", "d"}
	sel := s.Set(SourcePick, viewers, 3)
	viewers[0] = "mutated"

	cur := s.Current()
	assert.Equal(t, sel.ID, cur.ID)
	assert.NotEmpty(t, cur.ID)
	assert.Equal(t, []string{"b", "d"}, cur.Viewers)
	assert.Equal(t, SourcePick, cur.Source)
	assert.True(t, cur.Short)

	s.Clear()
	assert.True(t, s.Current().Empty())
}

func TestSubscribeReceivesSnapshotThenUpdates(t *testing.T) {
	s := NewState()
	s.Set(SourceRaffle, []string{"sam"}, 1)

	ch, cancel := s.Subscribe()
	defer cancel()

	first := <-ch
	assert.Equal(t, []string{"sam"}, first.Viewers)

	s.Set(SourcePick, []string{"lee"}, 1)
	select {
	case next := <-ch:
		assert.Equal(t, []string{"lee"}, next.Viewers)
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}
}

func TestSlowSubscriberSeesLatest(t *testing.T) {
	s := NewState()
	ch, cancel := s.Subscribe()
	defer cancel()

	for _, v := range []string{"a", "b", "c"} {
		s.Set(SourcePick, []string{v}, 1)
	}
	got := <-ch
	assert.Equal(t, []string{"c"}, got.Viewers)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected buffered value %v", extra)
	default:
	}
}

func TestCancelUnsubscribes(t *testing.T) {
	s := NewState()
	_, cancel := s.Subscribe()
	require.Equal(t, 1, s.Subscribers())
	cancel()
	cancel()
	assert.Equal(t, 0, s.Subscribers())
	s.Set(SourcePick, []string{"x"}, 1) // must not block on the removed channel
}
