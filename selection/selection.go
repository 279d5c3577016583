// Package selection owns the "currently selected viewers" shown by the overlay
// and the control panel. A State is created once per process and handed to
// whatever publishes or renders selections.
package selection

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source says where a selection came from.
type Source string

const (
	SourcePick   Source = "pick"
	SourceRaffle Source = "raffle"
)

// Selection is one published draw result.
type Selection struct {
	ID        string    `json:"id"`
	Source    Source    `json:"source"`
	Viewers   []string  `json:"viewers"`
	Requested int       `json:"requested"`
	Short     bool      `json:"short"`
	CreatedAt time.Time `json:"created_at"`
}

// Empty reports whether nothing is selected.
func (s Selection) Empty() bool { return len(s.Viewers) == 0 }

// State holds the current selection and fans changes out to subscribers.
type State struct {
	mu      sync.RWMutex
	current Selection
	subs    map[chan Selection]struct{}
	now     func() time.Time
}

// NewState returns an empty State.
func NewState() *State {
	return &State{subs: make(map[chan Selection]struct{}), now: time.Now}
}

// Set replaces the current selection and notifies subscribers.
func (s *State) Set(src Source, viewers []string, requested int) Selection {
	sel := Selection{
		ID:        uuid.NewString(),
		Source:    src,
		Viewers:   slices.Clone(viewers),
		Requested: requested,
		Short:     len(viewers) < requested,
		CreatedAt: s.now().UTC(),
	}
	s.publish(sel)
	return sel
}

// Clear removes the current selection.
func (s *State) Clear() {
	s.publish(Selection{CreatedAt: s.now().UTC()})
}

// Current returns a copy of the current selection.
func (s *State) Current() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.current)
}

// Subscribe returns a channel that first receives the current selection and then
// every change. Slow readers only see the latest value. Call cancel to unsubscribe.
func (s *State) Subscribe() (<-chan Selection, func()) {
	ch := make(chan Selection, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- clone(s.current)
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// Subscribers returns the number of active subscriptions.
func (s *State) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *State) publish(sel Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = sel
	for ch := range s.subs {
		// drop the stale value, if any, so the send never blocks
		select {
		case <-ch:
		default:
		}
		ch <- clone(sel)
	}
}

func clone(sel Selection) Selection {
	sel.Viewers = slices.Clone(sel.Viewers)
	return sel
}
