// Package raffle accumulates chat-triggered entries and performs one-shot draws.
package raffle

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/onnwee/shoutout-companion/roster"
	"github.com/onnwee/shoutout-companion/telemetry"
)

var (
	// ErrNotEnoughEntrants is returned when a draw asks for more winners than there are entrants.
	ErrNotEnoughEntrants = errors.New("not enough entrants")
	// ErrInvalidCount is returned when a draw asks for fewer than one winner.
	ErrInvalidCount = errors.New("draw count must be at least 1")
)

// State of the store.
type State string

const (
	// StateOpen accepts entries.
	StateOpen State = "open"
	// StateDrawn follows a successful draw; the entrant list is empty and the
	// next entry reopens the raffle.
	StateDrawn State = "drawn"
)

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	State     State     `json:"state"`
	Entrants  []string  `json:"entrants"`
	LastDraw  []string  `json:"last_draw,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the raffle entry list. All methods are safe for concurrent use;
// entries arrive from chat listeners while draws come from the control API.
type Store struct {
	sampler roster.Sampler

	mu        sync.Mutex
	state     State
	entrants  []string
	index     map[string]struct{}
	lastDraw  []string
	updatedAt time.Time
	onChange  func(Snapshot)
}

// NewStore returns an open, empty store drawing with sampler.
func NewStore(sampler roster.Sampler) *Store {
	return &Store{
		sampler:   sampler,
		state:     StateOpen,
		index:     make(map[string]struct{}),
		updatedAt: time.Now().UTC(),
	}
}

// OnChange registers fn to receive a snapshot after every mutation. fn runs
// outside the store lock.
func (s *Store) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Enter adds id unless it is blank or already entered (case-insensitive) and
// reports whether it was added. Entering after a draw starts a new raffle.
func (s *Store) Enter(id string) bool {
	id = roster.Normalize(id)
	if id == "" {
		return false
	}
	s.mu.Lock()
	if _, ok := s.index[id]; ok {
		s.mu.Unlock()
		return false
	}
	if s.state == StateDrawn {
		s.state = StateOpen
		s.lastDraw = nil
	}
	s.index[id] = struct{}{}
	s.entrants = append(s.entrants, id)
	n := len(s.entrants)
	snap, hook := s.changedLocked()
	s.mu.Unlock()

	telemetry.ObserveRaffleEntry(n)
	notify(hook, snap)
	return true
}

// Draw picks n distinct winners uniformly at random. With fewer than n
// entrants it fails and leaves the store untouched. On success the whole
// entrant list is discarded in the same step and the store moves to StateDrawn.
func (s *Store) Draw(n int) ([]string, error) {
	if n < 1 {
		telemetry.ObserveRaffleDraw("invalid")
		return nil, ErrInvalidCount
	}
	s.mu.Lock()
	if len(s.entrants) < n {
		have := len(s.entrants)
		s.mu.Unlock()
		telemetry.ObserveRaffleDraw("not_enough_entrants")
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughEntrants, have, n)
	}
	d, err := s.sampler.SampleSlice(s.entrants, n)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.entrants = nil
	s.index = make(map[string]struct{})
	s.state = StateDrawn
	s.lastDraw = slices.Clone(d.Winners)
	snap, hook := s.changedLocked()
	s.mu.Unlock()

	telemetry.ObserveRaffleDraw("ok")
	telemetry.SetRaffleEntrants(0)
	notify(hook, snap)
	return d.Winners, nil
}

// Clear discards all entrants without drawing and reopens the raffle.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entrants = nil
	s.index = make(map[string]struct{})
	s.state = StateOpen
	s.lastDraw = nil
	snap, hook := s.changedLocked()
	s.mu.Unlock()

	telemetry.SetRaffleEntrants(0)
	notify(hook, snap)
}

// Entrants returns the entrants in entry order.
func (s *Store) Entrants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entrants)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entrants)
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the store.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		State:     s.state,
		Entrants:  slices.Clone(s.entrants),
		LastDraw:  slices.Clone(s.lastDraw),
		UpdatedAt: s.updatedAt,
	}
}

func (s *Store) changedLocked() (Snapshot, func(Snapshot)) {
	s.updatedAt = time.Now().UTC()
	if s.onChange == nil {
		return Snapshot{}, nil
	}
	return s.snapshotLocked(), s.onChange
}

func notify(hook func(Snapshot), snap Snapshot) {
	if hook != nil {
		hook(snap)
	}
}
