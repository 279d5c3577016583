// Package roster holds viewer identifier sets and the uniform sampler used for
// shout-out picks and raffle draws.
//
// A Set is a snapshot: it is built from one fetch and never kept in sync with
// the platform afterwards. Identifiers are platform usernames normalized to
// lowercase so membership checks are case-insensitive.
package roster

import (
	"slices"
	"strings"
)

// Kind names a roster that can be fetched for a channel.
type Kind string

const (
	KindChatters   Kind = "chatters"
	KindVIP        Kind = "vip"
	KindModerator  Kind = "moderator"
	KindSubscriber Kind = "subscriber"
	KindFollower   Kind = "follower"
)

// Normalize returns the comparison form of a viewer identifier.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Set is a set of normalized viewer identifiers.
type Set map[string]struct{}

// New builds a Set from ids, skipping blanks.
func New(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id and reports whether it was not already present.
func (s Set) Add(id string) bool {
	id = Normalize(id)
	if id == "" {
		return false
	}
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

func (s Set) Contains(id string) bool {
	_, ok := s[Normalize(id)]
	return ok
}

func (s Set) Len() int { return len(s) }

// Slice returns the members in sorted order.
func (s Set) Slice() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Intersect returns a new Set with the members present in both s and other.
// Neither input is modified.
func (s Set) Intersect(other Set) Set {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	out := make(Set, len(small))
	for id := range small {
		if _, ok := large[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if _, ok := other[id]; !ok {
			return false
		}
	}
	return true
}
