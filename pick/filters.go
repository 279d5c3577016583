// Package pick resolves the eligible viewer pool for a shout-out and draws from it.
package pick

import (
	"context"
	"errors"
	"log/slog"

	"github.com/onnwee/shoutout-companion/roster"
	"github.com/onnwee/shoutout-companion/twitchapi"
)

// RosterFetcher fetches one channel-role roster.
type RosterFetcher interface {
	Roster(ctx context.Context, kind roster.Kind) (roster.Set, error)
}

// Filters selects which channel roles a viewer must hold to be eligible.
type Filters struct {
	VIP        bool `json:"vip"`
	Moderator  bool `json:"moderator"`
	Subscriber bool `json:"subscriber"`
	Follower   bool `json:"follower"`
}

// Active lists the flagged roster kinds in a fixed order.
func (f Filters) Active() []roster.Kind {
	var kinds []roster.Kind
	if f.VIP {
		kinds = append(kinds, roster.KindVIP)
	}
	if f.Moderator {
		kinds = append(kinds, roster.KindModerator)
	}
	if f.Subscriber {
		kinds = append(kinds, roster.KindSubscriber)
	}
	if f.Follower {
		kinds = append(kinds, roster.KindFollower)
	}
	return kinds
}

// Skip records a filter that was ignored because its roster could not be fetched.
type Skip struct {
	Kind   roster.Kind `json:"kind"`
	Class  string      `json:"class"`
	Reason string      `json:"reason"`
}

// Eligibility is the outcome of applying filters to a base roster.
type Eligibility struct {
	Set     roster.Set
	Applied []roster.Kind
	Skipped []Skip
}

// Builder narrows a base roster by the active filters.
type Builder struct {
	Fetcher RosterFetcher
}

// Build fetches only the flagged rosters, one after another, and intersects the
// base roster with each one that arrived intact. A filter whose fetch failed is
// skipped and reported instead of emptying the pool. Only context cancellation
// is returned as an error.
func (b *Builder) Build(ctx context.Context, base roster.Set, f Filters) (Eligibility, error) {
	el := Eligibility{Set: base}
	var narrowing []roster.Set
	for _, kind := range f.Active() {
		set, err := b.Fetcher.Roster(ctx, kind)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Eligibility{}, ctxErr
			}
			skip := Skip{Kind: kind, Class: twitchapi.Classify(err), Reason: Describe(err)}
			attrs := []any{slog.String("filter", string(kind)), slog.String("class", skip.Class), slog.Any("err", err)}
			if errors.Is(err, twitchapi.ErrUnauthorized) {
				attrs = append(attrs, slog.String("reason", "authorization"))
			}
			slog.Warn("filter skipped", attrs...)
			el.Skipped = append(el.Skipped, skip)
			continue
		}
		narrowing = append(narrowing, set)
		el.Applied = append(el.Applied, kind)
	}
	el.Set = narrow(base, narrowing)
	return el, nil
}

// narrow intersects base with every roster in order. With no rosters base is
// returned as is.
func narrow(base roster.Set, rosters []roster.Set) roster.Set {
	out := base
	for _, r := range rosters {
		out = out.Intersect(r)
	}
	if out == nil {
		return roster.New()
	}
	return out
}
