package twitchapi

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/onnwee/shoutout-companion/roster"
	"github.com/onnwee/shoutout-companion/telemetry"
)

// rosterEndpoints maps each channel-role roster to its listing endpoint.
var rosterEndpoints = map[roster.Kind]string{
	roster.KindVIP:        "/channels/vips",
	roster.KindModerator:  "/moderation/moderators",
	roster.KindSubscriber: "/subscriptions",
	roster.KindFollower:   "/channels/followers",
}

// FetchRoster lists one channel-role roster for the broadcaster. Semantics follow FetchList.
func (hc *HelixClient) FetchRoster(ctx context.Context, kind roster.Kind, broadcasterID string, limit int) (roster.Set, error) {
	endpoint, ok := rosterEndpoints[kind]
	if !ok {
		return roster.New(), fmt.Errorf("no listing endpoint for roster kind %q", kind)
	}
	return hc.FetchList(ctx, ListRequest{
		Endpoint: endpoint,
		Params:   url.Values{"broadcaster_id": {broadcasterID}},
		Field:    "user_login",
		Limit:    limit,
	})
}

// Channel binds a HelixClient to one broadcaster so it can serve rosters for picks.
type Channel struct {
	Client      *HelixClient
	Login       string
	ModeratorID string // defaults to the user token's owner
	Limit       int    // per-roster record limit, 0 for none

	mu          sync.Mutex
	moderatorID string
}

// BroadcasterID resolves the channel login to its user id.
func (c *Channel) BroadcasterID(ctx context.Context) (string, error) {
	return c.Client.GetUserID(ctx, c.Login)
}

func (c *Channel) moderator(ctx context.Context) (string, error) {
	if c.ModeratorID != "" {
		return c.ModeratorID, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.moderatorID != "" {
		return c.moderatorID, nil
	}
	id, err := c.Client.GetAuthenticatedUserID(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve moderator id: %w", err)
	}
	c.moderatorID = id
	return id, nil
}

// Chatters returns everyone currently in chat.
func (c *Channel) Chatters(ctx context.Context) (roster.Set, error) {
	bid, err := c.BroadcasterID(ctx)
	if err != nil {
		return nil, err
	}
	mid, err := c.moderator(ctx)
	if err != nil {
		return nil, err
	}
	set, err := c.Client.FetchChatters(ctx, bid, mid)
	if err != nil {
		telemetry.ObserveRosterFailure(string(roster.KindChatters), Classify(err))
	}
	return set, err
}

// Roster returns one channel-role roster.
func (c *Channel) Roster(ctx context.Context, kind roster.Kind) (roster.Set, error) {
	bid, err := c.BroadcasterID(ctx)
	if err != nil {
		return roster.New(), err
	}
	set, err := c.Client.FetchRoster(ctx, kind, bid, c.Limit)
	if err != nil {
		telemetry.ObserveRosterFailure(string(kind), Classify(err))
	}
	return set, err
}
