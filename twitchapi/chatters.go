package twitchapi

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/onnwee/shoutout-companion/roster"
	"github.com/onnwee/shoutout-companion/telemetry"
)

const (
	chattersEndpoint = "/chat/chatters"
	chattersPageSize = 1000
)

type chattersPage struct {
	Data []struct {
		UserLogin string `json:"user_login"`
	} `json:"data"`
	Pagination struct {
		Cursor string `json:"cursor"`
	} `json:"pagination"`
	Total *int `json:"total"`
}

// FetchChatters returns the logins currently connected to the broadcaster's chat.
// moderatorID must be the user behind the user token (the broadcaster or one of
// their moderators).
//
// A failure on the first page is returned as an error with a nil set. Once at
// least one page arrived, a later failure is logged and the partial set returned.
func (hc *HelixClient) FetchChatters(ctx context.Context, broadcasterID, moderatorID string) (roster.Set, error) {
	if broadcasterID == "" || moderatorID == "" {
		return nil, errors.New("broadcaster and moderator ids required")
	}
	out := roster.New()
	after := ""
	for page := 0; ; page++ {
		if page > 0 {
			if err := hc.pause(ctx); err != nil {
				return nil, err
			}
		}
		q := url.Values{}
		q.Set("broadcaster_id", broadcasterID)
		q.Set("moderator_id", moderatorID)
		q.Set("first", strconv.Itoa(chattersPageSize))
		if after != "" {
			q.Set("after", after)
		}

		var body chattersPage
		if err := hc.get(ctx, userAuth, chattersEndpoint, q, &body); err != nil {
			if page == 0 || ctx.Err() != nil {
				return nil, err
			}
			logFetchFailure(ctx, "chatter fetch incomplete, keeping partial roster", err,
				slog.Int("page", page), slog.Int("collected", out.Len()))
			return out, nil
		}
		telemetry.ObserveHelixPage(chattersEndpoint)

		for _, c := range body.Data {
			out.Add(c.UserLogin)
		}
		if body.Pagination.Cursor == "" || len(body.Data) == 0 {
			return out, nil
		}
		// total is advisory; without it the cursor alone drives paging
		if body.Total != nil && out.Len() >= *body.Total {
			return out, nil
		}
		after = body.Pagination.Cursor
	}
}
