package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrLiveChatEnded is returned by a LiveChatSource when the polled chat is gone.
var ErrLiveChatEnded = errors.New("live chat ended")

// LiveChatPage is one poll of a YouTube live chat.
type LiveChatPage struct {
	Messages      []Message
	NextPageToken string
	PollInterval  time.Duration // server-suggested wait before the next poll
}

// LiveChatSource is the YouTube side of the poller.
type LiveChatSource interface {
	// ActiveLiveChatID returns the live chat of the current broadcast, or "" when offline.
	ActiveLiveChatID(ctx context.Context) (string, error)
	LiveChatMessages(ctx context.Context, liveChatID, pageToken string) (LiveChatPage, error)
}

// StartYouTubePoller polls live chat until ctx is canceled. Messages already in
// the chat when polling starts are skipped. interval is the floor between polls
// and the wait between broadcast lookups while offline.
func StartYouTubePoller(ctx context.Context, src LiveChatSource, interval time.Duration, handle Handler) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	var (
		chatID    string
		pageToken string
		backlog   bool
	)
	for {
		wait := interval
		if chatID == "" {
			id, err := src.ActiveLiveChatID(ctx)
			switch {
			case err != nil:
				slog.Warn("youtube live broadcast lookup failed", slog.Any("err", err))
			case id == "":
				slog.Debug("youtube: no active broadcast")
			default:
				slog.Info("youtube live chat found", slog.String("live_chat_id", id))
				chatID, pageToken, backlog = id, "", true
				wait = 0
			}
		} else {
			page, err := src.LiveChatMessages(ctx, chatID, pageToken)
			switch {
			case errors.Is(err, ErrLiveChatEnded):
				slog.Info("youtube live chat ended", slog.String("live_chat_id", chatID))
				chatID = ""
			case err != nil:
				slog.Warn("youtube live chat poll failed", slog.String("live_chat_id", chatID), slog.Any("err", err))
			default:
				if !backlog {
					for _, m := range page.Messages {
						handle(m)
					}
				}
				backlog = false
				pageToken = page.NextPageToken
				wait = max(interval, page.PollInterval)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
