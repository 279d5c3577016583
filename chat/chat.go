package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// Platform identifies where a message was observed.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
)

// Message is one observed chat line.
type Message struct {
	Platform Platform
	Channel  string // twitch channel login, or the youtube live chat id
	User     string // login or display name used as the viewer identifier
	Text     string
	At       time.Time
}

// Handler consumes messages. It is called from the ingesting goroutine.
type Handler func(Message)

// TwitchConfig holds IRC credentials. Username and OAuthToken are optional.
type TwitchConfig struct {
	Channel    string
	Username   string
	OAuthToken string
}

const (
	reconnectMin = 2 * time.Second
	reconnectMax = 2 * time.Minute
)

// StartTwitchListener runs until ctx is canceled, reconnecting after failures.
func StartTwitchListener(ctx context.Context, cfg TwitchConfig, handle Handler) error {
	channel := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(cfg.Channel)), "#")
	if channel == "" {
		return errors.New("twitch channel not configured")
	}
	backoff := reconnectMin
	for {
		start := time.Now()
		err := runTwitchClient(ctx, cfg, channel, handle)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(start) > reconnectMax {
			backoff = reconnectMin
		}
		slog.Warn("twitch chat disconnected; reconnecting", slog.String("channel", channel), slog.Duration("in", backoff), slog.Any("err", err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, reconnectMax)
	}
}

func runTwitchClient(ctx context.Context, cfg TwitchConfig, channel string, handle Handler) error {
	var client *twitch.Client
	if cfg.Username != "" && cfg.OAuthToken != "" {
		token := cfg.OAuthToken
		if !strings.HasPrefix(token, "oauth:") {
			token = "oauth:" + token
		}
		client = twitch.NewClient(cfg.Username, token)
	} else {
		slog.Info("twitch bot credentials not set; reading chat anonymously", slog.String("channel", channel))
		client = twitch.NewAnonymousClient()
	}

	client.OnConnect(func() {
		slog.Info("twitch chat connected", slog.String("channel", channel))
	})
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		at := msg.Time
		if at.IsZero() {
			at = time.Now()
		}
		handle(Message{
			Platform: PlatformTwitch,
			Channel:  msg.Channel,
			User:     msg.User.Name,
			Text:     msg.Message,
			At:       at.UTC(),
		})
	})

	client.Join(channel)
	errCh := make(chan error, 1)
	go func() { errCh <- client.Connect() }()

	select {
	case <-ctx.Done():
		if err := client.Disconnect(); err != nil {
			slog.Debug("twitch chat disconnect", slog.Any("err", err))
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, twitch.ErrClientDisconnected) {
			return nil
		}
		return fmt.Errorf("twitch chat: %w", err)
	}
}
