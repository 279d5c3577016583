// Package youtubeapi wraps Google OAuth2 client config and the YouTube Data API
// for reading the live chat of the channel's active broadcast. Tokens are persisted
// via the provided TokenStore interface so they can be refreshed across restarts.
package youtubeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/shoutout-companion/chat"
	"github.com/onnwee/shoutout-companion/config"
)

const provider = "youtube"

// ErrNoToken means the broadcaster has not completed the YouTube OAuth flow.
var ErrNoToken = errors.New("no youtube token stored")

type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, raw string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken string, refreshToken string, expiry time.Time, raw string, err error)
}

type Service struct {
	cfg   *config.Config
	db    TokenStore
	oauth *oauth2.Config

	endpoint string // API base override, used in tests
}

func New(cfg *config.Config, ts TokenStore) *Service {
	scopes := []string{config.DefaultYouTubeScopes}
	if cfg.YTScopes != "" {
		// allow comma or space separated
		if fields := strings.Fields(strings.ReplaceAll(cfg.YTScopes, ",", " ")); len(fields) > 0 {
			scopes = fields
		}
	}
	oauth := &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.YTRedirectURI,
		Scopes:       scopes,
	}
	return &Service{cfg: cfg, db: ts, oauth: oauth}
}

func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	s.store(ctx, tok)
	return tok, nil
}

func (s *Service) store(ctx context.Context, tok *oauth2.Token) {
	rawBytes, _ := json.Marshal(tok)
	if err := s.db.UpsertOAuthToken(ctx, provider, tok.AccessToken, tok.RefreshToken, tok.Expiry, string(rawBytes)); err != nil {
		slog.Warn("youtube token persist failed", slog.Any("err", err))
	}
}

func (s *Service) refreshIfNeeded(ctx context.Context) (*oauth2.Token, error) {
	access, refresh, expiry, raw, err := s.db.GetOAuthToken(ctx, provider)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, ErrNoToken
	}
	var tok oauth2.Token
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &tok)
	}
	if tok.AccessToken == "" {
		tok.AccessToken = access
	}
	tok.RefreshToken = refresh
	tok.Expiry = expiry
	if time.Until(tok.Expiry) > 2*time.Minute {
		return &tok, nil
	}
	newTok, err := s.oauth.TokenSource(ctx, &tok).Token()
	if err != nil {
		return &tok, err
	}
	s.store(ctx, newTok)
	return newTok, nil
}

func (s *Service) Client(ctx context.Context) (*yt.Service, error) {
	tok, err := s.refreshIfNeeded(ctx)
	if err != nil {
		return nil, err
	}
	opts := []option.ClientOption{option.WithHTTPClient(s.oauth.Client(ctx, tok))}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}
	return yt.NewService(ctx, opts...)
}

// ActiveLiveChatID returns the live chat id of the authenticated channel's
// active broadcast, or "" when nothing is live.
func (s *Service) ActiveLiveChatID(ctx context.Context) (string, error) {
	svc, err := s.Client(ctx)
	if err != nil {
		return "", err
	}
	res, err := svc.LiveBroadcasts.List([]string{"snippet"}).BroadcastStatus("active").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("list live broadcasts: %w", err)
	}
	for _, b := range res.Items {
		if b.Snippet != nil && b.Snippet.LiveChatId != "" {
			return b.Snippet.LiveChatId, nil
		}
	}
	return "", nil
}

// LiveChatMessages fetches one page of live chat. A chat that is gone maps to
// chat.ErrLiveChatEnded so the poller goes back to looking for a broadcast.
func (s *Service) LiveChatMessages(ctx context.Context, liveChatID, pageToken string) (chat.LiveChatPage, error) {
	svc, err := s.Client(ctx)
	if err != nil {
		return chat.LiveChatPage{}, err
	}
	call := svc.LiveChatMessages.List(liveChatID, []string{"snippet", "authorDetails"}).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		if chatEnded(err) {
			return chat.LiveChatPage{}, fmt.Errorf("%w: %v", chat.ErrLiveChatEnded, err)
		}
		return chat.LiveChatPage{}, fmt.Errorf("list live chat messages: %w", err)
	}
	page := chat.LiveChatPage{
		NextPageToken: res.NextPageToken,
		PollInterval:  time.Duration(res.PollingIntervalMillis) * time.Millisecond,
	}
	for _, item := range res.Items {
		if item.Snippet == nil || item.AuthorDetails == nil {
			continue
		}
		at, _ := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
		page.Messages = append(page.Messages, chat.Message{
			Platform: chat.PlatformYouTube,
			Channel:  liveChatID,
			User:     item.AuthorDetails.DisplayName,
			Text:     item.Snippet.DisplayMessage,
			At:       at,
		})
	}
	return page, nil
}

func chatEnded(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	for _, e := range gerr.Errors {
		switch e.Reason {
		case "liveChatEnded", "liveChatNotFound", "liveChatDisabled":
			return true
		}
	}
	return false
}
