// Package twitchapi is a small Helix client: user id resolution, live status and
// the paginated chatter and channel-role listings used to build viewer rosters.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"resenje.org/singleflight"

	"github.com/onnwee/shoutout-companion/roster"
	"github.com/onnwee/shoutout-companion/telemetry"
)

const (
	DefaultBaseURL      = "https://api.twitch.tv/helix"
	DefaultPageDelay    = 250 * time.Millisecond
	defaultRetryBackoff = 250 * time.Millisecond
	maxRetryWait        = 10 * time.Second
	helixMaxRetries     = 3
	userIDCacheTTL      = 30 * time.Minute
)

// TokenProvider yields a bearer token for Helix calls.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed user access token, typically from TWITCH_USER_TOKEN.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: no user token configured", ErrUnauthorized)
	}
	return string(s), nil
}

// invalidator is implemented by token sources that can drop a token Helix rejected.
type invalidator interface {
	Invalidate()
}

type authMode int

const (
	appAuth authMode = iota
	userAuth
)

// HelixClient calls Helix with an app token for public lookups and a user
// (moderator) token for the chatter and channel-role listings.
type HelixClient struct {
	AppTokenSource *TokenSource
	UserToken      TokenProvider
	ClientID       string
	HTTPClient     *http.Client
	BaseURL        string        // defaults to DefaultBaseURL
	PageDelay      time.Duration // pause between pages, defaults to DefaultPageDelay
	RetryBackoff   time.Duration

	initOnce sync.Once
	userIDs  *ttlcache.Cache[string, string]
	lookups  singleflight.Group[string, string]
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) init() {
	hc.initOnce.Do(func() {
		hc.userIDs = ttlcache.New(ttlcache.WithTTL[string, string](userIDCacheTTL))
	})
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return DefaultBaseURL
}

func (hc *HelixClient) pageDelay() time.Duration {
	if hc.PageDelay > 0 {
		return hc.PageDelay
	}
	return DefaultPageDelay
}

func (hc *HelixClient) tokenSource(mode authMode) TokenProvider {
	if mode == appAuth && hc.AppTokenSource != nil {
		return hc.AppTokenSource
	}
	return hc.UserToken
}

// pause waits the inter-page delay unless ctx ends first.
func (hc *HelixClient) pause(ctx context.Context) error {
	t := time.NewTimer(hc.pageDelay())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GetUserID resolves a login name to its user ID. Results are cached and
// concurrent lookups for the same login share one request.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	login = roster.Normalize(login)
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	hc.init()
	if item := hc.userIDs.Get(login); item != nil {
		return item.Value(), nil
	}
	id, _, err := hc.lookups.Do(ctx, login, func(ctx context.Context) (string, error) {
		var body struct {
			Data []struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		if err := hc.get(ctx, appAuth, "/users", url.Values{"login": {login}}, &body); err != nil {
			return "", err
		}
		if len(body.Data) == 0 || body.Data[0].ID == "" {
			return "", fmt.Errorf("%w: %s", ErrUserNotFound, login)
		}
		hc.userIDs.Set(login, body.Data[0].ID, ttlcache.DefaultTTL)
		return body.Data[0].ID, nil
	})
	if err != nil {
		hc.lookups.Forget(login)
	}
	return id, err
}

// GetAuthenticatedUserID returns the id of the user owning the user token.
func (hc *HelixClient) GetAuthenticatedUserID(ctx context.Context) (string, error) {
	var body struct {
		Data []struct {
			ID    string `json:"id"`
			Login string `json:"login"`
		} `json:"data"`
	}
	if err := hc.get(ctx, userAuth, "/users", nil, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 || body.Data[0].ID == "" {
		return "", fmt.Errorf("%w: token owner missing from /users", ErrMalformedResponse)
	}
	return body.Data[0].ID, nil
}

// Stream is a live stream entry from /streams.
type Stream struct {
	ID          string    `json:"id"`
	UserLogin   string    `json:"user_login"`
	Title       string    `json:"title"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
}

// GetStreams lists live streams for a login; an empty slice means offline.
func (hc *HelixClient) GetStreams(ctx context.Context, login string) ([]Stream, error) {
	login = roster.Normalize(login)
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.get(ctx, appAuth, "/streams", url.Values{"user_login": {login}}, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// get performs a GET with retries on 429/5xx/network errors and one token
// refresh on 401, decoding the JSON body into out.
func (hc *HelixClient) get(ctx context.Context, mode authMode, endpoint string, q url.Values, out any) error {
	src := hc.tokenSource(mode)
	if src == nil {
		return &FetchError{Endpoint: endpoint, Class: ErrUnauthorized, Err: errors.New("no token source configured")}
	}
	tok, err := src.Token(ctx)
	if err != nil {
		return tokenError(endpoint, err)
	}

	ctx, span := telemetry.StartSpan(ctx, "twitchapi", "helix "+endpoint,
		telemetry.HTTPAttrs(http.MethodGet, endpoint)...)
	defer span.End()

	refreshed := false
	attempt := 0
	for {
		status, wait, err := hc.do(ctx, endpoint, q, tok, out)
		telemetry.ObserveHelixRequest(endpoint, status)
		if err == nil {
			telemetry.SetSpanHTTPStatus(span, status)
			return nil
		}
		if ctx.Err() != nil {
			telemetry.RecordError(span, err)
			return err
		}
		if status == http.StatusUnauthorized && !refreshed {
			if inv, ok := src.(invalidator); ok {
				refreshed = true
				inv.Invalidate()
				if tok, err = src.Token(ctx); err != nil {
					telemetry.RecordError(span, err)
					return tokenError(endpoint, err)
				}
				slog.Debug("helix token refreshed after 401", slog.String("endpoint", endpoint))
				continue
			}
		}
		attempt++
		if !retryable(status, err) || attempt >= helixMaxRetries {
			telemetry.RecordError(span, err)
			return err
		}
		if wait <= 0 {
			wait = hc.backoff() * time.Duration(attempt)
		}
		slog.Debug("helix request retry", slog.String("endpoint", endpoint), slog.Int("status", status), slog.Int("attempt", attempt), slog.Duration("wait", wait))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (hc *HelixClient) backoff() time.Duration {
	if hc.RetryBackoff > 0 {
		return hc.RetryBackoff
	}
	return defaultRetryBackoff
}

func (hc *HelixClient) do(ctx context.Context, endpoint string, q url.Values, tok string, out any) (int, time.Duration, error) {
	u := hc.baseURL() + endpoint
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, 0, &FetchError{Endpoint: endpoint, Class: ErrMalformedResponse, Err: err}
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return 0, 0, &FetchError{Endpoint: endpoint, Class: ErrTransient, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Endpoint: endpoint, Status: resp.StatusCode}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var body struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(b, &body) == nil {
			apiErr.Title, apiErr.Message = body.Error, body.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(b))
		}
		return resp.StatusCode, retryAfter(resp.Header), apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, 0, &FetchError{Endpoint: endpoint, Class: ErrMalformedResponse, Err: err}
	}
	return resp.StatusCode, 0, nil
}

func retryable(status int, err error) bool {
	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		return true
	case status == 0:
		return errors.Is(err, ErrTransient)
	default:
		return false
	}
}

// retryAfter reads Retry-After (seconds) or Helix's Ratelimit-Reset (unix time).
func retryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return min(time.Duration(secs)*time.Second, maxRetryWait)
		}
	}
	if v := h.Get("Ratelimit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			return min(max(time.Until(time.Unix(unix, 0)), 0), maxRetryWait)
		}
	}
	return 0
}

func tokenError(endpoint string, err error) error {
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &FetchError{Endpoint: endpoint, Class: ErrUnauthorized, Err: err}
}
