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
	"strings"
	"sync"
	"time"

	"resenje.org/singleflight"
)

// tokenURL is the Twitch OAuth token endpoint shared by all grants.
const tokenURL = "https://id.twitch.tv/oauth2/token"

// earlyExpiry is how long before its expiry a cached token stops being served.
const earlyExpiry = time.Minute

type appToken struct {
	value     string
	expiresAt time.Time
}

func (t appToken) usable() bool {
	return t.value != "" && time.Until(t.expiresAt) > earlyExpiry
}

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// App tokens are enough for user and stream lookups; chatter and channel-role
// listings need a user token (see TokenFunc and StaticToken).
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client

	mu      sync.RWMutex
	cached  appToken
	fetches singleflight.Group[string, appToken]
}

// Token implements TokenProvider.
func (ts *TokenSource) Token(ctx context.Context) (string, error) { return ts.Get(ctx) }

// Get returns the cached app token, fetching a new one when it is missing or
// about to expire. Concurrent callers share a single fetch.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	cur := ts.cached
	ts.mu.RUnlock()
	if cur.usable() {
		return cur.value, nil
	}
	tok, _, err := ts.fetches.Do(ctx, "app", ts.fetch)
	if err != nil {
		ts.fetches.Forget("app")
		return "", err
	}
	return tok.value, nil
}

// SetToken seeds the cache, e.g. with a token persisted across restarts.
func (ts *TokenSource) SetToken(token string, expiresAt time.Time) {
	ts.mu.Lock()
	ts.cached = appToken{value: token, expiresAt: expiresAt}
	ts.mu.Unlock()
}

// Invalidate drops the cached token so the next Get requests a new one.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.cached = appToken{}
	ts.mu.Unlock()
}

func (ts *TokenSource) fetch(ctx context.Context) (appToken, error) {
	ts.mu.RLock()
	cur := ts.cached
	ts.mu.RUnlock()
	if cur.usable() {
		return cur, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return appToken{}, fmt.Errorf("%w: missing client id/secret for twitch app token", ErrUnauthorized)
	}
	form := url.Values{
		"client_id":     {ts.ClientID},
		"client_secret": {ts.ClientSecret},
		"grant_type":    {"client_credentials"},
	}
	var reply struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := postTokenForm(ctx, ts.HTTPClient, form, "twitch app token request", &reply); err != nil {
		return appToken{}, err
	}
	if reply.AccessToken == "" {
		return appToken{}, errors.New("empty access_token in twitch response")
	}
	tok := appToken{value: reply.AccessToken, expiresAt: time.Now().Add(time.Duration(reply.ExpiresIn) * time.Second)}
	ts.mu.Lock()
	ts.cached = tok
	ts.mu.Unlock()
	slog.Debug("twitch app token fetched", slog.Time("expires_at", tok.expiresAt))
	return tok, nil
}

// TokenFunc adapts a function (for example a database lookup of the stored
// broadcaster token) to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// postTokenForm posts a grant to the token endpoint and decodes the JSON reply
// into out. Rejected credentials or codes (400, 401) wrap ErrUnauthorized.
func postTokenForm(ctx context.Context, client *http.Client, form url.Values, what string, out any) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, what, err)
		}
		return nil
	case http.StatusBadRequest, http.StatusUnauthorized:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %s rejected: %s: %s", ErrUnauthorized, what, resp.Status, b)
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s failed: %s: %s", what, resp.Status, b)
	}
}
