package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withOAuthServer points the authorization code and refresh grants at h for
// the duration of the test.
func withOAuthServer(t *testing.T, h http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(h)
	prev := oauthHTTPClient
	oauthHTTPClient = &http.Client{Transport: &rewriteTransport{Transport: http.DefaultTransport, host: srv.URL}}
	t.Cleanup(func() {
		oauthHTTPClient = prev
		srv.Close()
	})
}

func TestBuildAuthorizeURL(t *testing.T) {
	u, err := BuildAuthorizeURL("cid", "http://localhost:8080/auth/twitch/callback", "moderator:read:chatters, channel:read:vips", "st8")
	require.NoError(t, err)

	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, "id.twitch.tv", parsed.Host)
	assert.Equal(t, "/oauth2/authorize", parsed.Path)

	q := parsed.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "st8", q.Get("state"))
	// commas and repeated spaces collapse to single space separators
	assert.Equal(t, "moderator:read:chatters channel:read:vips", q.Get("scope"))

	u, err = BuildAuthorizeURL("cid", "http://localhost/cb", "", "")
	require.NoError(t, err)
	parsed, _ = url.Parse(u)
	assert.False(t, parsed.Query().Has("scope"))
	assert.False(t, parsed.Query().Has("state"))

	for _, missing := range [][2]string{{"", "http://localhost/cb"}, {"cid", ""}} {
		_, err := BuildAuthorizeURL(missing[0], missing[1], DefaultUserScopes, "s")
		assert.Error(t, err, "client=%q redirect=%q", missing[0], missing[1])
	}
}

func TestComputeExpiry(t *testing.T) {
	cases := map[int]time.Duration{
		14400: 4 * time.Hour,
		3600:  time.Hour,
		0:     time.Hour,
		-100:  time.Hour,
	}
	for seconds, want := range cases {
		got := time.Until(ComputeExpiry(seconds))
		assert.InDelta(t, want.Seconds(), got.Seconds(), 2, "ComputeExpiry(%d)", seconds)
	}
}

func TestExchangeAuthCode(t *testing.T) {
	var form url.Values
	withOAuthServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "user-access",
			"refresh_token": "user-refresh",
			"token_type":    "bearer",
			"expires_in":    14000,
			"scope":         []string{"moderator:read:chatters"},
		})
	})

	grant, err := ExchangeAuthCode(context.Background(), "cid", "secret", "the-code", "http://localhost/cb")
	require.NoError(t, err)
	assert.Equal(t, "user-access", grant.AccessToken)
	assert.Equal(t, "user-refresh", grant.RefreshToken)
	assert.Equal(t, 14000, grant.ExpiresIn)
	assert.Equal(t, []string{"moderator:read:chatters"}, grant.Scope)

	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "the-code", form.Get("code"))
	assert.Equal(t, "http://localhost/cb", form.Get("redirect_uri"))
}

func TestRefreshTokenGrant(t *testing.T) {
	var form url.Values
	withOAuthServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    7200,
			"scope":         []string{"moderator:read:chatters", "chat:read"},
		})
	})

	grant, err := RefreshToken(context.Background(), "cid", "secret", "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-access", grant.AccessToken)
	assert.Equal(t, "new-refresh", grant.RefreshToken)
	assert.Len(t, grant.Scope, 2)
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "old-refresh", form.Get("refresh_token"))
}

func TestOAuthGrantFailures(t *testing.T) {
	withOAuthServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":400,"message":"Invalid authorization code"}`))
	})
	ctx := context.Background()

	_, err := ExchangeAuthCode(ctx, "cid", "secret", "bad", "http://localhost/cb")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = RefreshToken(ctx, "cid", "secret", "revoked")
	assert.ErrorIs(t, err, ErrUnauthorized)

	// parameter checks fail before any request is made
	_, err = ExchangeAuthCode(ctx, "cid", "", "code", "http://localhost/cb")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	_, err = RefreshToken(ctx, "cid", "secret", "")
	assert.Error(t, err)
}
