package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultUserScopes covers every listing the picker can filter on plus chat reads
// for the raffle listener.
const DefaultUserScopes = "moderator:read:chatters moderation:read channel:read:vips channel:read:subscriptions moderator:read:followers chat:read"

const authorizeURL = "https://id.twitch.tv/oauth2/authorize"

// defaultGrantLifetime applies when Twitch omits expires_in.
const defaultGrantLifetime = time.Hour

// oauthHTTPClient is used for the authorization code and refresh grants.
var oauthHTTPClient = http.DefaultClient

// TokenGrant is the token endpoint reply for the authorization_code and refresh_token grants.
type TokenGrant struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Scope        []string `json:"scope"`
	ExpiresIn    int      `json:"expires_in"`
}

// BuildAuthorizeURL returns the consent page URL for the broadcaster. Scopes
// may be separated by commas or spaces.
func BuildAuthorizeURL(clientID, redirectURI, scopes, state string) (string, error) {
	if clientID == "" || redirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {clientID},
		"redirect_uri":  {redirectURI},
	}
	if s := strings.Fields(strings.ReplaceAll(scopes, ",", " ")); len(s) > 0 {
		q.Set("scope", strings.Join(s, " "))
	}
	if state != "" {
		q.Set("state", state)
	}
	return authorizeURL + "?" + q.Encode(), nil
}

// ExchangeAuthCode redeems the code from the OAuth callback.
func ExchangeAuthCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*TokenGrant, error) {
	if code == "" || redirectURI == "" {
		return nil, errors.New("missing code or redirect uri for auth code exchange")
	}
	return grant(ctx, clientID, clientSecret, "twitch auth code exchange", url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
	})
}

// RefreshToken trades a refresh token for a new access token. Twitch may
// rotate the refresh token, so callers must store the returned one.
func RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*TokenGrant, error) {
	if refreshToken == "" {
		return nil, errors.New("missing refresh token")
	}
	return grant(ctx, clientID, clientSecret, "twitch refresh", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

func grant(ctx context.Context, clientID, clientSecret, what string, form url.Values) (*TokenGrant, error) {
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("missing client id or secret for " + what)
	}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	var res TokenGrant
	if err := postTokenForm(ctx, oauthHTTPClient, form, what, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ComputeExpiry converts expires_in seconds to an absolute time.
func ComputeExpiry(seconds int) time.Time {
	d := time.Duration(seconds) * time.Second
	if seconds <= 0 {
		d = defaultGrantLifetime
	}
	return time.Now().Add(d)
}
