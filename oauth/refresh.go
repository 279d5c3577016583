// Package oauth keeps stored provider tokens fresh. A Refresher wakes up on a
// jittered interval and refreshes the token once its remaining lifetime drops
// inside the configured window.
package oauth

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/onnwee/shoutout-companion/db"
)

// RefreshFunc performs provider-specific refresh and returns (access, refresh, expiry, scope).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// Store persists tokens by provider name.
type Store interface {
	GetOAuthToken(ctx context.Context, provider string) (access, refresh string, expiry time.Time, scope string, err error)
	UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error
}

// DBStore is the oauth_tokens table, sealed when ENCRYPTION_KEY is set.
type DBStore struct{ DB *sql.DB }

func (s DBStore) GetOAuthToken(ctx context.Context, provider string) (string, string, time.Time, string, error) {
	return db.GetOAuthToken(ctx, s.DB, provider)
}

func (s DBStore) UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error {
	return db.UpsertOAuthToken(ctx, s.DB, provider, access, refresh, expiry, scope)
}

// ErrNoRefreshToken means the stored row cannot be refreshed and needs a new
// authorization.
var ErrNoRefreshToken = errors.New("no refresh token stored")

type Refresher struct {
	Provider string
	Store    Store
	Refresh  RefreshFunc
	// Interval is how often to check; Window is how close to expiry a refresh happens.
	Interval time.Duration
	Window   time.Duration
}

func (r *Refresher) defaults() {
	if r.Interval <= 0 {
		r.Interval = 5 * time.Minute
	}
	if r.Window <= 0 {
		r.Window = 15 * time.Minute
	}
}

// Run checks until ctx is canceled. The first check is delayed by up to half
// an interval and later checks vary by ±20%.
func (r *Refresher) Run(ctx context.Context) error {
	r.defaults()
	wait := rand.N(r.Interval/2 + 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		if _, err := r.Check(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, ErrNoRefreshToken) {
			slog.Warn("token refresh failed", slog.String("provider", r.Provider), slog.Any("err", err))
		}
		spread := r.Interval / 5
		wait = max(r.Interval+rand.N(2*spread+1)-spread, r.Interval/2)
	}
}

// Check refreshes the token if it is inside the window. It reports whether a
// refresh happened. A missing row is not an error.
func (r *Refresher) Check(ctx context.Context) (bool, error) {
	r.defaults()
	access, refresh, exp, scope, err := r.Store.GetOAuthToken(ctx, r.Provider)
	if err != nil {
		return false, err
	}
	if access == "" && refresh == "" {
		return false, nil
	}
	if time.Until(exp) > r.Window {
		return false, nil
	}
	if refresh == "" {
		return false, ErrNoRefreshToken
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, newScope, err := r.Refresh(ctx2, refresh)
	cancel()
	if err != nil {
		return false, err
	}
	if newRT == "" {
		newRT = refresh
	}
	if newScope == "" {
		newScope = scope
	}
	if err := r.Store.UpsertOAuthToken(ctx, r.Provider, newAT, newRT, newExp, strings.TrimSpace(newScope)); err != nil {
		return false, err
	}
	slog.Info("token refreshed", slog.String("provider", r.Provider), slog.Time("expires_at", newExp))
	return true, nil
}

// StartRefresher runs a Refresher against the oauth_tokens table in the background.
func StartRefresher(ctx context.Context, dbx *sql.DB, provider string, interval, window time.Duration, fn RefreshFunc) {
	r := &Refresher{Provider: provider, Store: DBStore{DB: dbx}, Refresh: fn, Interval: interval, Window: window}
	go func() { _ = r.Run(ctx) }()
}
