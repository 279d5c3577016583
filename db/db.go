// Package db provides the Postgres connection, schema migration, sealed OAuth
// token storage and the kv table used for runtime config overrides.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/shoutout-companion/crypto"
)

const (
	encPlaintext = 0
	encAESGCM    = 1
)

var (
	sealer     crypto.Sealer
	sealerOnce sync.Once
	sealerErr  error
)

// tokenSealer lazily builds the sealer from ENCRYPTION_KEY. A nil sealer
// with nil error means tokens are stored in plaintext.
func tokenSealer() (crypto.Sealer, error) {
	sealerOnce.Do(func() {
		key := os.Getenv("ENCRYPTION_KEY")
		if key == "" {
			slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext", slog.String("component", "db_encryption"))
			return
		}
		s, err := crypto.NewAESSealer(key)
		if err != nil {
			sealerErr = fmt.Errorf("failed to initialize encryption: %w", err)
			slog.Error("encryption initialization failed", slog.Any("err", sealerErr), slog.String("component", "db_encryption"))
			return
		}
		sealer = s
		slog.Info("OAuth token encryption enabled", slog.String("key_id", s.KeyID()), slog.String("component", "db_encryption"))
	})
	return sealer, sealerErr
}

// Connect opens a Postgres pool. The caller decides whether an empty DSN
// means running without a database.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty DB_DSN")
	}
	dbx, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	dbx.SetMaxOpenConns(5)
	dbx.SetConnMaxIdleTime(5 * time.Minute)
	return dbx, nil
}

// Migrate applies the schema with idempotent statements. It is the fallback
// when versioned migrations cannot run.
func Migrate(ctx context.Context, dbx *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			provider TEXT PRIMARY KEY,
			access_token TEXT,
			refresh_token TEXT,
			expires_at TIMESTAMPTZ,
			scope TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			encryption_version INTEGER DEFAULT 0,
			encryption_key_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
	}
	for i, s := range stmts {
		if _, err := dbx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// UpsertOAuthToken stores the token for a provider ("twitch", "youtube"),
// sealing both tokens when ENCRYPTION_KEY is configured.
func UpsertOAuthToken(ctx context.Context, dbx *sql.DB, provider, access, refresh string, expiry time.Time, scope string) error {
	s, err := tokenSealer()
	if err != nil {
		return err
	}
	version, keyID := encPlaintext, ""
	if s != nil {
		if access, err = s.Seal(access); err != nil {
			return fmt.Errorf("seal access token: %w", err)
		}
		if refresh, err = s.Seal(refresh); err != nil {
			return fmt.Errorf("seal refresh token: %w", err)
		}
		version, keyID = encAESGCM, s.KeyID()
	}
	_, err = dbx.ExecContext(ctx, `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_version, encryption_key_id, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,NOW())
		ON CONFLICT(provider) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at,
			scope=EXCLUDED.scope,
			encryption_version=EXCLUDED.encryption_version,
			encryption_key_id=EXCLUDED.encryption_key_id,
			updated_at=NOW()`,
		provider, access, refresh, expiry, scope, version, keyID)
	return err
}

// GetOAuthToken returns the stored token, or zero values when there is none.
// Plaintext rows written before encryption was enabled are still readable.
func GetOAuthToken(ctx context.Context, dbx *sql.DB, provider string) (access, refresh string, expiry time.Time, scope string, err error) {
	var (
		version int
		keyID   sql.NullString
		exp     sql.NullTime
		sc      sql.NullString
	)
	err = dbx.QueryRowContext(ctx,
		`SELECT COALESCE(access_token, ''), COALESCE(refresh_token, ''), expires_at, scope, COALESCE(encryption_version, 0), encryption_key_id
		 FROM oauth_tokens WHERE provider = $1`, provider).
		Scan(&access, &refresh, &exp, &sc, &version, &keyID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", time.Time{}, "", nil
	}
	if err != nil {
		return "", "", time.Time{}, "", err
	}
	if version == encAESGCM {
		s, serr := tokenSealer()
		if serr != nil {
			return "", "", time.Time{}, "", serr
		}
		if s == nil {
			return "", "", time.Time{}, "", fmt.Errorf("token for %s is encrypted but ENCRYPTION_KEY is not configured", provider)
		}
		if access, err = crypto.OpenWithKeyID(s, access, keyID.String); err != nil {
			return "", "", time.Time{}, "", fmt.Errorf("open access token: %w", err)
		}
		if refresh, err = crypto.OpenWithKeyID(s, refresh, keyID.String); err != nil {
			return "", "", time.Time{}, "", fmt.Errorf("open refresh token: %w", err)
		}
	}
	return access, refresh, exp.Time, sc.String, nil
}

// TokenStoreAdapter implements youtubeapi.TokenStore on top of oauth_tokens.
// The raw token JSON is not persisted since it would hold the access token in
// the clear.
type TokenStoreAdapter struct{ DB *sql.DB }

func (t *TokenStoreAdapter) UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, _ string) error {
	return UpsertOAuthToken(ctx, t.DB, provider, accessToken, refreshToken, expiry, "")
}

func (t *TokenStoreAdapter) GetOAuthToken(ctx context.Context, provider string) (accessToken string, refreshToken string, expiry time.Time, raw string, err error) {
	access, refresh, exp, _, err := GetOAuthToken(ctx, t.DB, provider)
	return access, refresh, exp, "", err
}
