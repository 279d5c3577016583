// Command migrate-tokens manages encryption of the oauth_tokens table.
//
//	migrate-tokens seal [--dry-run] [--provider twitch]   seal plaintext rows with ENCRYPTION_KEY
//	migrate-tokens rotate --old-key KEY                     re-seal rows from an old key to ENCRYPTION_KEY
//	migrate-tokens status                                   count rows per encryption version
//
// DB_DSN and ENCRYPTION_KEY are read from the environment.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/urfave/cli/v3"

	"github.com/onnwee/shoutout-companion/crypto"
)

// tokenRow is one oauth_tokens row as stored.
type tokenRow struct {
	Provider     string
	AccessToken  string
	RefreshToken string
	KeyID        sql.NullString
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	app := &cli.Command{
		Name:  "migrate-tokens",
		Usage: "Encrypt, rotate and inspect stored OAuth tokens",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dsn", Usage: "Postgres DSN", Sources: cli.EnvVars("DB_DSN"), Required: true},
		},
		Commands: []*cli.Command{
			{
				Name:  "seal",
				Usage: "Seal plaintext tokens with ENCRYPTION_KEY",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Usage: "base64 32-byte key", Sources: cli.EnvVars("ENCRYPTION_KEY"), Required: true},
					&cli.BoolFlag{Name: "dry-run", Usage: "Show what would be sealed without writing"},
					&cli.StringFlag{Name: "provider", Usage: "Only this provider (twitch, youtube)"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					s, err := crypto.NewAESSealer(cmd.String("key"))
					if err != nil {
						return err
					}
					return withDB(ctx, cmd.String("dsn"), func(dbx *sql.DB) error {
						n, err := sealPlaintext(ctx, dbx, s, cmd.String("provider"), cmd.Bool("dry-run"))
						slog.Info("seal finished", slog.Int("rows", n), slog.Bool("dry_run", cmd.Bool("dry-run")))
						return err
					})
				},
			},
			{
				Name:  "rotate",
				Usage: "Re-seal tokens from --old-key to ENCRYPTION_KEY",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Usage: "new base64 32-byte key", Sources: cli.EnvVars("ENCRYPTION_KEY"), Required: true},
					&cli.StringFlag{Name: "old-key", Usage: "previous base64 32-byte key", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					oldS, err := crypto.NewAESSealer(cmd.String("old-key"))
					if err != nil {
						return fmt.Errorf("old key: %w", err)
					}
					newS, err := crypto.NewAESSealer(cmd.String("key"))
					if err != nil {
						return fmt.Errorf("new key: %w", err)
					}
					return withDB(ctx, cmd.String("dsn"), func(dbx *sql.DB) error {
						n, err := rotate(ctx, dbx, oldS, newS)
						slog.Info("rotate finished", slog.Int("rows", n))
						return err
					})
				},
			},
			{
				Name:  "status",
				Usage: "Count tokens per encryption version",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withDB(ctx, cmd.String("dsn"), func(dbx *sql.DB) error {
						counts, err := status(ctx, dbx)
						for v, c := range counts {
							slog.Info("tokens", slog.Int("encryption_version", v), slog.Int("count", c))
						}
						return err
					})
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		slog.Error("migrate-tokens failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func withDB(ctx context.Context, dsn string, fn func(*sql.DB) error) error {
	dbx, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer dbx.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbx.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return fn(dbx)
}

func queryRows(ctx context.Context, dbx *sql.DB, query string, args ...any) ([]tokenRow, error) {
	rows, err := dbx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()
	var out []tokenRow
	for rows.Next() {
		var r tokenRow
		if err := rows.Scan(&r.Provider, &r.AccessToken, &r.RefreshToken, &r.KeyID); err != nil {
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// sealPlaintext seals every encryption_version=0 row. It returns the number
// of rows sealed (or that would be, with dryRun).
func sealPlaintext(ctx context.Context, dbx *sql.DB, s crypto.Sealer, provider string, dryRun bool) (int, error) {
	q := `SELECT provider, COALESCE(access_token, ''), COALESCE(refresh_token, ''), encryption_key_id
		FROM oauth_tokens WHERE COALESCE(encryption_version, 0) = 0`
	var args []any
	if provider != "" {
		q += ` AND provider = $1`
		args = append(args, provider)
	}
	rows, err := queryRows(ctx, dbx, q+` ORDER BY provider`, args...)
	if err != nil {
		return 0, err
	}
	if dryRun {
		for _, r := range rows {
			slog.Info("would seal token (dry-run)", slog.String("provider", r.Provider))
		}
		return len(rows), nil
	}
	done := 0
	for _, r := range rows {
		access, err := s.Seal(r.AccessToken)
		if err != nil {
			return done, fmt.Errorf("seal %s access token: %w", r.Provider, err)
		}
		refresh, err := s.Seal(r.RefreshToken)
		if err != nil {
			return done, fmt.Errorf("seal %s refresh token: %w", r.Provider, err)
		}
		if err := updateRow(ctx, dbx, r.Provider, access, refresh, s.KeyID(), 0); err != nil {
			return done, err
		}
		slog.Info("sealed token", slog.String("provider", r.Provider))
		done++
	}
	return done, nil
}

// rotate re-seals rows sealed under oldS. Rows already under newS are skipped.
func rotate(ctx context.Context, dbx *sql.DB, oldS, newS crypto.Sealer) (int, error) {
	rows, err := queryRows(ctx, dbx, `SELECT provider, COALESCE(access_token, ''), COALESCE(refresh_token, ''), encryption_key_id
		FROM oauth_tokens WHERE encryption_version = 1 ORDER BY provider`)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, r := range rows {
		if r.KeyID.String == newS.KeyID() {
			continue
		}
		access, err := crypto.OpenWithKeyID(oldS, r.AccessToken, r.KeyID.String)
		if err != nil {
			return done, fmt.Errorf("open %s access token: %w", r.Provider, err)
		}
		refresh, err := crypto.OpenWithKeyID(oldS, r.RefreshToken, r.KeyID.String)
		if err != nil {
			return done, fmt.Errorf("open %s refresh token: %w", r.Provider, err)
		}
		if access, err = newS.Seal(access); err != nil {
			return done, err
		}
		if refresh, err = newS.Seal(refresh); err != nil {
			return done, err
		}
		if err := updateRow(ctx, dbx, r.Provider, access, refresh, newS.KeyID(), 1); err != nil {
			return done, err
		}
		slog.Info("rotated token", slog.String("provider", r.Provider))
		done++
	}
	return done, nil
}

// updateRow writes sealed values, guarded on the version read earlier so a
// concurrent writer makes the update fail instead of being overwritten.
func updateRow(ctx context.Context, dbx *sql.DB, provider, access, refresh, keyID string, fromVersion int) error {
	res, err := dbx.ExecContext(ctx, `UPDATE oauth_tokens
		SET access_token = $1, refresh_token = $2, encryption_version = 1, encryption_key_id = $3, updated_at = NOW()
		WHERE provider = $4 AND COALESCE(encryption_version, 0) = $5`,
		access, refresh, keyID, provider, fromVersion)
	if err != nil {
		return fmt.Errorf("update %s: %w", provider, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("update %s: expected 1 row, got %d (modified concurrently?)", provider, n)
	}
	return nil
}

func status(ctx context.Context, dbx *sql.DB) (map[int]int, error) {
	rows, err := dbx.QueryContext(ctx, `SELECT COALESCE(encryption_version, 0), COUNT(*) FROM oauth_tokens GROUP BY 1 ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	defer rows.Close()
	out := map[int]int{}
	for rows.Next() {
		var v, c int
		if err := rows.Scan(&v, &c); err != nil {
			return nil, err
		}
		out[v] = c
	}
	return out, rows.Err()
}
