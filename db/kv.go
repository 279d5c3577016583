package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// ConfigPrefix namespaces runtime config overrides in the kv table.
const ConfigPrefix = "cfg:"

// GetKV returns the value for key and whether it exists.
func GetKV(ctx context.Context, dbx *sql.DB, key string) (string, bool, error) {
	var v sql.NullString
	err := dbx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v.String, true, nil
}

func SetKV(ctx context.Context, dbx *sql.DB, key, value string) error {
	_, err := dbx.ExecContext(ctx, `INSERT INTO kv (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, key, value)
	return err
}

func DeleteKV(ctx context.Context, dbx *sql.DB, key string) error {
	_, err := dbx.ExecContext(ctx, `DELETE FROM kv WHERE key=$1`, key)
	return err
}

// ConfigOverrides returns every stored override keyed by config name
// (without the prefix).
func ConfigOverrides(ctx context.Context, dbx *sql.DB) (map[string]string, error) {
	rows, err := dbx.QueryContext(ctx, `SELECT key, value FROM kv WHERE key LIKE 'cfg:%'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[strings.TrimPrefix(k, ConfigPrefix)] = v.String
	}
	return out, rows.Err()
}

// SetConfigOverride stores an override. An empty value removes it so the
// environment default applies again.
func SetConfigOverride(ctx context.Context, dbx *sql.DB, name, value string) error {
	if value == "" {
		return DeleteKV(ctx, dbx, ConfigPrefix+name)
	}
	return SetKV(ctx, dbx, ConfigPrefix+name, value)
}
