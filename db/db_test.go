package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/shoutout-companion/crypto"
)

// useSealer pins the package sealer for one test.
func useSealer(t *testing.T, s crypto.Sealer) {
	t.Helper()
	sealerOnce = sync.Once{}
	sealerOnce.Do(func() {})
	sealer, sealerErr = s, nil
	t.Cleanup(func() {
		sealerOnce = sync.Once{}
		sealer, sealerErr = nil, nil
	})
}

func testSealer(t *testing.T, b byte) *crypto.AESSealer {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	s, err := crypto.NewAESSealer(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	return s
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func() error) {
	t.Helper()
	dbx, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })
	return dbx, mock, mock.ExpectationsWereMet
}

func TestConnectRequiresDSN(t *testing.T) {
	_, err := Connect("")
	assert.Error(t, err)
}

func TestUpsertOAuthTokenPlaintext(t *testing.T) {
	useSealer(t, nil)
	dbx, mock, done := newMock(t)
	exp := time.Now().Add(time.Hour)

	mock.ExpectExec("INSERT INTO oauth_tokens").
		WithArgs("twitch", "access", "refresh", exp, "chat:read", 0, "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, UpsertOAuthToken(context.Background(), dbx, "twitch", "access", "refresh", exp, "chat:read"))
	assert.NoError(t, done())
}

func TestUpsertOAuthTokenSealed(t *testing.T) {
	s := testSealer(t, 7)
	useSealer(t, s)
	dbx, mock, done := newMock(t)

	var sealedAccess string
	mock.ExpectExec("INSERT INTO oauth_tokens").
		WithArgs("youtube", sealedArg{s, "access", &sealedAccess}, sealedArg{s, "refresh", nil}, sqlmock.AnyArg(), "", 1, s.KeyID()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, UpsertOAuthToken(context.Background(), dbx, "youtube", "access", "refresh", time.Now(), ""))
	assert.NoError(t, done())
	assert.NotEqual(t, "access", sealedAccess)
}

// sealedArg matches a value that opens to want under s.
type sealedArg struct {
	s    crypto.Sealer
	want string
	got  *string
}

func (a sealedArg) Match(v driver.Value) bool {
	str, ok := v.(string)
	if !ok {
		return false
	}
	if a.got != nil {
		*a.got = str
	}
	plain, err := a.s.Open(str)
	return err == nil && plain == a.want
}

func TestGetOAuthToken(t *testing.T) {
	cols := []string{"access_token", "refresh_token", "expires_at", "scope", "encryption_version", "encryption_key_id"}
	exp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("missing row", func(t *testing.T) {
		useSealer(t, nil)
		dbx, mock, done := newMock(t)
		mock.ExpectQuery("SELECT .* FROM oauth_tokens").WithArgs("twitch").WillReturnRows(sqlmock.NewRows(cols))

		access, refresh, expiry, scope, err := GetOAuthToken(context.Background(), dbx, "twitch")
		require.NoError(t, err)
		assert.Empty(t, access+refresh+scope)
		assert.True(t, expiry.IsZero())
		assert.NoError(t, done())
	})

	t.Run("plaintext", func(t *testing.T) {
		useSealer(t, testSealer(t, 1))
		dbx, mock, done := newMock(t)
		mock.ExpectQuery("SELECT .* FROM oauth_tokens").WithArgs("twitch").
			WillReturnRows(sqlmock.NewRows(cols).AddRow("a", "r", exp, "chat:read", 0, nil))

		access, refresh, expiry, scope, err := GetOAuthToken(context.Background(), dbx, "twitch")
		require.NoError(t, err)
		assert.Equal(t, "a", access)
		assert.Equal(t, "r", refresh)
		assert.Equal(t, exp, expiry)
		assert.Equal(t, "chat:read", scope)
		assert.NoError(t, done())
	})

	t.Run("sealed", func(t *testing.T) {
		s := testSealer(t, 1)
		useSealer(t, s)
		sa, _ := s.Seal("a")
		sr, _ := s.Seal("r")
		dbx, mock, done := newMock(t)
		mock.ExpectQuery("SELECT .* FROM oauth_tokens").WithArgs("twitch").
			WillReturnRows(sqlmock.NewRows(cols).AddRow(sa, sr, exp, nil, 1, s.KeyID()))

		access, refresh, _, scope, err := GetOAuthToken(context.Background(), dbx, "twitch")
		require.NoError(t, err)
		assert.Equal(t, "a", access)
		assert.Equal(t, "r", refresh)
		assert.Empty(t, scope)
		assert.NoError(t, done())
	})

	t.Run("sealed without key", func(t *testing.T) {
		useSealer(t, nil)
		dbx, mock, _ := newMock(t)
		mock.ExpectQuery("SELECT .* FROM oauth_tokens").WithArgs("twitch").
			WillReturnRows(sqlmock.NewRows(cols).AddRow("x", "y", exp, "", 1, "abcd1234"))

		_, _, _, _, err := GetOAuthToken(context.Background(), dbx, "twitch")
		assert.ErrorContains(t, err, "ENCRYPTION_KEY")
	})

	t.Run("sealed with another key", func(t *testing.T) {
		other := testSealer(t, 2)
		useSealer(t, testSealer(t, 1))
		sa, _ := other.Seal("a")
		dbx, mock, _ := newMock(t)
		mock.ExpectQuery("SELECT .* FROM oauth_tokens").WithArgs("twitch").
			WillReturnRows(sqlmock.NewRows(cols).AddRow(sa, "", exp, "", 1, other.KeyID()))

		_, _, _, _, err := GetOAuthToken(context.Background(), dbx, "twitch")
		assert.True(t, errors.Is(err, crypto.ErrKeyMismatch), "err = %v", err)
	})
}

func TestTokenStoreAdapterDropsRaw(t *testing.T) {
	useSealer(t, nil)
	dbx, mock, done := newMock(t)
	exp := time.Now().Add(time.Hour)
	mock.ExpectExec("INSERT INTO oauth_tokens").
		WithArgs("youtube", "a", "r", exp, "", 0, "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ad := &TokenStoreAdapter{DB: dbx}
	require.NoError(t, ad.UpsertOAuthToken(context.Background(), "youtube", "a", "r", exp, `{"access_token":"a"}`))
	assert.NoError(t, done())
}

func TestKV(t *testing.T) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		dbx, mock, done := newMock(t)
		mock.ExpectQuery("SELECT value FROM kv").WithArgs("k").WillReturnRows(sqlmock.NewRows([]string{"value"}))
		v, ok, err := GetKV(ctx, dbx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, v)
		assert.NoError(t, done())
	})

	t.Run("get present", func(t *testing.T) {
		dbx, mock, done := newMock(t)
		mock.ExpectQuery("SELECT value FROM kv").WithArgs("k").WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("v"))
		v, ok, err := GetKV(ctx, dbx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v", v)
		assert.NoError(t, done())
	})

	t.Run("overrides strip prefix", func(t *testing.T) {
		dbx, mock, done := newMock(t)
		mock.ExpectQuery("SELECT key, value FROM kv").WillReturnRows(
			sqlmock.NewRows([]string{"key", "value"}).
				AddRow("cfg:RAFFLE_TRIGGER", "!enter").
				AddRow("cfg:PICK_DEFAULT_COUNT", "3"))
		got, err := ConfigOverrides(ctx, dbx)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"RAFFLE_TRIGGER": "!enter", "PICK_DEFAULT_COUNT": "3"}, got)
		assert.NoError(t, done())
	})

	t.Run("set override", func(t *testing.T) {
		dbx, mock, done := newMock(t)
		mock.ExpectExec("INSERT INTO kv").WithArgs("cfg:RAFFLE_TRIGGER", "!enter").WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, SetConfigOverride(ctx, dbx, "RAFFLE_TRIGGER", "!enter"))
		assert.NoError(t, done())
	})

	t.Run("empty override deletes", func(t *testing.T) {
		dbx, mock, done := newMock(t)
		mock.ExpectExec("DELETE FROM kv").WithArgs("cfg:RAFFLE_TRIGGER").WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, SetConfigOverride(ctx, dbx, "RAFFLE_TRIGGER", ""))
		assert.NoError(t, done())
	})
}
