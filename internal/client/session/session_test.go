package session

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/freshtrio/internal/client/storage"
	"github.com/atinyakov/freshtrio/internal/models"
)

func mintJWT(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func newTestManager(now time.Time) (*Manager, *storage.MemoryBackend, *storage.MemoryBackend) {
	secure, general := storage.NewMemoryBackend(), storage.NewMemoryBackend()
	m := NewManager(storage.NewTiers(secure, general, nil), WithClock(func() time.Time { return now }))
	return m, secure, general
}

func TestSaveTokens(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	t.Run("missing access token", func(t *testing.T) {
		m, _, _ := newTestManager(now)
		err := m.SaveTokens(ctx, models.TokenSet{RefreshToken: "r"})
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.Empty(t, m.RefreshToken(ctx))
	})

	t.Run("full set", func(t *testing.T) {
		m, secure, general := newTestManager(now)
		exp := now.Add(time.Hour)
		require.NoError(t, m.SaveTokens(ctx, models.TokenSet{
			AccessToken:  "a",
			RefreshToken: "r",
			ExpiresAt:    &exp,
			TokenType:    "Bearer",
		}))

		v, _ := secure.Get(ctx, KeyAccessToken)
		assert.Equal(t, "a", v)
		v, _ = secure.Get(ctx, KeyRefreshToken)
		assert.Equal(t, "r", v)
		v, _ = general.Get(ctx, KeyExpiresAt)
		assert.Equal(t, "1700003600", v)
		assert.Equal(t, "Bearer", m.TokenType(ctx))
		assert.Equal(t, Authenticated, m.State(ctx))
	})

	t.Run("optional fields absent", func(t *testing.T) {
		m, _, general := newTestManager(now)
		require.NoError(t, m.SaveTokens(ctx, models.TokenSet{AccessToken: "a"}))
		_, err := general.Get(ctx, KeyExpiresAt)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.Empty(t, m.RefreshToken(ctx))
	})
}

func TestSaveTokensWithExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m, _, _ := newTestManager(now)

	access := mintJWT(t, jwt.MapClaims{"sub": "u1", "exp": now.Add(2 * time.Hour).Unix()})
	require.NoError(t, m.SaveTokensWithExpiry(ctx, access, "refresh"))

	exp, ok := m.Expiry(ctx)
	require.True(t, ok)
	assert.Equal(t, now.Add(2*time.Hour).Unix(), exp.Unix())
	assert.Equal(t, "Bearer", m.TokenType(ctx))
	assert.Equal(t, "refresh", m.RefreshToken(ctx))

	// An opaque token is stored without expiry.
	m2, _, _ := newTestManager(now)
	require.NoError(t, m2.SaveTokensWithExpiry(ctx, "opaque", ""))
	_, ok = m2.Expiry(ctx)
	assert.False(t, ok)
	assert.False(t, m2.IsTokenExpired(ctx))
}

func TestIsTokenExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name   string
		expiry *time.Time
		want   bool
	}{
		{name: "no expiry recorded", expiry: nil, want: false},
		{name: "well in the future", expiry: ptr(now.Add(time.Hour)), want: false},
		{name: "just outside the margin", expiry: ptr(now.Add(ExpiryMargin + time.Second)), want: false},
		{name: "exactly at the margin", expiry: ptr(now.Add(ExpiryMargin)), want: true},
		{name: "within the margin", expiry: ptr(now.Add(time.Minute)), want: true},
		{name: "in the past", expiry: ptr(now.Add(-time.Hour)), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestManager(now)
			require.NoError(t, m.SaveTokens(ctx, models.TokenSet{AccessToken: "a", ExpiresAt: tt.expiry}))
			assert.Equal(t, tt.want, m.IsTokenExpired(ctx))
		})
	}

	t.Run("unparsable expiry", func(t *testing.T) {
		m, _, general := newTestManager(now)
		require.NoError(t, general.Set(ctx, KeyExpiresAt, "soon"))
		assert.True(t, m.IsTokenExpired(ctx))
	})
}

func TestIsAuthenticated(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	user := models.User{ID: "u1", Email: "a@b.c", Role: models.RoleCustomer, Provider: "password"}

	t.Run("nothing stored", func(t *testing.T) {
		m, _, _ := newTestManager(now)
		assert.False(t, m.IsAuthenticated(ctx))
		assert.Equal(t, Unauthenticated, m.State(ctx))
	})

	t.Run("token without user", func(t *testing.T) {
		m, _, _ := newTestManager(now)
		require.NoError(t, m.SaveTokens(ctx, models.TokenSet{AccessToken: "a"}))
		assert.False(t, m.IsAuthenticated(ctx))
	})

	t.Run("token and user", func(t *testing.T) {
		m, _, _ := newTestManager(now)
		require.NoError(t, m.SaveTokens(ctx, models.TokenSet{AccessToken: "a"}))
		m.SaveUser(ctx, user)
		assert.True(t, m.IsAuthenticated(ctx))
		assert.Equal(t, "password", m.AuthProvider(ctx))
	})

	t.Run("expired with refresh token", func(t *testing.T) {
		m, _, _ := newTestManager(now)
		require.NoError(t, m.SaveTokens(ctx, models.TokenSet{AccessToken: "a", RefreshToken: "r", ExpiresAt: ptr(now.Add(-time.Minute))}))
		m.SaveUser(ctx, user)
		assert.True(t, m.IsAuthenticated(ctx))
		assert.Equal(t, Stale, m.State(ctx))
	})

	t.Run("expired without refresh token", func(t *testing.T) {
		m, _, _ := newTestManager(now)
		require.NoError(t, m.SaveTokens(ctx, models.TokenSet{AccessToken: "a", ExpiresAt: ptr(now.Add(-time.Minute))}))
		m.SaveUser(ctx, user)
		assert.False(t, m.IsAuthenticated(ctx))
	})

	// A corrupt expiry is treated as expired, so only a refresh token keeps
	// the session alive.
	t.Run("unparsable expiry", func(t *testing.T) {
		m, _, general := newTestManager(now)
		require.NoError(t, m.SaveTokens(ctx, models.TokenSet{AccessToken: "a"}))
		require.NoError(t, general.Set(ctx, KeyExpiresAt, "NaN"))
		m.SaveUser(ctx, user)
		assert.False(t, m.IsAuthenticated(ctx))
		assert.Equal(t, Stale, m.State(ctx))

		require.NoError(t, m.SaveTokens(ctx, models.TokenSet{AccessToken: "a", RefreshToken: "r"}))
		require.NoError(t, general.Set(ctx, KeyExpiresAt, "NaN"))
		assert.True(t, m.IsAuthenticated(ctx))
		assert.Equal(t, Stale, m.State(ctx))
	})
}

func TestClearAuth(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m, secure, general := newTestManager(now)

	require.NoError(t, m.SaveTokens(ctx, models.TokenSet{AccessToken: "a", RefreshToken: "r", ExpiresAt: ptr(now), TokenType: "Bearer"}))
	m.SaveUser(ctx, models.User{ID: "u1", Provider: "google.com"})
	require.NoError(t, secure.Set(ctx, legacySecureToken, "old"))
	require.NoError(t, general.Set(ctx, legacyGeneralToken, "old"))
	require.NoError(t, general.Set(ctx, "cart_state", "{}"))

	m.ClearAuth(ctx)
	secureKeys, _ := secure.Keys(ctx)
	generalKeys, _ := general.Keys(ctx)
	assert.Empty(t, secureKeys)
	assert.Equal(t, []string{"cart_state"}, generalKeys)

	// Second call is a no-op.
	m.ClearAuth(ctx)
	secureKeys2, _ := secure.Keys(ctx)
	generalKeys2, _ := general.Keys(ctx)
	assert.Equal(t, secureKeys, secureKeys2)
	assert.Equal(t, generalKeys, generalKeys2)
	assert.Equal(t, Unauthenticated, m.State(ctx))
}

func TestExpiryFromJWT(t *testing.T) {
	exp := time.Unix(1_900_000_000, 0)
	valid := mintJWT(t, jwt.MapClaims{"exp": exp.Unix()})

	got := ExpiryFromJWT(valid)
	require.NotNil(t, got)
	assert.True(t, got.Equal(exp))

	malformed := []string{
		"",
		"abc.def",
		"a.b.c.d",
		"header.!!!notbase64!!!.sig",
		"header." + jwtSegment(`not json`) + ".sig",
		"header." + jwtSegment(`{"sub":"no-exp"}`) + ".sig",
		"header." + jwtSegment(`{"exp":"tomorrow"}`) + ".sig",
	}
	for _, tok := range malformed {
		assert.Nil(t, ExpiryFromJWT(tok), "token %q", tok)
	}
}

func jwtSegment(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func ptr(t time.Time) *time.Time { return &t }
