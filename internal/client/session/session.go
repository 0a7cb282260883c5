// Package session owns the backend session: the access/refresh token pair,
// its expiry and the cached user record.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/atinyakov/freshtrio/internal/client/storage"
	"github.com/atinyakov/freshtrio/internal/models"
)

// ErrInvalidToken is returned by SaveTokens when the access token is empty.
var ErrInvalidToken = errors.New("access token is required")

// Storage keys. Tokens live in the secure tier, everything else in the
// general tier.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyExpiresAt    = "tokenExpiresAt"
	KeyTokenType    = "tokenType"
	KeyUser         = "user"
	KeyAuthProvider = "authProvider"

	// Keys written by earlier client versions; only ever removed.
	legacySecureToken  = "token"
	legacyGeneralToken = "userToken"
)

// ExpiryMargin is how long before the recorded expiry a token is already
// treated as expired.
const ExpiryMargin = 300 * time.Second

// State is the logical session state.
type State int

const (
	// Unauthenticated means no access token is stored.
	Unauthenticated State = iota
	// Authenticated means an access token is stored and not within the expiry margin.
	Authenticated
	// Stale means an access token is stored but is within the margin or past expiry.
	Stale
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Stale:
		return "stale"
	default:
		return "unauthenticated"
	}
}

// Manager persists and inspects the session. It is the single writer of
// token and user keys.
type Manager struct {
	secure  *storage.Adapter
	general *storage.Adapter
	log     *zap.Logger
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager returns a Manager over the given storage tiers.
func NewManager(tiers storage.Tiers, opts ...Option) *Manager {
	m := &Manager{
		secure:  tiers.Secure,
		general: tiers.General,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SaveTokens persists ts. Optional fields that are empty are left untouched.
func (m *Manager) SaveTokens(ctx context.Context, ts models.TokenSet) error {
	if ts.AccessToken == "" {
		return ErrInvalidToken
	}
	m.secure.Set(ctx, KeyAccessToken, ts.AccessToken)
	if ts.RefreshToken != "" {
		m.secure.Set(ctx, KeyRefreshToken, ts.RefreshToken)
	}
	if ts.ExpiresAt != nil {
		m.general.Set(ctx, KeyExpiresAt, strconv.FormatInt(ts.ExpiresAt.Unix(), 10))
	}
	if ts.TokenType != "" {
		m.general.Set(ctx, KeyTokenType, ts.TokenType)
	}
	return nil
}

// SaveTokensWithExpiry saves a bearer pair, reading the expiry from the
// access token's payload.
func (m *Manager) SaveTokensWithExpiry(ctx context.Context, access, refresh string) error {
	return m.SaveTokens(ctx, models.TokenSet{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    ExpiryFromJWT(access),
		TokenType:    "Bearer",
	})
}

// AccessToken returns the stored access token or "".
func (m *Manager) AccessToken(ctx context.Context) string {
	v, _ := m.secure.Get(ctx, KeyAccessToken)
	return v
}

// RefreshToken returns the stored refresh token or "".
func (m *Manager) RefreshToken(ctx context.Context) string {
	v, _ := m.secure.Get(ctx, KeyRefreshToken)
	return v
}

// TokenType returns the stored token type or "".
func (m *Manager) TokenType(ctx context.Context) string {
	v, _ := m.general.Get(ctx, KeyTokenType)
	return v
}

// Expiry returns the stored expiry. ok is false when none was recorded.
// A value that cannot be parsed is reported as the zero time with ok true,
// which every caller treats as already expired.
func (m *Manager) Expiry(ctx context.Context) (time.Time, bool) {
	raw, found := m.general.Get(ctx, KeyExpiresAt)
	if !found || raw == "" {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		m.log.Warn("unparsable token expiry", zap.String("value", raw), zap.Error(err))
		return time.Time{}, true
	}
	return time.Unix(sec, 0), true
}

// IsTokenExpired reports whether now >= expiry - ExpiryMargin. A session
// without a recorded expiry never expires.
func (m *Manager) IsTokenExpired(ctx context.Context) bool {
	exp, ok := m.Expiry(ctx)
	if !ok {
		return false
	}
	return !m.now().Before(exp.Add(-ExpiryMargin))
}

// IsAuthenticated reports whether both an access token and a cached user
// exist. An expired token still counts while a refresh token is stored;
// the HTTP pipeline refreshes it on first use.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	if m.AccessToken(ctx) == "" {
		return false
	}
	if _, ok := m.User(ctx); !ok {
		return false
	}
	if m.IsTokenExpired(ctx) {
		return m.RefreshToken(ctx) != ""
	}
	return true
}

// State classifies the stored tokens.
func (m *Manager) State(ctx context.Context) State {
	if m.AccessToken(ctx) == "" {
		return Unauthenticated
	}
	if m.IsTokenExpired(ctx) {
		return Stale
	}
	return Authenticated
}

// SaveUser caches u and its provider tag.
func (m *Manager) SaveUser(ctx context.Context, u models.User) {
	storage.SetObject(ctx, m.general, KeyUser, u)
	m.general.Set(ctx, KeyAuthProvider, u.Provider)
}

// User returns the cached user record.
func (m *Manager) User(ctx context.Context) (*models.User, bool) {
	return storage.GetObject[models.User](ctx, m.general, KeyUser)
}

// AuthProvider returns the provider tag of the cached user or "".
func (m *Manager) AuthProvider(ctx context.Context) string {
	v, _ := m.general.Get(ctx, KeyAuthProvider)
	return v
}

// ClearAuth removes every token and user key, legacy names included. It is
// safe to call any number of times.
func (m *Manager) ClearAuth(ctx context.Context) {
	m.secure.Remove(ctx, KeyAccessToken)
	m.secure.Remove(ctx, KeyRefreshToken)
	m.general.Remove(ctx, KeyUser)
	m.general.Remove(ctx, KeyAuthProvider)
	m.general.Remove(ctx, KeyExpiresAt)
	m.general.Remove(ctx, KeyTokenType)

	m.general.Remove(ctx, legacyGeneralToken)
	m.secure.Remove(ctx, legacySecureToken)
	m.log.Debug("session cleared")
}

// ExpiryFromJWT returns the exp claim of a three-segment JWT without
// verifying its signature. Any malformation yields nil.
func ExpiryFromJWT(token string) *time.Time {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil
	}
	payload, err := jwt.NewParser(jwt.WithPaddingAllowed()).DecodeSegment(parts[1])
	if err != nil {
		return nil
	}
	var claims struct {
		Exp *jwt.NumericDate `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Exp == nil {
		return nil
	}
	t := claims.Exp.Time
	return &t
}
