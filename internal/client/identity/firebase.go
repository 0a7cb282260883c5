package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/freshtrio/internal/client/storage"
)

const (
	// DefaultIdentityURL is the Identity Toolkit REST API root.
	DefaultIdentityURL = "https://identitytoolkit.googleapis.com/v1"
	// DefaultSecureTokenURL is the Secure Token REST API root.
	DefaultSecureTokenURL = "https://securetoken.googleapis.com/v1"
	// DefaultRequestURI is sent as requestUri when exchanging IdP credentials.
	DefaultRequestURI = "http://localhost"

	// KeyProviderSession is the secure-tier key holding the provider session.
	KeyProviderSession = "providerSession"

	// idTokenMargin is how early an ID token is refreshed before it expires.
	idTokenMargin = 5 * time.Minute
)

// FirebaseConfig configures the Firebase Auth REST client.
type FirebaseConfig struct {
	APIKey         string
	IdentityURL    string
	SecureTokenURL string
	RequestURI     string
	HTTPClient     *http.Client
	Now            func() time.Time
}

// providerSession is what survives a restart.
type providerSession struct {
	User         User      `json:"user"`
	IDToken      string    `json:"idToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Firebase is a Provider backed by the Firebase Auth REST API. Its session is
// persisted in the secure storage tier.
type Firebase struct {
	cfg    FirebaseConfig
	store  *storage.Adapter
	log    *zap.Logger
	stream *Stream

	mu     sync.Mutex
	sess   *providerSession
	loaded bool
}

var _ Provider = (*Firebase)(nil)

// NewFirebase returns a Firebase provider persisting its session to store.
func NewFirebase(cfg FirebaseConfig, store *storage.Adapter, log *zap.Logger) *Firebase {
	if cfg.IdentityURL == "" {
		cfg.IdentityURL = DefaultIdentityURL
	}
	if cfg.SecureTokenURL == "" {
		cfg.SecureTokenURL = DefaultSecureTokenURL
	}
	if cfg.RequestURI == "" {
		cfg.RequestURI = DefaultRequestURI
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg.IdentityURL = strings.TrimRight(cfg.IdentityURL, "/")
	cfg.SecureTokenURL = strings.TrimRight(cfg.SecureTokenURL, "/")
	return &Firebase{cfg: cfg, store: store, log: log, stream: NewStream(AuthState{})}
}

// loadLocked restores the persisted session once. Callers hold f.mu.
func (f *Firebase) loadLocked(ctx context.Context) {
	if f.loaded {
		return
	}
	f.loaded = true
	if s, ok := storage.GetObject[providerSession](ctx, f.store, KeyProviderSession); ok && s.RefreshToken != "" {
		f.sess = s
		f.stream.Publish(AuthState{User: f.userCopy()})
	}
}

func (f *Firebase) userCopy() *User {
	if f.sess == nil {
		return nil
	}
	u := f.sess.User
	return &u
}

func (f *Firebase) setSessionLocked(ctx context.Context, s *providerSession) {
	f.sess = s
	storage.SetObject(ctx, f.store, KeyProviderSession, s)
	f.stream.Publish(AuthState{User: f.userCopy()})
}

func (f *Firebase) clearSessionLocked(ctx context.Context) {
	hadUser := f.sess != nil
	f.sess = nil
	f.store.Remove(ctx, KeyProviderSession)
	if hadUser {
		f.stream.Publish(AuthState{})
	}
}

type signInResponse struct {
	IDToken          string `json:"idToken"`
	RefreshToken     string `json:"refreshToken"`
	ExpiresIn        string `json:"expiresIn"`
	LocalID          string `json:"localId"`
	Email            string `json:"email"`
	DisplayName      string `json:"displayName"`
	PhotoURL         string `json:"photoUrl"`
	EmailVerified    bool   `json:"emailVerified"`
	ProviderID       string `json:"providerId"`
	NeedConfirmation bool   `json:"needConfirmation"`
}

func (f *Firebase) sessionFrom(resp signInResponse, providerID string) (*providerSession, error) {
	if resp.IDToken == "" || resp.LocalID == "" {
		return nil, newError(CodeUnknown, errors.New("sign-in response without idToken or localId"))
	}
	return &providerSession{
		User: User{
			UID:           resp.LocalID,
			Email:         resp.Email,
			DisplayName:   resp.DisplayName,
			PhotoURL:      resp.PhotoURL,
			EmailVerified: resp.EmailVerified,
			ProviderID:    providerID,
		},
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    f.expiry(resp.ExpiresIn),
	}, nil
}

func (f *Firebase) expiry(expiresIn string) time.Time {
	sec, err := strconv.Atoi(expiresIn)
	if err != nil || sec <= 0 {
		sec = 3600
	}
	return f.cfg.Now().Add(time.Duration(sec) * time.Second)
}

// SignUp creates an email/password account and signs it in.
func (f *Firebase) SignUp(ctx context.Context, email, password string) (*User, error) {
	return f.passwordSignIn(ctx, "accounts:signUp", email, password)
}

// SignIn signs in with email and password.
func (f *Firebase) SignIn(ctx context.Context, email, password string) (*User, error) {
	return f.passwordSignIn(ctx, "accounts:signInWithPassword", email, password)
}

func (f *Firebase) passwordSignIn(ctx context.Context, method, email, password string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadLocked(ctx)

	var resp signInResponse
	body := map[string]any{"email": email, "password": password, "returnSecureToken": true}
	if err := f.identityCall(ctx, method, body, &resp); err != nil {
		return nil, err
	}
	s, err := f.sessionFrom(resp, ProviderPassword)
	if err != nil {
		return nil, err
	}
	f.refreshUserLocked(ctx, s)
	f.setSessionLocked(ctx, s)
	return f.userCopy(), nil
}

// SignInWithIDP signs in with a federated credential.
func (f *Firebase) SignInWithIDP(ctx context.Context, cred IDPCredential) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadLocked(ctx)

	post := url.Values{"providerId": {cred.ProviderID}}
	switch {
	case cred.IDToken != "":
		post.Set("id_token", cred.IDToken)
	case cred.AccessToken != "":
		post.Set("access_token", cred.AccessToken)
	default:
		return nil, newError(CodeInvalidCredential, errors.New("federated credential without token"))
	}

	var resp signInResponse
	body := map[string]any{
		"postBody":            post.Encode(),
		"requestUri":          f.cfg.RequestURI,
		"returnIdpCredential": true,
		"returnSecureToken":   true,
	}
	if err := f.identityCall(ctx, "accounts:signInWithIdp", body, &resp); err != nil {
		return nil, err
	}
	if resp.NeedConfirmation {
		return nil, newError(CodeAccountExistsDifferentCred, fmt.Errorf("account %s needs confirmation", resp.Email))
	}
	providerID := resp.ProviderID
	if providerID == "" {
		providerID = cred.ProviderID
	}
	s, err := f.sessionFrom(resp, providerID)
	if err != nil {
		return nil, err
	}
	f.setSessionLocked(ctx, s)
	return f.userCopy(), nil
}

// SignOut forgets the provider session.
func (f *Firebase) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadLocked(ctx)
	f.clearSessionLocked(ctx)
	return nil
}

// CurrentUser returns the signed-in user.
func (f *Firebase) CurrentUser(ctx context.Context) (*User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadLocked(ctx)
	u := f.userCopy()
	return u, u != nil
}

// IDToken returns a valid ID token for the current user.
func (f *Firebase) IDToken(ctx context.Context, force bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadLocked(ctx)
	return f.idTokenLocked(ctx, force)
}

func (f *Firebase) idTokenLocked(ctx context.Context, force bool) (string, error) {
	if f.sess == nil {
		return "", ErrNoCurrentUser
	}
	if !force && f.cfg.Now().Before(f.sess.ExpiresAt.Add(-idTokenMargin)) {
		return f.sess.IDToken, nil
	}

	var resp struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
		UserID       string `json:"user_id"`
	}
	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {f.sess.RefreshToken}}
	endpoint := f.cfg.SecureTokenURL + "/token?key=" + url.QueryEscape(f.cfg.APIKey)
	err := f.post(ctx, endpoint, "application/x-www-form-urlencoded", []byte(form.Encode()), &resp)
	if err != nil {
		var idErr *Error
		if errors.As(err, &idErr) {
			switch idErr.Code {
			case CodeSessionExpired, CodeUserDisabled, CodeUserNotFound:
				f.log.Warn("provider session revoked", zap.String("code", string(idErr.Code)), zap.Error(err))
				f.clearSessionLocked(ctx)
			}
		}
		return "", err
	}
	if resp.IDToken == "" {
		return "", newError(CodeUnknown, errors.New("token refresh without id_token"))
	}

	s := *f.sess
	s.IDToken = resp.IDToken
	if resp.RefreshToken != "" {
		s.RefreshToken = resp.RefreshToken
	}
	s.ExpiresAt = f.expiry(resp.ExpiresIn)
	f.sess = &s
	storage.SetObject(ctx, f.store, KeyProviderSession, s)
	return s.IDToken, nil
}

type lookupResponse struct {
	Users []struct {
		LocalID          string `json:"localId"`
		Email            string `json:"email"`
		EmailVerified    bool   `json:"emailVerified"`
		DisplayName      string `json:"displayName"`
		PhotoURL         string `json:"photoUrl"`
		ProviderUserInfo []struct {
			ProviderID string `json:"providerId"`
		} `json:"providerUserInfo"`
	} `json:"users"`
}

// refreshUserLocked fills s.User from accounts:lookup. Failures are logged;
// the sign-in response is good enough on its own.
func (f *Firebase) refreshUserLocked(ctx context.Context, s *providerSession) {
	var resp lookupResponse
	if err := f.identityCall(ctx, "accounts:lookup", map[string]any{"idToken": s.IDToken}, &resp); err != nil {
		f.log.Warn("account lookup failed", zap.Error(err))
		return
	}
	if len(resp.Users) == 0 {
		return
	}
	u := resp.Users[0]
	s.User.EmailVerified = u.EmailVerified
	if u.DisplayName != "" {
		s.User.DisplayName = u.DisplayName
	}
	if u.PhotoURL != "" {
		s.User.PhotoURL = u.PhotoURL
	}
	if u.Email != "" {
		s.User.Email = u.Email
	}
	if len(u.ProviderUserInfo) > 0 && u.ProviderUserInfo[0].ProviderID != "" {
		s.User.ProviderID = u.ProviderUserInfo[0].ProviderID
	}
}

// SendPasswordReset emails a password reset link.
func (f *Firebase) SendPasswordReset(ctx context.Context, email string) error {
	body := map[string]any{"requestType": "PASSWORD_RESET", "email": email}
	return f.identityCall(ctx, "accounts:sendOobCode", body, nil)
}

// SendEmailVerification sends a verification email to an unverified
// current user. Without a current user it does nothing.
func (f *Firebase) SendEmailVerification(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadLocked(ctx)
	if f.sess == nil {
		return nil
	}
	token, err := f.idTokenLocked(ctx, false)
	if err != nil {
		return err
	}
	s := *f.sess
	f.refreshUserLocked(ctx, &s)
	if s.User.EmailVerified != f.sess.User.EmailVerified {
		f.sess = &s
		storage.SetObject(ctx, f.store, KeyProviderSession, s)
	}
	if s.User.EmailVerified {
		return nil
	}
	body := map[string]any{"requestType": "VERIFY_EMAIL", "idToken": token}
	return f.identityCall(ctx, "accounts:sendOobCode", body, nil)
}

// UpdateProfile changes the display name and/or photo of the current user.
// Without a current user it does nothing.
func (f *Firebase) UpdateProfile(ctx context.Context, changes ProfileChanges) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadLocked(ctx)
	if f.sess == nil {
		return nil
	}
	token, err := f.idTokenLocked(ctx, false)
	if err != nil {
		return err
	}

	body := map[string]any{"idToken": token, "returnSecureToken": false}
	var deletes []string
	if changes.DisplayName != nil {
		if *changes.DisplayName == "" {
			deletes = append(deletes, "DISPLAY_NAME")
		} else {
			body["displayName"] = *changes.DisplayName
		}
	}
	if changes.PhotoURL != nil {
		if *changes.PhotoURL == "" {
			deletes = append(deletes, "PHOTO_URL")
		} else {
			body["photoUrl"] = *changes.PhotoURL
		}
	}
	if len(deletes) > 0 {
		body["deleteAttribute"] = deletes
	}
	if err := f.identityCall(ctx, "accounts:update", body, nil); err != nil {
		return err
	}

	s := *f.sess
	if changes.DisplayName != nil {
		s.User.DisplayName = *changes.DisplayName
	}
	if changes.PhotoURL != nil {
		s.User.PhotoURL = *changes.PhotoURL
	}
	f.sess = &s
	storage.SetObject(ctx, f.store, KeyProviderSession, s)
	return nil
}

// DeleteUser deletes the current account and signs out. Without a current
// user it does nothing.
func (f *Firebase) DeleteUser(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadLocked(ctx)
	if f.sess == nil {
		return nil
	}
	token, err := f.idTokenLocked(ctx, false)
	if err != nil {
		return err
	}
	if err := f.identityCall(ctx, "accounts:delete", map[string]any{"idToken": token}, nil); err != nil {
		return err
	}
	f.clearSessionLocked(ctx)
	return nil
}

// Subscribe streams auth-state changes, starting with the restored state.
func (f *Firebase) Subscribe(ctx context.Context) (<-chan AuthState, func()) {
	f.mu.Lock()
	f.loadLocked(ctx)
	f.mu.Unlock()
	return f.stream.Subscribe()
}

// Close ends every subscription.
func (f *Firebase) Close() {
	f.stream.Close()
}

func (f *Firebase) identityCall(ctx context.Context, method string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return newError(CodeUnknown, err)
	}
	endpoint := f.cfg.IdentityURL + "/" + method + "?key=" + url.QueryEscape(f.cfg.APIKey)
	return f.post(ctx, endpoint, "application/json", b, out)
}

// apiError is the REST error envelope.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (f *Firebase) post(ctx context.Context, endpoint, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return newError(CodeUnknown, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		var envelope apiError
		if jerr := json.Unmarshal(raw, &envelope); jerr != nil || envelope.Error.Message == "" {
			return newError(CodeUnknown, fmt.Errorf("identity provider: status %d", resp.StatusCode))
		}
		msg := envelope.Error.Message
		return newError(classifyREST(msg), fmt.Errorf("identity provider: %s", msg))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newError(CodeUnknown, fmt.Errorf("decode identity response: %w", err))
	}
	return nil
}
