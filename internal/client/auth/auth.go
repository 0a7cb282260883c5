// Package auth is the authentication façade: it signs users in with the
// identity provider, exchanges the provider's ID token for a backend session
// and keeps both sides consistent.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/atinyakov/freshtrio/internal/client/api"
	"github.com/atinyakov/freshtrio/internal/client/identity"
	"github.com/atinyakov/freshtrio/internal/models"
)

// Backend tags sent with the token exchange.
const (
	backendProviderGoogle   = "google"
	backendProviderFirebase = "firebase"
)

// Backend is the session part of the backend API.
type Backend interface {
	Exchange(ctx context.Context, idToken, provider string) (*api.AuthResponse, error)
	Logout(ctx context.Context) error
}

// Session is the local session store.
type Session interface {
	SaveTokensWithExpiry(ctx context.Context, access, refresh string) error
	SaveUser(ctx context.Context, u models.User)
	User(ctx context.Context) (*models.User, bool)
	IsAuthenticated(ctx context.Context) bool
	ClearAuth(ctx context.Context)
}

// Service is the authentication façade. Interactive operations and
// reconciliation are serialized.
type Service struct {
	provider identity.Provider
	google   identity.Federated
	backend  Backend
	session  Session
	log      *zap.Logger

	mu sync.Mutex

	hooksMu   sync.Mutex
	onSignOut []func(context.Context)
}

// Option configures a Service.
type Option func(*Service)

// WithGoogle enables SignInWithGoogle.
func WithGoogle(g identity.Federated) Option {
	return func(s *Service) { s.google = g }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService wires the façade.
func NewService(provider identity.Provider, backend Backend, session Session, opts ...Option) *Service {
	s := &Service{
		provider: provider,
		backend:  backend,
		session:  session,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnSignOut registers hook to run after every sign-out.
func (s *Service) OnSignOut(hook func(context.Context)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onSignOut = append(s.onSignOut, hook)
}

// SignUp creates a provider account and a backend session for it. When the
// backend exchange fails the new provider account is deleted again.
func (s *Service) SignUp(ctx context.Context, email, password string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pu, err := s.provider.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	user, err := s.authenticateWithBackend(ctx, pu)
	if err != nil {
		if derr := s.provider.DeleteUser(ctx); derr != nil {
			s.log.Error("failed to delete provider account after backend failure",
				zap.String("uid", pu.UID), zap.Error(derr))
		}
		s.session.ClearAuth(ctx)
		return nil, err
	}
	return user, nil
}

// SignIn signs in with email and password.
func (s *Service) SignIn(ctx context.Context, email, password string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pu, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.authenticateWithBackend(ctx, pu)
}

// SignInWithGoogle runs the federated Google sign-in.
func (s *Service) SignInWithGoogle(ctx context.Context) (*models.User, error) {
	if s.google == nil {
		return nil, ErrGoogleUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.google.Credential(ctx)
	if err != nil {
		return nil, err
	}
	pu, err := s.provider.SignInWithIDP(ctx, cred)
	if err != nil {
		return nil, err
	}
	return s.authenticateWithBackend(ctx, pu)
}

// authenticateWithBackend exchanges a fresh provider ID token for a backend
// session and stores it. Every failure is a *ServerAuthError.
func (s *Service) authenticateWithBackend(ctx context.Context, pu *identity.User) (*models.User, error) {
	idToken, err := s.provider.IDToken(ctx, true)
	if err != nil {
		return nil, s.serverAuthError("fetch id token", err)
	}

	tag := backendProviderFirebase
	if pu.ProviderID == identity.ProviderGoogle {
		tag = backendProviderGoogle
	}
	resp, err := s.backend.Exchange(ctx, idToken, tag)
	if err != nil {
		return nil, s.serverAuthError("exchange token", err)
	}
	if err := s.session.SaveTokensWithExpiry(ctx, resp.AccessToken, resp.RefreshToken); err != nil {
		return nil, s.serverAuthError("save tokens", err)
	}

	user := normalizeUser(pu, resp.User)
	s.session.SaveUser(ctx, user)
	s.log.Info("signed in", zap.String("user_id", user.ID), zap.String("provider", user.Provider))
	return &user, nil
}

func (s *Service) serverAuthError(step string, err error) error {
	s.log.Error("backend authentication failed", zap.String("step", step), zap.Error(err))
	return &ServerAuthError{Err: fmt.Errorf("%s: %w", step, err)}
}

// normalizeUser merges the provider identity with the backend profile.
// Provider fields win for name and photo; the backend decides id and role.
func normalizeUser(pu *identity.User, bu *api.BackendUser) models.User {
	u := models.User{
		ID:          pu.UID,
		Email:       pu.Email,
		DisplayName: pu.DisplayName,
		PhotoURL:    pu.PhotoURL,
		Role:        models.RoleCustomer,
		Provider:    pu.ProviderID,
	}
	if u.Provider == "" {
		u.Provider = identity.ProviderPassword
	}
	if bu == nil {
		return u
	}
	if bu.ID != "" {
		u.ID = bu.ID
	}
	if u.Email == "" {
		u.Email = bu.Email
	}
	if u.DisplayName == "" {
		u.DisplayName = bu.DisplayName
	}
	if u.DisplayName == "" {
		u.DisplayName = strings.TrimSpace(bu.FirstName + " " + bu.LastName)
	}
	if u.PhotoURL == "" {
		u.PhotoURL = bu.PhotoURL
	}
	u.Role = models.ParseRole(bu.Role)
	return u
}

// SignOut ends the session everywhere it can. Backend and provider failures
// are logged; the local session is always cleared and sign-out hooks always
// run.
func (s *Service) SignOut(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signOutLocked(ctx)
}

func (s *Service) signOutLocked(ctx context.Context) {
	if err := s.backend.Logout(ctx); err != nil {
		s.log.Warn("backend logout failed, continuing with local cleanup", zap.Error(err))
	}
	if err := s.provider.SignOut(ctx); err != nil {
		s.log.Warn("provider sign-out failed", zap.Error(err))
	}
	s.googleSignOut(ctx)
	s.session.ClearAuth(ctx)
	s.runSignOutHooks(ctx)
}

func (s *Service) googleSignOut(ctx context.Context) {
	if s.google == nil || !s.google.SignedIn(ctx) {
		return
	}
	if err := s.google.SignOut(ctx); err != nil {
		s.log.Warn("google sign-out failed", zap.Error(err))
	}
}

func (s *Service) runSignOutHooks(ctx context.Context) {
	s.hooksMu.Lock()
	hooks := append([]func(context.Context){}, s.onSignOut...)
	s.hooksMu.Unlock()
	for _, h := range hooks {
		h(ctx)
	}
}

// Reconcile makes the provider and backend sessions agree: a provider
// session without a local backend session is signed out, and a local
// session without a provider session is cleared. Failures are logged only.
func (s *Service) Reconcile(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconcileLocked(ctx)
}

func (s *Service) reconcileLocked(ctx context.Context) {
	pu, providerSignedIn := s.provider.CurrentUser(ctx)
	local := s.session.IsAuthenticated(ctx)

	switch {
	case providerSignedIn && !local:
		s.log.Info("provider session without backend session, signing out provider", zap.String("uid", pu.UID))
		if err := s.provider.SignOut(ctx); err != nil {
			s.log.Warn("reconcile: provider sign-out failed", zap.Error(err))
		}
		s.googleSignOut(ctx)
	case !providerSignedIn && local:
		s.log.Info("backend session without provider session, clearing local session")
		s.session.ClearAuth(ctx)
	}
}

// Watch reconciles once for the current provider state and again after
// every auth-state change until ctx ends.
func (s *Service) Watch(ctx context.Context) error {
	events, unsubscribe := s.provider.Subscribe(ctx)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				return nil
			}
			// The event only triggers a pass; the pass reads the provider's
			// current state, which may already be newer than the event.
			s.Reconcile(ctx)
		}
	}
}

// CurrentUser returns the signed-in user when a local session exists.
func (s *Service) CurrentUser(ctx context.Context) (*models.User, bool) {
	if !s.session.IsAuthenticated(ctx) {
		return nil, false
	}
	return s.session.User(ctx)
}

// IsAuthenticated reports whether a local backend session exists.
func (s *Service) IsAuthenticated(ctx context.Context) bool {
	return s.session.IsAuthenticated(ctx)
}

// SendPasswordReset emails a password reset link.
func (s *Service) SendPasswordReset(ctx context.Context, email string) error {
	return s.provider.SendPasswordReset(ctx, email)
}

// SendEmailVerification sends a verification email if the signed-in user is
// not verified yet.
func (s *Service) SendEmailVerification(ctx context.Context) error {
	return s.provider.SendEmailVerification(ctx)
}

// UpdateProfile changes the provider profile and the cached user record.
func (s *Service) UpdateProfile(ctx context.Context, changes identity.ProfileChanges) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.provider.UpdateProfile(ctx, changes); err != nil {
		return err
	}
	if u, ok := s.session.User(ctx); ok {
		if changes.DisplayName != nil {
			u.DisplayName = *changes.DisplayName
		}
		if changes.PhotoURL != nil {
			u.PhotoURL = *changes.PhotoURL
		}
		s.session.SaveUser(ctx, *u)
	}
	return nil
}

// DeleteAccount deletes the provider account and clears the local session.
func (s *Service) DeleteAccount(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.provider.DeleteUser(ctx); err != nil {
		if errors.Is(err, identity.ErrSessionExpired) {
			s.signOutLocked(ctx)
		}
		return err
	}
	s.googleSignOut(ctx)
	s.session.ClearAuth(ctx)
	s.runSignOutHooks(ctx)
	return nil
}
