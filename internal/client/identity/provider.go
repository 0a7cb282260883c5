// Package identity talks to the third-party identity provider: email and
// password accounts, federated sign-in and the provider's auth-state
// stream.
package identity

import "context"

// Provider IDs as reported by the identity provider.
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google.com"
)

// User is the provider's view of the signed-in principal.
type User struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName,omitempty"`
	PhotoURL      string `json:"photoURL,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
	// ProviderID is the sign-in method ("password", "google.com").
	ProviderID string `json:"providerId"`
}

// IDPCredential is a credential issued by a federated provider.
type IDPCredential struct {
	// ProviderID is the federated provider, e.g. ProviderGoogle.
	ProviderID string
	IDToken    string
	// AccessToken is used when the federated provider issued no ID token.
	AccessToken string
}

// ProfileChanges updates the provider profile. Nil fields are unchanged.
type ProfileChanges struct {
	DisplayName *string
	PhotoURL    *string
}

// Provider is an identity provider session. Failures are *Error values.
type Provider interface {
	SignUp(ctx context.Context, email, password string) (*User, error)
	SignIn(ctx context.Context, email, password string) (*User, error)
	SignInWithIDP(ctx context.Context, cred IDPCredential) (*User, error)
	SignOut(ctx context.Context) error

	// CurrentUser returns the signed-in user, if any.
	CurrentUser(ctx context.Context) (*User, bool)
	// IDToken returns an ID token for the current user, refreshing it when
	// it is about to expire or when force is set.
	IDToken(ctx context.Context, force bool) (string, error)

	SendPasswordReset(ctx context.Context, email string) error
	// SendEmailVerification sends a verification email unless the current
	// user is already verified.
	SendEmailVerification(ctx context.Context) error
	UpdateProfile(ctx context.Context, changes ProfileChanges) error
	DeleteUser(ctx context.Context) error

	// Subscribe streams auth-state changes, starting with the current state.
	Subscribe(ctx context.Context) (<-chan AuthState, func())
}

// Federated obtains credentials from an interactive federated sign-in.
type Federated interface {
	Credential(ctx context.Context) (IDPCredential, error)
	SignedIn(ctx context.Context) bool
	SignOut(ctx context.Context) error
}
