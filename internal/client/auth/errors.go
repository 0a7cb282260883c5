package auth

import "errors"

// ErrServerAuth matches every ServerAuthError.
var ErrServerAuth = errors.New("failed to authenticate with server")

// ErrGoogleUnavailable is returned by SignInWithGoogle when no federated
// sign-in is configured.
var ErrGoogleUnavailable = errors.New("google sign-in is not configured")

// serverAuthMessage is shown to the user for any backend exchange failure.
const serverAuthMessage = "Failed to authenticate with server. Please try again."

// ServerAuthError is a failed token exchange with the backend. The backend
// does not define its error details, so the message is always generic.
type ServerAuthError struct {
	Err error
}

func (e *ServerAuthError) Error() string { return serverAuthMessage }

func (e *ServerAuthError) Unwrap() error { return e.Err }

// Is reports ErrServerAuth.
func (e *ServerAuthError) Is(target error) bool { return target == ErrServerAuth }
