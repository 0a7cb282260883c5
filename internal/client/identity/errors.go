package identity

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

// Code classifies a provider failure.
type Code string

const (
	CodeInvalidCredential          Code = "invalid-credential"
	CodeUserDisabled               Code = "user-disabled"
	CodeUserNotFound               Code = "user-not-found"
	CodeEmailInUse                 Code = "email-already-in-use"
	CodeWeakPassword               Code = "weak-password"
	CodeInvalidEmail               Code = "invalid-email"
	CodeTooManyRequests            Code = "too-many-requests"
	CodeNetwork                    Code = "network-request-failed"
	CodePopupBlocked               Code = "popup-blocked"
	CodePopupClosed                Code = "popup-closed-by-user"
	CodeAccountExistsDifferentCred Code = "account-exists-with-different-credential"
	CodeSessionExpired             Code = "user-token-expired"
	CodeNoCurrentUser              Code = "no-current-user"
	CodeUnknown                    Code = "unknown"
)

var messages = map[Code]string{
	CodeInvalidCredential:          "Invalid email or password.",
	CodeUserDisabled:               "This account has been disabled.",
	CodeUserNotFound:               "No account found with this email.",
	CodeEmailInUse:                 "An account with this email already exists.",
	CodeWeakPassword:               "Password should be at least 6 characters.",
	CodeInvalidEmail:               "Please enter a valid email address.",
	CodeTooManyRequests:            "Too many attempts. Please try again later.",
	CodeNetwork:                    "Network error. Please check your connection and try again.",
	CodePopupBlocked:               "Google Sign-In popup was blocked. Please allow popups and try again.",
	CodePopupClosed:                "Google Sign-In was cancelled.",
	CodeAccountExistsDifferentCred: "An account already exists with the same email but a different sign-in method.",
	CodeSessionExpired:             "Your session has expired. Please sign in again.",
	CodeNoCurrentUser:              "No user is signed in.",
	CodeUnknown:                    "Authentication failed. Please try again.",
}

// Message returns the fixed user-facing text for c.
func (c Code) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[CodeUnknown]
}

// Error is a classified identity provider failure. Error() is safe to show
// to the user; Err keeps the underlying cause for logs.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string { return e.Code.Message() }

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so the sentinels below work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrInvalidCredential          = &Error{Code: CodeInvalidCredential}
	ErrUserDisabled               = &Error{Code: CodeUserDisabled}
	ErrUserNotFound               = &Error{Code: CodeUserNotFound}
	ErrEmailInUse                 = &Error{Code: CodeEmailInUse}
	ErrWeakPassword               = &Error{Code: CodeWeakPassword}
	ErrInvalidEmail               = &Error{Code: CodeInvalidEmail}
	ErrTooManyRequests            = &Error{Code: CodeTooManyRequests}
	ErrNetwork                    = &Error{Code: CodeNetwork}
	ErrPopupBlocked               = &Error{Code: CodePopupBlocked}
	ErrPopupClosed                = &Error{Code: CodePopupClosed}
	ErrAccountExistsDifferentCred = &Error{Code: CodeAccountExistsDifferentCred}
	ErrSessionExpired             = &Error{Code: CodeSessionExpired}
	ErrNoCurrentUser              = &Error{Code: CodeNoCurrentUser}
)

func newError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// restCodes maps Identity Toolkit and Secure Token error messages.
var restCodes = map[string]Code{
	"EMAIL_NOT_FOUND":                    CodeUserNotFound,
	"USER_NOT_FOUND":                     CodeUserNotFound,
	"INVALID_PASSWORD":                   CodeInvalidCredential,
	"INVALID_LOGIN_CREDENTIALS":          CodeInvalidCredential,
	"INVALID_IDP_RESPONSE":               CodeInvalidCredential,
	"INVALID_CREDENTIAL":                 CodeInvalidCredential,
	"USER_DISABLED":                      CodeUserDisabled,
	"EMAIL_EXISTS":                       CodeEmailInUse,
	"WEAK_PASSWORD":                      CodeWeakPassword,
	"INVALID_EMAIL":                      CodeInvalidEmail,
	"MISSING_EMAIL":                      CodeInvalidEmail,
	"TOO_MANY_ATTEMPTS_TRY_LATER":        CodeTooManyRequests,
	"FEDERATED_USER_ID_ALREADY_LINKED":   CodeAccountExistsDifferentCred,
	"EMAIL_EXISTS_WITH_DIFFERENT_METHOD": CodeAccountExistsDifferentCred,
	"TOKEN_EXPIRED":                      CodeSessionExpired,
	"INVALID_REFRESH_TOKEN":              CodeSessionExpired,
	"INVALID_ID_TOKEN":                   CodeSessionExpired,
	"CREDENTIAL_TOO_OLD_LOGIN_AGAIN":     CodeSessionExpired,
}

// classifyREST maps an error message from the REST API. Messages may carry
// a detail suffix ("WEAK_PASSWORD : Password should be at least 6 characters").
func classifyREST(message string) Code {
	key := message
	if i := strings.Index(key, " : "); i >= 0 {
		key = key[:i]
	}
	if c, ok := restCodes[strings.TrimSpace(key)]; ok {
		return c
	}
	return CodeUnknown
}

// classifyTransport wraps a failure that happened before any response.
func classifyTransport(err error) *Error {
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return newError(CodeNetwork, err)
	}
	return newError(CodeUnknown, err)
}
