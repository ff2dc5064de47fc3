package goSession

import (
	"errors"

	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
)

var (
	// ErrInvalidCredentials means the provider refused the email or secret.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRoleMismatch means the identity's role does not satisfy the entry
	// point. The provider session is signed out before this is reported.
	ErrRoleMismatch = errors.New("role mismatch")
	// ErrMalformedToken is the stored-token decode failure. It is handled as
	// a silent sign-out and only reaches callers through ErrorKind checks.
	ErrMalformedToken = token.ErrMalformed
	// ErrExpiredToken is the stored-token expiry condition.
	ErrExpiredToken = token.ErrExpired
	// ErrOtpInvalidLength is returned before any network call when the code
	// has the wrong number of characters.
	ErrOtpInvalidLength = errors.New("one-time code has invalid length")
	// ErrOtpMismatch means the provider refused the one-time code.
	ErrOtpMismatch = errors.New("one-time code mismatch")
	// ErrOtpAttemptsExceeded means the challenge failed after too many codes.
	ErrOtpAttemptsExceeded = errors.New("one-time code attempts exceeded")
	// ErrProvider wraps transport and provider failures. Retrying may succeed.
	ErrProvider = errors.New("identity provider error")

	ErrEmptyCredentials     = errors.New("email and secret are required")
	ErrUnknownEntryPoint    = errors.New("unknown entry point")
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrNoChallenge          = errors.New("no one-time code challenge open")
	ErrResendCooldown       = errors.New("resend cooldown active")
	ErrResendRateLimited    = errors.New("resend rate limited")
	// ErrSuperseded is delivered to an operation whose attempt was replaced
	// by a newer login, a cancellation, a logout, or a provider push.
	ErrSuperseded = errors.New("superseded by a newer operation")
	// ErrBusy means the operation could not be queued or another one of the
	// same kind is still in flight.
	ErrBusy            = errors.New("session manager busy")
	ErrManagerClosed   = errors.New("session manager closed")
	ErrManagerNotReady = errors.New("session manager not started")
)

// Kind tells a UI which affordance fits an error.
type Kind uint8

const (
	// KindNone means no error, or one that needs no user action.
	KindNone Kind = iota
	// KindReenter means the user should correct what they typed.
	KindReenter
	// KindRetry means the same input may succeed later.
	KindRetry
	// KindSignIn means the user must start a fresh sign-in.
	KindSignIn
)

func (k Kind) String() string {
	switch k {
	case KindReenter:
		return "reenter"
	case KindRetry:
		return "retry"
	case KindSignIn:
		return "sign_in"
	}
	return "none"
}

// ErrorKind classifies err for presentation.
func ErrorKind(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrOtpInvalidLength),
		errors.Is(err, ErrOtpMismatch),
		errors.Is(err, ErrEmptyCredentials):
		return KindReenter
	case errors.Is(err, ErrProvider),
		errors.Is(err, ErrBusy),
		errors.Is(err, ErrResendCooldown),
		errors.Is(err, ErrResendRateLimited),
		errors.Is(err, session.ErrStoreUnavailable):
		return KindRetry
	case errors.Is(err, ErrMalformedToken),
		errors.Is(err, ErrExpiredToken),
		errors.Is(err, ErrRoleMismatch),
		errors.Is(err, ErrOtpAttemptsExceeded),
		errors.Is(err, ErrNoChallenge),
		errors.Is(err, ErrNotAuthenticated):
		return KindSignIn
	}
	return KindNone
}
