package goSession

import (
	"errors"
	"fmt"
	"testing"

	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{ErrInvalidCredentials, KindReenter},
		{ErrOtpInvalidLength, KindReenter},
		{ErrOtpMismatch, KindReenter},
		{ErrEmptyCredentials, KindReenter},
		{fmt.Errorf("%w: %w", ErrProvider, gateway.ErrUnavailable), KindRetry},
		{ErrBusy, KindRetry},
		{ErrResendCooldown, KindRetry},
		{fmt.Errorf("persist credential: %w", session.ErrStoreUnavailable), KindRetry},
		{token.ErrMalformed, KindSignIn},
		{token.ErrExpired, KindSignIn},
		{ErrRoleMismatch, KindSignIn},
		{ErrOtpAttemptsExceeded, KindSignIn},
		{ErrNotAuthenticated, KindSignIn},
		{ErrSuperseded, KindNone},
		{errors.New("other"), KindNone},
	}
	for _, tc := range tests {
		if got := ErrorKind(tc.err); got != tc.want {
			t.Fatalf("ErrorKind(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestProviderErrorKeepsCause(t *testing.T) {
	m := &Manager{}
	err := m.providerError(gateway.ErrUnavailable)
	if !errors.Is(err, ErrProvider) || !errors.Is(err, gateway.ErrUnavailable) {
		t.Fatalf("wrapped error lost a cause: %v", err)
	}
	if got := m.providerError(gateway.ErrRejected); got != ErrInvalidCredentials {
		t.Fatalf("rejected mapped to %v", got)
	}
	if got := m.providerError(gateway.ErrCodeRejected); got != ErrOtpMismatch {
		t.Fatalf("code rejected mapped to %v", got)
	}
}
