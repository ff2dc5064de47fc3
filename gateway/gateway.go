package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/MrEthical07/goSession/session"
)

var (
	// ErrRejected means the primary credentials were refused.
	ErrRejected = errors.New("credentials rejected")
	// ErrCodeRejected means the one-time code was refused.
	ErrCodeRejected = errors.New("one-time code rejected")
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable wraps transport or provider-side failures.
	ErrUnavailable = errors.New("identity provider unavailable")
	// ErrPushUnsupported is returned by Subscribe on gateways without push.
	ErrPushUnsupported = errors.New("push notifications unsupported")
)

// Scope selects which sessions InvalidateSession revokes.
type Scope uint8

const (
	// ScopeLocal revokes only the session issued to this client.
	ScopeLocal Scope = iota
	// ScopeGlobal revokes every session of the identity.
	ScopeGlobal
)

func (s Scope) String() string {
	if s == ScopeGlobal {
		return "global"
	}
	return "local"
}

// Grant is the result of a successful verification.
type Grant struct {
	Identity session.Identity `json:"identity"`
	Token    string           `json:"token"`
}

// Subscription is a live push subscription. Close is idempotent.
type Subscription interface {
	Close() error
}

// Gateway is the identity provider as seen by the session manager.
//
// Implementations must be safe for concurrent use. Calls may outlive the
// caller's interest; the manager discards late results itself.
type Gateway interface {
	VerifyCredentials(ctx context.Context, email, secret string) (*Grant, error)
	SendSecondFactor(ctx context.Context, email string) error
	VerifySecondFactor(ctx context.Context, email, code string) (*Grant, error)
	FetchProfile(ctx context.Context, subjectID string) (*session.Profile, error)
	InvalidateSession(ctx context.Context, scope Scope) error
	Subscribe(fn func(PushEvent)) (Subscription, error)
}

// Source delivers push events independently of a gateway.
type Source interface {
	Subscribe(fn func(PushEvent)) (Subscription, error)
}

type withPush struct {
	Gateway
	source Source
}

// WithPush returns gw with its Subscribe replaced by src.
func WithPush(gw Gateway, src Source) Gateway {
	return &withPush{Gateway: gw, source: src}
}

func (w *withPush) Subscribe(fn func(PushEvent)) (Subscription, error) {
	return w.source.Subscribe(fn)
}

// SubscriptionFunc adapts a close function to [Subscription]. The function
// runs at most once.
func SubscriptionFunc(fn func() error) Subscription {
	return &funcSubscription{fn: fn}
}

type funcSubscription struct {
	once sync.Once
	fn   func() error
	err  error
}

func (s *funcSubscription) Close() error {
	s.once.Do(func() {
		if s.fn != nil {
			s.err = s.fn()
		}
	})
	return s.err
}
