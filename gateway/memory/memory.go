// Package memory is an in-process identity provider for tests, demos, and
// the session simulator. It mints tokens with a [token.Codec] and delivers
// push events published through [Gateway.Publish].
package memory

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/internal"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
)

const defaultTTL = 24 * time.Hour

// User is a seeded account.
type User struct {
	ID          string
	Email       string
	Password    string
	Role        string
	DisplayName string
	Profile     session.Profile
}

// DemoUsers returns the two portal demo accounts.
func DemoUsers() []User {
	return []User{
		{
			ID:          "user-patient-1",
			Email:       "patient@example.com",
			Password:    "password123",
			Role:        session.RolePatient,
			DisplayName: "Jane Patient",
			Profile: session.Profile{
				SubjectID: "user-patient-1",
				HealthID:  "HID-0001",
				FirstName: "Jane",
				LastName:  "Patient",
			},
		},
		{
			ID:          "user-hospital-1",
			Email:       "hospital@example.com",
			Password:    "password123",
			Role:        session.RoleInstitutional,
			DisplayName: "City General",
			Profile: session.Profile{
				SubjectID: "user-hospital-1",
				Name:      "City General Hospital",
				Metadata:  map[string]any{"type": "hospital"},
			},
		},
	}
}

// Config configures a [Gateway]. Zero values select defaults.
type Config struct {
	Users []User
	Codec token.Codec
	TTL   time.Duration
	Now   func() time.Time
	// AcceptAnyCode accepts any six digit code once one has been sent.
	AcceptAnyCode bool
}

type issued struct {
	sessionID string
	email     string
}

// Gateway is an in-memory [gateway.Gateway].
type Gateway struct {
	cfg Config

	mu            sync.Mutex
	users         map[string]User
	codes         map[string]string
	sent          map[string]int
	current       *issued
	active        map[string]string // session id -> email
	invalidations []gateway.Scope
	failures      map[string]error

	subMu sync.Mutex
	subs  map[uint64]func(gateway.PushEvent)
	subID uint64
	seq   uint64
}

var _ gateway.Gateway = (*Gateway)(nil)

// New creates a Gateway. With no users configured it seeds [DemoUsers].
func New(cfg Config) *Gateway {
	if len(cfg.Users) == 0 {
		cfg.Users = DemoUsers()
	}
	if cfg.Codec == nil {
		cfg.Codec = token.PlaceholderCodec{}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	g := &Gateway{
		cfg:      cfg,
		users:    make(map[string]User, len(cfg.Users)),
		codes:    make(map[string]string),
		sent:     make(map[string]int),
		active:   make(map[string]string),
		failures: make(map[string]error),
		subs:     make(map[uint64]func(gateway.PushEvent)),
	}
	for _, u := range cfg.Users {
		g.users[normalizeEmail(u.Email)] = u
	}
	return g
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FailNext makes the next call of op return err. op is the method name,
// for example "FetchProfile".
func (g *Gateway) FailNext(op string, err error) {
	g.mu.Lock()
	g.failures[op] = err
	g.mu.Unlock()
}

func (g *Gateway) takeFailureLocked(op string) error {
	err, ok := g.failures[op]
	if !ok {
		return nil
	}
	delete(g.failures, op)
	return fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
}

func (g *Gateway) mintLocked(u User) (*gateway.Grant, error) {
	claims := token.NewClaims(u.ID, u.Email, u.Role, g.cfg.Now(), g.cfg.TTL)
	tok, err := g.cfg.Codec.Encode(claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	sid := ulid.Make().String()
	g.active[sid] = normalizeEmail(u.Email)
	g.current = &issued{sessionID: sid, email: normalizeEmail(u.Email)}
	return &gateway.Grant{
		Identity: session.Identity{
			SubjectID:   u.ID,
			Email:       u.Email,
			Role:        u.Role,
			DisplayName: u.DisplayName,
		},
		Token: tok,
	}, nil
}

func (g *Gateway) VerifyCredentials(ctx context.Context, email, secret string) (*gateway.Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailureLocked("VerifyCredentials"); err != nil {
		return nil, err
	}
	u, ok := g.users[normalizeEmail(email)]
	if !ok || subtle.ConstantTimeCompare([]byte(u.Password), []byte(secret)) != 1 {
		return nil, gateway.ErrRejected
	}
	return g.mintLocked(u)
}

func (g *Gateway) SendSecondFactor(ctx context.Context, email string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailureLocked("SendSecondFactor"); err != nil {
		return err
	}
	key := normalizeEmail(email)
	if _, ok := g.users[key]; !ok {
		return gateway.ErrNotFound
	}
	code, err := internal.NewOTP(6)
	if err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	g.codes[key] = code
	g.sent[key]++
	return nil
}

func (g *Gateway) VerifySecondFactor(ctx context.Context, email, code string) (*gateway.Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailureLocked("VerifySecondFactor"); err != nil {
		return nil, err
	}
	key := normalizeEmail(email)
	u, ok := g.users[key]
	want, sent := g.codes[key]
	if !ok || !sent {
		return nil, gateway.ErrCodeRejected
	}
	accepted := subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1
	if g.cfg.AcceptAnyCode && len(code) == 6 && internal.IsNumeric(code) {
		accepted = true
	}
	if !accepted {
		return nil, gateway.ErrCodeRejected
	}
	delete(g.codes, key)
	return g.mintLocked(u)
}

func (g *Gateway) FetchProfile(ctx context.Context, subjectID string) (*session.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeFailureLocked("FetchProfile"); err != nil {
		return nil, err
	}
	for _, u := range g.users {
		if u.ID == subjectID {
			return u.Profile.Clone(), nil
		}
	}
	return nil, gateway.ErrNotFound
}

func (g *Gateway) InvalidateSession(ctx context.Context, scope gateway.Scope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invalidations = append(g.invalidations, scope)
	if err := g.takeFailureLocked("InvalidateSession"); err != nil {
		return err
	}
	if g.current == nil {
		return nil
	}
	switch scope {
	case gateway.ScopeGlobal:
		for sid, email := range g.active {
			if email == g.current.email {
				delete(g.active, sid)
			}
		}
	default:
		delete(g.active, g.current.sessionID)
	}
	g.current = nil
	return nil
}

func (g *Gateway) Subscribe(fn func(gateway.PushEvent)) (gateway.Subscription, error) {
	if fn == nil {
		return nil, errors.New("memory gateway: nil push handler")
	}
	g.subMu.Lock()
	g.subID++
	id := g.subID
	g.subs[id] = fn
	g.subMu.Unlock()

	return gateway.SubscriptionFunc(func() error {
		g.subMu.Lock()
		delete(g.subs, id)
		g.subMu.Unlock()
		return nil
	}), nil
}

// Publish delivers ev to every subscriber synchronously. A zero Sequence is
// replaced with the next provider sequence; the assigned value is returned.
func (g *Gateway) Publish(ev gateway.PushEvent) uint64 {
	g.subMu.Lock()
	if ev.Sequence == 0 {
		g.seq++
		ev.Sequence = g.seq
	} else if ev.Sequence > g.seq {
		g.seq = ev.Sequence
	}
	handlers := make([]func(gateway.PushEvent), 0, len(g.subs))
	for _, fn := range g.subs {
		handlers = append(handlers, fn)
	}
	g.subMu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
	return ev.Sequence
}

// IssueGrant mints a session for email without credentials, as another
// device or tab signing in would.
func (g *Gateway) IssueGrant(email string) (*gateway.Grant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.users[normalizeEmail(email)]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return g.mintLocked(u)
}

// LastCode returns the most recent one-time code sent to email.
func (g *Gateway) LastCode(email string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	code, ok := g.codes[normalizeEmail(email)]
	return code, ok
}

// CodesSent counts SendSecondFactor calls for email.
func (g *Gateway) CodesSent(email string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sent[normalizeEmail(email)]
}

// Invalidations returns the scopes passed to InvalidateSession, in order.
func (g *Gateway) Invalidations() []gateway.Scope {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.Scope(nil), g.invalidations...)
}

// ActiveSessions counts live provider sessions for email.
func (g *Gateway) ActiveSessions(email string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := normalizeEmail(email)
	n := 0
	for _, e := range g.active {
		if e == key {
			n++
		}
	}
	return n
}
