package goSession

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/gateway/memory"
	"github.com/MrEthical07/goSession/internal/schedule"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
)

const (
	patientEmail  = "patient@example.com"
	hospitalEmail = "hospital@example.com"
	demoPassword  = "password123"

	waitTimeout = 5 * time.Second
)

var testEpoch = time.Unix(1_700_000_000, 0)

type harness struct {
	m     *Manager
	gw    *memory.Gateway
	clock *schedule.Fake
	store session.CredentialStore
	audit *ChannelSink
}

type harnessOptions struct {
	config   func(*Config)
	gateway  func(*memory.Gateway) gateway.Gateway
	store    session.CredentialStore
	tokenTTL time.Duration
	noStart  bool
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	clock := schedule.NewFake(testEpoch)
	mem := memory.New(memory.Config{Now: clock.Now, TTL: opts.tokenTTL})
	var gw gateway.Gateway = mem
	if opts.gateway != nil {
		gw = opts.gateway(mem)
	}
	store := opts.store
	if store == nil {
		store = session.NewMemoryStore()
	}

	cfg := DefaultConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 512
	cfg.Metrics.Enabled = true
	if opts.config != nil {
		opts.config(&cfg)
	}

	sink := NewChannelSink(512)
	m, err := New().
		WithConfig(cfg).
		WithGateway(gw).
		WithStore(store).
		WithScheduler(clock).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	if !opts.noStart {
		if err := m.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
	}

	return &harness{m: m, gw: mem, clock: clock, store: store, audit: sink}
}

func await(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}
	}
}

// flush returns once every message queued before it, and any pending push,
// has been applied.
func flush(t *testing.T, m *Manager) {
	t.Helper()
	done := make(chan struct{})
	if !m.postInternal(func() {
		m.applyPendingPush()
		close(done)
	}) {
		t.Fatal("manager loop stopped")
	}
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("timed out flushing loop")
	}
}

// waitIdle returns once no provider call is outstanding.
func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		flush(t, m)
		if m.pending.Load() == 0 {
			flush(t, m)
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for provider calls")
}

func (h *harness) advance(t *testing.T, d time.Duration) {
	t.Helper()
	h.clock.Advance(d)
	flush(t, h.m)
}

func (h *harness) storedClaims(t *testing.T) (token.Claims, bool) {
	t.Helper()
	raw, ok, err := h.store.Get(context.Background())
	if err != nil {
		t.Fatalf("store Get failed: %v", err)
	}
	if !ok {
		return token.Claims{}, false
	}
	claims, err := token.PlaceholderCodec{}.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return claims, true
}

func (h *harness) login(t *testing.T, entry EntryPoint, email string) Outcome {
	t.Helper()
	out := await(t, h.m.LoginAs(context.Background(), entry, email, demoPassword))
	waitIdle(t, h.m)
	return out
}

// signInWithOtp drives the institutional flow to completion.
func (h *harness) signInWithOtp(t *testing.T, email string) Outcome {
	t.Helper()
	out := h.login(t, EntryInstitutional, email)
	if out.Err != nil || out.State != StateOtpPending {
		t.Fatalf("login = %v / %s, want otp_pending", out.Err, out.State)
	}
	code, ok := h.gw.LastCode(email)
	if !ok {
		t.Fatal("no code sent")
	}
	out = await(t, h.m.SubmitOtp(context.Background(), code))
	waitIdle(t, h.m)
	return out
}

func drainSignals(m *Manager) []Signal {
	var out []Signal
	for {
		select {
		case s, ok := <-m.Signals():
			if !ok {
				return out
			}
			out = append(out, s)
		default:
			return out
		}
	}
}

func countSignals(signals []Signal, kind SignalKind) int {
	n := 0
	for _, s := range signals {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

func drainAudit(sink *ChannelSink) []AuditEvent {
	var out []AuditEvent
	for {
		select {
		case ev := <-sink.Events():
			out = append(out, ev)
		case <-time.After(20 * time.Millisecond):
			return out
		}
	}
}

func hasCategory(events []AuditEvent, c AuditCategory) bool {
	for _, ev := range events {
		if ev.Category == c {
			return true
		}
	}
	return false
}

func countScope(scopes []gateway.Scope, want gateway.Scope) int {
	n := 0
	for _, s := range scopes {
		if s == want {
			n++
		}
	}
	return n
}

// heldGateway delays VerifyCredentials for selected emails until released.
type heldGateway struct {
	*memory.Gateway

	mu         sync.Mutex
	holds      map[string]chan struct{}
	entered    chan string
	respectCtx bool
}

func newHeldGateway(mem *memory.Gateway, respectCtx bool) *heldGateway {
	return &heldGateway{
		Gateway:    mem,
		holds:      make(map[string]chan struct{}),
		entered:    make(chan string, 8),
		respectCtx: respectCtx,
	}
}

func (g *heldGateway) hold(email string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan struct{})
	g.holds[email] = ch
	return ch
}

func (g *heldGateway) VerifyCredentials(ctx context.Context, email, secret string) (*gateway.Grant, error) {
	g.mu.Lock()
	release := g.holds[email]
	g.mu.Unlock()

	if release != nil {
		g.entered <- email
		if g.respectCtx {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			<-release
		}
	}
	// A late response must not depend on the caller's context.
	return g.Gateway.VerifyCredentials(context.Background(), email, secret)
}

func (g *heldGateway) waitEntered(t *testing.T) string {
	t.Helper()
	select {
	case email := <-g.entered:
		return email
	case <-time.After(waitTimeout):
		t.Fatal("held call never reached the gateway")
		return ""
	}
}

// hookStore runs beforeGet ahead of every read.
type hookStore struct {
	*session.MemoryStore
	mu        sync.Mutex
	beforeGet func()
}

func (s *hookStore) setHook(fn func()) {
	s.mu.Lock()
	s.beforeGet = fn
	s.mu.Unlock()
}

func (s *hookStore) Get(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	fn := s.beforeGet
	s.beforeGet = nil
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return s.MemoryStore.Get(ctx)
}
