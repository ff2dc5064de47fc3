package goSession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/otp"
	"github.com/MrEthical07/goSession/internal/schedule"
	"github.com/MrEthical07/goSession/internal/watchdog"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
)

// Manager is the authoritative holder of the current session.
//
// Every state change is applied on a single loop goroutine. Provider calls
// run off the loop and post their results back; a result whose generation
// no longer matches is dropped. Consumer operations return immediately with
// a channel that receives exactly one [Outcome].
type Manager struct {
	config   Config
	log      *zap.Logger
	gw       gateway.Gateway
	store    session.CredentialStore
	codec    token.Codec
	clock    schedule.Scheduler
	otp      *otp.Controller
	watchdog *watchdog.Watchdog
	audit    *audit.Dispatcher
	metrics  *Metrics

	inbox chan message
	quit  chan struct{}
	done  chan struct{}
	bg    sync.WaitGroup
	// pending counts async work whose result has not been applied yet.
	pending atomic.Int64

	sigMu     sync.RWMutex
	sigClosed bool
	signals   chan Signal

	pushMu      sync.Mutex
	pendingPush [pushSlots]*gateway.PushEvent
	pushReady   chan struct{}

	lifeMu  sync.RWMutex
	started bool
	closed  bool
	sub     gateway.Subscription

	// version changes whenever the state or the held token changes. The
	// watchdog captures it before reading the store.
	version atomic.Uint64
	snap    atomic.Pointer[snapshot]

	// Loop-owned.
	state       State
	sess        *session.Session
	attempt     *attempt
	gen         uint64
	genCtx      context.Context
	cancelGen   context.CancelFunc
	inflight    map[*call]struct{}
	superseded  []*call
	submitting  bool
	lastPushSeq uint64
}

type snapshot struct {
	state State
	sess  *session.Session
}

// attempt is the login in progress between Authenticating and a settled state.
type attempt struct {
	entry  EntryPoint
	policy EntryPolicy
	email  string
	// provisional is set once the provider accepted the primary credentials,
	// so abandoning the attempt needs a provider-side rollback.
	provisional bool
}

// Start restores any persisted session, subscribes to provider pushes, and
// starts the watchdog. Calling Start again is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if m.started {
		return nil
	}

	sub, err := m.gw.Subscribe(m.onPush)
	switch {
	case err == nil:
		m.sub = sub
	case errors.Is(err, gateway.ErrPushUnsupported):
		m.log.Debug("provider does not push session events")
	default:
		return fmt.Errorf("subscribe to provider events: %w", err)
	}

	m.restore(ctx)
	m.log.Info("session manager started", zap.Stringer("state", m.state))

	go m.run()
	m.watchdog.Start(watchdogHandler{m})
	m.started = true
	return nil
}

// Close stops the watchdog and the push subscription, cancels in-flight
// provider calls, and settles every pending operation with
// [ErrManagerClosed]. It is idempotent.
func (m *Manager) Close() error {
	m.lifeMu.Lock()
	if m.closed {
		m.lifeMu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	m.lifeMu.Unlock()

	var closeErr error
	if started {
		m.watchdog.Stop()
		if m.sub != nil {
			if err := m.sub.Close(); err != nil {
				m.log.Warn("close push subscription", zap.Error(err))
			}
		}
		close(m.quit)
		<-m.done

		m.cancelGen()
		m.otp.Discard()
		closeErr = m.waitBackground()

	drain:
		for {
			select {
			case msg := <-m.inbox:
				if msg.call != nil {
					m.resolve(msg.call, Outcome{Err: ErrManagerClosed})
				}
			default:
				break drain
			}
		}
		for c := range m.inflight {
			m.resolve(c, Outcome{Err: ErrManagerClosed})
		}
	}

	m.audit.Close()

	m.sigMu.Lock()
	m.sigClosed = true
	close(m.signals)
	m.sigMu.Unlock()
	return closeErr
}

func (m *Manager) waitBackground() error {
	idle := make(chan struct{})
	go func() {
		m.bg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-time.After(m.config.Loop.ShutdownTimeout):
		m.log.Warn("background provider calls still running at shutdown",
			zap.Duration("timeout", m.config.Loop.ShutdownTimeout))
		return fmt.Errorf("shutdown: provider calls still running after %s", m.config.Loop.ShutdownTimeout)
	}
}

// State returns the current state.
func (m *Manager) State() State {
	return m.snap.Load().state
}

// IsAuthenticated reports whether a session is held.
func (m *Manager) IsAuthenticated() bool {
	return m.State() == StateAuthenticated
}

// CurrentSession returns a copy of the current session, or nil.
func (m *Manager) CurrentSession() *session.Session {
	return m.snap.Load().sess.Clone()
}

// Signals delivers UI notifications. Signals are dropped when the buffer is
// full. The channel is closed by [Manager.Close].
func (m *Manager) Signals() <-chan Signal {
	return m.signals
}

// OtpStatus reports the open challenge, if any.
func (m *Manager) OtpStatus() (OtpStatus, bool) {
	ch := m.otp.Current()
	if ch == nil {
		return OtpStatus{}, false
	}
	return ch.Snapshot(), true
}

// AuditDropped returns the number of audit events lost to a full buffer.
func (m *Manager) AuditDropped() uint64 {
	if m == nil || m.audit == nil {
		return 0
	}
	return m.audit.Dropped()
}

// MetricsSnapshot returns a copy of the current counters and histograms.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	if m == nil || m.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return m.metrics.Snapshot()
}

func (m *Manager) metricInc(id MetricID) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.Inc(id)
}

func (m *Manager) signal(kind SignalKind, challengeID string) {
	m.sigMu.RLock()
	defer m.sigMu.RUnlock()
	if m.sigClosed {
		return
	}
	select {
	case m.signals <- Signal{Kind: kind, ChallengeID: challengeID, At: m.clock.Now()}:
	default:
		m.log.Debug("signal dropped", zap.Stringer("signal", kind))
	}
}

// restore runs before the loop starts and adopts a persisted token.
func (m *Manager) restore(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, m.config.Store.OpTimeout)
	defer cancel()

	r := watchdog.Inspect(sctx, m.store, m.codec, m.clock.Now())
	switch r.Verdict {
	case watchdog.VerdictValid:
		m.sess = &session.Session{
			Token:    r.Token,
			Claims:   r.Claims,
			Identity: session.IdentityFromClaims(r.Claims),
		}
		m.setState(StateAuthenticated)
		m.metricInc(MetricSessionRestored)
		m.log.Info("session restored", zap.String("subject", r.Claims.SubjectID))
		m.fetchProfile(nil, false)
	case watchdog.VerdictMalformed, watchdog.VerdictExpired:
		m.log.Info("discarding stored credential", zap.Stringer("verdict", r.Verdict), zap.Error(r.Err))
		m.clearStore("restore")
	case watchdog.VerdictUnreadable:
		m.log.Warn("credential store unreadable at start", zap.Error(r.Err))
	}
}

// setState moves to s and publishes the change to readers.
func (m *Manager) setState(s State) {
	if m.state != s {
		m.log.Info("session state", zap.Stringer("from", m.state), zap.Stringer("to", s))
	}
	m.state = s
	m.version.Add(1)
	m.publish()
}

func (m *Manager) publish() {
	m.snap.Store(&snapshot{state: m.state, sess: m.sess.Clone()})
}

func (m *Manager) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.config.Store.OpTimeout)
}

// clearStore removes the persisted token. Failures are logged; the local
// session is dropped regardless.
func (m *Manager) clearStore(reason string) {
	ctx, cancel := m.storeContext()
	defer cancel()
	if err := m.store.Clear(ctx); err != nil {
		m.log.Warn("clear credential store", zap.String("reason", reason), zap.Error(err))
	}
}
