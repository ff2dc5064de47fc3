package goSession

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// message is one unit of work for the loop. call, when set, is settled with
// ErrManagerClosed if the message is never applied.
type message struct {
	apply func()
	call  *call
}

// call tracks one consumer operation until its Outcome is delivered.
type call struct {
	ctx     context.Context
	out     chan Outcome
	gen     uint64
	timed   bool
	started time.Time
	done    bool
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		// Pending pushes go first so a queued watchdog report cannot
		// overtake a push that already arrived.
		select {
		case <-m.pushReady:
			m.applyPendingPush()
			m.settle()
			continue
		default:
		}

		select {
		case msg := <-m.inbox:
			msg.apply()
		case <-m.pushReady:
			m.applyPendingPush()
		case <-m.quit:
			return
		}
		m.settle()
	}
}

// submit queues op for the loop without blocking. The returned channel
// receives exactly one Outcome.
func (m *Manager) submit(ctx context.Context, timed bool, op func(c *call)) <-chan Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	c := &call{ctx: ctx, out: make(chan Outcome, 1), timed: timed}
	if timed {
		c.started = m.clock.Now()
	}

	m.lifeMu.RLock()
	defer m.lifeMu.RUnlock()
	switch {
	case m.closed:
		return m.settled(c, ErrManagerClosed)
	case !m.started:
		return m.settled(c, ErrManagerNotReady)
	}

	select {
	case m.inbox <- message{apply: func() { op(c) }, call: c}:
	default:
		return m.settled(c, ErrBusy)
	}
	return c.out
}

// settled completes c off the loop with err and the published state.
func (m *Manager) settled(c *call, err error) <-chan Outcome {
	snap := m.snap.Load()
	c.done = true
	c.out <- Outcome{State: snap.state, Session: snap.sess.Clone(), Err: err}
	return c.out
}

// rejectLocal settles a call whose input failed a local check.
func (m *Manager) rejectLocal(ctx context.Context, err error) <-chan Outcome {
	return m.settled(&call{ctx: ctx, out: make(chan Outcome, 1)}, err)
}

// postInternal hands fn to the loop. It reports false once the manager is
// shutting down.
func (m *Manager) postInternal(fn func()) bool {
	select {
	case m.inbox <- message{apply: fn}:
		return true
	case <-m.quit:
		return false
	}
}

// async runs work off the loop and applies the returned func on the loop.
func (m *Manager) async(work func() func()) {
	m.pending.Add(1)
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		apply := work()
		posted := m.postInternal(func() {
			m.pending.Add(-1)
			if apply != nil {
				apply()
			}
		})
		if !posted {
			m.pending.Add(-1)
		}
	}()
}

// track registers c as in flight for the current generation.
func (m *Manager) track(c *call) {
	c.gen = m.gen
	m.inflight[c] = struct{}{}
}

// callContext bounds a provider call by the caller's context, the gateway
// timeout, and the generation it was issued under.
func (m *Manager) callContext(ctx context.Context, genCtx context.Context) (context.Context, context.CancelFunc) {
	cctx, cancel := context.WithTimeout(ctx, m.config.Gateway.CallTimeout)
	stop := context.AfterFunc(genCtx, cancel)
	return cctx, func() {
		stop()
		cancel()
	}
}

// bumpGen starts a new generation. Calls in flight are settled with
// ErrSuperseded once the current message finishes, and their provider
// calls are cancelled.
func (m *Manager) bumpGen(reason string) {
	m.gen++
	m.cancelGen()
	m.genCtx, m.cancelGen = context.WithCancel(context.Background())
	m.submitting = false
	for c := range m.inflight {
		delete(m.inflight, c)
		m.superseded = append(m.superseded, c)
	}
	m.log.Debug("generation advanced", zap.Uint64("gen", m.gen), zap.String("reason", reason))
}

// current reports whether gen is still the live generation.
func (m *Manager) current(gen uint64, op string) bool {
	if gen == m.gen {
		return true
	}
	m.metricInc(MetricStaleCompletionDropped)
	m.log.Debug("stale completion dropped",
		zap.String("op", op), zap.Uint64("gen", gen), zap.Uint64("current", m.gen))
	return false
}

func (m *Manager) settle() {
	if len(m.superseded) == 0 {
		return
	}
	calls := m.superseded
	m.superseded = nil
	for _, c := range calls {
		m.resolve(c, Outcome{Err: ErrSuperseded})
	}
}

// resolve delivers out to c once, filling in the current state and session.
func (m *Manager) resolve(c *call, out Outcome) {
	if c == nil || c.done {
		return
	}
	c.done = true
	delete(m.inflight, c)

	out.State = m.state
	if out.Session == nil {
		out.Session = m.sess.Clone()
	}
	if c.timed {
		m.metrics.Observe(MetricLoginLatency, m.clock.Now().Sub(c.started))
	}
	c.out <- out
}
