package goSession

import (
	"go.uber.org/zap"

	"github.com/MrEthical07/goSession/internal/watchdog"
	"github.com/MrEthical07/goSession/session"
)

// watchdogHandler feeds watchdog reports into the loop.
type watchdogHandler struct{ m *Manager }

func (h watchdogHandler) Version() uint64 { return h.m.version.Load() }

func (h watchdogHandler) HandleReport(r watchdog.Report) {
	h.m.postInternal(func() { h.m.applyReport(r) })
}

// applyReport reconciles the loop state with what the store held when the
// check ran. A report taken before the latest state change is discarded;
// the next tick sees the new state.
func (m *Manager) applyReport(r watchdog.Report) {
	m.metricInc(MetricWatchdogTick)
	if r.Version != m.version.Load() {
		m.metricInc(MetricWatchdogVerdictDropped)
		m.log.Debug("watchdog report overtaken",
			zap.Stringer("verdict", r.Verdict),
			zap.Uint64("version", r.Version),
			zap.Uint64("current", m.version.Load()))
		return
	}

	switch r.Verdict {
	case watchdog.VerdictUnreadable:
		m.log.Warn("watchdog could not read credential store", zap.Error(r.Err))

	case watchdog.VerdictMissing:
		if m.state == StateAuthenticated {
			m.expire(false, r)
		}

	case watchdog.VerdictMalformed, watchdog.VerdictExpired:
		if m.state == StateAuthenticated {
			m.expire(true, r)
			return
		}
		m.log.Info("discarding stored credential", zap.Stringer("verdict", r.Verdict), zap.Error(r.Err))
		m.clearStore("watchdog")

	case watchdog.VerdictValid:
		switch m.state {
		case StateAnonymous:
			m.adopt(r)
		case StateAuthenticated:
			if m.sess != nil && m.sess.Token != r.Token {
				m.adopt(r)
			}
		}
	}
}

// expire surfaces a single expiry and normalizes to StateAnonymous.
func (m *Manager) expire(clear bool, r watchdog.Report) {
	var subject, email string
	if m.sess != nil {
		subject = m.sess.Identity.SubjectID
		email = m.sess.Identity.Email
	}

	m.setState(StateExpired)
	if clear {
		m.clearStore("expired")
	}

	m.metricInc(MetricSessionExpired)
	m.emitAudit(AuditSessionExpired, email, subject, true, r.Verdict.String(), nil)
	m.log.Info("session expired", zap.String("subject", subject), zap.Stringer("verdict", r.Verdict))
	m.signal(SignalSessionExpired, "")

	m.bumpGen("expired")
	m.sess = nil
	m.setState(StateAnonymous)
}

// adopt takes over a valid token written by another context on this device.
func (m *Manager) adopt(r watchdog.Report) {
	var keep *session.Profile
	if m.sess != nil && m.sess.Identity.SubjectID == r.Claims.SubjectID {
		keep = m.sess.Profile
	} else if m.sess != nil {
		m.bumpGen("adopt")
	}

	m.sess = &session.Session{
		Token:    r.Token,
		Claims:   r.Claims,
		Identity: session.IdentityFromClaims(r.Claims),
		Profile:  keep,
	}
	if keep != nil {
		m.sess.Identity.DisplayName = keep.FullName()
	}
	m.setState(StateAuthenticated)
	m.metricInc(MetricSessionAdopted)
	m.log.Info("adopted session from shared store", zap.String("subject", r.Claims.SubjectID))

	if keep == nil {
		m.fetchProfile(nil, false)
	}
}
