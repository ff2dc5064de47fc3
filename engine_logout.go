package goSession

import (
	"context"

	"github.com/MrEthical07/goSession/gateway"
)

// Logout ends the session from any state. The store is cleared and the
// state becomes StateAnonymous before the outcome is delivered; global
// provider invalidation continues in the background.
func (m *Manager) Logout(ctx context.Context) <-chan Outcome {
	return m.submit(ctx, false, m.beginLogout)
}

func (m *Manager) beginLogout(c *call) {
	prev := m.state
	var subject string
	if m.sess != nil {
		subject = m.sess.Identity.SubjectID
	}
	a := m.attempt

	m.bumpGen("logout")
	m.otp.Discard()
	m.attempt = nil
	m.clearStore("logout")
	m.sess = nil
	m.setState(StateAnonymous)

	if prev == StateAnonymous {
		m.resolve(c, Outcome{})
		return
	}

	m.metricInc(MetricLogout)
	m.emitAudit(AuditLogout, "", subject, true, "", map[string]string{"from": prev.String()})
	m.signal(SignalSignedOut, "")

	if subject != "" || (a != nil && a.provisional) {
		m.async(func() func() {
			m.invalidate(gateway.ScopeGlobal, "logout")
			return nil
		})
	}
	m.resolve(c, Outcome{})
}
