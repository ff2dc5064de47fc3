package goSession

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/goSession/session"
)

// RefreshProfile re-fetches the profile of the signed-in identity. On
// failure the previous profile is kept.
func (m *Manager) RefreshProfile(ctx context.Context) <-chan Outcome {
	return m.submit(ctx, false, func(c *call) {
		if m.state != StateAuthenticated || m.sess == nil {
			m.resolve(c, Outcome{Err: ErrNotAuthenticated})
			return
		}
		m.fetchProfile(c, true)
	})
}

// fetchProfile loads the profile for the current subject off the loop. When
// c is set it settles after the result is applied; strict reports a
// failure as Err instead of ProfileErr.
func (m *Manager) fetchProfile(c *call, strict bool) {
	subject := m.sess.Identity.SubjectID
	if c != nil {
		m.track(c)
	}
	ctx := context.Background()
	if c != nil {
		ctx = c.ctx
	}

	gen, genCtx := m.gen, m.genCtx
	m.async(func() func() {
		cctx, cancel := m.callContext(ctx, genCtx)
		defer cancel()
		p, err := m.gw.FetchProfile(cctx, subject)
		return func() { m.applyProfile(c, gen, subject, p, err, strict) }
	})
}

func (m *Manager) applyProfile(c *call, gen uint64, subject string, p *session.Profile, err error, strict bool) {
	if !m.current(gen, "fetch_profile") {
		return
	}
	if m.sess == nil || m.sess.Identity.SubjectID != subject {
		m.resolve(c, Outcome{Err: ErrNotAuthenticated})
		return
	}

	if err != nil {
		m.metricInc(MetricProfileFetchFailure)
		m.emitAudit(AuditProfileFetchFailure, m.sess.Identity.Email, subject, false, providerReason(err), nil)
		m.log.Warn("profile fetch failed", zap.String("subject", subject), zap.Error(err))
		wrapped := fmt.Errorf("%w: %w", ErrProvider, err)
		if strict {
			m.resolve(c, Outcome{Err: wrapped})
		} else {
			m.resolve(c, Outcome{ProfileErr: wrapped})
		}
		return
	}

	m.setProfile(p)
	m.resolve(c, Outcome{})
}

// setProfile replaces the profile without touching the state version.
func (m *Manager) setProfile(p *session.Profile) {
	p = p.Clone()
	if p != nil && p.SubjectID == "" {
		p.SubjectID = m.sess.Identity.SubjectID
	}
	m.sess.Profile = p
	if p != nil && m.sess.Identity.DisplayName == "" {
		m.sess.Identity.DisplayName = p.FullName()
	}
	m.publish()
}
