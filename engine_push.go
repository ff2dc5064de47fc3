package goSession

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/session"
)

// Pending pushes are parked in one slot per kind group so that an event
// which only updates data never displaces a sign-in or sign-out.
const (
	slotLifecycle = iota
	slotToken
	slotProfile
	pushSlots
)

func pushSlot(kind gateway.PushKind) int {
	switch kind {
	case gateway.PushSignedOut, gateway.PushSignedIn:
		return slotLifecycle
	case gateway.PushTokenRefreshed:
		return slotToken
	}
	return slotProfile
}

// onPush parks ev until the loop picks it up. A newer event replaces an
// older one in the same slot; a sign-in or sign-out also discards the
// updates parked before it, which it makes moot.
func (m *Manager) onPush(ev gateway.PushEvent) {
	m.pushMu.Lock()
	if top := m.newestPendingLocked(); top != nil && ev.Sequence != 0 && top.Sequence > ev.Sequence {
		m.pushMu.Unlock()
		m.metricInc(MetricPushDropped)
		m.log.Debug("push dropped, newer event pending",
			zap.Uint64("seq", ev.Sequence), zap.Uint64("pending", top.Sequence))
		return
	}
	slot := pushSlot(ev.Kind)
	replace := []int{slot}
	if slot == slotLifecycle {
		replace = append(replace, slotToken, slotProfile)
	}
	for _, i := range replace {
		if prev := m.pendingPush[i]; prev != nil {
			m.metricInc(MetricPushDropped)
			m.log.Debug("pending push replaced",
				zap.String("kind", string(prev.Kind)), zap.Uint64("seq", prev.Sequence))
			m.pendingPush[i] = nil
		}
	}
	m.pendingPush[slot] = &ev
	m.pushMu.Unlock()

	select {
	case m.pushReady <- struct{}{}:
	default:
	}
}

func (m *Manager) newestPendingLocked() *gateway.PushEvent {
	var top *gateway.PushEvent
	for _, ev := range m.pendingPush {
		if ev != nil && (top == nil || ev.Sequence > top.Sequence) {
			top = ev
		}
	}
	return top
}

// applyPendingPush applies the parked events in arrival order. A lifecycle
// event always arrived before any update still parked beside it.
func (m *Manager) applyPendingPush() {
	m.pushMu.Lock()
	pending := m.pendingPush
	m.pendingPush = [pushSlots]*gateway.PushEvent{}
	m.pushMu.Unlock()

	order := []int{slotLifecycle, slotToken, slotProfile}
	if tok, prof := pending[slotToken], pending[slotProfile]; tok != nil && prof != nil &&
		prof.Sequence != 0 && prof.Sequence < tok.Sequence {
		order = []int{slotLifecycle, slotProfile, slotToken}
	}
	for _, i := range order {
		if ev := pending[i]; ev != nil {
			m.applyPush(*ev)
		}
	}
}

// applyPush is the loop side of a provider push. Sequenced events at or
// below the last applied sequence are stale; sequence zero is applied in
// arrival order.
func (m *Manager) applyPush(ev gateway.PushEvent) {
	if ev.Sequence != 0 {
		if ev.Sequence <= m.lastPushSeq {
			m.dropPush(ev, auditReasonStaleSequence)
			return
		}
		m.lastPushSeq = ev.Sequence
	}

	var applied bool
	switch ev.Kind {
	case gateway.PushSignedOut:
		applied = m.pushSignedOut()
	case gateway.PushSignedIn:
		applied = m.pushSignedIn(ev)
	case gateway.PushTokenRefreshed:
		applied = m.pushTokenRefreshed(ev)
	case gateway.PushProfileUpdated:
		applied = m.pushProfileUpdated(ev)
	}
	if !applied {
		m.dropPush(ev, auditReasonNotApplicable)
		return
	}

	m.metricInc(MetricPushApplied)
	var subject string
	if m.sess != nil {
		subject = m.sess.Identity.SubjectID
	}
	m.emitAudit(AuditPushApplied, "", subject, true, "", map[string]string{
		"kind": string(ev.Kind),
		"seq":  strconv.FormatUint(ev.Sequence, 10),
	})
}

func (m *Manager) dropPush(ev gateway.PushEvent, reason string) {
	m.metricInc(MetricPushDropped)
	m.emitAudit(AuditPushDropped, "", "", false, reason, map[string]string{
		"kind": string(ev.Kind),
		"seq":  strconv.FormatUint(ev.Sequence, 10),
	})
	m.log.Debug("push dropped",
		zap.String("kind", string(ev.Kind)),
		zap.Uint64("seq", ev.Sequence),
		zap.Uint64("last", m.lastPushSeq),
		zap.String("reason", reason))
}

func (m *Manager) pushSignedOut() bool {
	prev := m.state
	m.bumpGen("push_signed_out")
	m.otp.Discard()
	m.attempt = nil
	m.clearStore("push_signed_out")
	m.sess = nil
	m.setState(StateAnonymous)
	if prev != StateAnonymous {
		m.signal(SignalSignedOut, "")
	}
	return true
}

func (m *Manager) pushSignedIn(ev gateway.PushEvent) bool {
	if ev.Session == nil {
		return false
	}
	claims, err := m.checkGrant(ev.Session)
	if err != nil {
		m.log.Info("pushed session unusable", zap.Error(err))
		return false
	}
	if m.state == StateAuthenticated && m.sess.Token == ev.Session.Token {
		if ev.Profile != nil {
			m.setProfile(ev.Profile)
		}
		return true
	}

	ctx, cancel := m.storeContext()
	err = m.store.Set(ctx, ev.Session.Token)
	cancel()
	if err != nil {
		m.log.Warn("persist pushed credential", zap.Error(err))
		return false
	}

	var keep *session.Profile
	if m.sess != nil && m.sess.Identity.SubjectID == claims.SubjectID {
		keep = m.sess.Profile
	}

	m.bumpGen("push_signed_in")
	// The provider already replaced the attempt's session, so no rollback.
	m.otp.Discard()
	m.attempt = nil

	id := ev.Session.Identity
	if id.Email == "" {
		id.Email = claims.Email
	}
	m.sess = &session.Session{Token: ev.Session.Token, Claims: claims, Identity: id, Profile: keep}
	m.setState(StateAuthenticated)

	switch {
	case ev.Profile != nil:
		m.setProfile(ev.Profile)
	case keep == nil:
		m.fetchProfile(nil, false)
	}
	return true
}

func (m *Manager) pushTokenRefreshed(ev gateway.PushEvent) bool {
	if m.state != StateAuthenticated || m.sess == nil || ev.Session == nil {
		return false
	}
	claims, err := m.checkGrant(ev.Session)
	if err != nil {
		m.log.Info("refreshed token unusable", zap.Error(err))
		return false
	}
	if claims.SubjectID != m.sess.Identity.SubjectID {
		return false
	}

	ctx, cancel := m.storeContext()
	err = m.store.Set(ctx, ev.Session.Token)
	cancel()
	if err != nil {
		m.log.Warn("persist refreshed credential", zap.Error(err))
		return false
	}

	m.sess.Token = ev.Session.Token
	m.sess.Claims = claims
	m.setState(StateAuthenticated)
	if ev.Profile != nil {
		m.setProfile(ev.Profile)
	}
	return true
}

func (m *Manager) pushProfileUpdated(ev gateway.PushEvent) bool {
	if m.state != StateAuthenticated || m.sess == nil {
		return false
	}
	if ev.Profile == nil {
		m.fetchProfile(nil, false)
		return true
	}
	if ev.Profile.SubjectID != "" && ev.Profile.SubjectID != m.sess.Identity.SubjectID {
		return false
	}
	m.setProfile(ev.Profile)
	return true
}
