package goSession

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
)

var errNoGrant = errors.New("provider returned no grant")

// Login signs in through [EntryPatient].
func (m *Manager) Login(ctx context.Context, email, secret string) <-chan Outcome {
	return m.LoginAs(ctx, EntryPatient, email, secret)
}

// LoginAs verifies email and secret against the provider under the rules of
// entry. The outcome settles in StateAuthenticated, in StateOtpPending when
// a one-time code is required, or in StateAnonymous with an error.
//
// A login started while another is in flight supersedes it. ctx bounds the
// provider calls made for this attempt.
func (m *Manager) LoginAs(ctx context.Context, entry EntryPoint, email, secret string) <-chan Outcome {
	email = strings.TrimSpace(email)
	if email == "" || secret == "" {
		return m.rejectLocal(ctx, ErrEmptyCredentials)
	}
	policy, ok := m.config.EntryPoints[entry]
	if !ok {
		return m.rejectLocal(ctx, fmt.Errorf("%w: %q", ErrUnknownEntryPoint, entry))
	}
	return m.submit(ctx, true, func(c *call) {
		m.beginLogin(c, &attempt{entry: entry, policy: policy, email: email}, secret)
	})
}

func (m *Manager) beginLogin(c *call, a *attempt, secret string) {
	if m.state == StateAuthenticated {
		m.resolve(c, Outcome{Err: ErrAlreadyAuthenticated})
		return
	}

	m.abandonAttempt("superseded")
	m.bumpGen("login")
	m.attempt = a
	m.setState(StateAuthenticating)
	m.track(c)

	m.metricInc(MetricLoginAttempt)
	m.emitAudit(AuditLoginAttempt, a.email, "", true, "", map[string]string{"entry": string(a.entry)})

	gen, genCtx := m.gen, m.genCtx
	m.async(func() func() {
		cctx, cancel := m.callContext(c.ctx, genCtx)
		defer cancel()
		grant, err := m.gw.VerifyCredentials(cctx, a.email, secret)
		return func() { m.finishCredentials(c, gen, a, grant, err) }
	})
}

func (m *Manager) finishCredentials(c *call, gen uint64, a *attempt, grant *gateway.Grant, err error) {
	if !m.current(gen, "verify_credentials") {
		m.rollbackStaleGrant(grant, err)
		return
	}
	if err == nil && grant == nil {
		err = errNoGrant
	}
	if err != nil {
		m.failLogin(c, a, err)
		return
	}
	a.provisional = true

	if !a.policy.roleQualifies(grant.Identity.Role) {
		m.rejectRole(c, a, grant.Identity)
		return
	}
	if a.policy.requiresSecondFactor(grant.Identity.Role) {
		m.sendSecondFactor(c, a)
		return
	}
	m.finalize(c, a, grant)
}

// failLogin settles a login the provider refused or could not complete.
func (m *Manager) failLogin(c *call, a *attempt, err error) {
	mapped := m.providerError(err)
	m.attempt = nil
	m.setState(StateAnonymous)

	m.metricInc(MetricLoginFailure)
	m.emitAudit(AuditLoginFailed, a.email, "", false, providerReason(err), map[string]string{"entry": string(a.entry)})
	m.log.Info("login failed", zap.String("entry", string(a.entry)), zap.Error(err))
	m.resolve(c, Outcome{Err: mapped})
}

// rejectRole enforces the entry point's role. The provider session is
// signed out locally before the caller hears about it.
func (m *Manager) rejectRole(c *call, a *attempt, id session.Identity) {
	m.attempt = nil
	m.setState(StateAnonymous)

	m.metricInc(MetricRoleMismatch)
	m.metricInc(MetricLoginFailure)
	m.emitAudit(AuditRoleMismatch, a.email, id.SubjectID, false, auditReasonRoleMismatch, map[string]string{
		"entry":    string(a.entry),
		"required": a.policy.RequiredRole,
		"actual":   id.Role,
	})
	m.log.Warn("role mismatch, signing out",
		zap.String("entry", string(a.entry)),
		zap.String("required", a.policy.RequiredRole),
		zap.String("actual", id.Role))

	m.async(func() func() {
		m.invalidate(gateway.ScopeLocal, "role_mismatch")
		return func() { m.resolve(c, Outcome{Err: ErrRoleMismatch}) }
	})
}

// sendSecondFactor asks the provider to deliver a code. The challenge opens
// only once delivery succeeded.
func (m *Manager) sendSecondFactor(c *call, a *attempt) {
	gen, genCtx := m.gen, m.genCtx
	m.async(func() func() {
		cctx, cancel := m.callContext(c.ctx, genCtx)
		defer cancel()
		err := m.gw.SendSecondFactor(cctx, a.email)
		return func() { m.finishSecondFactorSend(c, gen, a, err) }
	})
}

func (m *Manager) finishSecondFactorSend(c *call, gen uint64, a *attempt, err error) {
	if !m.current(gen, "send_second_factor") {
		return
	}
	if err != nil {
		m.abandonAttempt("otp_send_failed")
		m.setState(StateAnonymous)
		m.metricInc(MetricLoginFailure)
		m.emitAudit(AuditLoginFailed, a.email, "", false, auditReasonProvider, map[string]string{"entry": string(a.entry)})
		m.resolve(c, Outcome{Err: m.providerError(err)})
		return
	}

	ch := m.otp.Open(a.email)
	m.setState(StateOtpPending)
	m.metricInc(MetricOtpIssued)
	m.emitAudit(AuditOtpIssued, a.email, "", true, "", map[string]string{"challenge": ch.ID()})
	m.signal(SignalOtpIssued, ch.ID())
	m.resolve(c, Outcome{})
}

// finalize persists the grant and enters StateAuthenticated. c settles
// after the profile fetch.
func (m *Manager) finalize(c *call, a *attempt, grant *gateway.Grant) {
	claims, err := m.checkGrant(grant)
	if err != nil {
		m.log.Warn("provider issued an unusable token", zap.Error(err))
		m.abandonAttempt("invalid_grant")
		m.setState(StateAnonymous)
		m.metricInc(MetricLoginFailure)
		m.emitAudit(AuditLoginFailed, a.email, grant.Identity.SubjectID, false, auditReasonInvalidToken, nil)
		m.resolve(c, Outcome{Err: fmt.Errorf("%w: %w", ErrProvider, err)})
		return
	}

	ctx, cancel := m.storeContext()
	err = m.store.Set(ctx, grant.Token)
	cancel()
	if err != nil {
		m.log.Warn("persist credential", zap.Error(err))
		m.abandonAttempt("store_failed")
		m.setState(StateAnonymous)
		m.metricInc(MetricLoginFailure)
		m.resolve(c, Outcome{Err: fmt.Errorf("persist credential: %w", err)})
		return
	}

	id := grant.Identity
	if id.Email == "" {
		id.Email = claims.Email
	}
	m.sess = &session.Session{Token: grant.Token, Claims: claims, Identity: id}
	m.attempt = nil
	m.setState(StateAuthenticated)

	m.metricInc(MetricLoginSuccess)
	m.emitAudit(AuditLoginSuccessful, a.email, id.SubjectID, true, "", map[string]string{
		"entry": string(a.entry),
		"role":  id.Role,
	})
	m.fetchProfile(c, false)
}

// checkGrant decodes the grant's token and requires its claims to name the
// same identity the provider reported.
func (m *Manager) checkGrant(grant *gateway.Grant) (token.Claims, error) {
	if grant == nil {
		return token.Claims{}, errNoGrant
	}
	claims, err := token.Validate(m.codec, grant.Token, m.clock.Now())
	if err != nil {
		return token.Claims{}, err
	}
	if claims.SubjectID != grant.Identity.SubjectID || claims.Role != grant.Identity.Role {
		return token.Claims{}, fmt.Errorf("%w: claims do not match the granted identity", token.ErrMalformed)
	}
	return claims, nil
}

// abandonAttempt drops the login in progress. When the provider already
// holds a provisional session for it, that session is rolled back in the
// background.
func (m *Manager) abandonAttempt(reason string) {
	discarded := m.otp.Discard()
	a := m.attempt
	m.attempt = nil
	if discarded || (a != nil && a.provisional) {
		m.async(func() func() {
			m.invalidate(gateway.ScopeLocal, reason)
			return nil
		})
	}
}

// rollbackStaleGrant ends a provider session created for an attempt that
// was cancelled while the provider call ran. It does nothing once another
// attempt or a session owns the provider side.
func (m *Manager) rollbackStaleGrant(grant *gateway.Grant, err error) {
	if err != nil || grant == nil || m.state != StateAnonymous || m.attempt != nil {
		return
	}
	m.async(func() func() {
		m.invalidate(gateway.ScopeLocal, "stale_grant")
		return nil
	})
}

// invalidate asks the provider to end a session. It is best effort and runs
// outside any generation.
func (m *Manager) invalidate(scope gateway.Scope, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.Gateway.CallTimeout)
	defer cancel()
	if err := m.gw.InvalidateSession(ctx, scope); err != nil {
		m.metricInc(MetricProviderError)
		m.emitAudit(AuditProviderRollbackFail, "", "", false, reason, map[string]string{"scope": scope.String()})
		m.log.Warn("provider invalidation failed",
			zap.Stringer("scope", scope), zap.String("reason", reason), zap.Error(err))
	}
}

// providerError maps a gateway failure onto the public taxonomy.
func (m *Manager) providerError(err error) error {
	switch {
	case errors.Is(err, gateway.ErrRejected):
		return ErrInvalidCredentials
	case errors.Is(err, gateway.ErrCodeRejected):
		return ErrOtpMismatch
	}
	m.metricInc(MetricProviderError)
	return fmt.Errorf("%w: %w", ErrProvider, err)
}
