package goSession

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/internal/otp"
)

// SubmitOtp verifies code for the open challenge. A code of the wrong
// length is rejected with [ErrOtpInvalidLength] before any provider call
// and leaves the state unchanged.
func (m *Manager) SubmitOtp(ctx context.Context, code string) <-chan Outcome {
	return m.submit(ctx, false, func(c *call) { m.beginSubmitOtp(c, code) })
}

func (m *Manager) beginSubmitOtp(c *call, code string) {
	ch := m.otp.Current()
	a := m.attempt
	if m.state != StateOtpPending || ch == nil || a == nil {
		m.resolve(c, Outcome{Err: ErrNoChallenge})
		return
	}
	if err := ch.CheckCode(code); err != nil {
		if errors.Is(err, otp.ErrInvalidLength) {
			m.resolve(c, Outcome{Err: ErrOtpInvalidLength})
			return
		}
		m.resolve(c, Outcome{Err: ErrNoChallenge})
		return
	}
	if m.submitting {
		m.resolve(c, Outcome{Err: ErrBusy})
		return
	}

	m.submitting = true
	m.track(c)
	gen, genCtx := m.gen, m.genCtx
	m.async(func() func() {
		cctx, cancel := m.callContext(c.ctx, genCtx)
		defer cancel()
		grant, err := m.gw.VerifySecondFactor(cctx, a.email, code)
		return func() { m.finishSubmitOtp(c, gen, a, ch, grant, err) }
	})
}

func (m *Manager) finishSubmitOtp(c *call, gen uint64, a *attempt, ch *otp.Challenge, grant *gateway.Grant, err error) {
	if !m.current(gen, "verify_second_factor") {
		m.rollbackStaleGrant(grant, err)
		return
	}
	m.submitting = false
	if err == nil && grant == nil {
		err = errNoGrant
	}

	if err != nil {
		if !errors.Is(err, gateway.ErrCodeRejected) {
			// Provider trouble does not count against the user.
			m.log.Info("second factor verification unavailable", zap.Error(err))
			m.resolve(c, Outcome{Err: m.providerError(err)})
			return
		}

		attempts, aerr := ch.RecordFailure()
		m.metricInc(MetricOtpFailure)
		if errors.Is(aerr, otp.ErrAttempts) {
			m.emitAudit(AuditOtpFailure, a.email, "", false, auditReasonOtpAttempts, map[string]string{
				"challenge": ch.ID(),
				"attempts":  strconv.Itoa(attempts),
			})
			m.otp.Release(ch)
			m.abandonAttempt("otp_attempts_exceeded")
			m.setState(StateAnonymous)
			m.metricInc(MetricLoginFailure)
			m.resolve(c, Outcome{Err: ErrOtpAttemptsExceeded})
			return
		}
		m.emitAudit(AuditOtpFailure, a.email, "", false, auditReasonOtpMismatch, map[string]string{
			"challenge": ch.ID(),
			"attempts":  strconv.Itoa(attempts),
		})
		m.resolve(c, Outcome{Err: ErrOtpMismatch})
		return
	}

	if err := ch.MarkVerified(); err != nil {
		m.resolve(c, Outcome{Err: ErrNoChallenge})
		return
	}
	m.otp.Release(ch)
	m.metricInc(MetricOtpVerified)
	m.emitAudit(AuditOtpVerified, a.email, grant.Identity.SubjectID, true, "", map[string]string{"challenge": ch.ID()})

	if !a.policy.roleQualifies(grant.Identity.Role) {
		m.rejectRole(c, a, grant.Identity)
		return
	}
	m.finalize(c, a, grant)
}

// ResendOtp requests a fresh code. It fails with [ErrResendCooldown] while
// the countdown runs. The countdown restarts only once the provider has
// delivered the new code, so a failed send can be retried at once.
func (m *Manager) ResendOtp(ctx context.Context) <-chan Outcome {
	return m.submit(ctx, false, m.beginResend)
}

func (m *Manager) beginResend(c *call) {
	ch := m.otp.Current()
	a := m.attempt
	if m.state != StateOtpPending || ch == nil || a == nil {
		m.resolve(c, Outcome{Err: ErrNoChallenge})
		return
	}
	if err := ch.BeginResend(); err != nil {
		switch {
		case errors.Is(err, otp.ErrCooldown):
			err = ErrResendCooldown
		case errors.Is(err, otp.ErrResendBusy):
			err = ErrBusy
		default:
			err = ErrNoChallenge
		}
		m.resolve(c, Outcome{Err: err})
		return
	}

	m.track(c)
	gen, genCtx := m.gen, m.genCtx
	m.async(func() func() {
		// The limiter may be shared through Redis; it is consulted here so
		// the loop never waits on it.
		if !ch.AllowResend() {
			return func() { m.finishResend(c, gen, a, ch, otp.ErrRateLimited) }
		}
		cctx, cancel := m.callContext(c.ctx, genCtx)
		defer cancel()
		err := m.gw.SendSecondFactor(cctx, a.email)
		return func() { m.finishResend(c, gen, a, ch, err) }
	})
}

func (m *Manager) finishResend(c *call, gen uint64, a *attempt, ch *otp.Challenge, err error) {
	if !m.current(gen, "resend_second_factor") {
		_ = ch.CompleteResend(false)
		return
	}
	if m.otp.Lookup(ch.ID()) != ch {
		_ = ch.CompleteResend(false)
		m.resolve(c, Outcome{Err: ErrNoChallenge})
		return
	}
	if err != nil {
		_ = ch.CompleteResend(false)
		if errors.Is(err, otp.ErrRateLimited) {
			m.resolve(c, Outcome{Err: ErrResendRateLimited})
			return
		}
		m.log.Info("second factor resend failed", zap.Error(err))
		m.resolve(c, Outcome{Err: m.providerError(err)})
		return
	}
	if err := ch.CompleteResend(true); err != nil {
		m.resolve(c, Outcome{Err: ErrNoChallenge})
		return
	}

	snap := ch.Snapshot()
	m.metricInc(MetricOtpResent)
	m.emitAudit(AuditOtpResent, a.email, "", true, "", map[string]string{
		"challenge": snap.ID,
		"resends":   strconv.Itoa(snap.Resends),
	})
	m.resolve(c, Outcome{})
}

// CancelOtp abandons the sign-in in progress. Local state is cleared at
// once; the provider rollback runs in the background. Cancelling with no
// challenge open is a no-op.
func (m *Manager) CancelOtp(ctx context.Context) <-chan Outcome {
	return m.submit(ctx, false, m.beginCancelOtp)
}

func (m *Manager) beginCancelOtp(c *call) {
	if m.state != StateOtpPending && m.state != StateAuthenticating {
		m.resolve(c, Outcome{})
		return
	}
	m.bumpGen("otp_cancel")
	m.abandonAttempt("otp_cancelled")
	m.setState(StateAnonymous)
	m.resolve(c, Outcome{})
}

// onChallengeCancelled runs once per cancelled challenge.
func (m *Manager) onChallengeCancelled(s otp.Snapshot) {
	m.metricInc(MetricOtpCancelled)
	m.emitAudit(AuditOtpCancelled, s.Email, "", true, "", map[string]string{
		"challenge": s.ID,
		"attempts":  strconv.Itoa(s.Attempts),
	})
}

func (m *Manager) onResendAvailable(id string) {
	m.signal(SignalOtpResendAvailable, id)
}
