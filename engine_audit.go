package goSession

import (
	"context"
	"errors"

	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/internal/audit"
)

const (
	AuditLoginAttempt         AuditCategory = "login_attempt"
	AuditLoginFailed          AuditCategory = "login_failed"
	AuditLoginSuccessful      AuditCategory = "login_successful"
	AuditRoleMismatch         AuditCategory = "role_mismatch"
	AuditOtpIssued            AuditCategory = "otp_issued"
	AuditOtpResent            AuditCategory = "otp_resent"
	AuditOtpVerified          AuditCategory = "otp_verified"
	AuditOtpFailure           AuditCategory = "otp_failure"
	AuditOtpCancelled         AuditCategory = "otp_cancelled"
	AuditLogout               AuditCategory = "logout"
	AuditSessionExpired       AuditCategory = "session_expired"
	AuditPushApplied          AuditCategory = "push_applied"
	AuditPushDropped          AuditCategory = "push_dropped"
	AuditProfileFetchFailure  AuditCategory = "profile_fetch_failure"
	AuditProviderRollbackFail AuditCategory = "provider_rollback_failed"
)

// Reason codes carried in AuditEvent.Reason.
const (
	auditReasonInvalidCredentials = "invalid_credentials"
	auditReasonProvider           = "provider_error"
	auditReasonRoleMismatch       = "role_mismatch"
	auditReasonOtpMismatch        = "otp_mismatch"
	auditReasonOtpAttempts        = "attempts_exceeded"
	auditReasonStaleSequence      = "stale_sequence"
	auditReasonInvalidToken       = "invalid_token"
	auditReasonNotApplicable      = "not_applicable"
)

func (m *Manager) emitAudit(category AuditCategory, target, subject string, success bool, reason string, metadata map[string]string) {
	if m == nil || m.audit == nil {
		return
	}
	m.audit.Emit(context.Background(), audit.Event{
		Category:  category,
		Target:    target,
		SubjectID: subject,
		Success:   success,
		Reason:    reason,
		Metadata:  metadata,
	})
}

// providerReason turns a gateway error into an audit reason code.
func providerReason(err error) string {
	switch {
	case errors.Is(err, gateway.ErrRejected):
		return auditReasonInvalidCredentials
	case errors.Is(err, gateway.ErrCodeRejected):
		return auditReasonOtpMismatch
	}
	return auditReasonProvider
}
