package goSession

import (
	"io"
	"time"

	"go.uber.org/zap"

	internalaudit "github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/otp"
	"github.com/MrEthical07/goSession/internal/schedule"
	"github.com/MrEthical07/goSession/session"
)

// State is the authentication state of a [Manager].
type State uint8

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateOtpPending
	StateAuthenticated
	// StateExpired is transient. It is observable only between an expiry
	// verdict and the normalization back to StateAnonymous.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateOtpPending:
		return "otp_pending"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// Outcome is the settled result of a consumer operation.
type Outcome struct {
	// State is the manager state when the operation settled.
	State State
	// Session is a copy of the session at settlement, or nil.
	Session *session.Session
	Err     error
	// ProfileErr reports a failed profile fetch after a successful sign-in.
	// The session stays authenticated without a profile.
	ProfileErr error
}

// SignalKind names an unsolicited notification for the UI layer.
type SignalKind uint8

const (
	// SignalSessionExpired fires once per expiry. It maps to a neutral
	// "please sign in again" prompt.
	SignalSessionExpired SignalKind = iota + 1
	SignalSignedOut
	SignalOtpIssued
	SignalOtpResendAvailable
)

func (k SignalKind) String() string {
	switch k {
	case SignalSessionExpired:
		return "session_expired"
	case SignalSignedOut:
		return "signed_out"
	case SignalOtpIssued:
		return "otp_issued"
	case SignalOtpResendAvailable:
		return "otp_resend_available"
	}
	return "unknown"
}

// Signal is delivered on [Manager.Signals]. ChallengeID is set for OTP
// signals.
type Signal struct {
	Kind        SignalKind
	ChallengeID string
	At          time.Time
}

// OtpStatus is a point-in-time view of the open one-time-code challenge.
type OtpStatus = otp.Snapshot

// OtpChallengeStatus is the lifecycle state inside [OtpStatus].
type OtpChallengeStatus = otp.Status

const (
	OtpPending   = otp.StatusPending
	OtpVerified  = otp.StatusVerified
	OtpFailed    = otp.StatusFailed
	OtpCancelled = otp.StatusCancelled
)

// Scheduler drives the watchdog and OTP countdowns. Tests substitute a
// virtual clock.
type Scheduler = schedule.Scheduler

// ResendLimiter gates one-time code resends beyond the fixed cooldown. Allow
// is called off the state loop and must be safe for concurrent use.
type ResendLimiter = otp.ResendLimiter

// AuditEvent is a structured audit record emitted by the manager.
type AuditEvent = internalaudit.Event

// AuditCategory names the kind of an [AuditEvent].
type AuditCategory = internalaudit.Category

// AuditSink receives [AuditEvent] values from the manager's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// ZapSink is an [AuditSink] that logs events through zap.
type ZapSink = internalaudit.ZapSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewZapSink creates a [ZapSink] logging under the "audit" name.
func NewZapSink(log *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(log)
}
