package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

const prefix = "gosession_"

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	counter(goSession.MetricLoginAttempt, "Login attempts submitted."),
	counter(goSession.MetricLoginSuccess, "Logins that reached the authenticated state."),
	counter(goSession.MetricLoginFailure, "Logins that ended without a session."),
	counter(goSession.MetricRoleMismatch, "Logins rejected because the role did not fit the entry point."),
	counter(goSession.MetricOtpIssued, "One-time code challenges opened."),
	counter(goSession.MetricOtpResent, "One-time code resends."),
	counter(goSession.MetricOtpVerified, "One-time codes accepted by the provider."),
	counter(goSession.MetricOtpFailure, "One-time codes rejected by the provider."),
	counter(goSession.MetricOtpCancelled, "One-time code challenges cancelled."),
	counter(goSession.MetricLogout, "Logouts from a non-anonymous state."),
	counter(goSession.MetricSessionExpired, "Sessions ended by the expiry watchdog."),
	counter(goSession.MetricSessionRestored, "Sessions restored from the credential store at start."),
	counter(goSession.MetricSessionAdopted, "Sessions adopted from another context sharing the store."),
	counter(goSession.MetricPushApplied, "Provider push events applied."),
	counter(goSession.MetricPushDropped, "Provider push events dropped as stale or inapplicable."),
	counter(goSession.MetricStaleCompletionDropped, "Provider completions discarded after being superseded."),
	counter(goSession.MetricWatchdogTick, "Watchdog reports received."),
	counter(goSession.MetricWatchdogVerdictDropped, "Watchdog reports overtaken by a newer state."),
	counter(goSession.MetricProfileFetchFailure, "Profile fetches that failed."),
	counter(goSession.MetricProviderError, "Provider calls that failed for reasons other than rejection."),
}

// HistogramDefs lists every histogram in export order.
var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricLoginLatency, Name: prefix + "login_latency_seconds", Help: "Time from login request to settled outcome."},
}

// HistogramBounds are the upper bounds of the latency buckets in seconds.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in a form usable inside metric names.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = prefix + "audit_dropped_total"

func counter(id goSession.MetricID, help string) CounterDef {
	return CounterDef{ID: id, Name: prefix + id.String() + "_total", Help: help}
}

// NormalizeBuckets copies raw into a fixed array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
