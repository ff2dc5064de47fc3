package goSession

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/gateway/memory"
)

func TestLoginPatientAuthenticates(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	out := h.login(t, EntryPatient, patientEmail)
	if out.Err != nil {
		t.Fatalf("Login failed: %v", out.Err)
	}
	if out.State != StateAuthenticated || !h.m.IsAuthenticated() {
		t.Fatalf("state = %s", out.State)
	}
	if out.Session == nil || out.Session.Identity.SubjectID != "user-patient-1" {
		t.Fatalf("session = %+v", out.Session)
	}
	if out.Session.Profile == nil || out.Session.Profile.HealthID != "HID-0001" {
		t.Fatalf("profile = %+v", out.Session.Profile)
	}
	if !out.Session.IsPatient() {
		t.Fatal("expected patient session")
	}

	claims, ok := h.storedClaims(t)
	if !ok {
		t.Fatal("token not persisted")
	}
	if claims.Role != "patient" || claims.SubjectID != "user-patient-1" {
		t.Fatalf("stored claims = %+v", claims)
	}

	events := drainAudit(h.audit)
	if !hasCategory(events, AuditLoginAttempt) || !hasCategory(events, AuditLoginSuccessful) {
		t.Fatalf("missing login audit events: %+v", events)
	}
	if got := h.m.MetricsSnapshot().Counters[MetricLoginSuccess]; got != 1 {
		t.Fatalf("login success metric = %d", got)
	}
}

func TestLoginRejectsEmptyCredentials(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	out := await(t, h.m.Login(context.Background(), "  ", demoPassword))
	if !errors.Is(out.Err, ErrEmptyCredentials) {
		t.Fatalf("expected ErrEmptyCredentials, got %v", out.Err)
	}
	out = await(t, h.m.Login(context.Background(), patientEmail, ""))
	if !errors.Is(out.Err, ErrEmptyCredentials) {
		t.Fatalf("expected ErrEmptyCredentials, got %v", out.Err)
	}
	if out.State != StateAnonymous {
		t.Fatalf("state = %s", out.State)
	}
	if got := h.m.MetricsSnapshot().Counters[MetricLoginAttempt]; got != 0 {
		t.Fatalf("local rejection reached the provider path: %d attempts", got)
	}
}

func TestLoginUnknownEntryPoint(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	out := await(t, h.m.LoginAs(context.Background(), EntryPoint("admin"), patientEmail, demoPassword))
	if !errors.Is(out.Err, ErrUnknownEntryPoint) {
		t.Fatalf("expected ErrUnknownEntryPoint, got %v", out.Err)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	out := await(t, h.m.Login(context.Background(), patientEmail, "wrong"))
	if !errors.Is(out.Err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", out.Err)
	}
	if ErrorKind(out.Err) != KindReenter {
		t.Fatalf("kind = %s", ErrorKind(out.Err))
	}
	if out.State != StateAnonymous {
		t.Fatalf("state = %s", out.State)
	}
	if _, ok := h.storedClaims(t); ok {
		t.Fatal("token stored after rejection")
	}

	events := drainAudit(h.audit)
	var failed *AuditEvent
	for i := range events {
		if events[i].Category == AuditLoginFailed {
			failed = &events[i]
		}
	}
	if failed == nil || failed.Target != patientEmail || failed.Reason != "invalid_credentials" {
		t.Fatalf("login_failed event = %+v", failed)
	}
}

func TestLoginProviderUnavailable(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.gw.FailNext("VerifyCredentials", errors.New("connection refused"))

	out := await(t, h.m.Login(context.Background(), patientEmail, demoPassword))
	if !errors.Is(out.Err, ErrProvider) || !errors.Is(out.Err, gateway.ErrUnavailable) {
		t.Fatalf("expected provider error, got %v", out.Err)
	}
	if ErrorKind(out.Err) != KindRetry {
		t.Fatalf("kind = %s", ErrorKind(out.Err))
	}
	if out.State != StateAnonymous {
		t.Fatalf("state = %s", out.State)
	}
}

func TestLoginWhileAuthenticated(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.login(t, EntryPatient, patientEmail)

	out := await(t, h.m.Login(context.Background(), hospitalEmail, demoPassword))
	if !errors.Is(out.Err, ErrAlreadyAuthenticated) {
		t.Fatalf("expected ErrAlreadyAuthenticated, got %v", out.Err)
	}
	if s := h.m.CurrentSession(); s == nil || s.Identity.SubjectID != "user-patient-1" {
		t.Fatalf("session changed: %+v", s)
	}
}

func TestRoleMismatchSignsOutLocally(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	out := h.login(t, EntryInstitutional, patientEmail)
	if !errors.Is(out.Err, ErrRoleMismatch) {
		t.Fatalf("expected ErrRoleMismatch, got %v", out.Err)
	}
	if out.State != StateAnonymous || h.m.State() != StateAnonymous {
		t.Fatalf("state = %s", out.State)
	}

	scopes := h.gw.Invalidations()
	if len(scopes) != 1 || scopes[0] != gateway.ScopeLocal {
		t.Fatalf("invalidations = %v, want [local]", scopes)
	}
	if h.gw.ActiveSessions(patientEmail) != 0 {
		t.Fatal("provider session left active")
	}
	if _, ok := h.storedClaims(t); ok {
		t.Fatal("token stored after role mismatch")
	}
	if h.gw.CodesSent(patientEmail) != 0 {
		t.Fatal("code sent before role check")
	}
	if !hasCategory(drainAudit(h.audit), AuditRoleMismatch) {
		t.Fatal("missing role_mismatch audit event")
	}
}

func TestSupersededLoginIsDropped(t *testing.T) {
	var held *heldGateway
	h := newHarness(t, harnessOptions{
		gateway: func(mem *memory.Gateway) gateway.Gateway {
			held = newHeldGateway(mem, false)
			return held
		},
	})
	release := held.hold(patientEmail)

	first := h.m.Login(context.Background(), patientEmail, demoPassword)
	held.waitEntered(t)

	if out := await(t, h.m.CancelOtp(context.Background())); out.Err != nil {
		t.Fatalf("CancelOtp failed: %v", out.Err)
	}
	if out := await(t, first); !errors.Is(out.Err, ErrSuperseded) {
		t.Fatalf("first login = %v, want ErrSuperseded", out.Err)
	}

	second := h.login(t, EntryPatient, hospitalEmail)
	if second.Err != nil || second.State != StateAuthenticated {
		t.Fatalf("second login = %v / %s", second.Err, second.State)
	}

	close(release)
	waitIdle(t, h.m)

	s := h.m.CurrentSession()
	if s == nil || s.Identity.SubjectID != "user-hospital-1" {
		t.Fatalf("late completion overwrote the session: %+v", s)
	}
	claims, _ := h.storedClaims(t)
	if claims.SubjectID != "user-hospital-1" {
		t.Fatalf("stored token belongs to %q", claims.SubjectID)
	}
	if got := h.m.MetricsSnapshot().Counters[MetricStaleCompletionDropped]; got == 0 {
		t.Fatal("stale completion was not counted")
	}
}

func TestNewLoginSupersedesInFlightLogin(t *testing.T) {
	var held *heldGateway
	h := newHarness(t, harnessOptions{
		gateway: func(mem *memory.Gateway) gateway.Gateway {
			held = newHeldGateway(mem, false)
			return held
		},
	})
	release := held.hold(patientEmail)

	first := h.m.Login(context.Background(), patientEmail, demoPassword)
	held.waitEntered(t)

	second := h.m.Login(context.Background(), hospitalEmail, demoPassword)
	if out := await(t, first); !errors.Is(out.Err, ErrSuperseded) {
		t.Fatalf("first login = %v, want ErrSuperseded", out.Err)
	}
	if out := await(t, second); out.Err != nil || out.Session.Identity.Role != "hospital" {
		t.Fatalf("second login = %+v", out)
	}

	close(release)
	waitIdle(t, h.m)
	if s := h.m.CurrentSession(); s.Identity.Role != "hospital" {
		t.Fatalf("role = %s", s.Identity.Role)
	}
}

func TestProfileFetchFailureKeepsSession(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.gw.FailNext("FetchProfile", errors.New("timeout"))

	out := h.login(t, EntryPatient, patientEmail)
	if out.Err != nil {
		t.Fatalf("Login failed: %v", out.Err)
	}
	if !errors.Is(out.ProfileErr, ErrProvider) {
		t.Fatalf("ProfileErr = %v", out.ProfileErr)
	}
	if out.State != StateAuthenticated || out.Session.Profile != nil {
		t.Fatalf("outcome = %s profile=%+v", out.State, out.Session.Profile)
	}
	if !hasCategory(drainAudit(h.audit), AuditProfileFetchFailure) {
		t.Fatal("missing profile_fetch_failure audit event")
	}
}

func TestRefreshProfile(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	if out := await(t, h.m.RefreshProfile(context.Background())); !errors.Is(out.Err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", out.Err)
	}

	h.login(t, EntryPatient, patientEmail)
	out := await(t, h.m.RefreshProfile(context.Background()))
	if out.Err != nil || out.Session.Profile == nil {
		t.Fatalf("RefreshProfile = %+v", out)
	}

	h.gw.FailNext("FetchProfile", errors.New("boom"))
	out = await(t, h.m.RefreshProfile(context.Background()))
	if !errors.Is(out.Err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", out.Err)
	}
	if out.Session.Profile == nil || out.Session.Profile.HealthID != "HID-0001" {
		t.Fatal("previous profile was not kept")
	}
}

func TestSecondFactorByRolePolicy(t *testing.T) {
	h := newHarness(t, harnessOptions{
		config: func(c *Config) {
			c.EntryPoints[EntryPatient] = EntryPolicy{
				SecondFactor:      SecondFactorByRole,
				SecondFactorRoles: []string{"hospital"},
			}
		},
	})

	out := h.login(t, EntryPatient, hospitalEmail)
	if out.State != StateOtpPending {
		t.Fatalf("hospital state = %s, want otp_pending", out.State)
	}
	await(t, h.m.CancelOtp(context.Background()))
	waitIdle(t, h.m)

	out = h.login(t, EntryPatient, patientEmail)
	if out.State != StateAuthenticated {
		t.Fatalf("patient state = %s, want authenticated", out.State)
	}
}

func TestCurrentSessionIsCopy(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.login(t, EntryPatient, patientEmail)

	s := h.m.CurrentSession()
	s.Identity.Role = "hospital"
	s.Profile.HealthID = "changed"

	again := h.m.CurrentSession()
	if again.Identity.Role != "patient" || again.Profile.HealthID != "HID-0001" {
		t.Fatalf("caller mutation leaked: %+v", again)
	}
}

func TestLoginLatencyObserved(t *testing.T) {
	h := newHarness(t, harnessOptions{
		config: func(c *Config) {
			c.Metrics.EnableLatencyHistograms = true
		},
	})
	h.login(t, EntryPatient, patientEmail)

	var total uint64
	for _, v := range h.m.MetricsSnapshot().Histograms[MetricLoginLatency] {
		total += v
	}
	if total != 1 {
		t.Fatalf("latency observations = %d", total)
	}
}
