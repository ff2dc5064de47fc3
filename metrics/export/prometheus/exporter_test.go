package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/gateway/memory"
)

type fakeSource struct {
	snapshot goSession.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goSession.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters:   map[goSession.MetricID]uint64{},
			Histograms: map[goSession.MetricID][]uint64{},
		},
	})
	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output, got:\n%s", got)
	}
}

func TestRenderCountersAndHistogram(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters: map[goSession.MetricID]uint64{
				goSession.MetricLoginSuccess:   7,
				goSession.MetricSessionExpired: 2,
			},
			Histograms: map[goSession.MetricID][]uint64{
				goSession.MetricLoginLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"gosession_login_success_total 7",
		"gosession_session_expired_total 2",
		"gosession_login_latency_seconds_bucket{le=\"0.05\"} 1",
		"gosession_login_latency_seconds_bucket{le=\"+Inf\"} 36",
		"gosession_login_latency_seconds_count 36",
		"gosession_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestRenderOmitsDisabledHistogram(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters:   map[goSession.MetricID]uint64{goSession.MetricLogout: 1},
			Histograms: map[goSession.MetricID][]uint64{},
		},
	})
	if out := exp.Render(); strings.Contains(out, "login_latency") {
		t.Fatalf("histogram rendered without samples:\n%s", out)
	}
}

func TestHandlerFromManager(t *testing.T) {
	m, err := goSession.New().
		WithGateway(memory.New(memory.Config{})).
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Close()

	select {
	case out := <-m.Login(context.Background(), "patient@example.com", "wrong"):
		if out.Err == nil {
			t.Fatal("expected login failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("login did not settle")
	}

	rec := httptest.NewRecorder()
	NewExporter(m).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("content type %q", got)
	}
	if !strings.Contains(rec.Body.String(), "gosession_login_failure_total 1") {
		t.Fatalf("login failure not exported:\n%s", rec.Body.String())
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters: map[goSession.MetricID]uint64{
				goSession.MetricLoginSuccess: 1000,
				goSession.MetricLoginFailure: 40,
				goSession.MetricOtpVerified:  300,
				goSession.MetricPushApplied:  12,
			},
			Histograms: map[goSession.MetricID][]uint64{
				goSession.MetricLoginLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
