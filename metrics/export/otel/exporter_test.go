package otel

import (
	"context"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	goSession "github.com/MrEthical07/goSession"
)

type fakeSource struct {
	mu       sync.RWMutex
	counters map[goSession.MetricID]uint64
	latency  []uint64
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() goSession.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goSession.MetricsSnapshot{
		Counters:   make(map[goSession.MetricID]uint64, len(f.counters)),
		Histograms: map[goSession.MetricID][]uint64{},
	}
	for k, v := range f.counters {
		out.Counters[k] = v
	}
	if f.latency != nil {
		out.Histograms[goSession.MetricLoginLatency] = append([]uint64(nil), f.latency...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findSum(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) != 1 {
				t.Fatalf("%s: unexpected data %T", name, m.Data)
			}
			return sum.DataPoints[0].Value
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}

func TestExporterCollects(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{
		counters: map[goSession.MetricID]uint64{goSession.MetricLoginSuccess: 3},
		latency:  []uint64{1, 1, 1, 1, 1, 1, 1, 1},
		dropped:  1,
	}

	exp, err := NewExporterFromSource(provider.Meter("gosession-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if got := findSum(t, rm, "gosession_login_success_total"); got != 3 {
		t.Fatalf("login_success = %d", got)
	}
	if got := findSum(t, rm, "gosession_audit_dropped_total"); got != 1 {
		t.Fatalf("audit_dropped = %d", got)
	}
}

func TestExporterRejectsNil(t *testing.T) {
	_, provider := newMeter()
	if _, err := NewExporterFromSource(provider.Meter("gosession-test"), nil); err != ErrNilSource {
		t.Fatalf("nil source = %v", err)
	}
	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("nil meter = %v", err)
	}
	if _, err := NewExporter(provider.Meter("gosession-test"), nil); err != ErrNilSource {
		t.Fatalf("nil manager = %v", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{counters: map[goSession.MetricID]uint64{goSession.MetricLoginSuccess: 1}}

	exp, err := NewExporterFromSource(provider.Meter("gosession-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.counters[goSession.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
