package otel

import (
	"context"
	"sync"
	"testing"

	farmauth "github.com/MrEthical07/farmauth"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot farmauth.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() farmauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := farmauth.MetricsSnapshot{
		Counters:   make(map[farmauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[farmauth.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("farmauth-test")

	src := &fakeSource{
		snapshot: farmauth.MetricsSnapshot{
			Counters: map[farmauth.MetricID]uint64{
				farmauth.MetricSessionEstablished: 3,
			},
			Histograms: map[farmauth.MetricID][]uint64{
				farmauth.MetricBackendLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
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
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}

	if got := sumPoint(t, rm, "farmauth.session.changes", "change", "established"); got != 3 {
		t.Fatalf("expected established=3, got %d", got)
	}
	if got := sumPoint(t, rm, "farmauth.guard.decisions", "decision", "denied"); got != 0 {
		t.Fatalf("expected denied=0, got %d", got)
	}
	if got := sumPoint(t, rm, "farmauth.store.failures", "", ""); got != 0 {
		t.Fatalf("expected store failures=0, got %d", got)
	}
	if got := sumPoint(t, rm, "farmauth.audit.dropped", "", ""); got != 1 {
		t.Fatalf("expected audit dropped=1, got %d", got)
	}
	if got := gaugePoint(t, rm, "farmauth.backend.latency.count", "", ""); got != 8 {
		t.Fatalf("expected latency count=8, got %d", got)
	}
	if got := gaugePoint(t, rm, "farmauth.backend.latency.buckets", "le", "0.25"); got != 3 {
		t.Fatalf("expected cumulative 0.25s bucket=3, got %d", got)
	}
	if got := gaugePoint(t, rm, "farmauth.backend.latency.buckets", "le", "+Inf"); got != 8 {
		t.Fatalf("expected +Inf bucket=8, got %d", got)
	}
}

func TestExporterSkipsAbsentHistogram(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("farmauth-test")

	src := &fakeSource{snapshot: farmauth.MetricsSnapshot{
		Counters: map[farmauth.MetricID]uint64{farmauth.MetricGuardDenied: 2},
	}}
	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if got := sumPoint(t, rm, "farmauth.guard.decisions", "decision", "denied"); got != 2 {
		t.Fatalf("expected denied=2, got %d", got)
	}
	if hasMetric(rm, "farmauth.backend.latency.buckets") {
		t.Fatal("latency must not be observed when histograms are disabled")
	}
}

func hasMetric(rm metricdata.ResourceMetrics, name string) bool {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return true
			}
		}
	}
	return false
}

func findMetric(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %s not collected", name)
	return metricdata.Metrics{}
}

// matches reports whether attrs carry key=value; an empty key wants no attributes.
func matches(attrs attribute.Set, key, value string) bool {
	if key == "" {
		return attrs.Len() == 0
	}
	v, ok := attrs.Value(attribute.Key(key))
	return ok && v.AsString() == value
}

func sumPoint(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	sum, ok := findMetric(t, rm, name).Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if matches(dp.Attributes, key, value) {
			return dp.Value
		}
	}
	t.Fatalf("metric %s has no point %s=%s", name, key, value)
	return 0
}

func gaugePoint(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	g, ok := findMetric(t, rm, name).Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("metric %s is not an int64 gauge", name)
	}
	for _, dp := range g.DataPoints {
		if matches(dp.Attributes, key, value) {
			return dp.Value
		}
	}
	t.Fatalf("metric %s has no point %s=%s", name, key, value)
	return 0
}

func TestExporterReadsLiveEngine(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("farmauth-test")

	engine, err := farmauth.New().Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	exp, err := NewOTelExporter(meter, engine)
	if err != nil {
		t.Fatalf("NewOTelExporter failed: %v", err)
	}
	defer exp.Close()

	if err := engine.Establish(context.Background(), farmauth.IdentityAssertion{
		SubjectEmail: "grower@farm.test",
		OpaqueToken:  "tok-1",
		Provider:     farmauth.ProviderFederated,
	}); err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
	if err := engine.Terminate(context.Background()); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if got := sumPoint(t, rm, "farmauth.session.changes", "change", "established"); got != 1 {
		t.Fatalf("expected established=1, got %d", got)
	}
	if got := sumPoint(t, rm, "farmauth.session.changes", "change", "terminated"); got != 1 {
		t.Fatalf("expected terminated=1, got %d", got)
	}
}

func TestExporterRejectsNilMeter(t *testing.T) {
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("farmauth-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("farmauth-test")

	src := &fakeSource{
		snapshot: farmauth.MetricsSnapshot{
			Counters: map[farmauth.MetricID]uint64{
				farmauth.MetricSessionEstablished: 1,
			},
			Histograms: map[farmauth.MetricID][]uint64{
				farmauth.MetricBackendLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[farmauth.MetricSessionEstablished] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
