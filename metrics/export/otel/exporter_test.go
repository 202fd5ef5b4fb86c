package otel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type stubSource struct {
	mu       sync.Mutex
	counters map[authcore.MetricID]uint64
	latency  []uint64
	dropped  uint64
}

func (s *stubSource) MetricsSnapshot() authcore.MetricsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := authcore.MetricsSnapshot{
		Counters:   make(map[authcore.MetricID]uint64, len(s.counters)),
		Histograms: make(map[authcore.MetricID][]uint64),
	}
	for id, v := range s.counters {
		snap.Counters[id] = v
	}
	if s.latency != nil {
		snap.Histograms[authcore.MetricValidateLatency] = append([]uint64(nil), s.latency...)
	}
	return snap
}

func (s *stubSource) AuditDropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func newExporter(t *testing.T, src Source) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	x, err := New(provider.Meter("github.com/MrEthical07/authcore"), src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		if err := x.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return reader
}

func sumValue(t *testing.T, metrics map[string]metricdata.Metrics, name string) int64 {
	t.Helper()
	m, ok := metrics[name]
	if !ok {
		t.Fatalf("metric %s not collected", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 {
		t.Fatalf("metric %s: unexpected data %T", name, m.Data)
	}
	if !sum.IsMonotonic {
		t.Fatalf("metric %s should be monotonic", name)
	}
	return sum.DataPoints[0].Value
}

func TestExporterObservesEngineCounters(t *testing.T) {
	src := &stubSource{
		counters: map[authcore.MetricID]uint64{
			authcore.MetricSignInSuccess:       3,
			authcore.MetricFingerprintMismatch: 1,
		},
		dropped: 2,
	}
	metrics := collect(t, newExporter(t, src))

	if got := sumValue(t, metrics, "authcore_sign_in_success_total"); got != 3 {
		t.Fatalf("sign-in successes = %d, want 3", got)
	}
	if got := sumValue(t, metrics, "authcore_fingerprint_mismatch_total"); got != 1 {
		t.Fatalf("fingerprint mismatches = %d, want 1", got)
	}
	if got := sumValue(t, metrics, "authcore_logout_all_total"); got != 0 {
		t.Fatalf("logout-all = %d, want 0", got)
	}
	if got := sumValue(t, metrics, internaldefs.AuditDroppedName); got != 2 {
		t.Fatalf("audit dropped = %d, want 2", got)
	}
	if _, ok := metrics["authcore_validate_latency_seconds_bucket"]; ok {
		t.Fatal("latency buckets reported without samples")
	}
}

func TestExporterLatencyBucketsAreCumulative(t *testing.T) {
	src := &stubSource{
		counters: map[authcore.MetricID]uint64{authcore.MetricValidateFailure: 1},
		latency:  []uint64{4, 0, 2, 0, 0, 0, 0, 1},
	}
	metrics := collect(t, newExporter(t, src))

	m, ok := metrics["authcore_validate_latency_seconds_bucket"]
	if !ok {
		t.Fatal("latency buckets not collected")
	}
	gauge, ok := m.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("unexpected bucket data %T", m.Data)
	}
	byBound := make(map[string]int64, len(gauge.DataPoints))
	for _, dp := range gauge.DataPoints {
		le, ok := dp.Attributes.Value(attribute.Key("le"))
		if !ok {
			t.Fatalf("bucket point without le attribute: %+v", dp)
		}
		byBound[le.AsString()] = dp.Value
	}
	want := map[string]int64{"0.005": 4, "0.01": 4, "0.025": 6, "0.5": 6, "+Inf": 7}
	for le, v := range want {
		if byBound[le] != v {
			t.Fatalf("bucket le=%s = %d, want %d (all: %v)", le, byBound[le], v, byBound)
		}
	}
	if len(byBound) != len(internaldefs.HistogramUpperBounds)+1 {
		t.Fatalf("expected %d buckets, got %d", len(internaldefs.HistogramUpperBounds)+1, len(byBound))
	}
	if got := sumValue(t, metrics, "authcore_validate_latency_seconds_count"); got != 7 {
		t.Fatalf("latency count = %d, want 7", got)
	}
}

func TestExporterSilentWhileMetricsDisabled(t *testing.T) {
	metrics := collect(t, newExporter(t, &stubSource{}))
	if _, ok := metrics["authcore_sign_in_success_total"]; ok {
		t.Fatalf("expected no observations, got %v", metrics)
	}
}

func TestNewRejectsNilArguments(t *testing.T) {
	provider := sdkmetric.NewMeterProvider()
	meter := provider.Meter("test")

	if _, err := New(meter, nil); !errors.Is(err, ErrNilSource) {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := New(nil, &stubSource{}); !errors.Is(err, ErrNilMeter) {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	src := &stubSource{counters: map[authcore.MetricID]uint64{authcore.MetricRefreshSuccess: 1}}
	reader := newExporter(t, src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.counters[authcore.MetricRefreshSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()

	src.mu.Lock()
	src.counters[authcore.MetricRefreshSuccess] = 42
	src.mu.Unlock()
	if got := sumValue(t, collect(t, reader), "authcore_refresh_success_total"); got != 42 {
		t.Fatalf("refresh successes = %d, want 42", got)
	}
}
