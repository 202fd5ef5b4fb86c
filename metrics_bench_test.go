package authcore

import (
	"context"
	"testing"
	"time"
)

func BenchmarkMetricsInc(b *testing.B) {
	for _, enabled := range []bool{true, false} {
		name := "enabled"
		if !enabled {
			name = "disabled"
		}
		b.Run(name, func(b *testing.B) {
			m := NewMetrics(MetricsConfig{Enabled: enabled})
			b.ReportAllocs()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					m.Inc(MetricRefreshSuccess)
				}
			})
		})
	}
}

// refreshPathMetrics are the counters touched by a refresh and its
// failure modes.
var refreshPathMetrics = [...]MetricID{
	MetricRefreshSuccess,
	MetricRefreshFailure,
	MetricFingerprintMismatch,
	MetricSessionRevoked,
	MetricRateLimited,
}

func BenchmarkMetricsIncRefreshPath(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			m.Inc(refreshPathMetrics[i%len(refreshPathMetrics)])
			i++
		}
	})
}

func BenchmarkMetricsObserveValidateLatency(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	d := 3 * time.Millisecond
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Observe(MetricValidateLatency, d)
		}
	})
}

func BenchmarkMetricsSnapshot(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	for id := MetricID(0); int(id) < MetricCount; id++ {
		m.Inc(id)
	}
	m.Observe(MetricValidateLatency, time.Millisecond)
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = m.Snapshot()
	}
}

func BenchmarkValidateAccess(b *testing.B) {
	for _, latency := range []bool{false, true} {
		name := "counters"
		if latency {
			name = "with-latency"
		}
		b.Run(name, func(b *testing.B) {
			env := newTestEnv(b, func(cfg *Config) {
				cfg.Metrics.EnableLatencyHistograms = latency
			})
			token := signUpAlice(b, env).Tokens.AccessToken
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				if _, err := env.engine.ValidateAccess(ctx, token); err != nil {
					b.Fatalf("ValidateAccess failed: %v", err)
				}
			}
		})
	}
}
