package otel

import (
	"context"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrEthical07/authsdk"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot authsdk.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authsdk.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := authsdk.MetricsSnapshot{
		Counters:   make(map[authsdk.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[authsdk.MetricID][]uint64, len(f.snapshot.Histograms)),
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
	meter := provider.Meter("authsdk-test")

	src := &fakeSource{
		snapshot: authsdk.MetricsSnapshot{
			Counters: map[authsdk.MetricID]uint64{
				authsdk.MetricSignUpSuccess: 3,
			},
			Histograms: map[authsdk.MetricID][]uint64{
				authsdk.MetricSignInUpLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewExporterFromSource(meter, src)
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
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
			switch m.Name {
			case "authsdk_sign_up_success_total":
				sum, ok := m.Data.(metricdata.Sum[int64])
				if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 3 {
					t.Fatalf("unexpected sign-up counter data: %#v", m.Data)
				}
			case "authsdk_sign_in_up_latency_seconds_bucket":
				g, ok := m.Data.(metricdata.Gauge[int64])
				if !ok || len(g.DataPoints) != 8 {
					t.Fatalf("unexpected bucket data: %#v", m.Data)
				}
				for _, dp := range g.DataPoints {
					le, _ := dp.Attributes.Value("le")
					if le.AsString() == "+Inf" && dp.Value != 8 {
						t.Fatalf("+Inf bucket = %d, want 8", dp.Value)
					}
					if le.AsString() == "0.005" && dp.Value != 1 {
						t.Fatalf("first bucket = %d, want 1", dp.Value)
					}
				}
			}
		}
	}
	for _, name := range []string{
		"authsdk_sign_up_success_total",
		"authsdk_sign_in_up_latency_seconds_bucket",
		"authsdk_sign_in_up_latency_seconds_count",
		"authsdk_audit_dropped_total",
	} {
		if !found[name] {
			t.Fatalf("expected %s to be collected", name)
		}
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authsdk-test")

	if _, err := NewExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authsdk-test")

	src := &fakeSource{
		snapshot: authsdk.MetricsSnapshot{
			Counters: map[authsdk.MetricID]uint64{
				authsdk.MetricSignUpSuccess: 1,
			},
			Histograms: map[authsdk.MetricID][]uint64{
				authsdk.MetricSignInUpLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
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
			src.snapshot.Counters[authsdk.MetricSignUpSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
