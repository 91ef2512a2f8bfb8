package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestInitIdempotent(t *testing.T) {
	Init()
	first := RoomsCreated
	Init()
	if RoomsCreated != first || RoomsCreated == nil {
		t.Error("Init re-registered metrics")
	}
	if SeedDuration == nil || ScanCycleSeconds == nil {
		t.Error("histograms not initialized")
	}
}

func TestCounterHelpers(t *testing.T) {
	Init()
	tests := []struct {
		name  string
		inc   func()
		value func() prometheus.Counter
	}{
		{"rooms", func() { IncRoomsCreated("sglive2020z1r") }, func() prometheus.Counter { return RoomsCreated.WithLabelValues("sglive2020z1r") }},
		{"seed ok", func() { IncSeed("alttpr", true) }, func() prometheus.Counter { return SeedsGenerated.WithLabelValues("alttpr") }},
		{"seed failed", func() { IncSeed("alttpr", false) }, func() prometheus.Counter { return SeedsFailed.WithLabelValues("alttpr") }},
		{"scan", func() { IncScanCycle("create") }, func() prometheus.Counter { return ScanCycles.WithLabelValues("create") }},
		{"delivery", func() { Inc(DeliveryFailures) }, func() prometheus.Counter { return DeliveryFailures }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := counterValue(t, tt.value())
			tt.inc()
			if got := counterValue(t, tt.value()); got != before+1 {
				t.Errorf("counter = %v, want %v", got, before+1)
			}
		})
	}
}

func TestGauges(t *testing.T) {
	Init()
	AddSeedSlots(1)
	AddSeedSlots(-1)
	SetUnrecorded(3)
	m := &dto.Metric{}
	if err := UnrecordedRooms.Write(m); err != nil {
		t.Fatal(err)
	}
	if m.GetGauge().GetValue() != 3 {
		t.Errorf("unrecorded = %v", m.GetGauge().GetValue())
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_duration_seconds", Help: "Test duration", Buckets: prometheus.DefBuckets})
	executed := false
	d := TimeFunc(h, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})
	if !executed || d < 10*time.Millisecond {
		t.Errorf("executed=%v duration=%v", executed, d)
	}
	m := &dto.Metric{}
	if err := h.Write(m); err != nil {
		t.Fatal(err)
	}
	if m.GetHistogram().GetSampleCount() != 1 {
		t.Error("TimeFunc did not record observation")
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Error("expected empty correlation")
	}
	ctx = WithCorrelation(ctx, "abc")
	if GetCorrelation(ctx) != "abc" {
		t.Errorf("corr = %q", GetCorrelation(ctx))
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("nil logger")
	}
}
