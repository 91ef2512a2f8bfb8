// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	RoomsCreated      *prometheus.CounterVec // by event
	RoomCreateFailed  prometheus.Counter
	SeedsGenerated    *prometheus.CounterVec // by generator
	SeedsFailed       *prometheus.CounterVec // by generator
	ResultsRecorded   prometheus.Counter
	RecordFailed      prometheus.Counter
	DeliveryFailures  prometheus.Counter
	ScanCycles        *prometheus.CounterVec // by job
	ScanEventFailures prometheus.Counter

	// Histograms (seconds)
	SeedDuration     prometheus.Observer
	ScanCycleSeconds prometheus.Observer

	// Gauges
	SeedSlotsInUse  prometheus.Gauge
	UnrecordedRooms prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RoomsCreated = promauto.NewCounterVec(prometheus.CounterOpts{Name: "sgl_rooms_created_total", Help: "Race rooms or match channels opened"}, []string{"event"})
		RoomCreateFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "sgl_room_create_failed_total", Help: "Room creation attempts that failed"})
		SeedsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{Name: "sgl_seeds_generated_total", Help: "Seeds generated"}, []string{"generator"})
		SeedsFailed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "sgl_seeds_failed_total", Help: "Seed generations that failed or timed out"}, []string{"generator"})
		ResultsRecorded = promauto.NewCounter(prometheus.CounterOpts{Name: "sgl_results_recorded_total", Help: "Race results written to the results workbook"})
		RecordFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "sgl_record_failed_total", Help: "Result recordings that failed"})
		DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "sgl_delivery_failures_total", Help: "Notifications that could not be delivered"})
		ScanCycles = promauto.NewCounterVec(prometheus.CounterOpts{Name: "sgl_scan_cycles_total", Help: "Scan cycles run"}, []string{"job"})
		ScanEventFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "sgl_scan_event_failures_total", Help: "Per-event schedule lookups that failed during a creation scan"})
		SeedDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "sgl_seed_duration_seconds", Help: "Seed generation duration seconds", Buckets: prometheus.DefBuckets})
		ScanCycleSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "sgl_scan_cycle_duration_seconds", Help: "Scan cycle duration seconds", Buckets: prometheus.DefBuckets})
		SeedSlotsInUse = promauto.NewGauge(prometheus.GaugeOpts{Name: "sgl_seed_slots_in_use", Help: "Seed generations currently holding a concurrency slot"})
		UnrecordedRooms = promauto.NewGauge(prometheus.GaugeOpts{Name: "sgl_unrecorded_rooms", Help: "Started rooms awaiting a recorded result"})
	})
}

// IncRoomsCreated counts an opened room for event; safe before Init.
func IncRoomsCreated(event string) {
	if RoomsCreated != nil {
		RoomsCreated.WithLabelValues(event).Inc()
	}
}

// IncSeed counts a generation outcome for the generator kind.
func IncSeed(kind string, ok bool) {
	vec := SeedsFailed
	if ok {
		vec = SeedsGenerated
	}
	if vec != nil {
		vec.WithLabelValues(kind).Inc()
	}
}

// Inc increments c when registered.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncScanCycle counts one run of job.
func IncScanCycle(job string) {
	if ScanCycles != nil {
		ScanCycles.WithLabelValues(job).Inc()
	}
}

// AddSeedSlots moves the in-use seed slot gauge by delta.
func AddSeedSlots(delta int) {
	if SeedSlotsInUse != nil {
		SeedSlotsInUse.Add(float64(delta))
	}
}

// SetUnrecorded records the current backlog of unrecorded rooms.
func SetUnrecorded(n int) {
	if UnrecordedRooms != nil {
		UnrecordedRooms.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
