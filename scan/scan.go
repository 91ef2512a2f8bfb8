// Package scan runs the periodic jobs that open rooms ahead of scheduled
// matches and record the results of finished ones.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sahasrahbot/sglbot/config"
	"github.com/sahasrahbot/sglbot/schedule"
	"github.com/sahasrahbot/sglbot/store"
	"github.com/sahasrahbot/sglbot/telemetry"
)

// hoursPast keeps episodes that started in the last half hour in the window,
// so a scan that ran late still opens their rooms.
const hoursPast = 0.5

// Schedule lists upcoming episodes per event.
type Schedule interface {
	Upcoming(ctx context.Context, event string, from, to time.Time) ([]schedule.Episode, error)
}

// Creator opens rooms for episodes.
type Creator interface {
	CreateRoom(ctx context.Context, episodeID string, force bool) (string, error)
}

// Recorder writes results of finished rooms.
type Recorder interface {
	RecordResult(ctx context.Context, rec store.RoomRecord) error
}

// Backlog lists rooms awaiting a result.
type Backlog interface {
	ListUnrecorded(ctx context.Context) ([]store.RoomRecord, error)
}

// Auditor posts operator-visible failure reports.
type Auditor interface {
	SendChannel(ctx context.Context, channelID, text string) error
}

// Scanner holds both jobs' collaborators; the jobs share no state.
type Scanner struct {
	Events    config.Events
	Debug     bool
	Schedule  Schedule
	Creator   Creator
	Recorder  Recorder
	Backlog   Backlog
	Lookahead time.Duration

	// Audit may be nil; failures are then only logged.
	Audit          Auditor
	AuditChannelID string

	// Limiter paces per-event schedule queries. Nil means one per second.
	Limiter *rate.Limiter
	Now     func() time.Time

	// Checkpoints may be nil; job progress is then not persisted.
	Checkpoints Checkpoints
}

func (s *Scanner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scanner) limiter() *rate.Limiter {
	if s.Limiter == nil {
		s.Limiter = rate.NewLimiter(rate.Every(time.Second), 1)
	}
	return s.Limiter
}

func (s *Scanner) report(ctx context.Context, text string) {
	if s.Audit == nil || s.AuditChannelID == "" {
		return
	}
	if err := s.Audit.SendChannel(ctx, s.AuditChannelID, text); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("audit report failed", slog.Any("err", err), slog.String("component", "scan"))
	}
}

// CreateCycle opens rooms for every scannable event's upcoming episodes. A
// failed event or episode is reported and skipped; the joined errors are returned.
func (s *Scanner) CreateCycle(ctx context.Context) error {
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "scan"), slog.String("job", "create"))
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerScan, "CreateCycle")
	telemetry.IncScanCycle("create")

	var errs []error
	telemetry.TimeFunc(telemetry.ScanCycleSeconds, func() {
		for _, slug := range s.Events.Slugs(s.Debug) {
			if err := s.limiter().Wait(ctx); err != nil {
				errs = append(errs, err)
				return
			}
			ev, _ := s.Events.Lookup(slug)
			from, to := schedule.Window(s.now(), hoursPast, s.Lookahead, ev.Delay)
			eps, err := s.Schedule.Upcoming(ctx, slug, from, to)
			if err != nil {
				telemetry.Inc(telemetry.ScanEventFailures)
				log.Warn("schedule lookup failed", slog.String("event", slug), slog.Any("err", err))
				s.report(ctx, fmt.Sprintf("There was an error while trying to scan schedule for %s.\n\n%s", slug, err))
				errs = append(errs, fmt.Errorf("event %s: %w", slug, err))
				continue
			}
			for _, ep := range eps {
				id := ep.ID.String()
				if _, err := s.Creator.CreateRoom(ctx, id, false); err != nil {
					log.Error("room creation failed", slog.String("event", slug), slog.String("episode_id", id), slog.Any("err", err))
					s.report(ctx, fmt.Sprintf("There was an error while automatically creating a race room for episode %s. `%s`", id, err))
					errs = append(errs, fmt.Errorf("episode %s: %w", id, err))
				}
			}
		}
	})
	err := errors.Join(errs...)
	telemetry.EndSpan(span, err)
	return err
}

// RecordCycle records every started room. Failures stay unrecorded for the next cycle.
func (s *Scanner) RecordCycle(ctx context.Context) error {
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "scan"), slog.String("job", "record"))
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerScan, "RecordCycle")
	telemetry.IncScanCycle("record")

	var errs []error
	telemetry.TimeFunc(telemetry.ScanCycleSeconds, func() {
		recs, err := s.Backlog.ListUnrecorded(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("list unrecorded: %w", err))
			return
		}
		telemetry.SetUnrecorded(len(recs))
		for _, rec := range recs {
			if err := s.Recorder.RecordResult(ctx, rec); err != nil {
				log.Error("result recording failed", slog.String("room", rec.RoomName), slog.String("episode_id", rec.EpisodeID), slog.Any("err", err))
				s.report(ctx, fmt.Sprintf("There was an error while automatically recording episode %s. `%s`", rec.EpisodeID, err))
				errs = append(errs, fmt.Errorf("room %s: %w", rec.RoomName, err))
			}
		}
	})
	err := errors.Join(errs...)
	telemetry.EndSpan(span, err)
	return err
}

// StartCreateJob runs CreateCycle now and then every interval until ctx is done.
func StartCreateJob(ctx context.Context, s *Scanner, interval time.Duration) {
	run(ctx, "create", interval, s.checkpointed("create", s.CreateCycle))
}

// StartRecordJob runs RecordCycle now and then every interval until ctx is done.
func StartRecordJob(ctx context.Context, s *Scanner, interval time.Duration) {
	run(ctx, "record", interval, s.checkpointed("record", s.RecordCycle))
}

func run(ctx context.Context, job string, interval time.Duration, cycle func(context.Context) error) {
	log := slog.Default().With(slog.String("component", "scan"), slog.String("job", job))
	log.Info("scan job starting", slog.Duration("interval", interval))

	if err := cycle(ctx); err != nil && ctx.Err() == nil {
		log.Warn("scan cycle had failures", slog.Any("err", err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("scan job stopped")
			return
		case <-ticker.C:
			if err := cycle(ctx); err != nil && ctx.Err() == nil {
				log.Warn("scan cycle had failures", slog.Any("err", err))
			}
		}
	}
}
