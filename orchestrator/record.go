package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sosodev/duration"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sahasrahbot/sglbot/config"
	"github.com/sahasrahbot/sglbot/racetime"
	"github.com/sahasrahbot/sglbot/store"
	"github.com/sahasrahbot/sglbot/telemetry"
)

// FormatFinish renders an ISO 8601 duration as H:MM:SS, dropping fractions.
func FormatFinish(iso string) (string, error) {
	d, err := duration.Parse(iso)
	if err != nil {
		return "", fmt.Errorf("parse finish time %q: %w", iso, err)
	}
	total := int64(d.ToTimeDuration() / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, total/60%60, total%60), nil
}

// finishCell is the sheet value for an entrant's time; nil when absent or unparsable.
func finishCell(e *racetime.Entrant) any {
	if e == nil {
		return nil
	}
	iso, ok := e.Finish()
	if !ok {
		return nil
	}
	s, err := FormatFinish(iso)
	if err != nil {
		slog.Warn("bad finish time", slog.String("user", e.User.Name), slog.Any("err", err), slog.String("component", "orchestrator"))
		return nil
	}
	return s
}

// podium returns the winner (place 1) and the runner-up: the first entrant
// whose place is 2 or unset.
func podium(entrants []racetime.Entrant) (winner, runnerUp *racetime.Entrant) {
	for i := range entrants {
		e := &entrants[i]
		if winner == nil && e.Place != nil && *e.Place == 1 {
			winner = e
		}
		if runnerUp == nil && (e.Place == nil || *e.Place == 2) {
			runnerUp = e
		}
	}
	return winner, runnerUp
}

func name(e *racetime.Entrant) any {
	if e == nil {
		return nil
	}
	return e.User.Name
}

// sheetTime renders a timestamp the way the results sheets have always held
// them: UTC, no zone, microseconds only when present.
func sheetTime(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/1000 == 0 {
		return t.Format("2006-01-02 15:04:05")
	}
	return t.Format("2006-01-02 15:04:05.000000")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// RecordResult writes a finished match to the event's results worksheet and
// marks it RECORDED. Cancelled racetime rooms are deleted instead; rooms still
// running are left alone.
func (o *Orchestrator) RecordResult(ctx context.Context, rec store.RoomRecord) (err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerOrchestrator, "RecordResult",
		attribute.String("room", rec.RoomName), attribute.String("episode_id", rec.EpisodeID))
	defer func() {
		if err != nil {
			telemetry.Inc(telemetry.RecordFailed)
		}
		telemetry.EndSpan(span, err)
	}()

	if rec.Status == store.StatusRecorded {
		return nil
	}
	if o.results == nil {
		return fmt.Errorf("results sheet is not configured")
	}
	log := o.log(ctx).With(slog.String("room", rec.RoomName), slog.String("episode_id", rec.EpisodeID))
	sheet := rec.Event
	if ev, ok := o.eventFor(rec.Event); ok && ev.Sheet != "" {
		sheet = ev.Sheet
	}

	var row []any
	switch rec.Platform {
	case config.PlatformDiscord:
		r, err := o.races.Build(ctx, rec.EpisodeID)
		if err != nil {
			return external("speedgaming", "episode", err)
		}
		players := r.ScheduledPlayers
		if len(players) < 2 {
			return fmt.Errorf("episode %s has %d players, need 2", rec.EpisodeID, len(players))
		}
		row = []any{rec.EpisodeID, nil, players[0], players[1], nil, nil,
			nullable(rec.Permalink), nullable(rec.Password), sheetTime(rec.CreatedAt), sheetTime(rec.UpdatedAt)}
	default:
		data, err := o.rt.RaceData(ctx, rec.RoomName)
		if err != nil {
			return external("racetime", "race data", err)
		}
		switch data.Status.Value {
		case racetime.StatusFinished:
		case racetime.StatusCancelled:
			log.Info("room was cancelled; dropping record")
			return o.rooms.Delete(ctx, rec.Space, rec.RoomName)
		default:
			return nil
		}
		winner, runnerUp := podium(data.Entrants)
		row = []any{rec.EpisodeID, o.rt.RoomURL(rec.RoomName), name(winner), name(runnerUp),
			finishCell(winner), finishCell(runnerUp),
			nullable(rec.Permalink), nullable(rec.Password), sheetTime(rec.CreatedAt), sheetTime(rec.UpdatedAt)}
	}

	if err := o.results.AppendRow(ctx, o.cfg.ResultsSheetID, sheet, row); err != nil {
		return external("sheets", "append", err)
	}
	if _, err := o.rooms.UpdateStatus(ctx, rec.Space, rec.RoomName, store.StatusRecorded); err != nil {
		return err
	}
	telemetry.Inc(telemetry.ResultsRecorded)
	log.Info("result recorded", slog.String("sheet", sheet))
	return nil
}

// RecordEpisode records the newest room of an episode.
func (o *Orchestrator) RecordEpisode(ctx context.Context, episodeID string) error {
	rec, err := o.rooms.FindByEpisode(ctx, episodeID)
	if err != nil {
		return err
	}
	return o.RecordResult(ctx, *rec)
}
