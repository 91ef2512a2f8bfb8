package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sahasrahbot/sglbot/countdown"
	"github.com/sahasrahbot/sglbot/seedgen"
	"github.com/sahasrahbot/sglbot/store"
	"github.com/sahasrahbot/sglbot/telemetry"
)

const (
	msgStreamCheck = "Please double check your stream and ensure that it is displaying your game!  GLHF"
	msgReset       = "Reseting bot state.  You may now roll a new game."
	msgClosing     = "WARNING:  This room will be closing in 10 seconds.  It will become inaccessible to non-admins."
)

// MarkStarted handles a room going in progress: bingo cards are revealed, the
// record advances to STARTED, and an owed spoiler log is posted with its study
// countdown. Rooms without a record are ignored.
func (o *Orchestrator) MarkStarted(ctx context.Context, chat RoomChat) (err error) {
	room := chat.Name()
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerOrchestrator, "MarkStarted", attribute.String("room", room))
	defer func() { telemetry.EndSpan(span, err) }()

	rec, err := o.rooms.FindActive(ctx, room)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Status == store.StatusStarted {
		// Reconnected to a race already in progress.
		return o.revealSpoiler(ctx, chat)
	}
	log := o.log(ctx).With(slog.String("room", room), slog.String("episode_id", rec.EpisodeID))

	if gen, ok := o.seeds.Lookup(rec.Event); ok && rec.Seed != "" {
		if cr, ok := gen.(seedgen.CardRefresher); ok {
			if err := cr.NewCard(ctx, rec.Seed, rec.Password); err != nil {
				log.Error("could not deal new card", slog.Any("err", err))
				o.audit(ctx, o.mention("Could not deal a new card for "+o.rt.RoomURL(room)+": "+err.Error()))
			}
		}
	}
	if _, err := o.rooms.UpdateStatus(ctx, rec.Space, room, store.StatusStarted); err != nil {
		return err
	}
	o.say(ctx, chat, msgStreamCheck)
	return o.revealSpoiler(ctx, chat)
}

// revealSpoiler posts the spoiler log once and starts the study countdown.
func (o *Orchestrator) revealSpoiler(ctx context.Context, chat RoomChat) error {
	room := chat.Name()
	sp, err := o.spoilers.Get(ctx, room)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sp.StartedAt != nil {
		return o.ResumeCountdown(ctx, chat)
	}
	started, err := o.spoilers.Start(ctx, room, o.clock.Now())
	if err != nil {
		return err
	}
	for _, line := range []string{"Sending spoiler log...", "---------------", "This race's spoiler log: " + sp.SpoilerURL, "---------------", "GLHF! :mudora:"} {
		o.say(ctx, chat, line)
	}
	o.startCountdown(ctx, chat, *started.StartedAt, time.Duration(started.StudySeconds)*time.Second)
	return nil
}

// ResumeCountdown restarts the study countdown for a room whose spoiler race
// started before a restart.
func (o *Orchestrator) ResumeCountdown(ctx context.Context, chat RoomChat) error {
	sp, err := o.spoilers.Get(ctx, chat.Name())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sp.StartedAt == nil {
		return nil
	}
	study := time.Duration(sp.StudySeconds) * time.Second
	if countdown.Remaining(*sp.StartedAt, study, o.clock.Now()) <= 0 {
		return nil
	}
	o.startCountdown(ctx, chat, *sp.StartedAt, study)
	return nil
}

type runningCountdown struct {
	stop context.CancelFunc
}

// startCountdown runs the study countdown for a room, replacing any countdown
// already running there.
func (o *Orchestrator) startCountdown(ctx context.Context, chat RoomChat, start time.Time, study time.Duration) {
	room := chat.Name()
	ctx, stop := context.WithCancel(ctx)
	run := &runningCountdown{stop: stop}
	o.mu.Lock()
	if prev, ok := o.countdowns[room]; ok {
		prev.stop()
	}
	o.countdowns[room] = run
	o.mu.Unlock()

	t := &countdown.Timer{Start: start, Duration: study, Finish: true, Clock: o.clock}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			if o.countdowns[room] == run {
				delete(o.countdowns, room)
			}
			o.mu.Unlock()
			stop()
		}()
		if err := t.Run(ctx, chat); err != nil && !errors.Is(err, context.Canceled) {
			o.log(ctx).Warn("countdown ended with error", slog.String("room", room), slog.Any("err", err))
		}
	}()
}

// stopCountdown cancels the room's countdown, if one is running.
func (o *Orchestrator) stopCountdown(room string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if run, ok := o.countdowns[room]; ok {
		run.stop()
		delete(o.countdowns, room)
	}
}

// Cancel clears a room's game so a new one can be rolled. The record keeps its
// episode association; only the seed and any owed spoiler reveal are dropped.
func (o *Orchestrator) Cancel(ctx context.Context, chat RoomChat) (err error) {
	room := chat.Name()
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerOrchestrator, "Cancel", attribute.String("room", room))
	defer func() { telemetry.EndSpan(span, err) }()

	o.forget(room)
	o.stopCountdown(room)
	if err := chat.SetInfo(ctx, "New Race"); err != nil {
		o.log(ctx).Warn("could not reset race info", slog.String("room", room), slog.Any("err", err))
	}
	rec, err := o.rooms.FindActive(ctx, room)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return err
	default:
		if err := o.rooms.SetSeed(ctx, rec.Space, room, store.SeedInfo{}); err != nil && !errors.Is(err, store.ErrRecorded) {
			return err
		}
	}
	if err := o.spoilers.Delete(ctx, room); err != nil {
		return err
	}
	o.say(ctx, chat, msgReset)
	return nil
}

// CloseMatchChannel warns the channel, waits CloseDelay, moves it to the closed
// category and records the match result.
func (o *Orchestrator) CloseMatchChannel(ctx context.Context, channelID string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerOrchestrator, "CloseMatchChannel", attribute.String("channel", channelID))
	defer func() { telemetry.EndSpan(span, err) }()

	if o.channels == nil {
		return errors.New("discord match channels are not configured")
	}
	rec, err := o.rooms.FindActive(ctx, channelID)
	if err != nil {
		return err
	}
	o.wg.Add(1)
	defer o.wg.Done()
	if o.notify != nil {
		if err := o.notify.SendChannel(ctx, channelID, msgClosing); err != nil {
			o.log(ctx).Warn("close warning failed", slog.String("channel", channelID), slog.Any("err", err))
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.clock.After(o.cfg.CloseDelay):
	}
	if err := o.channels.CloseMatchChannel(ctx, channelID); err != nil {
		return external("discord", "close channel", err)
	}
	return o.RecordResult(ctx, *rec)
}
