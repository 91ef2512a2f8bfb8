package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sahasrahbot/sglbot/store"
	"github.com/sahasrahbot/sglbot/telemetry"
)

const (
	msgGenerating  = "Generating game, please wait.  If nothing happens after a minute, contact Synack."
	msgGenerated   = "Seed has been generated and should now be in the race info."
	msgDelayRemind = "This is a reminder this race has a %d minute stream delay in effect.  Please ensure your delay is correct.  If you need a stream override, please contact a SGL admin for help."
)

// say posts to the room; chat failures are logged, never returned.
func (o *Orchestrator) say(ctx context.Context, chat RoomChat, msg string) {
	if err := chat.SendMessage(ctx, msg); err != nil {
		o.log(ctx).Warn("room message failed", slog.String("room", chat.Name()), slog.Any("err", err))
	}
}

// GenerateSeedAndAnnounce rolls the room's game exactly once and publishes it to
// the room and the audit channel. Failures are posted to the room and leave the
// room free to roll again.
func (o *Orchestrator) GenerateSeedAndAnnounce(ctx context.Context, chat RoomChat) (err error) {
	room := chat.Name()
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerOrchestrator, "GenerateSeedAndAnnounce", attribute.String("room", room))
	defer func() { telemetry.EndSpan(span, err) }()

	o.say(ctx, chat, msgGenerating)

	rec, err := o.rooms.FindActive(ctx, room)
	if errors.Is(err, store.ErrNotFound) {
		err = &NoAssociatedRaceError{Room: room}
		o.say(ctx, chat, err.Error())
		return err
	}
	if err != nil {
		o.say(ctx, chat, "Could not process league race: "+err.Error())
		return err
	}
	if rec.HasSeed() || !o.claim(room) {
		err = &DuplicateSeedError{Room: room}
		o.say(ctx, chat, err.Error())
		return err
	}
	rolled := false
	defer func() { o.settle(room, rolled) }()

	log := o.log(ctx).With(slog.String("room", room), slog.String("episode_id", rec.EpisodeID))
	r, err := o.races.Build(ctx, rec.EpisodeID)
	if err != nil {
		log.Error("could not build race", slog.Any("err", err))
		o.say(ctx, chat, "Could not process league race: "+err.Error())
		return err
	}
	seed, err := o.generate(ctx, r, room)
	if err != nil {
		o.say(ctx, chat, "Could not process league race: "+err.Error())
		return err
	}
	info := store.SeedInfo{SeedID: seed.SeedID, Permalink: seed.Permalink, Password: seed.Password}
	if err := o.rooms.SetSeed(ctx, rec.Space, room, info); err != nil {
		log.Error("could not persist seed", slog.Any("err", err))
		o.say(ctx, chat, "Could not process league race: "+err.Error())
		return fmt.Errorf("persist seed for %s: %w", room, err)
	}
	if seed.SpoilerURL != "" {
		sp := store.SpoilerRace{RoomName: room, SpoilerURL: seed.SpoilerURL, StudySeconds: seed.StudySeconds}
		if err := o.spoilers.Insert(ctx, sp); err != nil {
			log.Error("could not persist spoiler race", slog.Any("err", err))
		}
	}

	if err := chat.SetInfo(ctx, r.Info(seed.GoalSuffix)); err != nil {
		log.Warn("could not set race info", slog.Any("err", err))
	}
	if !seed.Empty() {
		o.say(ctx, chat, seed.Permalink)
	}
	if r.Event.Delay > 0 {
		o.say(ctx, chat, fmt.Sprintf(msgDelayRemind, r.Event.Delay))
	}

	e := Embed{
		Title:     fmt.Sprintf("%s - %s", r.EventName, r.Versus()),
		Color:     ColorRed,
		Timestamp: o.clock.Now(),
	}
	if seed.Permalink != "" {
		e.Fields = append(e.Fields, EmbedField{Name: "Permalink", Value: seed.Permalink})
	}
	if seed.Password != "" {
		e.Fields = append(e.Fields, EmbedField{Name: "Bingosync Password", Value: seed.Password, Inline: true})
	}
	e.Fields = append(e.Fields, EmbedField{Name: "RT.gg", Value: o.rt.RoomURL(room)})
	o.auditEmbed(ctx, e)
	if seed.Password != "" && len(r.BroadcastChannels) > 0 && o.cfg.AdminChannelID != "" && o.notify != nil {
		if err := o.notify.SendEmbed(ctx, o.cfg.AdminChannelID, e); err != nil {
			log.Warn("admin channel copy failed", slog.Any("err", err))
			telemetry.Inc(telemetry.DeliveryFailures)
		}
	}

	o.say(ctx, chat, msgGenerated)
	rolled = true
	log.Info("seed rolled", slog.String("event", r.Event.Slug), slog.String("permalink", seed.Permalink))
	return nil
}
