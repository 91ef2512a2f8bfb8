package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sahasrahbot/sglbot/config"
	"github.com/sahasrahbot/sglbot/race"
	"github.com/sahasrahbot/sglbot/racetime"
	"github.com/sahasrahbot/sglbot/seedgen"
	"github.com/sahasrahbot/sglbot/store"
	"github.com/sahasrahbot/sglbot/telemetry"
)

const (
	roomOpenedText   = "Greetings!  A RaceTime.gg race room has been automatically opened for you.\nYou may access it at %s\n\nEnjoy!"
	trackerText      = "Greetings!  This is a friendly reminder that a race you're assigned to track will be starting soon.  Please be on the lookout for a DM from a volunteer."
	matchChannelText = "Greetings!  The discord channel %s has been opened.\n\nGLHF!"
)

// CreateRoom opens the room for an episode and returns a reference to it: the
// room URL for racetime events, the channel mention for discord events. An
// existing room is returned unchanged unless force is set.
func (o *Orchestrator) CreateRoom(ctx context.Context, episodeID string, force bool) (ref string, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerOrchestrator, "CreateRoom",
		attribute.String("episode_id", episodeID), attribute.Bool("force", force))
	defer func() { telemetry.EndSpan(span, err) }()
	log := o.log(ctx).With(slog.String("episode_id", episodeID))

	unlock, err := o.lockEpisode(ctx, episodeID)
	if err != nil {
		return "", err
	}
	defer unlock()

	existing, err := o.rooms.FindByEpisode(ctx, episodeID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	if existing != nil && !force {
		ref, reuse, err := o.reuse(ctx, existing)
		if err != nil || reuse {
			return ref, err
		}
		log.Info("previous room was cancelled; opening a new one", slog.String("room", existing.RoomName))
	}

	r, err := o.races.Build(ctx, episodeID)
	if err != nil {
		telemetry.Inc(telemetry.RoomCreateFailed)
		var ue *UnknownEventError
		if errors.As(err, &ue) {
			return "", err
		}
		return "", external("speedgaming", "episode", err)
	}

	if r.Event.Platform == config.PlatformDiscord {
		ref, err = o.createMatchChannel(ctx, r)
	} else {
		ref, err = o.createRaceRoom(ctx, r)
	}
	if err != nil {
		telemetry.Inc(telemetry.RoomCreateFailed)
		return "", err
	}
	telemetry.IncRoomsCreated(r.Event.Slug)
	log.Info("room created", slog.String("event", r.Event.Slug), slog.String("ref", ref))
	return ref, nil
}

// reuse decides whether an existing record stands. A racetime room that was
// cancelled is deleted so a fresh one can be opened; best-of-3 rooms always stand.
func (o *Orchestrator) reuse(ctx context.Context, rec *store.RoomRecord) (string, bool, error) {
	if rec.Platform == config.PlatformDiscord {
		return o.channelRef(rec.RoomName), true, nil
	}
	ref := o.rt.RoomURL(rec.RoomName)
	if rec.Space == store.SpaceBo3 {
		return ref, true, nil
	}
	data, err := o.rt.RaceData(ctx, rec.RoomName)
	if err != nil {
		return "", false, external("racetime", "race data", err)
	}
	if data.Status.Value != racetime.StatusCancelled {
		return ref, true, nil
	}
	if err := o.rooms.Delete(ctx, rec.Space, rec.RoomName); err != nil {
		return "", false, err
	}
	return "", false, nil
}

func (o *Orchestrator) channelRef(channelID string) string {
	if o.channels == nil {
		return channelID
	}
	return o.channels.Mention(channelID)
}

func (o *Orchestrator) createRaceRoom(ctx context.Context, r *race.Race) (string, error) {
	room, err := o.rt.StartRace(ctx, racetime.StartOptions{
		Goal:                r.Event.Goal,
		Unlisted:            true,
		Info:                r.Info(""),
		StartDelay:          15,
		TimeLimit:           24,
		StreamingRequired:   true,
		AutoStart:           true,
		AllowComments:       true,
		AllowMidraceChat:    true,
		AllowNonEntrantChat: true,
	})
	if err != nil {
		return "", external("racetime", "startrace", err)
	}
	rec := store.RoomRecord{
		RoomName:  room,
		EpisodeID: r.EpisodeID,
		Event:     r.Event.Slug,
		Platform:  config.PlatformRacetime,
		Space:     store.SpaceFor(r.Event.Bo3),
	}
	if err := o.rooms.Insert(ctx, rec); err != nil {
		return "", fmt.Errorf("persist room %s: %w", room, err)
	}
	url := o.rt.RoomURL(room)
	report := o.announceRoom(ctx, r, url)
	if !report.OK() {
		o.log(ctx).Warn("room announcement incomplete", slog.String("room", room), slog.String("report", report.String()))
	}
	return url, nil
}

func broadcastField(r *race.Race) []EmbedField {
	if len(r.BroadcastChannels) == 0 {
		return nil
	}
	return []EmbedField{{Name: "Broadcast Channels", Value: r.BroadcastLinks()}}
}

// announceRoom tells audit, volunteers and every participant about a new room.
func (o *Orchestrator) announceRoom(ctx context.Context, r *race.Race, url string) *Report {
	title := fmt.Sprintf("RT.gg Room Opened - %s - %s", r.EventName, r.Versus())
	now := o.clock.Now()
	opened := Embed{Title: title, Description: fmt.Sprintf(roomOpenedText, url), Color: ColorBlue, Fields: broadcastField(r), Timestamp: now}
	tracker := Embed{Title: title, Description: trackerText, Color: ColorBlue, Fields: broadcastField(r), Timestamp: now}

	report := &Report{}
	if o.notify == nil {
		return report
	}
	o.auditEmbed(ctx, opened)
	if o.cfg.VolunteerChannelID != "" {
		line := fmt.Sprintf("%s - %s - Episode %s - <%s>", r.EventName, r.Versus(), r.EpisodeID, url)
		report.Attempt("volunteers", "channel", func() error {
			return o.notify.SendChannel(ctx, o.cfg.VolunteerChannelID, line)
		})
	}
	o.dmAll(ctx, report, r.Players, "player", opened, true)
	o.dmAll(ctx, report, r.Commentators, "commentator", opened, false)
	o.dmAll(ctx, report, r.Trackers, "tracker", tracker, false)
	return report
}

// dmAll sends e to each participant, reporting every miss to the audit channel.
func (o *Orchestrator) dmAll(ctx context.Context, report *Report, ps []race.Participant, role string, e Embed, ping bool) {
	for _, p := range ps {
		if p.Member == nil {
			report.Unresolved(p.DisplayName, role)
			msg := fmt.Sprintf("Could not DM %s named %s", role, p.DisplayName)
			if ping {
				msg = o.mention(msg)
			}
			o.audit(ctx, msg)
			continue
		}
		before := len(report.Failures)
		report.Attempt(p.DisplayName, role, func() error {
			return o.notify.DirectMessage(ctx, p.Member.ID, e)
		})
		if len(report.Failures) > before {
			msg := fmt.Sprintf("Could not send room opening DM to %s named %s", role, p.DisplayName)
			if ping {
				msg = o.mention(msg)
			}
			o.audit(ctx, msg)
		}
	}
}

// createMatchChannel rolls the match sheet first, then opens a private channel
// for the players and commentators.
func (o *Orchestrator) createMatchChannel(ctx context.Context, r *race.Race) (string, error) {
	if o.channels == nil {
		return "", fmt.Errorf("event %s needs discord match channels, which are not configured", r.Event.Slug)
	}
	seed, err := o.generate(ctx, r, r.EpisodeID)
	if err != nil {
		return "", err
	}
	name := slug.Make(fmt.Sprintf("smm2-%s-%s", r.EpisodeID, r.Versus()))
	topic := fmt.Sprintf("%s - %s - %s", r.EventName, r.Versus(), seed.Permalink)
	channelID, err := o.channels.CreateMatchChannel(ctx, name, topic)
	if err != nil {
		return "", external("discord", "create channel", err)
	}
	mention := o.channels.Mention(channelID)

	o.audit(ctx, fmt.Sprintf("SMM2 Match - Episode %s - %s", r.EpisodeID, mention))
	report := &Report{}
	if o.notify != nil && o.cfg.VolunteerChannelID != "" {
		line := fmt.Sprintf("%s - %s - Episode %s - %s", r.EventName, r.Versus(), r.EpisodeID, mention)
		report.Attempt("volunteers", "channel", func() error {
			return o.notify.SendChannel(ctx, o.cfg.VolunteerChannelID, line)
		})
	}
	e := Embed{
		Title:       fmt.Sprintf("SMM2 Match Channel Opened - %s - %s", r.EventName, r.Versus()),
		Description: fmt.Sprintf(matchChannelText, mention),
		Color:       ColorBlue,
		Fields:      broadcastField(r),
		Timestamp:   o.clock.Now(),
	}
	for _, group := range []struct {
		role string
		ps   []race.Participant
	}{{"player", r.Players}, {"commentator", r.Commentators}} {
		for _, p := range group.ps {
			if p.Member == nil {
				report.Unresolved(p.DisplayName, group.role)
				o.audit(ctx, fmt.Sprintf("Could not DM %s. Could not lookup %s in SG system.", p.DisplayName, group.role))
				continue
			}
			before := len(report.Failures)
			report.Attempt(p.DisplayName, group.role, func() error {
				if err := o.channels.GrantRead(ctx, channelID, p.Member.ID); err != nil {
					return err
				}
				if o.notify == nil {
					return nil
				}
				return o.notify.DirectMessage(ctx, p.Member.ID, e)
			})
			if len(report.Failures) > before {
				o.audit(ctx, fmt.Sprintf("Could not add %s to channel %s", p.DisplayName, mention))
			}
		}
	}

	rec := store.RoomRecord{
		RoomName:  channelID,
		EpisodeID: r.EpisodeID,
		Event:     r.Event.Slug,
		Platform:  config.PlatformDiscord,
		Space:     store.SpaceFor(r.Event.Bo3),
		Seed:      seed.SeedID,
		Permalink: seed.Permalink,
	}
	if err := o.rooms.Insert(ctx, rec); err != nil {
		return "", fmt.Errorf("persist match channel %s: %w", channelID, err)
	}

	if o.notify != nil {
		mentions := make([]string, 0, len(r.Players))
		for _, p := range r.Players {
			if p.Member != nil {
				mentions = append(mentions, p.Member.Mention())
			}
		}
		if err := o.notify.SendChannel(ctx, channelID, "Welcome "+strings.Join(mentions, ", ")+"!  "); err != nil {
			o.log(ctx).Warn("could not welcome players", slog.String("channel", channelID), slog.Any("err", err))
		}
	}
	if !report.OK() {
		o.log(ctx).Warn("match channel announcement incomplete", slog.String("channel", channelID), slog.String("report", report.String()))
	}
	return mention, nil
}

// generate runs the event's generator under the seed timeout and a concurrency slot.
func (o *Orchestrator) generate(ctx context.Context, r *race.Race, room string) (*seedgen.Seed, error) {
	gen, ok := o.seeds.Lookup(r.Event.Slug)
	if !ok {
		gen = seedgen.None{}
	}
	ctx, cancel := context.WithTimeoutCause(ctx, o.cfg.SeedTimeout, ErrSeedTimeout)
	defer cancel()
	if !o.acquireSlot(ctx) {
		telemetry.IncSeed(gen.Kind(), false)
		return nil, external(gen.Kind(), "generate", context.Cause(ctx))
	}
	defer o.releaseSlot()

	var (
		seed *seedgen.Seed
		err  error
	)
	telemetry.TimeFunc(telemetry.SeedDuration, func() {
		seed, err = gen.Generate(ctx, seedgen.Request{
			EpisodeID: r.EpisodeID,
			EventName: r.EventName,
			Versus:    r.Versus(),
			Players:   r.PlayerNames(),
		})
	})
	if err == nil && seed == nil {
		seed = &seedgen.Seed{}
	}
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			err = fmt.Errorf("%w: %w", cause, err)
		}
		telemetry.IncSeed(gen.Kind(), false)
		o.log(ctx).Error("seed generation failed", slog.String("room", room), slog.String("generator", gen.Kind()), slog.Any("err", err))
		return nil, external(gen.Kind(), "generate", err)
	}
	telemetry.IncSeed(gen.Kind(), true)
	return seed, nil
}
