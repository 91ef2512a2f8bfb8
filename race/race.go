// Package race assembles the Race aggregate: a scheduled episode joined with its
// event configuration and the chat members its participants resolve to.
package race

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	_ "time/tzdata" // Eastern start times must render on hosts without zoneinfo

	"github.com/sahasrahbot/sglbot/config"
	"github.com/sahasrahbot/sglbot/schedule"
)

// skippedStreams are restream relays listed as players on the schedule.
var skippedStreams = map[string]bool{"sssrestream1": true}

var eastern = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Member is a resolved chat account.
type Member struct {
	ID       string
	Username string
}

// Mention returns the chat markup that pings the member.
func (m *Member) Mention() string { return "<@" + m.ID + ">" }

// Directory resolves schedule entries to guild members.
type Directory interface {
	MemberByID(ctx context.Context, id string) (*Member, error)
	// MemberNamed matches a "name#discrim" tag, a username or a nickname.
	MemberNamed(ctx context.Context, name string) (*Member, error)
}

// EpisodeSource looks up scheduled episodes.
type EpisodeSource interface {
	GetEpisode(ctx context.Context, id string) (*schedule.Episode, error)
}

// UnknownEventError is returned for episodes whose event has no configuration.
type UnknownEventError struct {
	EpisodeID string
	Slug      string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("%s is not a SGL match.  Found %s", e.EpisodeID, e.Slug)
}

// Participant is a player, commentator or tracker. Member is nil when resolution failed.
type Participant struct {
	DisplayName   string
	Handle        string
	DiscordID     string
	StreamingFrom string
	Member        *Member
}

// Race is rebuilt from the schedule on every lookup.
type Race struct {
	EpisodeID         string
	EventName         string
	Event             config.Event
	Players           []Participant
	// ScheduledPlayers is every match player's display name as listed, relays included.
	ScheduledPlayers  []string
	Commentators      []Participant
	Trackers          []Participant
	BroadcastChannels []string
	ScheduledTime     time.Time
	CountdownTime     time.Time
}

// Versus joins player names: "a vs. b".
func (r *Race) Versus() string {
	names := make([]string, len(r.Players))
	for i, p := range r.Players {
		names[i] = p.DisplayName
	}
	return strings.Join(names, " vs. ")
}

// PlayerNames returns display names in schedule order.
func (r *Race) PlayerNames() []string {
	out := make([]string, len(r.Players))
	for i, p := range r.Players {
		out[i] = p.DisplayName
	}
	return out
}

// DelayInfo is appended to the race info when the event runs a stream delay.
func (r *Race) DelayInfo() string {
	if r.Event.Delay == 0 {
		return ""
	}
	return fmt.Sprintf(" - %d minute delay", r.Event.Delay)
}

// StartTime renders the countdown time as "03:04 PM Eastern".
func (r *Race) StartTime() string {
	return r.CountdownTime.In(eastern).Format("03:04 PM") + " Eastern"
}

// Info is the room info line; goalSuffix is empty before a seed is rolled.
func (r *Race) Info(goalSuffix string) string {
	return fmt.Sprintf("%s - %s%s%s - Scheduled race start at %s", r.EventName, r.Versus(), goalSuffix, r.DelayInfo(), r.StartTime())
}

// BroadcastLinks renders channels as markdown links to their streams.
func (r *Race) BroadcastLinks() string {
	links := make([]string, len(r.BroadcastChannels))
	for i, c := range r.BroadcastChannels {
		links[i] = fmt.Sprintf("[%s](https://twitch.tv/%s)", c, c)
	}
	return strings.Join(links, ", ")
}

// Builder produces races from episode ids.
type Builder struct {
	Episodes EpisodeSource
	// Members may be nil, leaving every participant unresolved.
	Members Directory
	Events  config.Events
	Logger  *slog.Logger
}

// Build looks up the episode and assembles its race.
func (b *Builder) Build(ctx context.Context, episodeID string) (*Race, error) {
	ep, err := b.Episodes.GetEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	return b.FromEpisode(ctx, ep)
}

// FromEpisode assembles a race from an already fetched episode.
func (b *Builder) FromEpisode(ctx context.Context, ep *schedule.Episode) (*Race, error) {
	ev, ok := b.Events.Lookup(ep.Event.Slug)
	if !ok {
		return nil, &UnknownEventError{EpisodeID: ep.ID.String(), Slug: ep.Event.Slug}
	}
	r := &Race{
		EpisodeID:     ep.ID.String(),
		EventName:     ep.Event.Name,
		Event:         ev,
		ScheduledTime: ep.When,
		CountdownTime: ep.WhenCountdown,
	}
	for _, p := range ep.Match1.Players {
		r.ScheduledPlayers = append(r.ScheduledPlayers, p.DisplayName)
		if skippedStreams[p.StreamingFrom] {
			continue
		}
		r.Players = append(r.Players, b.participant(ctx, p))
	}
	for _, p := range ep.Commentators {
		if p.Approved {
			r.Commentators = append(r.Commentators, b.participant(ctx, p))
		}
	}
	for _, p := range ep.Trackers {
		if p.Approved {
			r.Trackers = append(r.Trackers, b.participant(ctx, p))
		}
	}
	for _, c := range ep.Channels {
		if !strings.Contains(c.Name, " ") {
			r.BroadcastChannels = append(r.BroadcastChannels, c.Name)
		}
	}
	return r, nil
}

// participant resolves by discord id when the schedule has one, otherwise by tag then display name.
func (b *Builder) participant(ctx context.Context, p schedule.Person) Participant {
	out := Participant{
		DisplayName:   p.DisplayName,
		Handle:        p.DiscordTag,
		DiscordID:     p.DiscordID.String(),
		StreamingFrom: p.StreamingFrom,
	}
	if b.Members == nil {
		return out
	}
	var (
		m   *Member
		err error
	)
	if out.DiscordID != "" {
		m, err = b.Members.MemberByID(ctx, out.DiscordID)
	} else {
		for _, name := range []string{p.DiscordTag, p.DisplayName} {
			if name == "" {
				continue
			}
			if m, err = b.Members.MemberNamed(ctx, name); m != nil {
				break
			}
		}
	}
	if err != nil {
		b.logger().Warn("member lookup failed", slog.String("name", p.DisplayName), slog.Any("err", err))
	}
	out.Member = m
	return out
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default().With("component", "race")
}
