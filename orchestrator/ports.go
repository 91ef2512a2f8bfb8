package orchestrator

import (
	"context"
	"time"

	"github.com/sahasrahbot/sglbot/race"
	"github.com/sahasrahbot/sglbot/racetime"
)

// RaceBuilder assembles a race from the schedule.
type RaceBuilder interface {
	Build(ctx context.Context, episodeID string) (*race.Race, error)
}

// RoomService opens and inspects racetime rooms.
type RoomService interface {
	StartRace(ctx context.Context, opts racetime.StartOptions) (string, error)
	RaceData(ctx context.Context, room string) (*racetime.RaceData, error)
	RoomURL(room string) string
}

// RoomChat is a live connection to one race room.
type RoomChat interface {
	Name() string
	SendMessage(ctx context.Context, msg string) error
	SetInfo(ctx context.Context, info string) error
}

// Embed colors.
const (
	ColorBlue = 0x3498db
	ColorRed  = 0xe74c3c
)

// EmbedField is one name/value pair of an Embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is a rich notification.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Timestamp   time.Time
}

// Notifier delivers messages to chat channels and members.
type Notifier interface {
	SendChannel(ctx context.Context, channelID, text string) error
	SendEmbed(ctx context.Context, channelID string, e Embed) error
	DirectMessage(ctx context.Context, userID string, e Embed) error
}

// MatchChannels manages per-match text channels on the discord platform.
type MatchChannels interface {
	CreateMatchChannel(ctx context.Context, name, topic string) (channelID string, err error)
	GrantRead(ctx context.Context, channelID, userID string) error
	CloseMatchChannel(ctx context.Context, channelID string) error
	Mention(channelID string) string
}

// ResultSink appends result rows to a worksheet.
type ResultSink interface {
	AppendRow(ctx context.Context, spreadsheetID, worksheet string, row []any) error
}
