package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/sahasrahbot/sglbot/store"
)

// Prefix starts every operator command.
const Prefix = "$sgl"

// DefaultRoles may run create and record.
var DefaultRoles = []string{"Admin", "Tournament Admin"}

// Operations are the orchestrator calls the commands trigger.
type Operations interface {
	CreateRoom(ctx context.Context, episodeID string, force bool) (string, error)
	RecordEpisode(ctx context.Context, episodeID string) error
	CloseMatchChannel(ctx context.Context, channelID string) error
}

// Message is an incoming guild message.
type Message struct {
	GuildID   string
	ChannelID string
	ID        string
	Content   string
	RoleIDs   []string
}

// Commands serves `$sgl create <episode> [force]`, `$sgl record <episode>`
// and `$sgl smmclose` in the configured guild.
type Commands struct {
	client *Client
	ops    Operations
	// Roles are the role names allowed to create and record.
	Roles []string
}

// NewCommands binds the command set to ops.
func NewCommands(c *Client, ops Operations) *Commands {
	return &Commands{client: c, ops: ops, Roles: DefaultRoles}
}

func (c *Commands) reply(ctx context.Context, m Message, text string) {
	if err := c.client.SendChannel(ctx, m.ChannelID, text); err != nil {
		c.client.logger.Warn("command reply failed", slog.String("channel", m.ChannelID), slog.Any("err", err))
	}
}

// allowed reports whether any of roleIDs names one of c.Roles.
func (c *Commands) allowed(ctx context.Context, roleIDs []string) bool {
	if len(roleIDs) == 0 {
		return false
	}
	roles, err := c.client.api.GuildRoles(c.client.opts.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		c.client.logger.Warn("role lookup failed", slog.Any("err", err))
		return false
	}
	have := make(map[string]bool, len(roleIDs))
	for _, id := range roleIDs {
		have[id] = true
	}
	for _, r := range roles {
		if !have[r.ID] {
			continue
		}
		for _, name := range c.Roles {
			if r.Name == name {
				return true
			}
		}
	}
	return false
}

// Handle runs one message. Messages outside the guild or without the prefix are ignored.
func (c *Commands) Handle(ctx context.Context, m Message) {
	if m.GuildID == "" || m.GuildID != c.client.opts.GuildID {
		return
	}
	fields := strings.Fields(m.Content)
	if len(fields) < 2 || fields[0] != Prefix {
		return
	}
	log := c.client.logger.With(slog.String("command", fields[1]), slog.String("channel", m.ChannelID))
	args := fields[2:]

	switch fields[1] {
	case "create":
		if !c.allowed(ctx, m.RoleIDs) {
			c.reply(ctx, m, "You do not have permission to run this command.")
			return
		}
		if len(args) == 0 {
			c.reply(ctx, m, "Usage: $sgl create <episode_id> [force]")
			return
		}
		if _, err := strconv.Atoi(args[0]); err != nil {
			c.reply(ctx, m, fmt.Sprintf("%q is not an episode id.", args[0]))
			return
		}
		force := false
		if len(args) > 1 {
			v, ok := parseForce(args[1])
			if !ok {
				c.reply(ctx, m, "Usage: $sgl create <episode_id> [force]")
				return
			}
			force = v
		}
		ref, err := c.ops.CreateRoom(ctx, args[0], force)
		if err != nil {
			log.Warn("create failed", slog.String("episode_id", args[0]), slog.Any("err", err))
			c.reply(ctx, m, err.Error())
			return
		}
		c.reply(ctx, m, "Room for episode "+args[0]+": "+ref)
	case "record":
		if !c.allowed(ctx, m.RoleIDs) {
			c.reply(ctx, m, "You do not have permission to run this command.")
			return
		}
		if len(args) == 0 {
			c.reply(ctx, m, "Usage: $sgl record <episode_id>")
			return
		}
		if err := c.ops.RecordEpisode(ctx, args[0]); err != nil {
			log.Warn("record failed", slog.String("episode_id", args[0]), slog.Any("err", err))
			c.reply(ctx, m, err.Error())
			return
		}
		c.reply(ctx, m, "Recorded episode "+args[0]+".")
	case "smmclose":
		err := c.ops.CloseMatchChannel(ctx, m.ChannelID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// Only active match channels can be closed.
		case err != nil:
			log.Warn("smmclose failed", slog.Any("err", err))
			c.reply(ctx, m, err.Error())
		}
	}
}

// parseForce reads the optional create flag: "force" or a boolean.
func parseForce(s string) (bool, bool) {
	if strings.EqualFold(s, "force") {
		return true, true
	}
	v, err := strconv.ParseBool(s)
	return v, err == nil
}
