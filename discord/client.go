// Package discord adapts a discordgo session to the orchestrator's
// notification, member directory and match channel ports, and serves the
// $sgl operator commands.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sahasrahbot/sglbot/orchestrator"
	"github.com/sahasrahbot/sglbot/race"
)

// api is the slice of *discordgo.Session the client calls; tests substitute a fake.
type api interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMembersSearch(guildID, query string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelPermissionSet(channelID, targetID string, targetType discordgo.PermissionOverwriteType, allow, deny int64, options ...discordgo.RequestOption) error
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelEdit(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Options configure the guild the bot serves.
type Options struct {
	GuildID string
	// OpenCategoryID and ClosedCategoryID hold match channels while live and after closing.
	OpenCategoryID   string
	ClosedCategoryID string
}

// Client talks to one guild.
type Client struct {
	session *discordgo.Session
	api     api
	opts    Options
	logger  *slog.Logger
}

var (
	_ orchestrator.Notifier      = (*Client)(nil)
	_ orchestrator.MatchChannels = (*Client)(nil)
	_ race.Directory             = (*Client)(nil)
)

// New creates a bot session. The gateway is not connected until Run.
func New(token string, opts Options) (*Client, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers | discordgo.IntentsMessageContent
	return &Client{session: s, api: s, opts: opts, logger: slog.Default().With(slog.String("component", "discord"))}, nil
}

func (c *Client) SendChannel(ctx context.Context, channelID, text string) error {
	_, err := c.api.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	return err
}

func (c *Client) SendEmbed(ctx context.Context, channelID string, e orchestrator.Embed) error {
	_, err := c.api.ChannelMessageSendEmbed(channelID, toEmbed(e), discordgo.WithContext(ctx))
	return err
}

func (c *Client) DirectMessage(ctx context.Context, userID string, e orchestrator.Embed) error {
	ch, err := c.api.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open dm with %s: %w", userID, err)
	}
	_, err = c.api.ChannelMessageSendEmbed(ch.ID, toEmbed(e), discordgo.WithContext(ctx))
	return err
}

func toEmbed(e orchestrator.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{Title: e.Title, Description: e.Description, Color: e.Color}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return out
}

func toMember(m *discordgo.Member) *race.Member {
	if m == nil || m.User == nil {
		return nil
	}
	return &race.Member{ID: m.User.ID, Username: m.User.Username}
}

// MemberByID fetches a guild member.
func (c *Client) MemberByID(ctx context.Context, id string) (*race.Member, error) {
	m, err := c.api.GuildMember(c.opts.GuildID, id, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return toMember(m), nil
}

// errNoMember is returned when no member matches a name.
var errNoMember = errors.New("no guild member matches")

// MemberNamed resolves "name#1234" tags, usernames, global names and nicknames,
// case-insensitively.
func (c *Client) MemberNamed(ctx context.Context, name string) (*race.Member, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errNoMember
	}
	query, discrim, tagged := strings.Cut(name, "#")
	found, err := c.api.GuildMembersSearch(c.opts.GuildID, query, 25, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	for _, m := range found {
		if m.User == nil {
			continue
		}
		if tagged {
			if strings.EqualFold(m.User.Username, query) && m.User.Discriminator == discrim {
				return toMember(m), nil
			}
			continue
		}
		for _, n := range []string{m.User.Username, m.User.GlobalName, m.Nick} {
			if n != "" && strings.EqualFold(n, name) {
				return toMember(m), nil
			}
		}
	}
	return nil, fmt.Errorf("%w %q", errNoMember, name)
}

// CreateMatchChannel opens a text channel in the live category hidden from @everyone.
func (c *Client) CreateMatchChannel(ctx context.Context, name, topic string) (string, error) {
	ch, err := c.api.GuildChannelCreateComplex(c.opts.GuildID, discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildText,
		Topic:    topic,
		ParentID: c.opts.OpenCategoryID,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{{
			// The @everyone role shares the guild's id.
			ID:   c.opts.GuildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return ch.ID, nil
}

const memberAllow = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionReadMessageHistory

func (c *Client) GrantRead(ctx context.Context, channelID, userID string) error {
	return c.api.ChannelPermissionSet(channelID, userID, discordgo.PermissionOverwriteTypeMember, memberAllow, 0, discordgo.WithContext(ctx))
}

// CloseMatchChannel moves the channel to the closed category and syncs its
// permissions with that category.
func (c *Client) CloseMatchChannel(ctx context.Context, channelID string) error {
	if c.opts.ClosedCategoryID == "" {
		return errors.New("closed match category is not configured")
	}
	cat, err := c.api.Channel(c.opts.ClosedCategoryID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("fetch closed category: %w", err)
	}
	_, err = c.api.ChannelEdit(channelID, &discordgo.ChannelEdit{
		ParentID:             c.opts.ClosedCategoryID,
		PermissionOverwrites: cat.PermissionOverwrites,
	}, discordgo.WithContext(ctx))
	return err
}

func (c *Client) Mention(channelID string) string { return "<#" + channelID + ">" }

// Run connects to the gateway, serves cmds until ctx is done, then disconnects.
// A nil cmds only keeps the session open for notifications.
func (c *Client) Run(ctx context.Context, cmds *Commands) error {
	if cmds != nil {
		c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			if m.Author == nil || m.Author.Bot {
				return
			}
			var roles []string
			if m.Member != nil {
				roles = m.Member.Roles
			}
			cmds.Handle(ctx, Message{GuildID: m.GuildID, ChannelID: m.ChannelID, ID: m.ID, Content: m.Content, RoleIDs: roles})
		})
	}
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("discord gateway: %w", err)
	}
	c.logger.Info("discord connected", slog.String("guild", c.opts.GuildID))
	<-ctx.Done()
	c.logger.Info("discord disconnecting")
	return c.session.Close()
}
