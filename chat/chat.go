package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// Operations are the orchestrator calls reachable from chat.
type Operations interface {
	CreateRoom(ctx context.Context, episodeID string, force bool) (string, error)
	RecordEpisode(ctx context.Context, episodeID string) error
}

// Credentials identify the bot on IRC.
type Credentials struct {
	Channel  string
	Username string
	OAuth    string
}

// isOperator reports whether the sender may run commands.
func isOperator(badges map[string]int) bool {
	return badges["broadcaster"] > 0 || badges["moderator"] > 0
}

// handle runs one chat line and returns the reply, or "" when the line is not a command.
func handle(ctx context.Context, ops Operations, badges map[string]int, text string) string {
	fields := strings.Fields(text)
	if len(fields) < 2 || fields[0] != "!sgl" || !isOperator(badges) {
		return ""
	}
	args := fields[2:]
	switch fields[1] {
	case "create":
		if len(args) == 0 {
			return "usage: !sgl create <episode> [force]"
		}
		force := false
		if len(args) > 1 {
			var ok bool
			if force, ok = parseForce(args[1]); !ok {
				return "usage: !sgl create <episode> [force]"
			}
		}
		ref, err := ops.CreateRoom(ctx, args[0], force)
		if err != nil {
			return fmt.Sprintf("could not create episode %s: %v", args[0], err)
		}
		return fmt.Sprintf("episode %s: %s", args[0], ref)
	case "record":
		if len(args) == 0 {
			return "usage: !sgl record <episode>"
		}
		if err := ops.RecordEpisode(ctx, args[0]); err != nil {
			return fmt.Sprintf("could not record episode %s: %v", args[0], err)
		}
		return fmt.Sprintf("episode %s recorded", args[0])
	}
	return ""
}

// parseForce accepts the word "force" or any strconv.ParseBool value.
func parseForce(s string) (bool, bool) {
	if strings.EqualFold(s, "force") {
		return true, true
	}
	v, err := strconv.ParseBool(s)
	return v, err == nil
}

// StartOperatorChannel connects to the channel and serves commands until ctx is done.
func StartOperatorChannel(ctx context.Context, creds Credentials, ops Operations) {
	if creds.Channel == "" || creds.Username == "" || creds.OAuth == "" {
		slog.Info("twitch creds not set; skipping operator channel", slog.String("component", "chat"))
		return
	}
	log := slog.Default().With(slog.String("component", "chat"), slog.String("channel", creds.Channel))
	oauth := creds.OAuth
	if !strings.HasPrefix(oauth, "oauth:") {
		oauth = "oauth:" + oauth
	}
	client := twitch.NewClient(creds.Username, oauth)

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		reply := handle(ctx, ops, msg.User.Badges, msg.Message)
		if reply == "" {
			return
		}
		log.Info("operator command", slog.String("user", msg.User.Name), slog.String("message", msg.Message))
		client.Reply(msg.Channel, msg.ID, reply)
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		_ = client.Disconnect()
		close(done)
	}()

	client.Join(creds.Channel)
	if err := client.Connect(); err != nil && ctx.Err() == nil {
		log.Error("twitch chat connect error", slog.Any("err", err))
	}
	<-done
}
