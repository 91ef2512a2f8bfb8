package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/sahasrahbot/sglbot/racetime"
	"github.com/sahasrahbot/sglbot/store"
)

const introText = "Hi!  I'm SahasrahBot, your friendly robotic elder and randomizer seed roller! Use !sglrace to roll this room's game, or !cancel to clear it."

// RoomHandler connects racetime room events to the orchestrator.
type RoomHandler struct {
	o *Orchestrator
	// Quiet suppresses the intro message (debug deployments).
	Quiet bool
}

// RoomHandler returns the racetime handler for SGL rooms.
func (o *Orchestrator) RoomHandler(quiet bool) *RoomHandler {
	return &RoomHandler{o: o, Quiet: quiet}
}

var _ racetime.Handler = (*RoomHandler)(nil)

func (h *RoomHandler) RaceData(ctx context.Context, room *racetime.Room, data racetime.RaceData) {
	h.handleData(ctx, room, data.Status.Value)
}

// onceChat is the part of a room the handler needs beyond RoomChat.
type onceChat interface {
	RoomChat
	Once(key string) bool
}

func (h *RoomHandler) handleData(ctx context.Context, room onceChat, status string) {
	log := h.o.log(ctx).With(slog.String("room", room.Name()))
	switch status {
	case racetime.StatusOpen, racetime.StatusInvitational:
		if !h.Quiet && room.Once("intro") {
			h.o.say(ctx, room, introText)
		}
	case racetime.StatusInProgress:
		if !room.Once("started") {
			return
		}
		if h.needsRoll(ctx, room.Name()) {
			var dup *DuplicateSeedError
			if err := h.o.GenerateSeedAndAnnounce(ctx, room); err != nil && !errors.As(err, &dup) {
				log.Error("roll at race start failed", slog.Any("err", err))
			}
		}
		if err := h.o.MarkStarted(ctx, room); err != nil {
			log.Error("could not mark race started", slog.Any("err", err))
		}
	}
}

// needsRoll reports whether a tracked room went in progress without a game.
func (h *RoomHandler) needsRoll(ctx context.Context, room string) bool {
	if h.o.Rolled(room) {
		return false
	}
	rec, err := h.o.rooms.FindActive(ctx, room)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.o.log(ctx).Warn("record lookup failed", slog.String("room", room), slog.Any("err", err))
		}
		return false
	}
	return !rec.HasSeed() && rec.Status == store.StatusCreated
}

func (h *RoomHandler) ChatMessage(ctx context.Context, room *racetime.Room, msg racetime.ChatMessage) {
	h.handleCommand(ctx, room, msg.Message)
}

func (h *RoomHandler) handleCommand(ctx context.Context, room RoomChat, text string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}
	var err error
	switch strings.ToLower(fields[0]) {
	case "!sglrace":
		err = h.o.GenerateSeedAndAnnounce(ctx, room)
	case "!cancel":
		err = h.o.Cancel(ctx, room)
	default:
		return
	}
	if err != nil {
		h.o.log(ctx).Info("room command failed", slog.String("room", room.Name()), slog.String("command", fields[0]), slog.Any("err", err))
	}
}
