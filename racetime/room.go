package racetime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ChatMessage is an incoming chat.message frame.
type ChatMessage struct {
	Message  string `json:"message"`
	IsBot    bool   `json:"is_bot"`
	IsSystem bool   `json:"is_system"`
	User     *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
}

// Handler reacts to room events. Calls for one room are sequential.
type Handler interface {
	RaceData(ctx context.Context, room *Room, data RaceData)
	ChatMessage(ctx context.Context, room *Room, msg ChatMessage)
}

// Room is a live websocket connection to one race room.
type Room struct {
	name   string
	client *Client
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu    sync.Mutex
	data  RaceData
	flags map[string]bool
}

// Name returns the room name ("sgl/slug-1234").
func (r *Room) Name() string { return r.name }

// URL returns the room's public URL.
func (r *Room) URL() string { return r.client.RoomURL(r.name) }

// Data returns the latest race data received.
func (r *Room) Data() RaceData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data
}

// Once reports true the first time it is called with key for this room.
func (r *Room) Once(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flags[key] {
		return false
	}
	r.flags[key] = true
	return true
}

// Reset clears a Once flag.
func (r *Room) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flags, key)
}

type action struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`
}

func (r *Room) send(ctx context.Context, a action) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = r.conn.SetWriteDeadline(deadline)
	} else {
		_ = r.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	if err := r.conn.WriteJSON(a); err != nil {
		return fmt.Errorf("racetime %s %s: %w", r.name, a.Action, err)
	}
	return nil
}

// SendMessage posts a chat message as the bot.
func (r *Room) SendMessage(ctx context.Context, msg string) error {
	return r.send(ctx, action{Action: "message", Data: map[string]any{"message": msg, "guid": uuid.NewString()}})
}

// SetInfo overwrites the bot-controlled race info line.
func (r *Room) SetInfo(ctx context.Context, info string) error {
	return r.send(ctx, action{Action: "setinfo", Data: map[string]any{"info_bot": info}})
}

// Dial connects to a room's bot websocket.
func (c *Client) Dial(ctx context.Context, room string) (*Room, error) {
	tok, err := c.accessToken()
	if err != nil {
		return nil, err
	}
	u := c.wsURL(room) + "?token=" + url.QueryEscape(tok)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+tok)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("racetime dial %s: %w", room, err)
	}
	return &Room{
		name:   strings.Trim(room, "/"),
		client: c,
		conn:   conn,
		flags:  make(map[string]bool),
		logger: slog.Default().With(slog.String("component", "racetime"), slog.String("room", room)),
	}, nil
}

type frame struct {
	Type    string          `json:"type"`
	Race    json.RawMessage `json:"race"`
	Message json.RawMessage `json:"message"`
	Errors  []string        `json:"errors"`
}

// Run reads frames until the race ends, the connection drops or ctx is done.
func (r *Room) Run(ctx context.Context, h Handler) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = r.conn.Close()
		case <-done:
		}
	}()
	defer func() { _ = r.conn.Close() }()

	for {
		var f frame
		if err := r.conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("racetime read %s: %w", r.name, err)
		}
		switch f.Type {
		case "race.data":
			var d RaceData
			if err := json.Unmarshal(f.Race, &d); err != nil {
				r.logger.Warn("bad race.data frame", slog.Any("err", err))
				continue
			}
			r.mu.Lock()
			r.data = d
			r.mu.Unlock()
			h.RaceData(ctx, r, d)
			if d.Status.Value == StatusFinished || d.Status.Value == StatusCancelled {
				r.logger.Info("leaving race room", slog.String("status", d.Status.Value))
				return nil
			}
		case "chat.message":
			var m ChatMessage
			if err := json.Unmarshal(f.Message, &m); err != nil {
				continue
			}
			if m.IsBot || m.IsSystem {
				continue
			}
			h.ChatMessage(ctx, r, m)
		case "error":
			r.logger.Warn("racetime reported errors", slog.Any("errors", f.Errors))
			_ = r.SendMessage(ctx, "Command raised exception: "+strings.Join(f.Errors, ","))
		}
	}
}
