// Package racetime is a small racetime.gg bot client: it opens race rooms over the
// HTTP API, reads room data and keeps a websocket per room to chat and set race info.
package racetime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Client calls the racetime.gg HTTP API for one category.
type Client struct {
	BaseURL  string
	Category string
	// HTTPClient is used for unauthenticated reads; defaults to a 30s client.
	HTTPClient *http.Client

	tokens oauth2.TokenSource
	authed *http.Client
}

// NewClient returns a client authenticated with the bot's client credentials.
// The token source refreshes itself.
func NewClient(baseURL, category, clientID, clientSecret string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     baseURL + "/o/token",
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx := context.Background()
	c := &Client{BaseURL: baseURL, Category: category}
	c.tokens = cc.TokenSource(ctx)
	c.authed = oauth2.NewClient(ctx, c.tokens)
	c.authed.Timeout = 30 * time.Second
	return c
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// RoomURL is the public URL of a room ("sgl/name-1234").
func (c *Client) RoomURL(room string) string {
	return c.BaseURL + "/" + strings.TrimPrefix(room, "/")
}

// StartOptions configures a new race room.
type StartOptions struct {
	Goal                int
	CustomGoal          string
	Info                string
	Unlisted            bool
	Invitational        bool
	StartDelay          int // seconds
	TimeLimit           int // hours
	StreamingRequired   bool
	AutoStart           bool
	AllowComments       bool
	AllowMidraceChat    bool
	AllowNonEntrantChat bool
	ChatMessageDelay    int
}

func (o StartOptions) form() url.Values {
	v := url.Values{}
	if o.Goal != 0 {
		v.Set("goal", strconv.Itoa(o.Goal))
	}
	v.Set("custom_goal", o.CustomGoal)
	v.Set("info_bot", o.Info)
	v.Set("start_delay", strconv.Itoa(o.StartDelay))
	v.Set("time_limit", strconv.Itoa(o.TimeLimit))
	v.Set("chat_message_delay", strconv.Itoa(o.ChatMessageDelay))
	for k, on := range map[string]bool{
		"unlisted":               o.Unlisted,
		"invitational":           o.Invitational,
		"streaming_required":     o.StreamingRequired,
		"auto_start":             o.AutoStart,
		"allow_comments":         o.AllowComments,
		"allow_midrace_chat":     o.AllowMidraceChat,
		"allow_non_entrant_chat": o.AllowNonEntrantChat,
	} {
		if on {
			v.Set(k, "true")
		}
	}
	return v
}

// StartRace opens a room and returns its name ("sgl/slug-1234") taken from the Location header.
func (c *Client) StartRace(ctx context.Context, opts StartOptions) (string, error) {
	if c.authed == nil {
		return "", fmt.Errorf("racetime: client has no credentials")
	}
	endpoint := fmt.Sprintf("%s/o/%s/startrace", c.BaseURL, c.Category)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(opts.form().Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.authed.Do(req)
	if err != nil {
		return "", fmt.Errorf("racetime startrace: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err), slog.String("component", "racetime"))
		}
	}()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("racetime startrace: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("racetime startrace: response without Location header")
	}
	if u, err := url.Parse(loc); err == nil {
		loc = u.Path
	}
	return strings.Trim(loc, "/"), nil
}

// Entrant is a racer in a room.
type Entrant struct {
	User struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
	Status struct {
		Value string `json:"value"`
	} `json:"status"`
	Place      *int            `json:"place"`
	FinishTime json.RawMessage `json:"finish_time"`
}

// Finish returns the ISO 8601 finish time when the API sent a string.
func (e Entrant) Finish() (string, bool) {
	var s string
	if len(e.FinishTime) == 0 || json.Unmarshal(e.FinishTime, &s) != nil || s == "" {
		return "", false
	}
	return s, true
}

// RaceData is the room payload from /<room>/data and race.data websocket frames.
type RaceData struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Status struct {
		Value string `json:"value"`
	} `json:"status"`
	Goal struct {
		Name string `json:"name"`
	} `json:"goal"`
	Info            string    `json:"info"`
	Entrants        []Entrant `json:"entrants"`
	WebsocketBotURL string    `json:"websocket_bot_url"`
}

const (
	StatusOpen         = "open"
	StatusInvitational = "invitational"
	StatusPending      = "pending"
	StatusInProgress   = "in_progress"
	StatusFinished     = "finished"
	StatusCancelled    = "cancelled"
)

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return fmt.Errorf("racetime %s: %w", path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err), slog.String("component", "racetime"))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("racetime %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("racetime %s: decode: %w", path, err)
	}
	return nil
}

// RaceData fetches the public data of a room.
func (c *Client) RaceData(ctx context.Context, room string) (*RaceData, error) {
	var d RaceData
	if err := c.getJSON(ctx, "/"+strings.Trim(room, "/")+"/data", &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// RaceSummary is an entry of the category's current race list.
type RaceSummary struct {
	Name   string `json:"name"`
	Status struct {
		Value string `json:"value"`
	} `json:"status"`
}

// CurrentRaces lists the category's races that are not finished yet.
func (c *Client) CurrentRaces(ctx context.Context) ([]RaceSummary, error) {
	var body struct {
		CurrentRaces []RaceSummary `json:"current_races"`
	}
	if err := c.getJSON(ctx, "/"+c.Category+"/data", &body); err != nil {
		return nil, err
	}
	return body.CurrentRaces, nil
}

// accessToken returns a bot token for websocket connections.
func (c *Client) accessToken() (string, error) {
	if c.tokens == nil {
		return "", fmt.Errorf("racetime: client has no credentials")
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("racetime token: %w", err)
	}
	return tok.AccessToken, nil
}

func (c *Client) wsURL(room string) string {
	base := c.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/o/bot/" + roomSlug(room)
}

// roomSlug strips the category from a room name.
func roomSlug(room string) string {
	room = strings.Trim(room, "/")
	if i := strings.LastIndex(room, "/"); i >= 0 {
		return room[i+1:]
	}
	return room
}
