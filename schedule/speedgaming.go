// Package schedule reads the SpeedGaming broadcast schedule: single episode lookups
// and per-event upcoming episode windows.
package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// FlexString accepts a JSON string, number or null. SpeedGaming returns ids in both forms.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("unexpected id value %s", b)
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// Person is a player, commentator or tracker entry on an episode.
type Person struct {
	DisplayName   string     `json:"displayName"`
	PublicStream  string     `json:"publicStream"`
	StreamingFrom string     `json:"streamingFrom"`
	DiscordID     FlexString `json:"discordId"`
	DiscordTag    string     `json:"discordTag"`
	Approved      bool       `json:"approved"`
}

// Episode is one scheduled match.
type Episode struct {
	ID    FlexString `json:"id"`
	Event struct {
		Slug string `json:"slug"`
		Name string `json:"name"`
	} `json:"event"`
	Match1 struct {
		Players []Person `json:"players"`
	} `json:"match1"`
	Commentators []Person `json:"commentators"`
	Trackers     []Person `json:"trackers"`
	Channels     []struct {
		Name string `json:"name"`
	} `json:"channels"`
	When          time.Time `json:"when"`
	WhenCountdown time.Time `json:"whenCountdown"`
}

// Client talks to the SpeedGaming public API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *Client) base() string {
	if c.BaseURL == "" {
		return "https://speedgaming.org"
	}
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+path, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return fmt.Errorf("speedgaming %s: %w", path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err), slog.String("component", "schedule"))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("speedgaming %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("speedgaming %s: decode: %w", path, err)
	}
	return nil
}

// GetEpisode fetches a single episode by id.
func (c *Client) GetEpisode(ctx context.Context, id string) (*Episode, error) {
	if _, err := strconv.Atoi(id); err != nil {
		return nil, fmt.Errorf("invalid episode id %q", id)
	}
	var ep Episode
	if err := c.get(ctx, "/api/episode", map[string]string{"id": id}, &ep); err != nil {
		return nil, err
	}
	if ep.ID == "" {
		return nil, fmt.Errorf("speedgaming: episode %s not found", id)
	}
	return &ep, nil
}

// Upcoming lists the event's episodes scheduled within [from, to].
func (c *Client) Upcoming(ctx context.Context, event string, from, to time.Time) ([]Episode, error) {
	var eps []Episode
	err := c.get(ctx, "/api/schedule", map[string]string{
		"event": event,
		"from":  from.UTC().Format(time.RFC3339),
		"to":    to.UTC().Format(time.RFC3339),
	}, &eps)
	if err != nil {
		return nil, err
	}
	return eps, nil
}

// Window returns the scan bounds for an event: hoursPast before now through
// lookahead plus the stream delay after now.
func Window(now time.Time, hoursPast float64, lookahead time.Duration, delayMinutes int) (time.Time, time.Time) {
	from := now.Add(-time.Duration(hoursPast * float64(time.Hour)))
	to := now.Add(lookahead + time.Duration(delayMinutes)*time.Minute)
	return from, to
}
