package seedgen

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"

	petname "github.com/dustinkirkland/golang-petname"
)

const bingoNickname = "SahasrahBot"

// Bingosync opens lockout bingo rooms with a hidden card. The room password is
// the seed's Password; NewCard deals the visible card when the race starts.
type Bingosync struct {
	BaseURL     string
	GameType    int
	VariantType int
	LockoutMode int
	deps        Deps
}

func (g *Bingosync) Kind() string { return "bingosync" }

// session returns a client with its own cookie jar so CSRF tokens do not leak between rooms.
func (g *Bingosync) session() (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	base := g.deps.http()
	return &http.Client{Transport: base.Transport, Timeout: base.Timeout, Jar: jar}, nil
}

func (g *Bingosync) csrfToken(ctx context.Context, c *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"/", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.Do(req)
	if err != nil {
		return "", &ServiceError{Service: "bingosync", Err: err}
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return "", &ServiceError{Service: "bingosync", Status: resp.StatusCode, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	u, _ := url.Parse(g.BaseURL)
	for _, ck := range c.Jar.Cookies(u) {
		if ck.Name == "csrftoken" {
			return ck.Value, nil
		}
	}
	return "", &ServiceError{Service: "bingosync", Err: fmt.Errorf("no csrftoken cookie")}
}

func (g *Bingosync) Generate(ctx context.Context, req Request) (*Seed, error) {
	password := petname.Generate(3, "-")
	roomName := fmt.Sprintf("SpeedGamingLive 2020 - %s - %s", req.Versus, req.EpisodeID)

	roomID, err := retry(ctx, g.deps, g.Kind(), func() (string, error) {
		c, err := g.session()
		if err != nil {
			return "", unsent("bingosync", err)
		}
		token, err := g.csrfToken(ctx, c)
		if err != nil {
			return "", unsent("bingosync", err)
		}
		form := url.Values{
			"room_name":           {roomName},
			"passphrase":          {password},
			"nickname":            {bingoNickname},
			"game_type":           {strconv.Itoa(g.GameType)},
			"variant_type":        {strconv.Itoa(g.VariantType)},
			"lockout_mode":        {strconv.Itoa(g.LockoutMode)},
			"seed":                {""},
			"is_spectator":        {"on"},
			"hide_card":           {"on"},
			"csrfmiddlewaretoken": {token},
		}
		// The room id is in the redirect target; do not follow it.
		c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/", strings.NewReader(form.Encode()))
		if err != nil {
			return "", unsent("bingosync", err)
		}
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.Header.Set("Referer", g.BaseURL+"/")
		resp, err := c.Do(r)
		if err != nil {
			return "", &ServiceError{Service: "bingosync", Err: err, NotSent: dialFailed(err)}
		}
		defer closeBody(resp)
		loc := resp.Header.Get("Location")
		if resp.StatusCode/100 != 3 || loc == "" {
			return "", &ServiceError{Service: "bingosync", Status: resp.StatusCode, Err: fmt.Errorf("status %d: room not created", resp.StatusCode)}
		}
		id := loc[strings.LastIndex(strings.TrimSuffix(loc, "/"), "/")+1:]
		return strings.TrimSuffix(id, "/"), nil
	})
	if err != nil {
		return nil, err
	}
	link := g.BaseURL + "/room/" + roomID
	return &Seed{
		SeedID:     roomID,
		Permalink:  link,
		Password:   password,
		GoalSuffix: " - " + link + " - Password: " + password,
	}, nil
}

// NewCard joins the room as the bot and deals a fresh card that players can see.
func (g *Bingosync) NewCard(ctx context.Context, roomID, password string) error {
	c, err := g.session()
	if err != nil {
		return err
	}
	join := map[string]any{"room": roomID, "nickname": bingoNickname, "password": password}
	if err := doJSON(ctx, c, "bingosync", http.MethodPost, g.BaseURL+"/api/join-room", join, nil); err != nil {
		return err
	}
	card := map[string]any{
		"hide_card":    false,
		"game_type":    g.GameType,
		"variant_type": g.VariantType,
		"custom_json":  "",
		"lockout_mode": g.LockoutMode,
		"seed":         "",
		"room":         roomID,
	}
	return doJSON(ctx, c, "bingosync", http.MethodPut, g.BaseURL+"/api/new-card", card, nil)
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err), slog.String("component", "seedgen"))
	}
}
