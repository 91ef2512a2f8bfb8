package seedgen

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

//go:embed settings/*.json
var settingsFS embed.FS

// OOTR rolls Ocarina of Time Randomizer seeds through the ootrandomizer.com API.
type OOTR struct {
	BaseURL  string
	APIKey   string
	Settings string
	deps     Deps
}

func (g *OOTR) Kind() string { return "ootr" }

func loadSettings(name string) (map[string]any, error) {
	raw, err := settingsFS.ReadFile("settings/ootr_" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("ootr: settings %q not found", name)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("ootr: settings %q: %w", name, err)
	}
	return out, nil
}

func (g *OOTR) Generate(ctx context.Context, req Request) (*Seed, error) {
	if g.APIKey == "" {
		return nil, fmt.Errorf("ootr: OOTR_API_KEY not configured")
	}
	settings, err := loadSettings(g.Settings)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/api/v2/seed/create?key=%s&encrypt=true", g.BaseURL, url.QueryEscape(g.APIKey))
	type response struct {
		ID json.Number `json:"id"`
	}
	resp, err := retry(ctx, g.deps, g.Kind(), func() (*response, error) {
		var r response
		if err := doJSON(ctx, g.deps.http(), "ootr", http.MethodPost, endpoint, settings, &r); err != nil {
			return nil, err
		}
		if r.ID == "" {
			return nil, &ServiceError{Service: "ootr", Err: fmt.Errorf("response without seed id")}
		}
		return &r, nil
	})
	if err != nil {
		return nil, err
	}
	link := g.BaseURL + "/seed/get?id=" + resp.ID.String()
	return &Seed{SeedID: resp.ID.String(), Permalink: link, GoalSuffix: " - " + link}, nil
}
