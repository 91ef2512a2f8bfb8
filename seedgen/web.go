package seedgen

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ALTTPR rolls A Link to the Past Randomizer seeds on alttpr.com.
type ALTTPR struct {
	BaseURL        string
	Preset         string
	Hints          bool
	AllowQuickswap bool
	deps           Deps
}

func (g *ALTTPR) Kind() string { return "alttpr" }

// alttprPresets holds the race settings for the presets events may name.
var alttprPresets = map[string]map[string]any{
	"openboots": {
		"glitches": "none", "item_placement": "advanced", "dungeon_items": "standard",
		"accessibility": "items", "goal": "ganon", "crystals": map[string]string{"ganon": "7", "tower": "7"},
		"mode": "open", "entrances": "none", "weapons": "randomized",
		"item": map[string]string{"pool": "normal", "functionality": "normal"},
		"enemizer": map[string]string{"boss_shuffle": "none", "enemy_shuffle": "none", "enemy_damage": "default", "enemy_health": "default"},
		"pseudoboots": true,
	},
	"standard": {
		"glitches": "none", "item_placement": "advanced", "dungeon_items": "standard",
		"accessibility": "items", "goal": "ganon", "crystals": map[string]string{"ganon": "7", "tower": "7"},
		"mode": "standard", "entrances": "none", "weapons": "randomized",
		"item": map[string]string{"pool": "normal", "functionality": "normal"},
		"enemizer": map[string]string{"boss_shuffle": "none", "enemy_shuffle": "none", "enemy_damage": "default", "enemy_health": "default"},
	},
}

// hashCodeOffset is where the file select code lives in the patched ROM.
const hashCodeOffset = 0x180215

var hashCodeNames = [...]string{
	"Bow", "Boomerang", "Hookshot", "Bomb", "Mushroom", "Powder", "Ice Rod", "Pendant",
	"Bombos", "Ether", "Quake", "Lamp", "Hammer", "Shovel", "Flute", "Bugnet",
	"Book", "Empty Bottle", "Green Potion", "Somaria", "Cape", "Mirror", "Boots", "Gloves",
	"Flippers", "Moon Pearl", "Shield", "Tunic", "Heart", "Map", "Compass", "Big Key",
}

// hashCode extracts the five file select icons from the patch list.
func hashCode(patch []map[string][]int) []string {
	for _, p := range patch {
		for off, bytes := range p {
			start, err := strconv.Atoi(off)
			if err != nil || start > hashCodeOffset || start+len(bytes) < hashCodeOffset+5 {
				continue
			}
			code := make([]string, 0, 5)
			for _, b := range bytes[hashCodeOffset-start : hashCodeOffset-start+5] {
				if b < 0 || b >= len(hashCodeNames) {
					return nil
				}
				code = append(code, hashCodeNames[b])
			}
			return code
		}
	}
	return nil
}

func (g *ALTTPR) Generate(ctx context.Context, req Request) (*Seed, error) {
	preset, ok := alttprPresets[g.Preset]
	if !ok {
		return nil, fmt.Errorf("alttpr: preset %q not found", g.Preset)
	}
	settings := make(map[string]any, len(preset)+4)
	for k, v := range preset {
		settings[k] = v
	}
	settings["hints"] = "off"
	if g.Hints {
		settings["hints"] = "on"
	}
	settings["allow_quickswap"] = g.AllowQuickswap
	settings["tournament"] = true
	settings["spoilers"] = "off"
	settings["lang"] = "en"

	type response struct {
		Hash  string             `json:"hash"`
		Patch []map[string][]int `json:"patch"`
	}
	resp, err := retry(ctx, g.deps, g.Kind(), func() (*response, error) {
		var r response
		if err := doJSON(ctx, g.deps.http(), "alttpr", http.MethodPost, g.BaseURL+"/api/randomizer", settings, &r); err != nil {
			return nil, err
		}
		if r.Hash == "" {
			return nil, &ServiceError{Service: "alttpr", Err: fmt.Errorf("response without hash")}
		}
		return &r, nil
	})
	if err != nil {
		return nil, err
	}
	url := g.BaseURL + "/h/" + resp.Hash
	suffix := " - " + url
	if code := hashCode(resp.Patch); len(code) > 0 {
		suffix += " - (" + strings.Join(code, "/") + ")"
	}
	return &Seed{SeedID: resp.Hash, Permalink: url, GoalSuffix: suffix}, nil
}

// SMZ3 rolls combo randomizer seeds on samus.link.
type SMZ3 struct {
	BaseURL string
	Preset  string
	deps    Deps
}

func (g *SMZ3) Kind() string { return "smz3" }

var smz3Presets = map[string]map[string]string{
	"normal": {"smlogic": "normal", "goal": "defeatboth", "swordlocation": "randomized", "morphlocation": "randomized"},
	"hard":   {"smlogic": "hard", "goal": "defeatboth", "swordlocation": "randomized", "morphlocation": "randomized"},
}

func (g *SMZ3) Generate(ctx context.Context, req Request) (*Seed, error) {
	preset, ok := smz3Presets[g.Preset]
	if !ok {
		return nil, fmt.Errorf("smz3: preset %q not found", g.Preset)
	}
	body := map[string]string{"race": "true", "gamemode": "normal", "players": "1", "seed": ""}
	for k, v := range preset {
		body[k] = v
	}
	type response struct {
		GUID string `json:"guid"`
		Slug string `json:"slug"`
		Hash string `json:"hash"`
	}
	resp, err := retry(ctx, g.deps, g.Kind(), func() (*response, error) {
		var r response
		if err := doJSON(ctx, g.deps.http(), "smz3", http.MethodPost, g.BaseURL+"/api/randomizers/smz3/generate", body, &r); err != nil {
			return nil, err
		}
		if r.GUID == "" && r.Slug == "" {
			return nil, &ServiceError{Service: "smz3", Err: fmt.Errorf("response without seed id")}
		}
		return &r, nil
	})
	if err != nil {
		return nil, err
	}
	id := resp.Slug
	if id == "" {
		id = resp.GUID
	}
	url := g.BaseURL + "/seed/" + id
	suffix := " - " + url
	if resp.Hash != "" {
		suffix += " - (" + resp.Hash + ")"
	}
	return &Seed{SeedID: id, Permalink: url, GoalSuffix: suffix}, nil
}
