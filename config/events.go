package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed events.yaml
var defaultEvents []byte

// Platform is where an event's matches are played out.
type Platform string

const (
	PlatformRacetime Platform = "racetime"
	PlatformDiscord  Platform = "discord"
)

// Event is one row of the static event table.
type Event struct {
	Slug string `yaml:"slug"`
	// Goal is the racetime.gg goal id used when opening rooms.
	Goal  int    `yaml:"goal"`
	Sheet string `yaml:"sheet"`
	// Delay is the stream delay in minutes.
	Delay    int      `yaml:"delay"`
	Bo3      bool     `yaml:"bo3"`
	Platform Platform `yaml:"platform"`
	// Generator names the seed generator kind; Params are passed to it verbatim.
	Generator string            `yaml:"generator"`
	Params    map[string]string `yaml:"params"`
	// Debug events are the only ones scanned when DEBUG=1.
	Debug bool `yaml:"debug"`
}

// Events is the event table keyed by slug.
type Events map[string]Event

type eventsFile struct {
	Events []Event `yaml:"events"`
}

// LoadEvents parses the event table from path, or the embedded table when path is empty.
func LoadEvents(path string) (Events, error) {
	data := defaultEvents
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read events file: %w", err)
		}
		data = b
	}
	return ParseEvents(data)
}

// ParseEvents decodes a YAML event table. Slugs must be unique and platforms known.
func ParseEvents(data []byte) (Events, error) {
	var f eventsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse events: %w", err)
	}
	out := make(Events, len(f.Events))
	for _, ev := range f.Events {
		if ev.Slug == "" {
			return nil, fmt.Errorf("parse events: entry without slug")
		}
		if _, dup := out[ev.Slug]; dup {
			return nil, fmt.Errorf("parse events: duplicate slug %q", ev.Slug)
		}
		switch ev.Platform {
		case "":
			ev.Platform = PlatformRacetime
		case PlatformRacetime, PlatformDiscord:
		default:
			return nil, fmt.Errorf("parse events: %s: unknown platform %q", ev.Slug, ev.Platform)
		}
		if ev.Generator == "" {
			ev.Generator = "none"
		}
		out[ev.Slug] = ev
	}
	return out, nil
}

// Lookup returns the event for slug.
func (e Events) Lookup(slug string) (Event, bool) {
	ev, ok := e[slug]
	return ev, ok
}

// Slugs returns the scannable slugs in stable order.
func (e Events) Slugs(debug bool) []string {
	out := make([]string, 0, len(e))
	for slug, ev := range e {
		if ev.Debug != debug {
			continue
		}
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}
