// Package seedgen produces the playable content for a race: randomizer seeds,
// bingo rooms, pooled patches or match spreadsheets. Each event is bound to one
// Generator at startup through a Registry.
package seedgen

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/sahasrahbot/sglbot/config"
)

// Request carries what a generator may need to know about the match.
type Request struct {
	EpisodeID string
	EventName string
	Versus    string
	// Players are display names in schedule order.
	Players []string
}

// Seed is a generated game.
type Seed struct {
	SeedID    string
	Permalink string
	// Password is set for content that is joined with a passphrase (bingo rooms).
	Password string
	// GoalSuffix is appended to the race info line.
	GoalSuffix string
	// SpoilerURL and StudySeconds are set when the race owes a spoiler log study.
	SpoilerURL   string
	StudySeconds int
}

// Empty reports whether nothing was generated (events without a generator).
func (s *Seed) Empty() bool { return s == nil || (s.SeedID == "" && s.Permalink == "") }

// Generator produces a seed. Implementations call at most one external service
// per attempt and return errors rather than block past ctx.
type Generator interface {
	Kind() string
	Generate(ctx context.Context, req Request) (*Seed, error)
}

// CardRefresher is implemented by generators whose content is re-dealt when the race starts.
type CardRefresher interface {
	NewCard(ctx context.Context, roomID, password string) error
}

// PatchSource hands out pre-generated patches.
type PatchSource interface {
	Draw(ctx context.Context, pool string) (string, error)
}

// Deps are the shared collaborators passed to generator constructors.
type Deps struct {
	HTTPClient  *http.Client
	OOTRAPIKey  string
	Patches     PatchSource
	Spreadsheet TemplateCopier
	SMM2        SMM2Config
	// Rand seeds local generators; defaults to a time-seeded source.
	Rand *rand.Rand
	// Retry bounds attempts per Generate call. Zero means 3.
	MaxTries uint
}

func (d Deps) http() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return &http.Client{Timeout: 45 * time.Second}
}

func (d Deps) rand() *rand.Rand {
	if d.Rand != nil {
		return d.Rand
	}
	return rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5347_4c32_3032_30))
}

func (d Deps) maxTries() uint {
	if d.MaxTries == 0 {
		return 3
	}
	return d.MaxTries
}

// Registry maps event slugs to generators.
type Registry map[string]Generator

// Lookup returns the generator for slug.
func (r Registry) Lookup(slug string) (Generator, bool) {
	g, ok := r[slug]
	return g, ok
}

// Build resolves every event's generator kind once. Unknown kinds fail startup.
func Build(events config.Events, deps Deps) (Registry, error) {
	reg := make(Registry, len(events))
	for slug, ev := range events {
		g, err := New(ev.Generator, ev.Params, deps)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", slug, err)
		}
		reg[slug] = g
	}
	return reg, nil
}

// New constructs a generator of the given kind.
func New(kind string, params map[string]string, deps Deps) (Generator, error) {
	p := Params(params)
	switch kind {
	case "none", "":
		return None{}, nil
	case "alttpr":
		return &ALTTPR{BaseURL: p.Get("base_url", "https://alttpr.com"), Preset: p.Get("preset", "openboots"),
			Hints: p.Bool("hints"), AllowQuickswap: p.Bool("allow_quickswap"), deps: deps}, nil
	case "smz3":
		return &SMZ3{BaseURL: p.Get("base_url", "https://samus.link"), Preset: p.Get("preset", "normal"), deps: deps}, nil
	case "ootr":
		return &OOTR{BaseURL: p.Get("base_url", "https://ootrandomizer.com"), APIKey: deps.OOTRAPIKey,
			Settings: p.Get("settings", "tournament"), deps: deps}, nil
	case "bingosync":
		return &Bingosync{BaseURL: p.Get("base_url", "https://bingosync.com"), GameType: p.Int("game_type", 45),
			VariantType: p.Int("variant_type", 45), LockoutMode: p.Int("lockout_mode", 1), deps: deps}, nil
	case "ffr", "z1r", "smb3r", "aosr":
		return newLocal(kind, p, deps)
	case "patchpool":
		if deps.Patches == nil {
			return nil, fmt.Errorf("patchpool generator requires a patch source")
		}
		return &PatchPool{Pool: p.Get("pool", "sgldash"), URL: p.Get("url", "https://sgldash.synack.live/?patch="), source: deps.Patches}, nil
	case "smm2":
		return &SMM2{cfg: deps.SMM2, sheets: deps.Spreadsheet}, nil
	}
	return nil, fmt.Errorf("unsupported generator kind %q", kind)
}

// Params is the event's generator parameter map.
type Params map[string]string

func (p Params) Get(key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return def
}

func (p Params) Bool(key string) bool {
	b, _ := strconv.ParseBool(p[key])
	return b
}

func (p Params) Int(key string, def int) int {
	if n, err := strconv.Atoi(p[key]); err == nil {
		return n
	}
	return def
}

// retry runs a create call with exponential backoff. Only failures that are
// RetrySafe are repeated; anything the service may have acted on is returned
// at once and left to the next roll.
func retry[T any](ctx context.Context, deps Deps, kind string, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !RetrySafe(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(deps.maxTries()),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("seed service call failed; retrying",
				slog.String("generator", kind), slog.Any("err", err), slog.Duration("next", next),
				slog.String("component", "seedgen"))
		}),
	)
}

// None is bound to events that are played without generated content.
type None struct{}

func (None) Kind() string { return "none" }

func (None) Generate(context.Context, Request) (*Seed, error) { return &Seed{}, nil }
