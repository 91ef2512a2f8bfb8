// Package orchestrator drives a race room through its lifecycle: room creation,
// a single seed roll, race start, and recording of the result. Every external
// side effect is guarded by the persisted room record so restarts and repeated
// commands do not duplicate work.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sahasrahbot/sglbot/config"
	"github.com/sahasrahbot/sglbot/countdown"
	"github.com/sahasrahbot/sglbot/seedgen"
	"github.com/sahasrahbot/sglbot/store"
	"github.com/sahasrahbot/sglbot/telemetry"
)

// Settings are the channel ids and limits the orchestrator runs with.
type Settings struct {
	AuditChannelID     string
	VolunteerChannelID string
	AdminChannelID     string
	AuditMentionUserID string
	ResultsSheetID     string
	SeedTimeout        time.Duration
	MaxConcurrentSeeds int
	// CloseDelay is the warning period before a match channel is closed.
	CloseDelay time.Duration
}

// Deps are the orchestrator's collaborators. Notifier, Channels and Results may
// be nil when the corresponding platform is not configured.
type Deps struct {
	Events   config.Events
	Races    RaceBuilder
	Rooms    store.Rooms
	Spoilers store.Spoilers
	Racetime RoomService
	Seeds    seedgen.Registry
	Notifier Notifier
	Channels MatchChannels
	Results  ResultSink
	Clock    countdown.Clock
}

// Orchestrator is safe for concurrent use by scan jobs and chat handlers.
type Orchestrator struct {
	cfg      Settings
	events   config.Events
	races    RaceBuilder
	rooms    store.Rooms
	spoilers store.Spoilers
	rt       RoomService
	seeds    seedgen.Registry
	notify   Notifier
	channels MatchChannels
	results  ResultSink
	clock    countdown.Clock

	slots chan struct{}

	mu       sync.Mutex
	rolled   map[string]bool
	inflight map[string]bool
	creating map[string]chan struct{}
	// countdowns holds the running study countdown per room.
	countdowns map[string]*runningCountdown

	wg sync.WaitGroup
}

// New wires an orchestrator. Zero limits take their defaults.
func New(cfg Settings, d Deps) *Orchestrator {
	if cfg.SeedTimeout <= 0 {
		cfg.SeedTimeout = time.Minute
	}
	if cfg.MaxConcurrentSeeds <= 0 {
		cfg.MaxConcurrentSeeds = 2
	}
	if cfg.CloseDelay <= 0 {
		cfg.CloseDelay = 10 * time.Second
	}
	clk := d.Clock
	if clk == nil {
		clk = countdown.RealClock
	}
	spoilers := d.Spoilers
	if spoilers == nil {
		spoilers = store.NewMemorySpoilers()
	}
	return &Orchestrator{
		cfg:      cfg,
		events:   d.Events,
		races:    d.Races,
		rooms:    d.Rooms,
		spoilers: spoilers,
		rt:       d.Racetime,
		seeds:    d.Seeds,
		notify:   d.Notifier,
		channels: d.Channels,
		results:  d.Results,
		clock:    clk,
		slots:    make(chan struct{}, cfg.MaxConcurrentSeeds),
		rolled:   make(map[string]bool),
		inflight: make(map[string]bool),
		creating: make(map[string]chan struct{}),

		countdowns: make(map[string]*runningCountdown),
	}
}

func (o *Orchestrator) log(ctx context.Context) *slog.Logger {
	return telemetry.LoggerWithCorr(ctx).With("component", "orchestrator")
}

// acquireSlot blocks until a seed slot is free or ctx is done.
func (o *Orchestrator) acquireSlot(ctx context.Context) bool {
	select {
	case o.slots <- struct{}{}:
		telemetry.AddSeedSlots(1)
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) releaseSlot() {
	select {
	case <-o.slots:
		telemetry.AddSeedSlots(-1)
	default:
		slog.Warn("seed slot release called without corresponding acquire", slog.String("component", "orchestrator"))
	}
}

// claim reserves room for a roll; false when it is rolled or already rolling.
func (o *Orchestrator) claim(room string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rolled[room] || o.inflight[room] {
		return false
	}
	o.inflight[room] = true
	return true
}

// settle ends a claim, marking the room rolled on success.
func (o *Orchestrator) settle(room string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, room)
	if ok {
		o.rolled[room] = true
	}
}

// lockEpisode serializes room creation per episode. A second caller waits for
// the first to finish and then sees its record.
func (o *Orchestrator) lockEpisode(ctx context.Context, episodeID string) (func(), error) {
	for {
		o.mu.Lock()
		busy, ok := o.creating[episodeID]
		if !ok {
			done := make(chan struct{})
			o.creating[episodeID] = done
			o.mu.Unlock()
			return func() {
				o.mu.Lock()
				delete(o.creating, episodeID)
				o.mu.Unlock()
				close(done)
			}, nil
		}
		o.mu.Unlock()
		select {
		case <-busy:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Rolled reports whether room was rolled by this process.
func (o *Orchestrator) Rolled(room string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rolled[room]
}

func (o *Orchestrator) forget(room string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.rolled, room)
}

func (o *Orchestrator) eventFor(slug string) (config.Event, bool) {
	return o.events.Lookup(slug)
}

// Wait blocks until background countdowns and delayed channel closes have returned.
func (o *Orchestrator) Wait() { o.wg.Wait() }
