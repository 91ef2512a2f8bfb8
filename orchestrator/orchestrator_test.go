package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sahasrahbot/sglbot/config"
	"github.com/sahasrahbot/sglbot/countdown"
	"github.com/sahasrahbot/sglbot/race"
	"github.com/sahasrahbot/sglbot/racetime"
	"github.com/sahasrahbot/sglbot/seedgen"
	"github.com/sahasrahbot/sglbot/store"
)

var testEvents = config.Events{
	"alttpr": {Slug: "alttpr", Goal: 1, Sheet: "alttpr", Delay: 20, Generator: "alttpr"},
	"smm2":   {Slug: "smm2", Sheet: "smm2", Platform: config.PlatformDiscord, Generator: "smm2"},
	"mmx":    {Slug: "mmx", Goal: 2, Sheet: "mmx", Bo3: true},
}

// fakeRaces serves canned races by episode id.
type fakeRaces struct {
	races map[string]*race.Race
	err   error
}

func (f *fakeRaces) Build(_ context.Context, episodeID string) (*race.Race, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.races[episodeID]
	if !ok {
		return nil, &race.UnknownEventError{EpisodeID: episodeID, Slug: "nope"}
	}
	cp := *r
	return &cp, nil
}

// fakeRT opens numbered rooms and reports whatever status a test set.
type fakeRT struct {
	mu      sync.Mutex
	started []racetime.StartOptions
	data    map[string]*racetime.RaceData
	err     error
	delay   time.Duration
}

func (f *fakeRT) StartRace(_ context.Context, opts racetime.StartOptions) (string, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.started = append(f.started, opts)
	room := fmt.Sprintf("sgl/room-%d", len(f.started))
	if f.data == nil {
		f.data = make(map[string]*racetime.RaceData)
	}
	f.data[room] = raceData(racetime.StatusOpen)
	return room, nil
}

func (f *fakeRT) RaceData(_ context.Context, room string) (*racetime.RaceData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.data[room]
	if !ok {
		return nil, errors.New("404")
	}
	return d, nil
}

func (f *fakeRT) RoomURL(room string) string { return "https://racetime.gg/" + room }

func (f *fakeRT) set(room string, d *racetime.RaceData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		f.data = make(map[string]*racetime.RaceData)
	}
	f.data[room] = d
}

func raceData(status string, entrants ...racetime.Entrant) *racetime.RaceData {
	d := &racetime.RaceData{Entrants: entrants}
	d.Status.Value = status
	return d
}

func entrant(name string, place *int, finish any) racetime.Entrant {
	var e racetime.Entrant
	e.User.Name = name
	e.Place = place
	e.FinishTime, _ = json.Marshal(finish)
	return e
}

func intp(n int) *int { return &n }

// fakeChat records room output.
type fakeChat struct {
	mu    sync.Mutex
	name  string
	msgs  []string
	info  string
	once  map[string]bool
	infoE error
}

func (c *fakeChat) Name() string { return c.name }

func (c *fakeChat) SendMessage(_ context.Context, msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeChat) SetInfo(_ context.Context, info string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info = info
	return c.infoE
}

func (c *fakeChat) Once(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.once == nil {
		c.once = make(map[string]bool)
	}
	if c.once[key] {
		return false
	}
	c.once[key] = true
	return true
}

func (c *fakeChat) said(sub string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

// fakeNotifier collects deliveries; userIDs in failDM reject direct messages.
type fakeNotifier struct {
	mu       sync.Mutex
	channel  map[string][]string
	embeds   map[string][]Embed
	dms      map[string][]Embed
	failDM   map[string]bool
	failChan map[string]bool
}

func newNotifier() *fakeNotifier {
	return &fakeNotifier{channel: map[string][]string{}, embeds: map[string][]Embed{}, dms: map[string][]Embed{}, failDM: map[string]bool{}, failChan: map[string]bool{}}
}

func (n *fakeNotifier) SendChannel(_ context.Context, channelID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failChan[channelID] {
		return errors.New("missing access")
	}
	n.channel[channelID] = append(n.channel[channelID], text)
	return nil
}

func (n *fakeNotifier) said(channelID, text string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Contains(n.channel[channelID], text)
}

func (n *fakeNotifier) SendEmbed(_ context.Context, channelID string, e Embed) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.embeds[channelID] = append(n.embeds[channelID], e)
	return nil
}

func (n *fakeNotifier) DirectMessage(_ context.Context, userID string, e Embed) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failDM[userID] {
		return errors.New("cannot send messages to this user")
	}
	n.dms[userID] = append(n.dms[userID], e)
	return nil
}

func (n *fakeNotifier) audited(sub string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.channel["audit"] {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

type fakeChannels struct {
	created []string
	granted map[string][]string
	closed  []string
}

func (f *fakeChannels) CreateMatchChannel(_ context.Context, name, topic string) (string, error) {
	f.created = append(f.created, name)
	return fmt.Sprintf("chan-%d", len(f.created)), nil
}

func (f *fakeChannels) GrantRead(_ context.Context, channelID, userID string) error {
	if f.granted == nil {
		f.granted = make(map[string][]string)
	}
	f.granted[channelID] = append(f.granted[channelID], userID)
	return nil
}

func (f *fakeChannels) CloseMatchChannel(_ context.Context, channelID string) error {
	f.closed = append(f.closed, channelID)
	return nil
}

func (f *fakeChannels) Mention(channelID string) string { return "<#" + channelID + ">" }

type sheetRow struct {
	sheet string
	row   []any
}

type fakeResults struct {
	rows []sheetRow
	err  error
}

func (f *fakeResults) AppendRow(_ context.Context, spreadsheetID, worksheet string, row []any) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, sheetRow{sheet: worksheet, row: row})
	return nil
}

// fakeGen counts calls; errs are returned in order before succeeding.
type fakeGen struct {
	mu    sync.Mutex
	calls int
	seed  seedgen.Seed
	errs  []error
	cards int
}

func (g *fakeGen) Kind() string { return "fake" }

func (g *fakeGen) Generate(context.Context, seedgen.Request) (*seedgen.Seed, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		return nil, err
	}
	s := g.seed
	return &s, nil
}

func (g *fakeGen) NewCard(context.Context, string, string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cards++
	return nil
}

// fakeClock advances by the requested duration whenever After is called.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

type harness struct {
	o        *Orchestrator
	rooms    *store.Guard
	spoilers *store.MemorySpoilers
	rt       *fakeRT
	notify   *fakeNotifier
	channels *fakeChannels
	results  *fakeResults
	gen      *fakeGen
	races    *fakeRaces
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		rooms:    store.NewMemoryGuard(),
		spoilers: store.NewMemorySpoilers(),
		rt:       &fakeRT{},
		notify:   newNotifier(),
		channels: &fakeChannels{},
		results:  &fakeResults{},
		gen:      &fakeGen{seed: seedgen.Seed{SeedID: "abc", Permalink: "https://alttpr.com/h/abc", GoalSuffix: " - (Bow/Boomerang)"}},
		races: &fakeRaces{races: map[string]*race.Race{
			"101": {
				EpisodeID: "101", EventName: "SGL 2020 ALTTPR", Event: testEvents["alttpr"],
				Players: []race.Participant{
					{DisplayName: "alice", Member: &race.Member{ID: "1", Username: "alice"}},
					{DisplayName: "bob"},
				},
				Commentators:      []race.Participant{{DisplayName: "carol", Member: &race.Member{ID: "3", Username: "carol"}}},
				Trackers:          []race.Participant{{DisplayName: "dave", Member: &race.Member{ID: "4", Username: "dave"}}},
				BroadcastChannels: []string{"sgl"},
				CountdownTime:     time.Date(2020, 11, 21, 23, 10, 0, 0, time.UTC),
			},
			"202": {
				EpisodeID: "202", EventName: "SGL 2020 SMM2", Event: testEvents["smm2"],
				Players: []race.Participant{
					{DisplayName: "erin", Member: &race.Member{ID: "5", Username: "erin"}},
					{DisplayName: "frank", Member: &race.Member{ID: "6", Username: "frank"}},
				},
				ScheduledPlayers: []string{"erin", "frank"},
			},
		}},
	}
	h.o = New(Settings{
		AuditChannelID:     "audit",
		VolunteerChannelID: "volunteers",
		AdminChannelID:     "admin",
		ResultsSheetID:     "results",
		SeedTimeout:        time.Second,
	}, Deps{
		Events:   testEvents,
		Races:    h.races,
		Rooms:    h.rooms,
		Spoilers: h.spoilers,
		Racetime: h.rt,
		Seeds:    seedgen.Registry{"alttpr": h.gen, "smm2": h.gen},
		Notifier: h.notify,
		Channels: h.channels,
		Results:  h.results,
		Clock:    &fakeClock{now: time.Date(2020, 11, 21, 23, 0, 0, 0, time.UTC)},
	})
	return h
}

// created opens the room for episode 101 and returns its chat.
func (h *harness) created(t *testing.T) *fakeChat {
	t.Helper()
	if _, err := h.o.CreateRoom(context.Background(), "101", false); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return &fakeChat{name: "sgl/room-1"}
}

func TestCreateRoomUnknownEvent(t *testing.T) {
	h := newHarness(t)
	_, err := h.o.CreateRoom(context.Background(), "999", false)
	var ue *UnknownEventError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want UnknownEventError", err)
	}
	if _, err := h.rooms.FindByEpisode(context.Background(), "999"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("record persisted for unknown event: %v", err)
	}
	if len(h.rt.started) != 0 {
		t.Fatalf("room opened for unknown event")
	}
}

func TestCreateRoomScheduleFailureIsExternal(t *testing.T) {
	h := newHarness(t)
	h.races.err = errors.New("connection refused")
	_, err := h.o.CreateRoom(context.Background(), "101", false)
	var ee *ExternalServiceError
	if !errors.As(err, &ee) || ee.Service != "speedgaming" {
		t.Fatalf("err = %v, want speedgaming ExternalServiceError", err)
	}
}

func TestCreateRoomIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, err := h.o.CreateRoom(ctx, "101", false)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	second, err := h.o.CreateRoom(ctx, "101", false)
	if err != nil {
		t.Fatalf("second CreateRoom: %v", err)
	}
	if first != second || first != "https://racetime.gg/sgl/room-1" {
		t.Fatalf("refs = %q, %q", first, second)
	}
	if len(h.rt.started) != 1 {
		t.Fatalf("rooms opened = %d, want 1", len(h.rt.started))
	}
	opts := h.rt.started[0]
	if opts.Goal != 1 || !opts.Unlisted || !strings.Contains(opts.Info, "alice vs. bob - 20 minute delay") {
		t.Fatalf("unexpected start options %+v", opts)
	}
	rec, err := h.rooms.FindByEpisode(ctx, "101")
	if err != nil {
		t.Fatalf("FindByEpisode: %v", err)
	}
	if rec.Status != store.StatusCreated || rec.HasSeed() {
		t.Fatalf("record = %+v, want CREATED without seed", rec)
	}
}

func TestCreateRoomConcurrentCallsOpenOneRoom(t *testing.T) {
	h := newHarness(t)
	h.rt.delay = 50 * time.Millisecond
	ctx := context.Background()

	refs := make([]string, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range refs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			refs[i], errs[i] = h.o.CreateRoom(ctx, "101", false)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("CreateRoom #%d: %v", i, err)
		}
	}
	if refs[0] != refs[1] {
		t.Fatalf("refs = %v, want the same room", refs)
	}
	if len(h.rt.started) != 1 {
		t.Fatalf("rooms opened = %d, want 1", len(h.rt.started))
	}
	recs, _ := h.rooms.List(ctx, 10)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
}

func TestCreateRoomWaitRespectsContext(t *testing.T) {
	h := newHarness(t)
	unlock, err := h.o.lockEpisode(context.Background(), "101")
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.o.CreateRoom(ctx, "101", false); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestCreateRoomReplacesCancelledRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.created(t)
	h.rt.set("sgl/room-1", raceData(racetime.StatusCancelled))

	ref, err := h.o.CreateRoom(ctx, "101", false)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if ref != "https://racetime.gg/sgl/room-2" {
		t.Fatalf("ref = %q, want the new room", ref)
	}
	if _, err := h.rooms.Get(ctx, "sgl/room-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("stale record survived: %v", err)
	}
}

func TestCreateRoomFanOutIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	h.notify.failDM["3"] = true
	h.created(t)

	if len(h.notify.dms["1"]) != 1 {
		t.Errorf("player alice DMs = %d, want 1", len(h.notify.dms["1"]))
	}
	if len(h.notify.dms["4"]) != 1 || h.notify.dms["4"][0].Description != trackerText {
		t.Errorf("tracker dave did not get the tracker reminder: %+v", h.notify.dms["4"])
	}
	if !h.notify.audited("Could not DM player named bob") {
		t.Errorf("unresolved player not reported: %q", h.notify.channel["audit"])
	}
	if !h.notify.audited("Could not send room opening DM to commentator named carol") {
		t.Errorf("failed commentator DM not reported: %q", h.notify.channel["audit"])
	}
	if len(h.notify.channel["volunteers"]) != 1 {
		t.Errorf("volunteer posts = %d, want 1", len(h.notify.channel["volunteers"]))
	}
}

func TestReportCollectsEveryAttempt(t *testing.T) {
	r := &Report{}
	r.Attempt("a", "player", func() error { return errors.New("boom") })
	r.Attempt("b", "player", func() error { return nil })
	r.Unresolved("c", "tracker")
	if r.OK() || r.Delivered != 1 || len(r.Failures) != 2 {
		t.Fatalf("report = %+v", r)
	}
	if !strings.Contains(r.String(), "tracker c could not be resolved") {
		t.Fatalf("String() = %q", r.String())
	}
}

func TestGenerateSeedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.created(t)

	if err := h.o.GenerateSeedAndAnnounce(ctx, chat); err != nil {
		t.Fatalf("GenerateSeedAndAnnounce: %v", err)
	}
	err := h.o.GenerateSeedAndAnnounce(ctx, chat)
	var dup *DuplicateSeedError
	if !errors.As(err, &dup) {
		t.Fatalf("second roll err = %v, want DuplicateSeedError", err)
	}
	if h.gen.calls != 1 {
		t.Fatalf("seed service calls = %d, want 1", h.gen.calls)
	}
	rec, _ := h.rooms.Get(ctx, chat.name)
	if rec.Seed != "abc" || rec.Permalink != "https://alttpr.com/h/abc" {
		t.Fatalf("record = %+v", rec)
	}
	if !strings.Contains(chat.info, "alice vs. bob - (Bow/Boomerang) - 20 minute delay") {
		t.Errorf("info = %q", chat.info)
	}
	for _, want := range []string{"https://alttpr.com/h/abc", "20 minute stream delay", msgGenerated, "I already rolled a seed!"} {
		if !chat.said(want) {
			t.Errorf("room never saw %q: %q", want, chat.msgs)
		}
	}
	if len(h.notify.embeds["audit"]) != 2 {
		t.Errorf("audit embeds = %d, want room opened and seed", len(h.notify.embeds["audit"]))
	}
}

func TestGenerateSeedFailureLeavesGuardOpen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.created(t)
	h.gen.errs = []error{errors.New("alttpr: 500 Internal Server Error")}

	if err := h.o.GenerateSeedAndAnnounce(ctx, chat); err == nil {
		t.Fatal("expected failure")
	}
	if !chat.said("Could not process league race") {
		t.Fatalf("failure not reported to room: %q", chat.msgs)
	}
	rec, _ := h.rooms.Get(ctx, chat.name)
	if rec.HasSeed() || h.o.Rolled(chat.name) {
		t.Fatalf("partial state after failure: %+v", rec)
	}
	if err := h.o.GenerateSeedAndAnnounce(ctx, chat); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if h.gen.calls != 2 {
		t.Fatalf("calls = %d, want 2", h.gen.calls)
	}
}

func TestGenerateSeedWithoutRecord(t *testing.T) {
	h := newHarness(t)
	chat := &fakeChat{name: "sgl/stray-room"}
	err := h.o.GenerateSeedAndAnnounce(context.Background(), chat)
	var na *NoAssociatedRaceError
	if !errors.As(err, &na) {
		t.Fatalf("err = %v, want NoAssociatedRaceError", err)
	}
	if !chat.said("should have an SG episode") || h.gen.calls != 0 {
		t.Fatalf("msgs = %q, calls = %d", chat.msgs, h.gen.calls)
	}
}

func TestBingoPasswordCopiedToAdmin(t *testing.T) {
	h := newHarness(t)
	h.gen.seed = seedgen.Seed{SeedID: "room1", Permalink: "https://bingosync.com/room/room1", Password: "happy-blue-fox"}
	chat := h.created(t)
	if err := h.o.GenerateSeedAndAnnounce(context.Background(), chat); err != nil {
		t.Fatalf("GenerateSeedAndAnnounce: %v", err)
	}
	if len(h.notify.embeds["admin"]) != 1 {
		t.Fatalf("admin embeds = %d, want 1", len(h.notify.embeds["admin"]))
	}
	found := false
	for _, f := range h.notify.embeds["admin"][0].Fields {
		if f.Name == "Bingosync Password" && f.Value == "happy-blue-fox" {
			found = true
		}
	}
	if !found {
		t.Fatalf("password missing from admin embed: %+v", h.notify.embeds["admin"][0])
	}
}

func TestCancelAllowsReroll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.created(t)
	if err := h.o.GenerateSeedAndAnnounce(ctx, chat); err != nil {
		t.Fatalf("roll: %v", err)
	}
	if err := h.o.Cancel(ctx, chat); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if chat.info != "New Race" || !chat.said(msgReset) {
		t.Fatalf("info = %q, msgs = %q", chat.info, chat.msgs)
	}
	if err := h.o.GenerateSeedAndAnnounce(ctx, chat); err != nil {
		t.Fatalf("reroll: %v", err)
	}
	if h.gen.calls != 2 {
		t.Fatalf("calls = %d, want 2", h.gen.calls)
	}
}

func TestMarkStartedIsMonotonic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.created(t)
	if err := h.o.MarkStarted(ctx, chat); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	if changed, err := h.rooms.UpdateStatus(ctx, store.SpaceNormal, chat.name, store.StatusCreated); err != nil || changed {
		t.Fatalf("UpdateStatus(CREATED) after STARTED = %v, %v; want no-op", changed, err)
	}
	rec, _ := h.rooms.Get(ctx, chat.name)
	if rec.Status != store.StatusStarted {
		t.Fatalf("status = %s, want STARTED", rec.Status)
	}
	if !chat.said(msgStreamCheck) {
		t.Fatalf("stream check missing: %q", chat.msgs)
	}
}

func TestMarkStartedRevealsSpoilerAndCountsDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gen.seed = seedgen.Seed{SeedID: "s1", Permalink: "https://alttpr.com/h/s1", SpoilerURL: "https://spoilers.example/s1.txt", StudySeconds: 35}
	chat := h.created(t)
	if err := h.o.GenerateSeedAndAnnounce(ctx, chat); err != nil {
		t.Fatalf("roll: %v", err)
	}
	if err := h.o.MarkStarted(ctx, chat); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	h.o.Wait()

	if !chat.said("This race's spoiler log: https://spoilers.example/s1.txt") {
		t.Fatalf("spoiler not posted: %q", chat.msgs)
	}
	if !chat.said("30 second(s) remain!") || !chat.said(countdown.FinishMessage) {
		t.Fatalf("countdown incomplete: %q", chat.msgs)
	}
	sp, err := h.spoilers.Get(ctx, chat.name)
	if err != nil || sp.StartedAt == nil {
		t.Fatalf("spoiler race not started: %+v, %v", sp, err)
	}
}

// stallClock never advances, so countdowns run until cancelled.
type stallClock struct{ now time.Time }

func (c stallClock) Now() time.Time                      { return c.now }
func (stallClock) After(time.Duration) <-chan time.Time { return nil }

func TestResumeCountdownReplacesRunningCountdown(t *testing.T) {
	h := newHarness(t)
	now := time.Date(2020, 11, 21, 23, 0, 0, 0, time.UTC)
	h.o.clock = stallClock{now: now}
	ctx := context.Background()
	chat := &fakeChat{name: "sgl/room-1"}
	if err := h.spoilers.Insert(ctx, store.SpoilerRace{RoomName: chat.name, SpoilerURL: "https://spoilers.example/s1.txt", StudySeconds: 900}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.spoilers.Start(ctx, chat.name, now.Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}

	for range 2 {
		if err := h.o.ResumeCountdown(ctx, chat); err != nil {
			t.Fatalf("ResumeCountdown: %v", err)
		}
	}
	h.o.mu.Lock()
	running := len(h.o.countdowns)
	h.o.mu.Unlock()
	if running != 1 {
		t.Fatalf("registered countdowns = %d, want 1", running)
	}

	done := make(chan struct{})
	go func() { h.o.Wait(); close(done) }()
	select {
	case <-done:
		t.Fatal("every countdown returned while one should still be running")
	case <-time.After(50 * time.Millisecond):
	}

	// Cancel stops only the registered countdown; Wait returns only if the
	// first one was already stopped by the second resume.
	if err := h.o.Cancel(ctx, chat); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("countdown still running after Cancel")
	}
}

func TestCloseMatchChannelHeldByWait(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := h.o.CreateRoom(ctx, "202", false); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	h.o.clock = stallClock{now: time.Date(2020, 11, 21, 23, 0, 0, 0, time.UTC)}
	errc := make(chan error, 1)
	go func() { errc <- h.o.CloseMatchChannel(ctx, "chan-1") }()
	for i := 0; !h.notify.said("chan-1", msgClosing); i++ {
		if i > 100 {
			t.Fatal("close warning never sent")
		}
		time.Sleep(5 * time.Millisecond)
	}

	done := make(chan struct{})
	go func() { h.o.Wait(); close(done) }()
	select {
	case <-done:
		t.Fatal("Wait returned while a close was pending")
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	<-done
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(h.channels.closed) != 0 {
		t.Fatalf("closed = %v after shutdown", h.channels.closed)
	}
}

func TestCloseMatchChannelRowUsesScheduledNames(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.o.CreateRoom(ctx, "202", false); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	h.races.races["202"].ScheduledPlayers = []string{"relay", "erin", "frank"}
	if err := h.o.CloseMatchChannel(ctx, "chan-1"); err != nil {
		t.Fatalf("CloseMatchChannel: %v", err)
	}
	if len(h.results.rows) != 1 {
		t.Fatalf("rows = %+v", h.results.rows)
	}
	row := h.results.rows[0].row
	if row[2] != "relay" || row[3] != "erin" {
		t.Fatalf("players = %v, %v; want the schedule's first two names", row[2], row[3])
	}
	for _, cell := range row[8:10] {
		s, _ := cell.(string)
		if _, err := time.Parse("2006-01-02 15:04:05.999999", s); err != nil || strings.Contains(s, "UTC") {
			t.Fatalf("timestamp cell %q: %v", s, err)
		}
	}
}

func TestSheetTime(t *testing.T) {
	cases := []struct {
		in   time.Time
		want string
	}{
		{time.Date(2020, 11, 21, 23, 0, 5, 0, time.UTC), "2020-11-21 23:00:05"},
		{time.Date(2020, 11, 21, 23, 0, 5, 120000000, time.UTC), "2020-11-21 23:00:05.120000"},
		{time.Date(2020, 11, 21, 18, 0, 5, 0, time.FixedZone("EST", -5*3600)), "2020-11-21 23:00:05"},
	}
	for _, tc := range cases {
		if got := sheetTime(tc.in); got != tc.want {
			t.Errorf("sheetTime(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRecordResultFinished(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.created(t)
	if err := h.o.MarkStarted(ctx, chat); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	h.rt.set(chat.name, raceData(racetime.StatusFinished,
		entrant("A", intp(1), "PT1H2M3S"),
		entrant("B", intp(2), nil),
	))

	if err := h.o.RecordEpisode(ctx, "101"); err != nil {
		t.Fatalf("RecordEpisode: %v", err)
	}
	if len(h.results.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(h.results.rows))
	}
	got := h.results.rows[0]
	if got.sheet != "alttpr" {
		t.Errorf("sheet = %q", got.sheet)
	}
	row := got.row
	if row[0] != "101" || row[1] != "https://racetime.gg/sgl/room-1" || row[2] != "A" || row[3] != "B" {
		t.Errorf("row = %v", row)
	}
	if row[4] != "1:02:03" || row[5] != nil {
		t.Errorf("durations = %v, %v; want 1:02:03, nil", row[4], row[5])
	}
	rec, _ := h.rooms.Get(ctx, chat.name)
	if rec.Status != store.StatusRecorded {
		t.Fatalf("status = %s, want RECORDED", rec.Status)
	}

	if err := h.o.RecordResult(ctx, *rec); err != nil {
		t.Fatalf("second RecordResult: %v", err)
	}
	if len(h.results.rows) != 1 {
		t.Fatalf("recorded twice")
	}
}

func TestRecordResultCancelledDeletesRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.created(t)
	h.rt.set(chat.name, raceData(racetime.StatusCancelled))

	if err := h.o.RecordEpisode(ctx, "101"); err != nil {
		t.Fatalf("RecordEpisode: %v", err)
	}
	if len(h.results.rows) != 0 {
		t.Fatalf("row appended for cancelled race")
	}
	if _, err := h.rooms.Get(ctx, chat.name); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("record not deleted: %v", err)
	}
}

func TestRecordResultStillRunningIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.created(t)
	h.rt.set(chat.name, raceData(racetime.StatusInProgress))
	if err := h.o.RecordEpisode(ctx, "101"); err != nil {
		t.Fatalf("RecordEpisode: %v", err)
	}
	rec, _ := h.rooms.Get(ctx, chat.name)
	if len(h.results.rows) != 0 || rec.Status == store.StatusRecorded {
		t.Fatalf("recorded a running race: %+v", rec)
	}
}

func TestRecordResultSheetFailureKeepsRecordOpen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.created(t)
	h.rt.set(chat.name, raceData(racetime.StatusFinished, entrant("A", intp(1), "PT1H")))
	h.results.err = errors.New("quota exceeded")

	err := h.o.RecordEpisode(ctx, "101")
	var ee *ExternalServiceError
	if !errors.As(err, &ee) || ee.Service != "sheets" {
		t.Fatalf("err = %v, want sheets ExternalServiceError", err)
	}
	rec, _ := h.rooms.Get(ctx, chat.name)
	if rec.Status == store.StatusRecorded {
		t.Fatal("record marked RECORDED after failed append")
	}
}

func TestPodiumLiteralTieBreak(t *testing.T) {
	entrants := []racetime.Entrant{
		entrant("third", intp(3), "PT2H"),
		entrant("dnf", nil, nil),
		entrant("winner", intp(1), "PT1H"),
		entrant("second", intp(2), "PT1H30M"),
	}
	w, r := podium(entrants)
	if w == nil || w.User.Name != "winner" {
		t.Fatalf("winner = %v", w)
	}
	if r == nil || r.User.Name != "dnf" {
		t.Fatalf("runner-up = %v, want first entrant with place 2 or none", r)
	}
}

func TestFormatFinish(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"PT1H2M3S", "1:02:03", false},
		{"PT45M0.5S", "0:45:00", false},
		{"P0DT02H00M07.123456S", "2:00:07", false},
		{"PT59S", "0:00:59", false},
		{"not a duration", "", true},
	}
	for _, c := range cases {
		got, err := FormatFinish(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("FormatFinish(%q) err = %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("FormatFinish(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCreateMatchChannel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gen.seed = seedgen.Seed{SeedID: "sheet1", Permalink: "https://docs.google.com/spreadsheets/d/sheet1/edit#gid=0"}

	ref, err := h.o.CreateRoom(ctx, "202", false)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if ref != "<#chan-1>" {
		t.Fatalf("ref = %q", ref)
	}
	if len(h.channels.created) != 1 || h.channels.created[0] != "smm2-202-erin-vs-frank" {
		t.Fatalf("channels = %q", h.channels.created)
	}
	if got := h.channels.granted["chan-1"]; len(got) != 2 {
		t.Fatalf("granted = %v", got)
	}
	rec, err := h.rooms.Get(ctx, "chan-1")
	if err != nil || rec.Platform != config.PlatformDiscord || rec.Seed != "sheet1" {
		t.Fatalf("record = %+v, %v", rec, err)
	}
	if again, _ := h.o.CreateRoom(ctx, "202", false); again != ref || h.gen.calls != 1 {
		t.Fatalf("second create = %q with %d generator calls", again, h.gen.calls)
	}
}

func TestCloseMatchChannelRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.o.CreateRoom(ctx, "202", false); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := h.o.CloseMatchChannel(ctx, "chan-1"); err != nil {
		t.Fatalf("CloseMatchChannel: %v", err)
	}
	if len(h.channels.closed) != 1 {
		t.Fatalf("closed = %v", h.channels.closed)
	}
	if len(h.notify.channel["chan-1"]) == 0 || !strings.HasPrefix(h.notify.channel["chan-1"][len(h.notify.channel["chan-1"])-1], "WARNING") {
		t.Fatalf("close warning missing: %q", h.notify.channel["chan-1"])
	}
	if len(h.results.rows) != 1 || h.results.rows[0].row[2] != "erin" || h.results.rows[0].row[3] != "frank" {
		t.Fatalf("rows = %+v", h.results.rows)
	}
	rec, _ := h.rooms.Get(ctx, "chan-1")
	if rec.Status != store.StatusRecorded {
		t.Fatalf("status = %s", rec.Status)
	}
}

func TestHandlerCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.created(t)
	rh := h.o.RoomHandler(true)

	rh.handleCommand(ctx, chat, "!sglrace")
	rh.handleCommand(ctx, chat, "!SGLRACE please")
	rh.handleCommand(ctx, chat, "hello there")
	if h.gen.calls != 1 {
		t.Fatalf("calls = %d, want 1", h.gen.calls)
	}
	rh.handleCommand(ctx, chat, "!cancel")
	if !chat.said(msgReset) {
		t.Fatalf("cancel not acknowledged: %q", chat.msgs)
	}
}

func TestHandlerRollsAtRaceStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.created(t)
	rh := h.o.RoomHandler(false)

	rh.handleData(ctx, chat, racetime.StatusOpen)
	rh.handleData(ctx, chat, racetime.StatusOpen)
	intros := 0
	for _, m := range chat.msgs {
		if m == introText {
			intros++
		}
	}
	if intros != 1 {
		t.Fatalf("intro posted %d times", intros)
	}

	rh.handleData(ctx, chat, racetime.StatusInProgress)
	rh.handleData(ctx, chat, racetime.StatusInProgress)
	if h.gen.calls != 1 {
		t.Fatalf("calls = %d, want 1", h.gen.calls)
	}
	rec, _ := h.rooms.Get(ctx, chat.name)
	if rec.Status != store.StatusStarted || !rec.HasSeed() {
		t.Fatalf("record = %+v", rec)
	}
}

func TestSeedTimeout(t *testing.T) {
	h := newHarness(t)
	chat := h.created(t)
	h.o.cfg.SeedTimeout = 10 * time.Millisecond
	h.o.seeds["alttpr"] = blockingGen{}

	err := h.o.GenerateSeedAndAnnounce(context.Background(), chat)
	if !errors.Is(err, ErrSeedTimeout) {
		t.Fatalf("err = %v, want ErrSeedTimeout", err)
	}
	var ee *ExternalServiceError
	if !errors.As(err, &ee) || !ee.Retryable() {
		t.Fatalf("timeout should be a retryable external error: %v", err)
	}
}

type blockingGen struct{}

func (blockingGen) Kind() string { return "blocking" }

func (blockingGen) Generate(ctx context.Context, _ seedgen.Request) (*seedgen.Seed, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
