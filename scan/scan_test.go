package scan

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/sahasrahbot/sglbot/config"
	"github.com/sahasrahbot/sglbot/schedule"
	"github.com/sahasrahbot/sglbot/store"
)

type fakeSchedule struct {
	eps     map[string][]schedule.Episode
	fail    map[string]bool
	windows map[string][2]time.Time
}

func (f *fakeSchedule) Upcoming(_ context.Context, event string, from, to time.Time) ([]schedule.Episode, error) {
	if f.windows == nil {
		f.windows = make(map[string][2]time.Time)
	}
	f.windows[event] = [2]time.Time{from, to}
	if f.fail[event] {
		return nil, errors.New("502 Bad Gateway")
	}
	return f.eps[event], nil
}

type fakeCreator struct {
	created []string
	fail    map[string]bool
}

func (f *fakeCreator) CreateRoom(_ context.Context, episodeID string, force bool) (string, error) {
	if f.fail[episodeID] {
		return "", errors.New("racetime down")
	}
	f.created = append(f.created, episodeID)
	return "https://racetime.gg/sgl/" + episodeID, nil
}

type fakeRecorder struct {
	recorded []string
	fail     map[string]bool
}

func (f *fakeRecorder) RecordResult(_ context.Context, rec store.RoomRecord) error {
	if f.fail[rec.RoomName] {
		return errors.New("sheets quota")
	}
	f.recorded = append(f.recorded, rec.RoomName)
	return nil
}

type fakeBacklog []store.RoomRecord

func (f fakeBacklog) ListUnrecorded(context.Context) ([]store.RoomRecord, error) { return f, nil }

type fakeAudit struct{ msgs []string }

func (f *fakeAudit) SendChannel(_ context.Context, _, text string) error {
	f.msgs = append(f.msgs, text)
	return nil
}

func eps(ids ...string) []schedule.Episode {
	out := make([]schedule.Episode, len(ids))
	for i, id := range ids {
		out[i].ID = schedule.FlexString(id)
	}
	return out
}

var now = time.Date(2020, 11, 21, 18, 0, 0, 0, time.UTC)

func TestCreateCycleContinuesPastFailingEvent(t *testing.T) {
	events := config.Events{
		"one":   {Slug: "one"},
		"two":   {Slug: "two"},
		"three": {Slug: "three", Delay: 20},
		"test":  {Slug: "test", Debug: true},
	}
	sched := &fakeSchedule{
		eps:  map[string][]schedule.Episode{"one": eps("1"), "three": eps("3a", "3b"), "test": eps("t")},
		fail: map[string]bool{"two": true},
	}
	creator := &fakeCreator{}
	audit := &fakeAudit{}
	s := &Scanner{
		Events: events, Schedule: sched, Creator: creator,
		Lookahead: 30 * time.Minute, Audit: audit, AuditChannelID: "audit",
		Limiter: rate.NewLimiter(rate.Inf, 1), Now: func() time.Time { return now },
	}

	err := s.CreateCycle(context.Background())
	if err == nil || !strings.Contains(err.Error(), "event two") {
		t.Fatalf("err = %v, want the failing event reported", err)
	}
	want := map[string]bool{"1": true, "3a": true, "3b": true}
	if len(creator.created) != len(want) {
		t.Fatalf("created = %v, want %v", creator.created, want)
	}
	for _, id := range creator.created {
		if !want[id] {
			t.Fatalf("unexpected episode %s (debug events must be skipped)", id)
		}
	}
	if len(audit.msgs) != 1 || !strings.Contains(audit.msgs[0], "scan schedule for two") || !strings.Contains(audit.msgs[0], "502 Bad Gateway") {
		t.Fatalf("audit = %q, want the failed schedule lookup reported", audit.msgs)
	}
	w := sched.windows["three"]
	if !w[0].Equal(now.Add(-30*time.Minute)) || !w[1].Equal(now.Add(50*time.Minute)) {
		t.Fatalf("window for delayed event = %v", w)
	}
}

func TestCreateCycleIsolatesEpisodes(t *testing.T) {
	sched := &fakeSchedule{eps: map[string][]schedule.Episode{"one": eps("1", "2", "3")}}
	creator := &fakeCreator{fail: map[string]bool{"2": true}}
	audit := &fakeAudit{}
	s := &Scanner{
		Events: config.Events{"one": {Slug: "one"}}, Schedule: sched, Creator: creator,
		Audit: audit, AuditChannelID: "audit", Limiter: rate.NewLimiter(rate.Inf, 1),
	}
	if err := s.CreateCycle(context.Background()); err == nil {
		t.Fatal("expected joined error")
	}
	if len(creator.created) != 2 {
		t.Fatalf("created = %v", creator.created)
	}
	if len(audit.msgs) != 1 || !strings.Contains(audit.msgs[0], "episode 2") {
		t.Fatalf("audit = %q", audit.msgs)
	}
}

func TestCreateCycleDebugScansOnlyDebugEvents(t *testing.T) {
	sched := &fakeSchedule{eps: map[string][]schedule.Episode{"one": eps("1"), "test": eps("t")}}
	creator := &fakeCreator{}
	s := &Scanner{
		Events:   config.Events{"one": {Slug: "one"}, "test": {Slug: "test", Debug: true}},
		Debug:    true,
		Schedule: sched, Creator: creator, Limiter: rate.NewLimiter(rate.Inf, 1),
	}
	if err := s.CreateCycle(context.Background()); err != nil {
		t.Fatalf("CreateCycle: %v", err)
	}
	if len(creator.created) != 1 || creator.created[0] != "t" {
		t.Fatalf("created = %v", creator.created)
	}
}

func TestRecordCycleIsolatesRooms(t *testing.T) {
	rec := &fakeRecorder{fail: map[string]bool{"sgl/b": true}}
	audit := &fakeAudit{}
	s := &Scanner{
		Backlog:  fakeBacklog{{RoomName: "sgl/a", EpisodeID: "1"}, {RoomName: "sgl/b", EpisodeID: "2"}, {RoomName: "sgl/c", EpisodeID: "3"}},
		Recorder: rec, Audit: audit, AuditChannelID: "audit",
	}
	if err := s.RecordCycle(context.Background()); err == nil {
		t.Fatal("expected joined error")
	}
	if len(rec.recorded) != 2 || rec.recorded[0] != "sgl/a" || rec.recorded[1] != "sgl/c" {
		t.Fatalf("recorded = %v", rec.recorded)
	}
	if len(audit.msgs) != 1 || !strings.Contains(audit.msgs[0], "episode 2") {
		t.Fatalf("audit = %q", audit.msgs)
	}
}

func TestJobStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan struct{})
	go func() {
		run(ctx, "test", time.Hour, func(context.Context) error {
			calls++
			cancel()
			return nil
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not stop")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want the immediate run only", calls)
	}
}
