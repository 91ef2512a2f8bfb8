package countdown

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

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

type recorder struct{ msgs []string }

func (r *recorder) SendMessage(_ context.Context, msg string) error {
	r.msgs = append(r.msgs, msg)
	return nil
}

func TestRun125Seconds(t *testing.T) {
	start := time.Date(2020, 11, 21, 18, 0, 0, 0, time.UTC)
	clk := &fakeClock{now: start}
	rec := &recorder{}
	tm := &Timer{Start: start, Duration: 125 * time.Second, Finish: true, Clock: clk}
	if err := tm.Run(context.Background(), rec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"2 minute(s), 0 seconds remain!", "1 minute(s), 0 seconds remain!", "30 second(s) remain!"}
	for s := 10; s >= 1; s-- {
		want = append(want, fmt.Sprintf("%d second(s) remain!", s))
	}
	want = append(want, FinishMessage)
	if len(rec.msgs) != len(want) {
		t.Fatalf("got %d messages %q, want %d", len(rec.msgs), rec.msgs, len(want))
	}
	for i := range want {
		if rec.msgs[i] != want[i] {
			t.Errorf("msg[%d] = %q, want %q", i, rec.msgs[i], want[i])
		}
	}
}

func TestRunSkippedTicksAnnounceLowest(t *testing.T) {
	start := time.Date(2020, 11, 21, 18, 0, 0, 0, time.UTC)
	clk := &fakeClock{now: start}
	rec := &recorder{}
	// 45s ticks over a 100s period: 60 is crossed at 55 left, 30 and 10 at 10 left.
	tm := &Timer{Start: start, Duration: 100 * time.Second, Tick: 45 * time.Second, Clock: clk}
	if err := tm.Run(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	want := []string{"1 minute(s), 0 seconds remain!", "10 second(s) remain!"}
	if fmt.Sprint(rec.msgs) != fmt.Sprint(want) {
		t.Errorf("msgs = %q, want %q", rec.msgs, want)
	}
}

func TestResumeDropsPassedThresholds(t *testing.T) {
	started := time.Date(2020, 11, 21, 18, 0, 0, 0, time.UTC)
	now := started.Add(14*time.Minute + 30*time.Second)
	left := Remaining(started, 15*time.Minute, now)
	if left != 30*time.Second {
		t.Fatalf("Remaining = %v", left)
	}
	clk := &fakeClock{now: now}
	rec := &recorder{}
	tm := &Timer{Start: now, Duration: left, Clock: clk}
	if err := tm.Run(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if len(rec.msgs) != 11 || rec.msgs[0] != "30 second(s) remain!" {
		t.Errorf("msgs = %q", rec.msgs)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tm := &Timer{Start: time.Now(), Duration: time.Hour}
	if err := tm.Run(ctx, &recorder{}); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestMessage(t *testing.T) {
	tests := map[int]string{
		1800: "30 minute(s), 0 seconds remain!",
		90:   "1 minute(s), 30 seconds remain!",
		30:   "30 second(s) remain!",
		1:    "1 second(s) remain!",
	}
	for secs, want := range tests {
		if got := Message(secs); got != want {
			t.Errorf("Message(%d) = %q, want %q", secs, got, want)
		}
	}
}
