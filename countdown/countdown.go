// Package countdown announces the time left in a spoiler log study period.
package countdown

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Thresholds are the remaining-second marks announced, highest first.
var Thresholds = []int{1800, 1500, 1200, 900, 600, 300, 120, 60, 30, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}

// FinishMessage is posted when a study period ends.
const FinishMessage = "Log study has finished.  Begin racing!"

// DefaultTick is how often remaining time is recomputed.
const DefaultTick = 500 * time.Millisecond

// Clock is the time source; tests substitute a manual one.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Sender posts a line to the race room.
type Sender interface {
	SendMessage(ctx context.Context, msg string) error
}

// Timer counts down Duration from Start.
type Timer struct {
	Start    time.Time
	Duration time.Duration
	// Finish enables FinishMessage at zero.
	Finish bool
	Tick   time.Duration
	Clock  Clock
	Logger *slog.Logger
}

// Message renders a reminder for secs remaining.
func Message(secs int) string {
	m, s := secs/60, secs%60
	if m == 0 {
		return fmt.Sprintf("%d second(s) remain!", s)
	}
	return fmt.Sprintf("%d minute(s), %d seconds remain!", m, s)
}

// Remaining is how much of a study period started at startedAt is left at now.
func Remaining(startedAt time.Time, study time.Duration, now time.Time) time.Duration {
	return startedAt.Add(study).Sub(now)
}

func (t *Timer) remaining() int {
	left := t.Duration - t.Clock.Now().Sub(t.Start)
	return int(math.Ceil(left.Seconds()))
}

// Run emits reminders until the period ends or ctx is done. Each threshold fires
// at most once; when a tick skips several, only the lowest crossed is announced.
func (t *Timer) Run(ctx context.Context, s Sender) error {
	if t.Clock == nil {
		t.Clock = RealClock
	}
	if t.Tick <= 0 {
		t.Tick = DefaultTick
	}
	log := t.Logger
	if log == nil {
		log = slog.Default().With("component", "countdown")
	}

	initial := t.remaining()
	pending := make([]int, 0, len(Thresholds))
	for _, th := range Thresholds {
		if th <= initial {
			pending = append(pending, th)
		}
	}

	for {
		left := t.remaining()
		crossed := -1
		for len(pending) > 0 && pending[0] >= left && left > 0 {
			crossed = pending[0]
			pending = pending[1:]
		}
		if crossed > 0 {
			if err := s.SendMessage(ctx, Message(crossed)); err != nil {
				log.Warn("countdown reminder failed", slog.Int("remaining", crossed), slog.Any("err", err))
			}
		}
		if left <= 0 {
			if t.Finish {
				return s.SendMessage(ctx, FinishMessage)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.Clock.After(t.Tick):
		}
	}
}
