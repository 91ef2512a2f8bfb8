package racetime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Bot watches the category for live races and keeps one Room per race.
type Bot struct {
	Client       *Client
	Handler      Handler
	PollInterval time.Duration

	mu    sync.Mutex
	rooms map[string]*Room
	wg    sync.WaitGroup
}

// Room returns the connected room by name.
func (b *Bot) Room(name string) (*Room, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rooms[name]
	return r, ok
}

// Join connects to a room unless already connected. The room is served until its race ends.
func (b *Bot) Join(ctx context.Context, name string) (*Room, error) {
	b.mu.Lock()
	if b.rooms == nil {
		b.rooms = make(map[string]*Room)
	}
	if r, ok := b.rooms[name]; ok {
		b.mu.Unlock()
		return r, nil
	}
	b.mu.Unlock()

	r, err := b.Client.Dial(ctx, name)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	if existing, ok := b.rooms[name]; ok {
		b.mu.Unlock()
		_ = r.conn.Close()
		return existing, nil
	}
	b.rooms[name] = r
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			b.mu.Lock()
			delete(b.rooms, name)
			b.mu.Unlock()
		}()
		if err := r.Run(ctx, b.Handler); err != nil && ctx.Err() == nil {
			slog.Warn("race room connection ended", slog.String("room", name), slog.Any("err", err), slog.String("component", "racetime"))
		}
	}()
	return r, nil
}

// Run polls the category and joins every open or running race until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	interval := b.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	poll := func() {
		races, err := b.Client.CurrentRaces(ctx)
		if err != nil {
			slog.Warn("racetime category poll failed", slog.Any("err", err), slog.String("component", "racetime"))
			return
		}
		for _, race := range races {
			switch race.Status.Value {
			case StatusFinished, StatusCancelled:
				continue
			}
			if _, ok := b.Room(race.Name); ok {
				continue
			}
			if _, err := b.Join(ctx, race.Name); err != nil {
				slog.Warn("failed to join race room", slog.String("room", race.Name), slog.Any("err", err), slog.String("component", "racetime"))
			}
		}
	}
	poll()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			b.wg.Wait()
			return nil
		case <-t.C:
			poll()
		}
	}
}
