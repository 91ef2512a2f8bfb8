package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sahasrahbot/sglbot/config"
)

// Memory is an in-process SpaceRepo with the same semantics as Repository.
// It backs tests and DB-less dry runs.
type Memory struct {
	mu    sync.Mutex
	space Space
	seq   int
	rows  map[string]memRow
	now   func() time.Time
}

type memRow struct {
	seq int
	rec RoomRecord
}

// NewMemory returns an empty space.
func NewMemory(space Space) *Memory {
	return &Memory{space: space, rows: make(map[string]memRow), now: time.Now}
}

// NewMemoryGuard returns a guard over two empty in-memory spaces.
func NewMemoryGuard() *Guard {
	return NewGuard(NewMemory(SpaceNormal), NewMemory(SpaceBo3))
}

func (m *Memory) Space() Space { return m.space }

func (m *Memory) Get(_ context.Context, room string) (*RoomRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[room]
	if !ok {
		return nil, ErrNotFound
	}
	rec := row.rec
	return &rec, nil
}

func (m *Memory) FindActive(ctx context.Context, room string) (*RoomRecord, error) {
	rec, err := m.Get(ctx, room)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusRecorded {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) FindByEpisode(_ context.Context, episodeID string) (*RoomRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *memRow
	for _, row := range m.rows {
		if row.rec.EpisodeID != episodeID {
			continue
		}
		if best == nil || row.seq > best.seq {
			r := row
			best = &r
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	rec := best.rec
	return &rec, nil
}

func (m *Memory) Insert(_ context.Context, rec RoomRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[rec.RoomName]; ok {
		return &DuplicateKeyError{Space: m.space, Room: rec.RoomName}
	}
	if rec.Status == "" {
		rec.Status = StatusCreated
	}
	if rec.Platform == "" {
		rec.Platform = config.PlatformRacetime
	}
	rec.Space = m.space
	rec.CreatedAt = m.now()
	rec.UpdatedAt = rec.CreatedAt
	m.seq++
	m.rows[rec.RoomName] = memRow{seq: m.seq, rec: rec}
	return nil
}

func (m *Memory) UpdateStatus(_ context.Context, room string, status Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[room]
	if !ok {
		return false, ErrNotFound
	}
	if row.rec.Status.Rank() >= status.Rank() {
		return false, nil
	}
	row.rec.Status = status
	row.rec.UpdatedAt = m.now()
	m.rows[room] = row
	return true, nil
}

func (m *Memory) SetSeed(_ context.Context, room string, seed SeedInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[room]
	if !ok {
		return ErrNotFound
	}
	if row.rec.Status == StatusRecorded {
		return ErrRecorded
	}
	row.rec.Seed, row.rec.Permalink, row.rec.Password = seed.SeedID, seed.Permalink, seed.Password
	row.rec.UpdatedAt = m.now()
	m.rows[room] = row
	return nil
}

func (m *Memory) Delete(_ context.Context, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[room]
	if !ok {
		return nil
	}
	if row.rec.Status == StatusRecorded {
		return ErrRecorded
	}
	delete(m.rows, room)
	return nil
}

func (m *Memory) sorted(keep func(RoomRecord) bool) []memRow {
	var out []memRow
	for _, row := range m.rows {
		if keep(row.rec) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (m *Memory) ListUnrecorded(context.Context) ([]RoomRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RoomRecord
	for _, row := range m.sorted(func(r RoomRecord) bool { return r.Status == StatusStarted }) {
		out = append(out, row.rec)
	}
	return out, nil
}

func (m *Memory) List(_ context.Context, limit int) ([]RoomRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.sorted(func(RoomRecord) bool { return true })
	var out []RoomRecord
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, rows[i].rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
