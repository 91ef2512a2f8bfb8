package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SpoilerRace is a room that owes a spoiler reveal and a study countdown.
type SpoilerRace struct {
	RoomName     string
	SpoilerURL   string
	StudySeconds int
	// StartedAt is nil until the race goes in progress.
	StartedAt *time.Time
}

// Spoilers stores spoiler races.
type Spoilers interface {
	Insert(ctx context.Context, s SpoilerRace) error
	Get(ctx context.Context, room string) (*SpoilerRace, error)
	// Start stamps started_at once and returns the record. Later calls return the original stamp.
	Start(ctx context.Context, room string, at time.Time) (*SpoilerRace, error)
	ListStarted(ctx context.Context) ([]SpoilerRace, error)
	Delete(ctx context.Context, room string) error
}

// SpoilerRepository is the Postgres implementation of Spoilers.
type SpoilerRepository struct{ db *sql.DB }

func NewSpoilerRepository(db *sql.DB) *SpoilerRepository { return &SpoilerRepository{db: db} }

// Insert replaces any pending spoiler for the room; a re-roll after !cancel starts fresh.
func (r *SpoilerRepository) Insert(ctx context.Context, s SpoilerRace) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO spoiler_races(room_name, spoiler_url, study_seconds)
		VALUES($1,$2,$3)
		ON CONFLICT(room_name) DO UPDATE SET spoiler_url=EXCLUDED.spoiler_url, study_seconds=EXCLUDED.study_seconds, started_at=NULL`,
		s.RoomName, s.SpoilerURL, s.StudySeconds)
	if err != nil {
		return fmt.Errorf("insert spoiler race: %w", err)
	}
	return nil
}

func (r *SpoilerRepository) Get(ctx context.Context, room string) (*SpoilerRace, error) {
	var s SpoilerRace
	var started sql.NullTime
	err := r.db.QueryRowContext(ctx, `SELECT room_name, spoiler_url, study_seconds, started_at FROM spoiler_races WHERE room_name=$1`, room).
		Scan(&s.RoomName, &s.SpoilerURL, &s.StudySeconds, &started)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if started.Valid {
		t := started.Time
		s.StartedAt = &t
	}
	return &s, nil
}

func (r *SpoilerRepository) Start(ctx context.Context, room string, at time.Time) (*SpoilerRace, error) {
	if _, err := r.db.ExecContext(ctx, `UPDATE spoiler_races SET started_at=$2 WHERE room_name=$1 AND started_at IS NULL`, room, at); err != nil {
		return nil, fmt.Errorf("start spoiler race: %w", err)
	}
	return r.Get(ctx, room)
}

func (r *SpoilerRepository) ListStarted(ctx context.Context) ([]SpoilerRace, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT room_name, spoiler_url, study_seconds, started_at FROM spoiler_races WHERE started_at IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SpoilerRace
	for rows.Next() {
		var s SpoilerRace
		var started time.Time
		if err := rows.Scan(&s.RoomName, &s.SpoilerURL, &s.StudySeconds, &started); err != nil {
			return nil, err
		}
		s.StartedAt = &started
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SpoilerRepository) Delete(ctx context.Context, room string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM spoiler_races WHERE room_name=$1`, room)
	return err
}

// MemorySpoilers is the in-process Spoilers implementation.
type MemorySpoilers struct {
	mu   sync.Mutex
	rows map[string]SpoilerRace
}

func NewMemorySpoilers() *MemorySpoilers { return &MemorySpoilers{rows: make(map[string]SpoilerRace)} }

func (m *MemorySpoilers) Insert(_ context.Context, s SpoilerRace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.StartedAt = nil
	m.rows[s.RoomName] = s
	return nil
}

func (m *MemorySpoilers) Get(_ context.Context, room string) (*SpoilerRace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[room]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemorySpoilers) Start(_ context.Context, room string, at time.Time) (*SpoilerRace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[room]
	if !ok {
		return nil, ErrNotFound
	}
	if s.StartedAt == nil {
		s.StartedAt = &at
		m.rows[room] = s
	}
	return &s, nil
}

func (m *MemorySpoilers) ListStarted(context.Context) ([]SpoilerRace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SpoilerRace
	for _, s := range m.rows {
		if s.StartedAt != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemorySpoilers) Delete(_ context.Context, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, room)
	return nil
}
