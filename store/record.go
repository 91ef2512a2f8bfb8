// Package store persists race room records, spoiler races and the patch pool.
//
// Room records live in two disjoint spaces (single races and best-of-3 matches)
// with an identical layout. Repository is parameterized by Space; Guard resolves
// lookups across both spaces.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sahasrahbot/sglbot/config"
)

// Space identifies a record space.
type Space string

const (
	SpaceNormal Space = "normal"
	SpaceBo3    Space = "bo3"
)

// SpaceFor maps the event's best-of-3 flag to its record space.
func SpaceFor(bo3 bool) Space {
	if bo3 {
		return SpaceBo3
	}
	return SpaceNormal
}

func (s Space) table() string {
	if s == SpaceBo3 {
		return "tournament_races_bo3"
	}
	return "tournament_races"
}

// Status is the room lifecycle state. It only moves forward.
type Status string

const (
	StatusCreated  Status = "CREATED"
	StatusStarted  Status = "STARTED"
	StatusRecorded Status = "RECORDED"
)

// Rank orders statuses; unknown values rank lowest.
func (s Status) Rank() int {
	switch s {
	case StatusCreated:
		return 1
	case StatusStarted:
		return 2
	case StatusRecorded:
		return 3
	}
	return 0
}

// RoomRecord is one persisted race room.
type RoomRecord struct {
	RoomName  string
	EpisodeID string
	Event     string
	Status    Status
	Permalink string
	Seed      string
	// Password is the plaintext room password; it is sealed at rest.
	Password  string
	Platform  config.Platform
	Space     Space
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasSeed reports whether a seed was persisted for the room.
func (r *RoomRecord) HasSeed() bool { return r.Seed != "" || r.Permalink != "" }

// SeedInfo is the generated content persisted once per room.
type SeedInfo struct {
	SeedID    string
	Permalink string
	Password  string
}

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("room record not found")
	// ErrRecorded is returned when a mutation targets a RECORDED room.
	ErrRecorded = errors.New("room record already recorded")
)

// DuplicateKeyError is returned by Insert when the room key already exists.
type DuplicateKeyError struct {
	Space Space
	Room  string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("room %q already exists in %s races", e.Room, e.Space)
}

// InvariantViolationError reports a room or episode present in both spaces.
type InvariantViolationError struct {
	Key string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation: %q has records in both normal and bo3 spaces", e.Key)
}

// Rooms is the record store used by the orchestrator and scan jobs.
// Lookups span both spaces; mutations address the record's own space.
type Rooms interface {
	// Get returns the record for room in any status.
	Get(ctx context.Context, room string) (*RoomRecord, error)
	// FindActive returns the record for room unless it is RECORDED.
	FindActive(ctx context.Context, room string) (*RoomRecord, error)
	FindByEpisode(ctx context.Context, episodeID string) (*RoomRecord, error)
	Insert(ctx context.Context, rec RoomRecord) error
	// UpdateStatus advances the status; it reports false when the record was already at or past it.
	UpdateStatus(ctx context.Context, space Space, room string, status Status) (bool, error)
	SetSeed(ctx context.Context, space Space, room string, seed SeedInfo) error
	Delete(ctx context.Context, space Space, room string) error
	ListUnrecorded(ctx context.Context) ([]RoomRecord, error)
	List(ctx context.Context, limit int) ([]RoomRecord, error)
}
