package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/sahasrahbot/sglbot/crypto"
)

// SpaceRepo is the storage for a single record space.
type SpaceRepo interface {
	Space() Space
	Get(ctx context.Context, room string) (*RoomRecord, error)
	FindActive(ctx context.Context, room string) (*RoomRecord, error)
	FindByEpisode(ctx context.Context, episodeID string) (*RoomRecord, error)
	Insert(ctx context.Context, rec RoomRecord) error
	UpdateStatus(ctx context.Context, room string, status Status) (bool, error)
	SetSeed(ctx context.Context, room string, seed SeedInfo) error
	Delete(ctx context.Context, room string) error
	ListUnrecorded(ctx context.Context) ([]RoomRecord, error)
	List(ctx context.Context, limit int) ([]RoomRecord, error)
}

// Guard implements Rooms over the normal and best-of-3 spaces.
// Lookups prefer the normal space; a hit in both is logged as an invariant violation.
type Guard struct {
	normal SpaceRepo
	bo3    SpaceRepo
	logger *slog.Logger
}

var _ Rooms = (*Guard)(nil)

// NewGuard wires a guard over two space repositories.
func NewGuard(normal, bo3 SpaceRepo) *Guard {
	return &Guard{normal: normal, bo3: bo3, logger: slog.Default().With(slog.String("component", "store"))}
}

// NewPostgresGuard builds the production guard backed by db.
func NewPostgresGuard(db *sql.DB, sealer crypto.Sealer) *Guard {
	return NewGuard(NewRepository(db, SpaceNormal, sealer), NewRepository(db, SpaceBo3, sealer))
}

func (g *Guard) repo(space Space) (SpaceRepo, error) {
	switch space {
	case SpaceNormal, "":
		return g.normal, nil
	case SpaceBo3:
		return g.bo3, nil
	}
	return nil, fmt.Errorf("unknown record space %q", space)
}

// resolve runs lookup in both spaces and reconciles the results.
func (g *Guard) resolve(ctx context.Context, key string, lookup func(SpaceRepo) (*RoomRecord, error)) (*RoomRecord, error) {
	n, err := lookup(g.normal)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	b, err := lookup(g.bo3)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	switch {
	case n != nil && b != nil:
		g.logger.ErrorContext(ctx, "record found in both spaces; using normal",
			slog.Any("error", &InvariantViolationError{Key: key}),
			slog.String("room", n.RoomName), slog.String("bo3_room", b.RoomName))
		return n, nil
	case n != nil:
		return n, nil
	case b != nil:
		return b, nil
	}
	return nil, ErrNotFound
}

func (g *Guard) Get(ctx context.Context, room string) (*RoomRecord, error) {
	return g.resolve(ctx, room, func(r SpaceRepo) (*RoomRecord, error) { return r.Get(ctx, room) })
}

func (g *Guard) FindActive(ctx context.Context, room string) (*RoomRecord, error) {
	return g.resolve(ctx, room, func(r SpaceRepo) (*RoomRecord, error) { return r.FindActive(ctx, room) })
}

func (g *Guard) FindByEpisode(ctx context.Context, episodeID string) (*RoomRecord, error) {
	return g.resolve(ctx, episodeID, func(r SpaceRepo) (*RoomRecord, error) { return r.FindByEpisode(ctx, episodeID) })
}

func (g *Guard) Insert(ctx context.Context, rec RoomRecord) error {
	r, err := g.repo(rec.Space)
	if err != nil {
		return err
	}
	return r.Insert(ctx, rec)
}

func (g *Guard) UpdateStatus(ctx context.Context, space Space, room string, status Status) (bool, error) {
	r, err := g.repo(space)
	if err != nil {
		return false, err
	}
	return r.UpdateStatus(ctx, room, status)
}

func (g *Guard) SetSeed(ctx context.Context, space Space, room string, seed SeedInfo) error {
	r, err := g.repo(space)
	if err != nil {
		return err
	}
	return r.SetSeed(ctx, room, seed)
}

func (g *Guard) Delete(ctx context.Context, space Space, room string) error {
	r, err := g.repo(space)
	if err != nil {
		return err
	}
	return r.Delete(ctx, room)
}

// ListUnrecorded returns unrecorded rooms of both spaces, normal first.
func (g *Guard) ListUnrecorded(ctx context.Context) ([]RoomRecord, error) {
	n, err := g.normal.ListUnrecorded(ctx)
	if err != nil {
		return nil, err
	}
	b, err := g.bo3.ListUnrecorded(ctx)
	if err != nil {
		return nil, err
	}
	return append(n, b...), nil
}

// List merges the newest rooms of both spaces by update time.
func (g *Guard) List(ctx context.Context, limit int) ([]RoomRecord, error) {
	n, err := g.normal.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	b, err := g.bo3.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := append(n, b...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
