package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sahasrahbot/sglbot/config"
	"github.com/sahasrahbot/sglbot/crypto"
)

// statusRank mirrors Status.Rank in SQL so monotonic updates are a single statement.
const statusRank = `CASE status WHEN 'CREATED' THEN 1 WHEN 'STARTED' THEN 2 WHEN 'RECORDED' THEN 3 ELSE 0 END`

const roomColumns = `room_name, episode_id, event, status, COALESCE(permalink,''), COALESCE(seed,''), COALESCE(password,''), platform, created_at, updated_at`

// Repository is the Postgres store for one record space.
type Repository struct {
	db     *sql.DB
	space  Space
	sealer crypto.Sealer
}

// NewRepository returns a repository for space. A nil sealer stores passwords as given.
func NewRepository(db *sql.DB, space Space, sealer crypto.Sealer) *Repository {
	if sealer == nil {
		sealer = crypto.Plaintext{}
	}
	return &Repository{db: db, space: space, sealer: sealer}
}

// Space returns the repository's record space.
func (r *Repository) Space() Space { return r.space }

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scan(row rowScanner) (*RoomRecord, error) {
	var rec RoomRecord
	var status, platform, password string
	if err := row.Scan(&rec.RoomName, &rec.EpisodeID, &rec.Event, &status, &rec.Permalink, &rec.Seed,
		&password, &platform, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.Platform = config.Platform(platform)
	rec.Space = r.space
	plain, err := r.sealer.Open(password, rec.RoomName)
	if err != nil {
		return nil, fmt.Errorf("open password for %s: %w", rec.RoomName, err)
	}
	rec.Password = plain
	return &rec, nil
}

func (r *Repository) queryOne(ctx context.Context, where string, arg any) (*RoomRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY created_at DESC LIMIT 1`, roomColumns, r.space.table(), where)
	rec, err := r.scan(r.db.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (r *Repository) queryMany(ctx context.Context, q string, args ...any) ([]RoomRecord, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RoomRecord
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Get returns the record for room regardless of status.
func (r *Repository) Get(ctx context.Context, room string) (*RoomRecord, error) {
	return r.queryOne(ctx, `room_name=$1`, room)
}

// FindActive returns the record for room unless it was already recorded.
func (r *Repository) FindActive(ctx context.Context, room string) (*RoomRecord, error) {
	return r.queryOne(ctx, `room_name=$1 AND status<>'RECORDED'`, room)
}

// FindByEpisode returns the newest record for the episode.
func (r *Repository) FindByEpisode(ctx context.Context, episodeID string) (*RoomRecord, error) {
	return r.queryOne(ctx, `episode_id=$1`, episodeID)
}

// Insert persists a new record. The room key must not exist yet.
func (r *Repository) Insert(ctx context.Context, rec RoomRecord) error {
	if rec.Status == "" {
		rec.Status = StatusCreated
	}
	if rec.Platform == "" {
		rec.Platform = config.PlatformRacetime
	}
	sealed, err := r.sealer.Seal(rec.Password, rec.RoomName)
	if err != nil {
		return fmt.Errorf("seal password: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s(room_name, episode_id, event, status, permalink, seed, password, platform, created_at, updated_at)
		VALUES($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),NULLIF($7,''),$8,NOW(),NOW())
		ON CONFLICT(room_name) DO NOTHING`, r.space.table())
	res, err := r.db.ExecContext(ctx, q, rec.RoomName, rec.EpisodeID, rec.Event, string(rec.Status),
		rec.Permalink, rec.Seed, sealed, string(rec.Platform))
	if err != nil {
		return fmt.Errorf("insert %s race: %w", r.space, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &DuplicateKeyError{Space: r.space, Room: rec.RoomName}
	}
	return nil
}

// UpdateStatus moves the room forward to status. Backward or repeated transitions are no-ops.
func (r *Repository) UpdateStatus(ctx context.Context, room string, status Status) (bool, error) {
	if status.Rank() == 0 {
		return false, fmt.Errorf("unknown status %q", status)
	}
	q := fmt.Sprintf(`UPDATE %s SET status=$2, updated_at=NOW() WHERE room_name=$1 AND %s < $3`, r.space.table(), statusRank)
	res, err := r.db.ExecContext(ctx, q, room, string(status), status.Rank())
	if err != nil {
		return false, fmt.Errorf("update %s race status: %w", r.space, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return true, nil
	}
	if _, err := r.Get(ctx, room); err != nil {
		return false, err
	}
	return false, nil
}

// SetSeed stores the generated seed for a room that has not been recorded.
func (r *Repository) SetSeed(ctx context.Context, room string, seed SeedInfo) error {
	sealed, err := r.sealer.Seal(seed.Password, room)
	if err != nil {
		return fmt.Errorf("seal password: %w", err)
	}
	q := fmt.Sprintf(`UPDATE %s SET seed=NULLIF($2,''), permalink=NULLIF($3,''), password=NULLIF($4,''), updated_at=NOW()
		WHERE room_name=$1 AND status<>'RECORDED'`, r.space.table())
	res, err := r.db.ExecContext(ctx, q, room, seed.SeedID, seed.Permalink, sealed)
	if err != nil {
		return fmt.Errorf("set %s race seed: %w", r.space, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missingOrRecorded(ctx, room)
	}
	return nil
}

// Delete hard-removes a room record. Recorded rooms are never deleted; a missing room is not an error.
func (r *Repository) Delete(ctx context.Context, room string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE room_name=$1 AND status<>'RECORDED'`, r.space.table())
	res, err := r.db.ExecContext(ctx, q, room)
	if err != nil {
		return fmt.Errorf("delete %s race: %w", r.space, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if err := r.missingOrRecorded(ctx, room); !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func (r *Repository) missingOrRecorded(ctx context.Context, room string) error {
	rec, err := r.Get(ctx, room)
	if err != nil {
		return err
	}
	if rec.Status == StatusRecorded {
		return ErrRecorded
	}
	return nil
}

// ListUnrecorded returns started rooms awaiting a results row, oldest first.
func (r *Repository) ListUnrecorded(ctx context.Context) ([]RoomRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE status='STARTED' ORDER BY created_at`, roomColumns, r.space.table())
	return r.queryMany(ctx, q)
}

// List returns the most recently updated rooms.
func (r *Repository) List(ctx context.Context, limit int) ([]RoomRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := fmt.Sprintf(`SELECT %s FROM %s ORDER BY updated_at DESC LIMIT $1`, roomColumns, r.space.table())
	return r.queryMany(ctx, q, limit)
}
