package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrPoolEmpty is returned when a patch pool has no unused patches left.
var ErrPoolEmpty = errors.New("patch pool exhausted")

// PatchPool hands out pre-generated patches, each at most once.
type PatchPool struct{ db *sql.DB }

func NewPatchPool(db *sql.DB) *PatchPool { return &PatchPool{db: db} }

// Draw picks a random unused patch from pool and marks it used in the same transaction.
func (p *PatchPool) Draw(ctx context.Context, pool string) (string, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	var patchID string
	err = tx.QueryRowContext(ctx, `SELECT id, patch_id FROM patch_distribution
		WHERE pool=$1 AND NOT used ORDER BY random() LIMIT 1 FOR UPDATE SKIP LOCKED`, pool).Scan(&id, &patchID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrPoolEmpty, pool)
	}
	if err != nil {
		return "", fmt.Errorf("select patch: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE patch_distribution SET used=TRUE, updated_at=NOW() WHERE id=$1`, id); err != nil {
		return "", fmt.Errorf("mark patch used: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return patchID, nil
}

// Add loads patch ids into pool, skipping ids already present. It returns how many were new.
func (p *PatchPool) Add(ctx context.Context, pool string, patchIDs []string) (int, error) {
	added := 0
	for _, id := range patchIDs {
		res, err := p.db.ExecContext(ctx, `INSERT INTO patch_distribution(pool, patch_id) VALUES($1,$2)
			ON CONFLICT(pool, patch_id) DO NOTHING`, pool, id)
		if err != nil {
			return added, fmt.Errorf("add patch %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}

// Remaining counts unused patches in pool.
func (p *PatchPool) Remaining(ctx context.Context, pool string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patch_distribution WHERE pool=$1 AND NOT used`, pool).Scan(&n)
	return n, err
}
