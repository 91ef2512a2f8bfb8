package seedgen

import (
	"context"
	"fmt"
)

// PatchPool hands out one pre-generated patch per race.
type PatchPool struct {
	Pool   string
	URL    string
	source PatchSource
}

func (g *PatchPool) Kind() string { return "patchpool" }

func (g *PatchPool) Generate(ctx context.Context, _ Request) (*Seed, error) {
	id, err := g.source.Draw(ctx, g.Pool)
	if err != nil {
		return nil, fmt.Errorf("patchpool %s: %w", g.Pool, err)
	}
	link := g.URL + id
	return &Seed{SeedID: id, Permalink: link, GoalSuffix: " - " + link}, nil
}
