package seedgen

import (
	"context"
	"fmt"
)

// SMM2Config names the Drive template, destination folder and final owner of match sheets.
type SMM2Config struct {
	TemplateID string
	FolderID   string
	Owner      string
}

// ValueRange is one A1-notation range with the rows to write into it.
type ValueRange struct {
	Range  string
	Values [][]any
}

// TemplateCopier is the spreadsheet surface the SMM2 generator needs.
type TemplateCopier interface {
	CopyTemplate(ctx context.Context, templateID, name, folderID string) (string, error)
	TransferOwnership(ctx context.Context, fileID, email string) error
	ShareAnyoneWriter(ctx context.Context, fileID string) error
	BatchUpdate(ctx context.Context, spreadsheetID string, data []ValueRange) error
}

// SMM2 prepares a per-match scoring spreadsheet copied from a template.
type SMM2 struct {
	cfg    SMM2Config
	sheets TemplateCopier
}

func (g *SMM2) Kind() string { return "smm2" }

// smm2Cleared are template cells blanked for a fresh match, with their size in rows and columns.
var smm2Cleared = []struct {
	Range      string
	Rows, Cols int
}{
	{"E2:G4", 3, 3},
	{"B10:B11", 2, 1},
	{"B14:D15", 2, 3},
	{"B18:D19", 2, 3},
}

func blank(rows, cols int) [][]any {
	out := make([][]any, rows)
	for i := range out {
		out[i] = make([]any, cols)
		for j := range out[i] {
			out[i][j] = ""
		}
	}
	return out
}

func (g *SMM2) Generate(ctx context.Context, req Request) (*Seed, error) {
	if g.sheets == nil || g.cfg.TemplateID == "" {
		return nil, fmt.Errorf("smm2: spreadsheet template not configured")
	}
	name := fmt.Sprintf("SMM2 - %s - %s", req.EpisodeID, req.Versus)
	id, err := g.sheets.CopyTemplate(ctx, g.cfg.TemplateID, name, g.cfg.FolderID)
	if err != nil {
		return nil, fmt.Errorf("smm2: copy template: %w", err)
	}
	if g.cfg.Owner != "" {
		if err := g.sheets.TransferOwnership(ctx, id, g.cfg.Owner); err != nil {
			return nil, fmt.Errorf("smm2: transfer ownership: %w", err)
		}
	}
	if err := g.sheets.ShareAnyoneWriter(ctx, id); err != nil {
		return nil, fmt.Errorf("smm2: share: %w", err)
	}

	var p0, p1 string
	if len(req.Players) > 0 {
		p0 = req.Players[0]
	}
	if len(req.Players) > 1 {
		p1 = req.Players[1]
	}
	data := []ValueRange{{Range: "B3:B5", Values: [][]any{{p0}, {p1}, {""}}}}
	for _, c := range smm2Cleared {
		data = append(data, ValueRange{Range: c.Range, Values: blank(c.Rows, c.Cols)})
	}
	if err := g.sheets.BatchUpdate(ctx, id, data); err != nil {
		return nil, fmt.Errorf("smm2: fill sheet: %w", err)
	}
	link := fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s/edit#gid=0", id)
	return &Seed{SeedID: id, Permalink: link, GoalSuffix: " - " + link}, nil
}
