// Package sheets wraps the Google Sheets and Drive APIs for the two things the
// bot needs: appending race results to the results workbook and preparing
// per-match spreadsheets from a template. Credentials come from a service
// account JSON file.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	gs "google.golang.org/api/sheets/v4"

	"github.com/sahasrahbot/sglbot/seedgen"
)

var scopes = []string{
	"https://www.googleapis.com/auth/spreadsheets",
	"https://www.googleapis.com/auth/drive",
}

// ErrNotConfigured is returned when no credentials file was provided.
var ErrNotConfigured = errors.New("google credentials not configured")

// Service is an authorized Sheets + Drive client.
type Service struct {
	sheets *gs.Service
	drive  *drive.Service
	logger *slog.Logger
}

// New reads a service account credentials file and builds both API clients.
// Extra options (an endpoint, an HTTP client) are passed to both services.
func New(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*Service, error) {
	if credentialsFile == "" && len(opts) == 0 {
		return nil, ErrNotConfigured
	}
	if credentialsFile != "" {
		raw, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, raw, scopes...)
		if err != nil {
			return nil, fmt.Errorf("parse credentials: %w", err)
		}
		opts = append([]option.ClientOption{option.WithTokenSource(creds.TokenSource)}, opts...)
	}
	ss, err := gs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	ds, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return &Service{sheets: ss, drive: ds, logger: slog.Default().With("component", "sheets")}, nil
}

// AppendRow appends one row to the named worksheet of a workbook.
func (s *Service) AppendRow(ctx context.Context, spreadsheetID, worksheet string, row []any) error {
	vr := &gs.ValueRange{Values: [][]any{row}}
	_, err := s.sheets.Spreadsheets.Values.Append(spreadsheetID, worksheet+"!A1", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append to %s: %w", worksheet, err)
	}
	s.logger.Debug("row appended", slog.String("worksheet", worksheet))
	return nil
}

// CopyTemplate copies a Drive file into folderID and returns the new file id.
func (s *Service) CopyTemplate(ctx context.Context, templateID, name, folderID string) (string, error) {
	f := &drive.File{Name: name}
	if folderID != "" {
		f.Parents = []string{folderID}
	}
	out, err := s.drive.Files.Copy(templateID, f).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("copy %s: %w", templateID, err)
	}
	s.logger.Info("template copied", slog.String("file_id", out.Id), slog.String("name", name))
	return out.Id, nil
}

// TransferOwnership makes email the owner of fileID.
func (s *Service) TransferOwnership(ctx context.Context, fileID, email string) error {
	p := &drive.Permission{Type: "user", Role: "owner", EmailAddress: email}
	if _, err := s.drive.Permissions.Create(fileID, p).TransferOwnership(true).Context(ctx).Do(); err != nil {
		return fmt.Errorf("transfer %s: %w", fileID, err)
	}
	return nil
}

// ShareAnyoneWriter lets anyone with the link edit fileID without making it discoverable.
func (s *Service) ShareAnyoneWriter(ctx context.Context, fileID string) error {
	p := &drive.Permission{Type: "anyone", Role: "writer", AllowFileDiscovery: false}
	if _, err := s.drive.Permissions.Create(fileID, p).Context(ctx).Do(); err != nil {
		return fmt.Errorf("share %s: %w", fileID, err)
	}
	return nil
}

// BatchUpdate writes raw values into several ranges of the first worksheet.
func (s *Service) BatchUpdate(ctx context.Context, spreadsheetID string, data []seedgen.ValueRange) error {
	req := &gs.BatchUpdateValuesRequest{ValueInputOption: "RAW"}
	for _, d := range data {
		req.Data = append(req.Data, &gs.ValueRange{Range: d.Range, Values: d.Values})
	}
	if _, err := s.sheets.Spreadsheets.Values.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("batch update %s: %w", spreadsheetID, err)
	}
	return nil
}

var _ seedgen.TemplateCopier = (*Service)(nil)
