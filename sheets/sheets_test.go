package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"google.golang.org/api/option"

	"github.com/sahasrahbot/sglbot/seedgen"
	"github.com/sahasrahbot/sglbot/testutil"
)

func newTestService(t *testing.T, srv *testutil.MockServer) *Service {
	t.Helper()
	svc, err := New(context.Background(), "",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New(context.Background(), ""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestAppendRow(t *testing.T) {
	srv := testutil.NewMockServer(t)
	var got map[string]any
	srv.Handle("POST /v4/spreadsheets/book/values/alttpr!A1:append", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("valueInputOption") != "USER_ENTERED" {
			t.Errorf("query = %v", r.URL.Query())
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		testutil.WriteJSON(w, http.StatusOK, map[string]any{})
	})
	svc := newTestService(t, srv)
	if err := svc.AppendRow(context.Background(), "book", "alttpr", []any{"1", "url", "a", "b"}); err != nil {
		t.Fatalf("AppendRow: %v", err)
	}
	vals, _ := got["values"].([]any)
	if len(vals) != 1 {
		t.Errorf("values = %v", got)
	}
}

func TestBatchUpdate(t *testing.T) {
	srv := testutil.NewMockServer(t)
	var got map[string]any
	srv.Handle("POST /v4/spreadsheets/sheet1/values:batchUpdate", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		testutil.WriteJSON(w, http.StatusOK, map[string]any{})
	})
	svc := newTestService(t, srv)
	err := svc.BatchUpdate(context.Background(), "sheet1", []seedgen.ValueRange{
		{Range: "B3:B5", Values: [][]any{{"a"}, {"b"}, {""}}},
		{Range: "B10:B11", Values: [][]any{{""}, {""}}},
	})
	if err != nil {
		t.Fatalf("BatchUpdate: %v", err)
	}
	if got["valueInputOption"] != "RAW" {
		t.Errorf("valueInputOption = %v", got["valueInputOption"])
	}
	if data, _ := got["data"].([]any); len(data) != 2 {
		t.Errorf("data = %v", got["data"])
	}
}

func TestAppendRowError(t *testing.T) {
	srv := testutil.NewMockServer(t)
	srv.JSON("POST /v4/spreadsheets/book/values/missing!A1:append", http.StatusBadRequest,
		map[string]any{"error": map[string]any{"code": 400, "message": "Unable to parse range"}})
	svc := newTestService(t, srv)
	if err := svc.AppendRow(context.Background(), "book", "missing", []any{"x"}); err == nil {
		t.Error("expected error")
	}
}
