package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sahasrahbot/sglbot/orchestrator"
	"github.com/sahasrahbot/sglbot/store"
	"github.com/sahasrahbot/sglbot/telemetry"
)

// Operations are the orchestrator calls behind the admin API.
type Operations interface {
	CreateRoom(ctx context.Context, episodeID string, force bool) (string, error)
	RecordEpisode(ctx context.Context, episodeID string) error
}

// RoomLister lists recent room records.
type RoomLister interface {
	List(ctx context.Context, limit int) ([]store.RoomRecord, error)
}

// Pinger checks a dependency; *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the handlers' collaborators. DB may be nil when running without Postgres.
type Deps struct {
	DB    Pinger
	Ops   Operations
	Rooms RoomLister
	// Ready lists extra readiness checks by name.
	Ready map[string]func(context.Context) error
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorStatus maps orchestrator errors to HTTP statuses.
func errorStatus(err error) int {
	var (
		ue *orchestrator.UnknownEventError
		ee *orchestrator.ExternalServiceError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ue):
		return http.StatusUnprocessableEntity
	case errors.As(err, &ee):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := errorStatus(err)
	telemetry.LoggerWithCorr(r.Context()).Warn("admin request failed",
		slog.String("op", op), slog.String("episode_id", r.PathValue("id")), slog.Int("status", status), slog.Any("err", err), slog.String("component", "http"))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HandleCreateEpisode opens the room for an episode; ?force=1 bypasses the existing-room check.
func (h *Handlers) HandleCreateEpisode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := strconv.Atoi(id); err != nil {
		http.Error(w, "episode id must be numeric", http.StatusBadRequest)
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	ref, err := h.deps.Ops.CreateRoom(r.Context(), id, force)
	if err != nil {
		h.fail(w, r, "create", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"episode_id": id, "room": ref})
}

// HandleRecordEpisode records the result of an episode's newest room.
func (h *Handlers) HandleRecordEpisode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.deps.Ops.RecordEpisode(r.Context(), id); err != nil {
		h.fail(w, r, "record", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"episode_id": id, "status": "recorded"})
}

type roomView struct {
	Room      string    `json:"room"`
	EpisodeID string    `json:"episode_id"`
	Event     string    `json:"event"`
	Status    string    `json:"status"`
	Platform  string    `json:"platform"`
	Space     string    `json:"space"`
	Permalink string    `json:"permalink,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HandleListRooms returns recent rooms of both spaces, newest first. Passwords are never listed.
func (h *Handlers) HandleListRooms(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	recs, err := h.deps.Rooms.List(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "list", err)
		return
	}
	out := make([]roomView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, roomView{
			Room: rec.RoomName, EpisodeID: rec.EpisodeID, Event: rec.Event, Status: string(rec.Status),
			Platform: string(rec.Platform), Space: string(rec.Space), Permalink: rec.Permalink,
			CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": out})
}
